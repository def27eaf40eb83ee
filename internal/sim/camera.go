package sim

import (
	"context"
	"sync"

	"github.com/raysh454/proctor/internal/interfaces"
)

// ScriptedCamera stands in for the object detector. It replays frames in
// order and then repeats the last one.
type ScriptedCamera struct {
	mu     sync.Mutex
	frames [][]interfaces.Prediction
	next   int
}

func NewScriptedCamera(frames [][]interfaces.Prediction) *ScriptedCamera {
	return &ScriptedCamera{frames: frames}
}

func (c *ScriptedCamera) Detect(ctx context.Context) ([]interfaces.Prediction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.frames) == 0 {
		return nil, nil
	}
	i := min(c.next, len(c.frames)-1)
	c.next++
	return c.frames[i], nil
}
