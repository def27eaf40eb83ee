// Package sim drives simulated students against a proctor server: each
// student runs the real client stack and replays a behaviour script.
package sim

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/raysh454/proctor/internal/agent"
	"github.com/raysh454/proctor/internal/detect"
	"github.com/raysh454/proctor/internal/interfaces"
)

type Action string

const (
	ActTabSwitch      Action = "tab_switch"
	ActBlur           Action = "blur"
	ActPaste          Action = "paste"
	ActFullscreenExit Action = "fullscreen_exit"
	ActScreenshot     Action = "screenshot"
	ActFastTyping     Action = "fast_typing"
	ActHumanTyping    Action = "human_typing"
	ActAnswerJump     Action = "answer_jump"
	ActPause          Action = "pause"
)

// Step is one scripted behaviour. Hold is how long a tab stays hidden or
// how long a pause lasts.
type Step struct {
	Action Action
	Hold   time.Duration
}

// Scenario is a named script, optionally with a camera feed.
type Scenario struct {
	Name   string
	Steps  []Step
	Camera [][]interfaces.Prediction
	// Linger keeps the student connected after the script, e.g. while the
	// camera feed keeps producing detections.
	Linger time.Duration
}

var (
	person = interfaces.Prediction{Label: "person", Confidence: 0.97, BBox: [4]float64{120, 40, 380, 460}}
	phone  = interfaces.Prediction{Label: "cell phone", Confidence: 0.91, BBox: [4]float64{400, 300, 470, 420}}
)

var scenarios = map[string]Scenario{
	"honest": {
		Name:   "honest",
		Steps:  []Step{{Action: ActHumanTyping}, {Action: ActPause, Hold: time.Second}, {Action: ActHumanTyping}},
		Camera: [][]interfaces.Prediction{{person}},
		Linger: 2 * time.Second,
	},
	"ladder": {
		Name: "ladder",
		Steps: []Step{
			{Action: ActPaste},
			{Action: ActBlur},
			{Action: ActAnswerJump}, {Action: ActAnswerJump}, {Action: ActAnswerJump},
			{Action: ActFastTyping},
			{Action: ActTabSwitch, Hold: 2500 * time.Millisecond},
		},
	},
	"tab-hopper": {
		Name: "tab-hopper",
		Steps: []Step{
			{Action: ActTabSwitch, Hold: 2500 * time.Millisecond},
			{Action: ActPause, Hold: 10 * time.Second},
			{Action: ActTabSwitch, Hold: 2500 * time.Millisecond},
			{Action: ActPause, Hold: 10 * time.Second},
			{Action: ActTabSwitch, Hold: 2500 * time.Millisecond},
		},
	},
	"fullscreen": {
		Name:  "fullscreen",
		Steps: []Step{{Action: ActHumanTyping}, {Action: ActFullscreenExit}},
	},
	"screenshot": {
		Name:  "screenshot",
		Steps: []Step{{Action: ActScreenshot}},
	},
	"phone": {
		Name:   "phone",
		Camera: [][]interfaces.Prediction{{person}, {person}, {person, phone}},
		Linger: time.Minute,
	},
}

// Lookup returns the built-in scenario called name.
func Lookup(name string) (Scenario, error) {
	sc, ok := scenarios[name]
	if !ok {
		return Scenario{}, fmt.Errorf("unknown scenario %q (have %v)", name, Names())
	}
	return sc, nil
}

func Names() []string {
	names := make([]string, 0, len(scenarios))
	for n := range scenarios {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Play replays the script against a running agent. It stops early when ctx
// is done or the session locks.
func (sc Scenario) Play(ctx context.Context, a *agent.Agent) error {
	p := &player{a: a}
	for _, st := range sc.Steps {
		if a.Mirror.Locked() {
			return nil
		}
		if err := p.perform(ctx, st); err != nil {
			return err
		}
	}
	if sc.Linger > 0 {
		return p.sleep(ctx, sc.Linger)
	}
	return nil
}

type player struct {
	a         *agent.Agent
	answerLen int
}

func (p *player) perform(ctx context.Context, st Step) error {
	switch st.Action {
	case ActTabSwitch:
		p.a.Focus.VisibilityChanged(true)
		err := p.sleep(ctx, st.Hold)
		p.a.Focus.VisibilityChanged(false)
		return err
	case ActBlur:
		p.a.Focus.Blur()
	case ActPaste:
		p.a.Keystrokes.Paste(420)
	case ActFullscreenExit:
		p.a.Focus.FullscreenChanged(false)
	case ActScreenshot:
		p.a.Focus.KeyDown(detect.Key{Name: "PrintScreen"})
	case ActFastTyping:
		return p.typeKeys(ctx, 30, 5*time.Millisecond)
	case ActHumanTyping:
		return p.typeKeys(ctx, 25, 120*time.Millisecond)
	case ActAnswerJump:
		// Alternate between empty and a long answer so every call is a jump.
		if p.answerLen == 0 {
			p.answerLen = 600
		} else {
			p.answerLen = 0
		}
		p.a.Keystrokes.Input(p.answerLen)
	case ActPause:
		return p.sleep(ctx, st.Hold)
	default:
		return fmt.Errorf("unknown action %q", st.Action)
	}
	return nil
}

func (p *player) typeKeys(ctx context.Context, n int, gap time.Duration) error {
	for i := 0; i < n; i++ {
		p.a.Keystrokes.KeyDown()
		if err := p.sleep(ctx, gap); err != nil {
			return err
		}
	}
	return nil
}

// sleep waits d, returning early on cancellation or a locked session.
func (p *player) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.a.Mirror.Done():
		return nil
	case <-t.C:
		return nil
	}
}
