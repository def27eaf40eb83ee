package sampler_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raysh454/proctor/internal/confirm"
	"github.com/raysh454/proctor/internal/interfaces"
	"github.com/raysh454/proctor/internal/model"
	"github.com/raysh454/proctor/internal/sampler"
	"github.com/raysh454/proctor/internal/testutil"
)

type recordingSink struct {
	mu     sync.Mutex
	events []confirm.ConfirmedEvent
}

func (s *recordingSink) ReportConfirmed(ev confirm.ConfirmedEvent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return true
}

func (s *recordingSink) Events() []confirm.ConfirmedEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]confirm.ConfirmedEvent(nil), s.events...)
}

func person() interfaces.Prediction { return interfaces.Prediction{Label: "person", Confidence: 0.97} }
func phone() interfaces.Prediction {
	return interfaces.Prediction{Label: "cell phone", Confidence: 0.91}
}

func newLoop(det interfaces.Detector) (*sampler.Loop, *recordingSink) {
	sink := &recordingSink{}
	cfg := sampler.Config{TargetInterval: time.Millisecond, MinInterval: time.Millisecond, DetectTimeout: time.Second}
	c := confirm.New(confirm.DefaultConfig(), confirm.DefaultRules(0.85))
	return sampler.New(cfg, det, c, sink, testutil.NewFakeClock(time.Time{}), &testutil.DummyLogger{}), sink
}

func TestNextDelay(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name                string
		target, floor, took time.Duration
		want                time.Duration
	}{
		{"fast detector", 100 * time.Millisecond, 20 * time.Millisecond, 10 * time.Millisecond, 90 * time.Millisecond},
		{"slow detector", 100 * time.Millisecond, 20 * time.Millisecond, 95 * time.Millisecond, 20 * time.Millisecond},
		{"overrun", 100 * time.Millisecond, 20 * time.Millisecond, 300 * time.Millisecond, 20 * time.Millisecond},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, sampler.NextDelay(tc.target, tc.floor, tc.took))
		})
	}
}

func TestStep_ConfirmsAfterWindow(t *testing.T) {
	t.Parallel()
	det := &testutil.DummyDetector{Frames: [][]interfaces.Prediction{
		{person(), phone()},
		{person(), phone()},
		{person(), phone()},
	}}
	loop, sink := newLoop(det)
	ctx := context.Background()

	assert.Zero(t, loop.Step(ctx))
	assert.Zero(t, loop.Step(ctx))
	assert.Equal(t, 1, loop.Step(ctx))

	events := sink.Events()
	require.Len(t, events, 1)
	assert.Equal(t, model.KindPhoneDetected, events[0].Kind)
	assert.Equal(t, 3, events[0].Frames)
	assert.Equal(t, 3, loop.Frames())
}

func TestStep_DetectorFailureBreaksRun(t *testing.T) {
	t.Parallel()
	det := &flakyDetector{frames: [][]interfaces.Prediction{{person(), phone()}, {person(), phone()}, nil, {person(), phone()}}}
	loop, sink := newLoop(det)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		loop.Step(ctx)
	}
	assert.Empty(t, sink.Events(), "a failed frame resets the run")
}

func TestRun_ReportsDegradedOnce(t *testing.T) {
	t.Parallel()
	det := &testutil.DummyDetector{Err: errors.New("model not loaded")}
	loop, _ := newLoop(det)

	var mu sync.Mutex
	var calls int
	loop.OnDegraded(func(error) {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	require.Eventually(t, func() bool { return det.Calls() >= 5 }, 2*time.Second, time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls)
}

func TestRun_StopsOnCancel(t *testing.T) {
	t.Parallel()
	loop, _ := newLoop(&testutil.DummyDetector{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, loop.Run(ctx), context.Canceled)
}

// flakyDetector returns an error for nil frames.
type flakyDetector struct {
	mu     sync.Mutex
	frames [][]interfaces.Prediction
	i      int
}

func (d *flakyDetector) Detect(context.Context) ([]interfaces.Prediction, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	f := d.frames[d.i%len(d.frames)]
	d.i++
	if f == nil {
		return nil, errors.New("camera busy")
	}
	return f, nil
}
