// Package testutil provides shared test doubles for use across package tests.
// All dummies implement the corresponding interfaces from the production code,
// allowing injection into components under test without real I/O or side effects.
package testutil

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/raysh454/proctor/internal/interfaces"
	"github.com/raysh454/proctor/internal/logging"
)

// ─── Logger ────────────────────────────────────────────────────────────

// DummyLogger implements logging.Logger with in-memory recording.
type DummyLogger struct {
	mu     sync.Mutex
	Errors []string
	Infos  []string
	Debugs []string
	Warns  []string
}

func (l *DummyLogger) Debug(msg string, fields ...logging.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Debugs = append(l.Debugs, msg)
}

func (l *DummyLogger) Info(msg string, fields ...logging.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Infos = append(l.Infos, msg)
}

func (l *DummyLogger) Warn(msg string, fields ...logging.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Warns = append(l.Warns, msg)
}

func (l *DummyLogger) Error(msg string, fields ...logging.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Errors = append(l.Errors, msg)
}

func (l *DummyLogger) With(_ ...logging.Field) logging.Logger { return l }

// WarnCount returns the number of warnings recorded so far.
func (l *DummyLogger) WarnCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.Warns)
}

// ─── Clock ─────────────────────────────────────────────────────────────

// FakeClock implements interfaces.Clock with manually advanced time.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFakeClock starts at t, or at a fixed date when t is zero.
func NewFakeClock(t time.Time) *FakeClock {
	if t.IsZero() {
		t = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	}
	return &FakeClock{now: t}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// ─── Transport ─────────────────────────────────────────────────────────

// Call is one request seen by DummyTransport.
type Call struct {
	Method string
	Path   string
	Body   []byte
}

// DummyTransport implements interfaces.Transport.
// By default every request returns 200 with body "{}". Set Offline to make
// every call fail with a network error, or Handler to script responses.
type DummyTransport struct {
	mu      sync.Mutex
	Calls   []Call
	Offline bool
	Handler func(method, path string, body []byte) (*interfaces.Response, error)
}

func (d *DummyTransport) SetOffline(off bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Offline = off
}

func (d *DummyTransport) do(method, path string, body any) (*interfaces.Response, error) {
	var raw []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		raw = b
	}

	d.mu.Lock()
	d.Calls = append(d.Calls, Call{Method: method, Path: path, Body: raw})
	offline := d.Offline
	h := d.Handler
	d.mu.Unlock()

	if offline {
		return nil, &errString{"dummy transport offline"}
	}
	if h != nil {
		return h(method, path, raw)
	}
	return &interfaces.Response{StatusCode: 200, Body: []byte("{}")}, nil
}

func (d *DummyTransport) Post(ctx context.Context, path string, body any) (*interfaces.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return d.do("POST", path, body)
}

func (d *DummyTransport) Get(ctx context.Context, path string) (*interfaces.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return d.do("GET", path, nil)
}

// CallsTo returns the recorded calls whose path equals path.
func (d *DummyTransport) CallsTo(path string) []Call {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []Call
	for _, c := range d.Calls {
		if c.Path == path {
			out = append(out, c)
		}
	}
	return out
}

// CallCount returns the number of recorded calls.
func (d *DummyTransport) CallCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.Calls)
}

// ─── Detector ──────────────────────────────────────────────────────────

// DummyDetector implements interfaces.Detector by replaying scripted frames.
// After the script runs out the last frame repeats.
type DummyDetector struct {
	mu     sync.Mutex
	Frames [][]interfaces.Prediction
	Err    error
	calls  int
}

func (d *DummyDetector) Detect(ctx context.Context) ([]interfaces.Prediction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.Err != nil {
		return nil, d.Err
	}
	if len(d.Frames) == 0 {
		return nil, nil
	}
	i := d.calls - 1
	if i >= len(d.Frames) {
		i = len(d.Frames) - 1
	}
	return d.Frames[i], nil
}

func (d *DummyDetector) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

// ─── helpers ───────────────────────────────────────────────────────────

type errString struct{ s string }

func (e *errString) Error() string { return e.s }
