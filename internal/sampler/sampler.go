// Package sampler drives the camera detector at a self-paced rate and feeds
// each frame through the confirmer.
package sampler

import (
	"context"
	"sync"
	"time"

	"github.com/raysh454/proctor/internal/confirm"
	"github.com/raysh454/proctor/internal/interfaces"
	"github.com/raysh454/proctor/internal/logging"
)

type Config struct {
	// TargetInterval is the intended frame period (10 FPS by default).
	TargetInterval time.Duration `mapstructure:"target_interval"`
	// MinInterval is the shortest pause between samples, even when a
	// detection overran the target.
	MinInterval time.Duration `mapstructure:"min_interval"`
	// DetectTimeout bounds a single Detect call.
	DetectTimeout time.Duration `mapstructure:"detect_timeout"`
}

func DefaultConfig() Config {
	return Config{
		TargetInterval: 100 * time.Millisecond,
		MinInterval:    20 * time.Millisecond,
		DetectTimeout:  2 * time.Second,
	}
}

// Sink receives confirmed detections.
type Sink interface {
	ReportConfirmed(ev confirm.ConfirmedEvent) bool
}

// NextDelay returns the pause before the next sample given how long the
// last one took.
func NextDelay(target, floor, elapsed time.Duration) time.Duration {
	d := target - elapsed
	if d < floor {
		return floor
	}
	return d
}

type Loop struct {
	cfg       Config
	detector  interfaces.Detector
	confirmer *confirm.Confirmer
	sink      Sink
	clock     interfaces.Clock
	logger    logging.Logger

	mu         sync.Mutex
	onDegraded func(error)
	degraded   bool
	frames     int
}

func New(cfg Config, detector interfaces.Detector, confirmer *confirm.Confirmer, sink Sink,
	clock interfaces.Clock, logger logging.Logger) *Loop {
	if clock == nil {
		clock = interfaces.SystemClock{}
	}
	def := DefaultConfig()
	if cfg.TargetInterval <= 0 {
		cfg.TargetInterval = def.TargetInterval
	}
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = def.MinInterval
	}
	if cfg.DetectTimeout <= 0 {
		cfg.DetectTimeout = def.DetectTimeout
	}
	return &Loop{
		cfg:       cfg,
		detector:  detector,
		confirmer: confirmer,
		sink:      sink,
		clock:     clock,
		logger:    logger.With(logging.Field{Key: "component", Value: "sampler"}),
	}
}

// OnDegraded registers fn, called once the first time the detector fails.
// The loop keeps sampling; other detection channels are unaffected.
func (l *Loop) OnDegraded(fn func(err error)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onDegraded = fn
}

// Frames returns how many frames were sampled successfully.
func (l *Loop) Frames() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.frames
}

// Step samples one frame. It returns the number of confirmed events that
// were handed to the sink.
func (l *Loop) Step(ctx context.Context) int {
	dctx, cancel := context.WithTimeout(ctx, l.cfg.DetectTimeout)
	preds, err := l.detector.Detect(dctx)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return 0
		}
		// A failed frame breaks every run in progress.
		l.confirmer.Reset()
		l.degrade(err)
		return 0
	}

	l.mu.Lock()
	l.frames++
	l.mu.Unlock()

	events := l.confirmer.Observe(confirm.Frame{Predictions: preds, At: l.clock.Now()})
	for _, ev := range events {
		l.logger.Info("detection confirmed",
			logging.Field{Key: "type", Value: ev.Kind},
			logging.Field{Key: "frames", Value: ev.Frames},
			logging.Field{Key: "confidence", Value: ev.Evidence.Confidence})
		l.sink.ReportConfirmed(ev)
	}
	return len(events)
}

func (l *Loop) degrade(err error) {
	l.mu.Lock()
	first := !l.degraded
	l.degraded = true
	fn := l.onDegraded
	l.mu.Unlock()
	if !first {
		l.logger.Debug("detector still failing", logging.Err(err))
		return
	}
	l.logger.Warn("camera detection degraded", logging.Err(err))
	if fn != nil {
		fn(err)
	}
}

// Run samples until ctx is done. The next sample is scheduled
// max(MinInterval, TargetInterval - elapsed) after the previous one started,
// so a slow detector never queues frames.
func (l *Loop) Run(ctx context.Context) error {
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
		start := time.Now()
		l.Step(ctx)
		timer.Reset(NextDelay(l.cfg.TargetInterval, l.cfg.MinInterval, time.Since(start)))
	}
}
