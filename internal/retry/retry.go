// Package retry runs an operation with bounded attempts and exponential
// backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrExhausted is returned (wrapping the last failure) when every attempt
// failed.
var ErrExhausted = errors.New("retry: attempts exhausted")

// Policy controls attempts and delays. Delay for attempt i (0-based) is
// Initial * Multiplier^i, capped at Max.
type Policy struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	Initial     time.Duration `mapstructure:"initial"`
	Multiplier  float64       `mapstructure:"multiplier"`
	Max         time.Duration `mapstructure:"max"`

	// After replaces time.After in tests.
	After func(time.Duration) <-chan time.Time `mapstructure:"-"`
}

// DefaultPolicy polls for up to ~2.5 minutes: 1s growing by 1.5x up to 5s,
// 30 attempts.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 30,
		Initial:     time.Second,
		Multiplier:  1.5,
		Max:         5 * time.Second,
	}
}

// Delay returns the wait after the given failed attempt.
func (p Policy) Delay(attempt int) time.Duration {
	d := float64(p.Initial)
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	for i := 0; i < attempt; i++ {
		d *= mult
		if p.Max > 0 && d >= float64(p.Max) {
			return p.Max
		}
	}
	if p.Max > 0 && time.Duration(d) > p.Max {
		return p.Max
	}
	return time.Duration(d)
}

type permanent struct{ err error }

func (p *permanent) Error() string { return p.err.Error() }
func (p *permanent) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying; Do returns it unwrapped
// immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanent{err: err}
}

// Do calls fn until it succeeds, returns a Permanent error, ctx is done or
// MaxAttempts is reached. The attempt number passed to fn starts at 0.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	after := p.After
	if after == nil {
		after = time.After
	}

	var last error
	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		last = fn(ctx, i)
		if last == nil {
			return nil
		}
		var perm *permanent
		if errors.As(last, &perm) {
			return perm.err
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-after(p.Delay(i)):
		}
	}
	return fmt.Errorf("%w after %d attempts: %v", ErrExhausted, attempts, last)
}
