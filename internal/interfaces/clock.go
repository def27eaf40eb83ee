package interfaces

import "time"

// Clock abstracts wall-clock time so windows and timers can be driven by tests.
type Clock interface {
	Now() time.Time
}

// SystemClock is the real clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }
