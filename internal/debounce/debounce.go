// Package debounce suppresses repeated reports of the same ongoing condition.
package debounce

import (
	"sync"
	"time"

	"github.com/raysh454/proctor/internal/model"
)

// Config holds the per-kind cool-down windows.
type Config struct {
	Windows map[model.Kind]time.Duration `mapstructure:"windows"`
	// Default applies to kinds missing from Windows.
	Default time.Duration `mapstructure:"default"`
}

// DefaultConfig returns the windows observed in the field: 3s for phones
// seen by the camera, 10s for face anomalies and focus loss, 15s for other
// unauthorized objects.
func DefaultConfig() Config {
	return Config{
		Windows: map[model.Kind]time.Duration{
			model.KindPhoneDetected:      3 * time.Second,
			model.KindMultipleFaces:      10 * time.Second,
			model.KindNoFace:             10 * time.Second,
			model.KindTabSwitch:          10 * time.Second,
			model.KindWindowBlur:         10 * time.Second,
			model.KindUnauthorizedObject: 15 * time.Second,
		},
		Default: 10 * time.Second,
	}
}

type key struct {
	session string
	kind    model.Kind
}

// Debouncer tracks the last emission per (session, kind). The zero value is
// not usable; construct with New.
type Debouncer struct {
	cfg Config

	mu          sync.Mutex
	lastEmitted map[key]time.Time
}

func New(cfg Config) *Debouncer {
	if cfg.Windows == nil {
		cfg.Windows = map[model.Kind]time.Duration{}
	}
	return &Debouncer{cfg: cfg, lastEmitted: make(map[key]time.Time)}
}

// Window returns the cool-down for kind.
func (d *Debouncer) Window(kind model.Kind) time.Duration {
	if w, ok := d.cfg.Windows[kind]; ok {
		return w
	}
	return d.cfg.Default
}

// ShouldEmit reports whether a signal observed at now may be reported.
// CRITICAL always passes. A true result records now as the last emission.
func (d *Debouncer) ShouldEmit(sessionID string, kind model.Kind, sev model.Severity, now time.Time) bool {
	k := key{session: sessionID, kind: kind}

	d.mu.Lock()
	defer d.mu.Unlock()

	if sev != model.SeverityCritical {
		if last, ok := d.lastEmitted[k]; ok && now.Sub(last) < d.Window(kind) {
			return false
		}
	}
	d.lastEmitted[k] = now
	return true
}

// Reset forgets all state for sessionID. An empty id clears everything.
func (d *Debouncer) Reset(sessionID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if sessionID == "" {
		d.lastEmitted = make(map[key]time.Time)
		return
	}
	for k := range d.lastEmitted {
		if k.session == sessionID {
			delete(d.lastEmitted, k)
		}
	}
}
