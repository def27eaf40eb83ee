package detect

import (
	"fmt"
	"sync"
	"time"

	"github.com/raysh454/proctor/internal/interfaces"
	"github.com/raysh454/proctor/internal/model"
)

// Focus watches page visibility, window focus, fullscreen state and
// screenshot shortcuts.
type Focus struct {
	cfg   Config
	rep   Reporter
	clock interfaces.Clock

	mu          sync.Mutex
	hiddenSince time.Time
	switches    int
}

func NewFocus(cfg Config, rep Reporter, clock interfaces.Clock) *Focus {
	if clock == nil {
		clock = interfaces.SystemClock{}
	}
	return &Focus{cfg: cfg.withDefaults(), rep: rep, clock: clock}
}

// VisibilityChanged records the page becoming hidden or visible again. A
// hide shorter than TabHiddenMin is ignored.
func (f *Focus) VisibilityChanged(hidden bool) {
	now := f.clock.Now()
	f.mu.Lock()
	if hidden {
		if f.hiddenSince.IsZero() {
			f.hiddenSince = now
		}
		f.mu.Unlock()
		return
	}
	if f.hiddenSince.IsZero() {
		f.mu.Unlock()
		return
	}
	away := now.Sub(f.hiddenSince)
	f.hiddenSince = time.Time{}
	if away <= f.cfg.TabHiddenMin {
		f.mu.Unlock()
		return
	}
	f.switches++
	count := f.switches
	f.mu.Unlock()

	f.rep.Report(model.KindTabSwitch, model.SeverityMajor,
		fmt.Sprintf("Tab switched or window minimized for %ds", int(away.Round(time.Second)/time.Second)),
		model.Evidence{Focus: &model.FocusEvidence{HiddenMillis: away.Milliseconds(), SwitchCount: count}})
}

// Blur records the exam window losing focus.
func (f *Focus) Blur() {
	f.rep.Report(model.KindWindowBlur, model.SeverityMajor, "Window lost focus",
		model.Evidence{Focus: &model.FocusEvidence{}})
}

// FullscreenChanged records entering or leaving fullscreen. Leaving is
// always CRITICAL.
func (f *Focus) FullscreenChanged(fullscreen bool) {
	if fullscreen {
		return
	}
	f.rep.Report(model.KindFullscreenExit, model.SeverityCritical, "Exited fullscreen mode",
		model.Evidence{Screen: &model.ScreenEvidence{Trigger: "fullscreenchange"}})
}

// Key is a keyboard event as the host sees it.
type Key struct {
	Name  string
	Meta  bool
	Shift bool
	Ctrl  bool
}

// IsScreenshot reports whether k is a known screen-capture or devtools
// shortcut.
func (k Key) IsScreenshot() bool {
	switch {
	case k.Name == "PrintScreen", k.Name == "F12":
		return true
	case k.Meta && k.Shift && (k.Name == "3" || k.Name == "4" || k.Name == "5"):
		return true
	case k.Ctrl && k.Shift && (k.Name == "I" || k.Name == "i"):
		return true
	}
	return false
}

// KeyDown reports screenshot shortcuts. It returns true when k was one.
func (f *Focus) KeyDown(k Key) bool {
	if !k.IsScreenshot() {
		return false
	}
	f.rep.Report(model.KindScreenshotAttempt, model.SeverityCritical,
		"Screenshot key detected: "+k.Name,
		model.Evidence{Screen: &model.ScreenEvidence{Trigger: k.Name}})
	return true
}

// Switches returns how many tab switches were reported.
func (f *Focus) Switches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.switches
}
