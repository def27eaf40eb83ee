// Package confirm turns a noisy per-frame detector stream into confirmed
// events by requiring a condition to hold over consecutive samples.
package confirm

import (
	"strings"
	"sync"
	"time"

	"github.com/raysh454/proctor/internal/interfaces"
	"github.com/raysh454/proctor/internal/model"
)

// Frame is one sampled detector result.
type Frame struct {
	Predictions []interfaces.Prediction
	At          time.Time
}

// Hit is what a rule extracts from a frame when its condition holds.
type Hit struct {
	Label      string
	Count      int
	Confidence float64
	BBox       [4]float64
}

// Rule decides whether a frame exhibits one violation kind.
type Rule struct {
	Kind     model.Kind
	Severity model.Severity
	Message  string
	Eval     func(preds []interfaces.Prediction) (Hit, bool)
}

// ConfirmedEvent is emitted once a rule held for W consecutive frames.
type ConfirmedEvent struct {
	Kind     model.Kind
	Severity model.Severity
	Message  string
	Frames   int
	At       time.Time
	Evidence model.VisionEvidence
}

// Config controls the confirmation window and detection threshold.
type Config struct {
	Window    int     `mapstructure:"window"`
	Threshold float64 `mapstructure:"threshold"`
}

func DefaultConfig() Config {
	return Config{Window: 3, Threshold: 0.85}
}

type track struct {
	run  int
	ring []Hit
	next int
}

func (t *track) push(h Hit) {
	t.ring[t.next] = h
	t.next = (t.next + 1) % len(t.ring)
}

// newest returns the most recently pushed hit.
func (t *track) newest() Hit {
	return t.ring[(t.next-1+len(t.ring))%len(t.ring)]
}

func (t *track) clear() {
	t.run = 0
	t.next = 0
	for i := range t.ring {
		t.ring[i] = Hit{}
	}
}

// Confirmer keeps a run counter and a ring of the last W hits per rule.
type Confirmer struct {
	window int
	rules  []Rule

	mu     sync.Mutex
	tracks map[model.Kind]*track
}

// New builds a Confirmer. A nil rule set means DefaultRules(cfg.Threshold).
func New(cfg Config, rules []Rule) *Confirmer {
	if cfg.Window < 1 {
		cfg.Window = DefaultConfig().Window
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultConfig().Threshold
	}
	if rules == nil {
		rules = DefaultRules(cfg.Threshold)
	}
	c := &Confirmer{window: cfg.Window, rules: rules, tracks: make(map[model.Kind]*track, len(rules))}
	for _, r := range rules {
		c.tracks[r.Kind] = &track{ring: make([]Hit, cfg.Window)}
	}
	return c
}

// Observe feeds one frame to every rule. A rule fires exactly once when its
// run reaches the window, then starts accumulating again from zero. A frame
// where the condition does not hold resets that rule's run.
func (c *Confirmer) Observe(f Frame) []ConfirmedEvent {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []ConfirmedEvent
	for _, r := range c.rules {
		tr := c.tracks[r.Kind]
		hit, ok := r.Eval(f.Predictions)
		if !ok {
			tr.clear()
			continue
		}
		tr.push(hit)
		tr.run++
		if tr.run < c.window {
			continue
		}
		last := tr.newest()
		out = append(out, ConfirmedEvent{
			Kind:     r.Kind,
			Severity: r.Severity,
			Message:  r.Message,
			Frames:   tr.run,
			At:       f.At,
			Evidence: model.VisionEvidence{
				Label:             last.Label,
				FaceCount:         last.Count,
				Confidence:        last.Confidence,
				BBox:              last.BBox,
				ConsecutiveFrames: tr.run,
			},
		})
		tr.clear()
	}
	return out
}

// Reset drops every run, e.g. when the camera restarts.
func (c *Confirmer) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, tr := range c.tracks {
		tr.clear()
	}
}

// DefaultRules are the camera conditions the portal watches for.
func DefaultRules(threshold float64) []Rule {
	return []Rule{
		{
			Kind:     model.KindMultipleFaces,
			Severity: model.SeverityMajor,
			Message:  "Multiple people detected in camera view",
			Eval: func(preds []interfaces.Prediction) (Hit, bool) {
				persons, best := matching(preds, 0, "person")
				if len(persons) > 1 && best.Confidence >= threshold {
					return Hit{Label: "person", Count: len(persons), Confidence: best.Confidence, BBox: best.BBox}, true
				}
				return Hit{}, false
			},
		},
		{
			Kind:     model.KindNoFace,
			Severity: model.SeverityMinor,
			Message:  "No person detected in camera view",
			Eval: func(preds []interfaces.Prediction) (Hit, bool) {
				persons, _ := matching(preds, 0, "person")
				if len(persons) == 0 {
					return Hit{Label: "person", Count: 0, Confidence: 1}, true
				}
				return Hit{}, false
			},
		},
		{
			Kind:     model.KindPhoneDetected,
			Severity: model.SeverityMajor,
			Message:  "Mobile phone detected",
			Eval: func(preds []interfaces.Prediction) (Hit, bool) {
				found, best := matching(preds, threshold, "cell phone")
				if len(found) > 0 {
					return Hit{Label: best.Label, Count: len(found), Confidence: best.Confidence, BBox: best.BBox}, true
				}
				return Hit{}, false
			},
		},
		{
			Kind:     model.KindUnauthorizedObject,
			Severity: model.SeverityMajor,
			Message:  "Unauthorized object detected",
			Eval: func(preds []interfaces.Prediction) (Hit, bool) {
				found, best := matching(preds, threshold, "book", "laptop")
				if len(found) > 0 {
					return Hit{Label: best.Label, Count: len(found), Confidence: best.Confidence, BBox: best.BBox}, true
				}
				return Hit{}, false
			},
		},
	}
}

// matching returns predictions with one of labels and confidence >= min,
// together with the most confident of them.
func matching(preds []interfaces.Prediction, min float64, labels ...string) ([]interfaces.Prediction, interfaces.Prediction) {
	var out []interfaces.Prediction
	var best interfaces.Prediction
	for _, p := range preds {
		if p.Confidence < min {
			continue
		}
		for _, l := range labels {
			if strings.EqualFold(p.Label, l) {
				out = append(out, p)
				if p.Confidence > best.Confidence {
					best = p
				}
				break
			}
		}
	}
	return out, best
}
