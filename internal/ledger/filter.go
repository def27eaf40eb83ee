package ledger

import (
	"fmt"

	"github.com/raysh454/proctor/internal/model"
)

// FilterConfig tunes the server-side false-positive filter.
type FilterConfig struct {
	Enabled       bool    `mapstructure:"enabled"`
	MinConfidence float64 `mapstructure:"min_confidence"`
	// MinFrames applies to camera kinds only.
	MinFrames int `mapstructure:"min_frames"`
}

func DefaultFilterConfig() FilterConfig {
	return FilterConfig{Enabled: true, MinConfidence: 0.85, MinFrames: 3}
}

// Filter drops reports that are too weak to count as a strike.
type Filter struct {
	cfg FilterConfig
}

func NewFilter(cfg FilterConfig) Filter { return Filter{cfg: cfg} }

// Reject returns a reason and true when v must not count.
// CRITICAL reports are never filtered.
func (f Filter) Reject(v model.Violation) (string, bool) {
	if !f.cfg.Enabled || v.Severity == model.SeverityCritical {
		return "", false
	}
	if v.Confirmed != nil && !*v.Confirmed {
		return "client marked the detection unconfirmed", true
	}
	if v.Confidence < f.cfg.MinConfidence {
		return fmt.Sprintf("confidence %.2f below %.2f", v.Confidence, f.cfg.MinConfidence), true
	}
	if v.Kind.IsVision() && v.ConsecutiveFrames < f.cfg.MinFrames {
		return fmt.Sprintf("only %d consecutive frames, need %d", v.ConsecutiveFrames, f.cfg.MinFrames), true
	}
	return "", false
}
