// Package policy maps ledger state to the desired session status. It is pure:
// no I/O, no clocks, no shared state.
package policy

import (
	"fmt"

	"github.com/raysh454/proctor/internal/model"
)

// Urgency tells the student client how loudly to surface a decision.
type Urgency string

const (
	UrgencyNone    Urgency = "none"
	UrgencyInfo    Urgency = "info"
	UrgencyWarning Urgency = "warning"
	// UrgencyFinal means one more strike terminates the session.
	UrgencyFinal Urgency = "final"
)

// Config holds thresholds. The general strike total and the tab-switch count
// are independent tracks; either one reaching its cap terminates.
type Config struct {
	WarnAt           int  `mapstructure:"warn_at"`
	FinalWarningAt   int  `mapstructure:"final_warning_at"`
	StrikeCap        int  `mapstructure:"strike_cap"`
	TabSwitchCap     int  `mapstructure:"tab_switch_cap"`
	FreezeOnCritical bool `mapstructure:"freeze_on_critical"`
}

func DefaultConfig() Config {
	return Config{
		WarnAt:           2,
		FinalWarningAt:   4,
		StrikeCap:        5,
		TabSwitchCap:     3,
		FreezeOnCritical: true,
	}
}

// Validate checks that thresholds are ordered.
func (c Config) Validate() error {
	if c.WarnAt < 1 || c.FinalWarningAt < c.WarnAt || c.StrikeCap <= c.FinalWarningAt {
		return fmt.Errorf("policy: thresholds must satisfy 1 <= warn(%d) <= final(%d) < cap(%d)",
			c.WarnAt, c.FinalWarningAt, c.StrikeCap)
	}
	if c.TabSwitchCap < 0 {
		return fmt.Errorf("policy: tab switch cap must be >= 0, got %d", c.TabSwitchCap)
	}
	return nil
}

// Input is the ledger state the decision is computed from.
type Input struct {
	Total       int
	TabSwitches int
	// Latest is the severity of the violation just applied; empty when
	// re-evaluating without a new event.
	Latest  model.Severity
	Current model.Status
}

// Decision is the desired status plus presentation hints.
type Decision struct {
	Status  model.Status
	Urgency Urgency
	Reason  string
}

// Policy evaluates Inputs against a Config.
type Policy struct {
	cfg Config
}

func New(cfg Config) *Policy {
	return &Policy{cfg: cfg}
}

func (p *Policy) Config() Config { return p.cfg }

// Decide returns the next status. Once the current status is FROZEN or
// TERMINATED it is returned unchanged, and the result never ranks below the
// current status.
func (p *Policy) Decide(in Input) Decision {
	if in.Current.Locked() {
		return Decision{Status: in.Current, Urgency: UrgencyFinal, Reason: "session is " + string(in.Current)}
	}

	d := p.ladder(in.Total)

	if p.cfg.TabSwitchCap > 0 && in.TabSwitches >= p.cfg.TabSwitchCap {
		d = stronger(d, Decision{
			Status:  model.StatusTerminated,
			Urgency: UrgencyFinal,
			Reason:  fmt.Sprintf("tab switch limit reached (%d/%d)", in.TabSwitches, p.cfg.TabSwitchCap),
		})
	}
	if p.cfg.FreezeOnCritical && in.Latest == model.SeverityCritical {
		d = stronger(d, Decision{
			Status:  model.StatusFrozen,
			Urgency: UrgencyFinal,
			Reason:  "critical violation",
		})
	}

	if in.Current.Rank() > d.Status.Rank() {
		d.Status = in.Current
	}
	return d
}

func (p *Policy) ladder(total int) Decision {
	switch {
	case total >= p.cfg.StrikeCap:
		return Decision{
			Status:  model.StatusTerminated,
			Urgency: UrgencyFinal,
			Reason:  fmt.Sprintf("strike limit reached (%d/%d)", total, p.cfg.StrikeCap),
		}
	case total >= p.cfg.FinalWarningAt:
		return Decision{Status: model.StatusWarned, Urgency: UrgencyFinal, Reason: "one more strike terminates the session"}
	case total >= p.cfg.WarnAt:
		return Decision{Status: model.StatusWarned, Urgency: UrgencyWarning, Reason: "strike warning"}
	case total >= 1:
		return Decision{Status: model.StatusActive, Urgency: UrgencyInfo}
	default:
		return Decision{Status: model.StatusActive, Urgency: UrgencyNone}
	}
}

// stronger keeps the higher-ranked decision; ties keep a.
func stronger(a, b Decision) Decision {
	if b.Status.Rank() > a.Status.Rank() {
		return b
	}
	return a
}

// Remaining is the number of strikes left before the cap.
func (p *Policy) Remaining(total int) int {
	if r := p.cfg.StrikeCap - total; r > 0 {
		return r
	}
	return 0
}
