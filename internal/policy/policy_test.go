package policy

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"

	"github.com/raysh454/proctor/internal/model"
)

func TestDecide_Ladder(t *testing.T) {
	t.Parallel()
	p := New(DefaultConfig())
	cases := []struct {
		total   int
		status  model.Status
		urgency Urgency
	}{
		{0, model.StatusActive, UrgencyNone},
		{1, model.StatusActive, UrgencyInfo},
		{2, model.StatusWarned, UrgencyWarning},
		{3, model.StatusWarned, UrgencyWarning},
		{4, model.StatusWarned, UrgencyFinal},
		{5, model.StatusTerminated, UrgencyFinal},
		{9, model.StatusTerminated, UrgencyFinal},
	}
	for _, tc := range cases {
		d := p.Decide(Input{Total: tc.total, Latest: model.SeverityMajor, Current: model.StatusActive})
		assert.Equal(t, tc.status, d.Status, "total=%d", tc.total)
		assert.Equal(t, tc.urgency, d.Urgency, "total=%d", tc.total)
	}
}

func TestDecide_CriticalFreezesBelowCap(t *testing.T) {
	t.Parallel()
	p := New(DefaultConfig())
	d := p.Decide(Input{Total: 1, Latest: model.SeverityCritical, Current: model.StatusActive})
	assert.Equal(t, model.StatusFrozen, d.Status)
	assert.Equal(t, "critical violation", d.Reason)
}

func TestDecide_CapBeatsCritical(t *testing.T) {
	t.Parallel()
	p := New(DefaultConfig())
	d := p.Decide(Input{Total: 5, Latest: model.SeverityCritical, Current: model.StatusWarned})
	assert.Equal(t, model.StatusTerminated, d.Status)
}

func TestDecide_CriticalFreezeDisabled(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.FreezeOnCritical = false
	d := New(cfg).Decide(Input{Total: 1, Latest: model.SeverityCritical, Current: model.StatusActive})
	assert.Equal(t, model.StatusActive, d.Status)
}

func TestDecide_TabSwitchTrack(t *testing.T) {
	t.Parallel()
	p := New(DefaultConfig())
	d := p.Decide(Input{Total: 3, TabSwitches: 3, Latest: model.SeverityMajor, Current: model.StatusWarned})
	assert.Equal(t, model.StatusTerminated, d.Status)
	assert.Contains(t, d.Reason, "tab switch")

	cfg := DefaultConfig()
	cfg.TabSwitchCap = 0
	d = New(cfg).Decide(Input{Total: 3, TabSwitches: 10, Current: model.StatusWarned})
	assert.Equal(t, model.StatusWarned, d.Status, "a zero cap disables the track")
}

func TestDecide_NeverDowngrades(t *testing.T) {
	t.Parallel()
	p := New(DefaultConfig())
	d := p.Decide(Input{Total: 0, Current: model.StatusWarned})
	assert.Equal(t, model.StatusWarned, d.Status)
}

func TestRemaining(t *testing.T) {
	t.Parallel()
	p := New(DefaultConfig())
	assert.Equal(t, 5, p.Remaining(0))
	assert.Equal(t, 1, p.Remaining(4))
	assert.Equal(t, 0, p.Remaining(7))
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()
	assert.NoError(t, DefaultConfig().Validate())
	bad := DefaultConfig()
	bad.StrikeCap = bad.FinalWarningAt
	assert.Error(t, bad.Validate())
}

// ─── Properties ────────────────────────────────────────────────────────

func TestProperties(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 500
	properties := gopter.NewProperties(params)
	p := New(DefaultConfig())

	severities := gen.OneConstOf(model.Severity(""), model.SeverityMinor, model.SeverityMajor, model.SeverityCritical)
	statuses := gen.OneConstOf(model.StatusActive, model.StatusWarned, model.StatusFrozen, model.StatusTerminated)

	properties.Property("locked sessions stay put", prop.ForAll(
		func(total, tabs int, sev model.Severity, cur model.Status) bool {
			if !cur.Locked() {
				return true
			}
			return p.Decide(Input{Total: total, TabSwitches: tabs, Latest: sev, Current: cur}).Status == cur
		},
		gen.IntRange(0, 50), gen.IntRange(0, 10), severities, statuses,
	))

	properties.Property("never ranks below current", prop.ForAll(
		func(total, tabs int, sev model.Severity, cur model.Status) bool {
			d := p.Decide(Input{Total: total, TabSwitches: tabs, Latest: sev, Current: cur})
			return d.Status.Rank() >= cur.Rank()
		},
		gen.IntRange(0, 50), gen.IntRange(0, 10), severities, statuses,
	))

	properties.Property("monotone in total", prop.ForAll(
		func(total int) bool {
			a := p.Decide(Input{Total: total, Current: model.StatusActive})
			b := p.Decide(Input{Total: total + 1, Current: model.StatusActive})
			return b.Status.Rank() >= a.Status.Rank()
		},
		gen.IntRange(0, 50),
	))

	properties.TestingRun(t)
}
