package debounce

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"

	"github.com/raysh454/proctor/internal/model"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func TestShouldEmit_FirstObservationEmits(t *testing.T) {
	t.Parallel()
	d := New(DefaultConfig())
	assert.True(t, d.ShouldEmit("s1", model.KindTabSwitch, model.SeverityMajor, t0))
}

func TestShouldEmit_WindowSuppresses(t *testing.T) {
	t.Parallel()
	d := New(DefaultConfig())

	assert.True(t, d.ShouldEmit("s1", model.KindTabSwitch, model.SeverityMajor, t0))
	assert.False(t, d.ShouldEmit("s1", model.KindTabSwitch, model.SeverityMajor, t0.Add(9*time.Second)))
	assert.True(t, d.ShouldEmit("s1", model.KindTabSwitch, model.SeverityMajor, t0.Add(10*time.Second)))
}

func TestShouldEmit_SuppressedCallDoesNotExtendWindow(t *testing.T) {
	t.Parallel()
	d := New(DefaultConfig())

	d.ShouldEmit("s1", model.KindPhoneDetected, model.SeverityMajor, t0)
	assert.False(t, d.ShouldEmit("s1", model.KindPhoneDetected, model.SeverityMajor, t0.Add(2*time.Second)))
	assert.True(t, d.ShouldEmit("s1", model.KindPhoneDetected, model.SeverityMajor, t0.Add(3*time.Second)))
}

func TestShouldEmit_KeysAreIndependent(t *testing.T) {
	t.Parallel()
	d := New(DefaultConfig())

	assert.True(t, d.ShouldEmit("s1", model.KindTabSwitch, model.SeverityMajor, t0))
	assert.True(t, d.ShouldEmit("s1", model.KindLargePaste, model.SeverityMajor, t0))
	assert.True(t, d.ShouldEmit("s2", model.KindTabSwitch, model.SeverityMajor, t0))
}

func TestShouldEmit_CriticalBypasses(t *testing.T) {
	t.Parallel()
	d := New(DefaultConfig())
	for i := 0; i < 5; i++ {
		assert.True(t, d.ShouldEmit("s1", model.KindFullscreenExit, model.SeverityCritical, t0))
	}
}

func TestWindow_Table(t *testing.T) {
	t.Parallel()
	d := New(DefaultConfig())
	assert.Equal(t, 3*time.Second, d.Window(model.KindPhoneDetected))
	assert.Equal(t, 15*time.Second, d.Window(model.KindUnauthorizedObject))
	assert.Equal(t, 10*time.Second, d.Window(model.KindSuspiciousExtension))
}

func TestReset(t *testing.T) {
	t.Parallel()
	d := New(DefaultConfig())
	d.ShouldEmit("s1", model.KindTabSwitch, model.SeverityMajor, t0)
	d.ShouldEmit("s2", model.KindTabSwitch, model.SeverityMajor, t0)

	d.Reset("s1")
	assert.True(t, d.ShouldEmit("s1", model.KindTabSwitch, model.SeverityMajor, t0.Add(time.Second)))
	assert.False(t, d.ShouldEmit("s2", model.KindTabSwitch, model.SeverityMajor, t0.Add(time.Second)))
}

// ─── Properties ────────────────────────────────────────────────────────

func nonCritical() gopter.Gen {
	return gen.OneConstOf(model.SeverityMinor, model.SeverityMajor)
}

func anyKind() gopter.Gen {
	kinds := make([]any, len(model.AllKinds))
	for i, k := range model.AllKinds {
		kinds[i] = k
	}
	return gen.OneConstOf(kinds...)
}

func TestProperties(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 200
	properties := gopter.NewProperties(params)

	properties.Property("two calls inside the window yield (true, false)", prop.ForAll(
		func(kind model.Kind, sev model.Severity, frac float64) bool {
			d := New(DefaultConfig())
			gap := time.Duration(frac * float64(d.Window(kind)))
			first := d.ShouldEmit("s", kind, sev, t0)
			second := d.ShouldEmit("s", kind, sev, t0.Add(gap))
			return first && !second
		},
		anyKind(), nonCritical(), gen.Float64Range(0, 0.999),
	))

	properties.Property("critical always emits", prop.ForAll(
		func(kind model.Kind, offsets []int64) bool {
			d := New(DefaultConfig())
			for _, off := range offsets {
				if !d.ShouldEmit("s", kind, model.SeverityCritical, t0.Add(time.Duration(off)*time.Millisecond)) {
					return false
				}
			}
			return true
		},
		anyKind(), gen.SliceOf(gen.Int64Range(0, 60_000)),
	))

	properties.TestingRun(t)
}
