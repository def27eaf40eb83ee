package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/raysh454/proctor/internal/ledger"
	"github.com/raysh454/proctor/internal/model"
	"github.com/raysh454/proctor/internal/policy"
	"github.com/raysh454/proctor/internal/testutil"
)

var nonVisionKinds = []any{
	model.KindTabSwitch, model.KindWindowBlur, model.KindFullscreenExit, model.KindLargePaste,
	model.KindSuspiciousTypingSpeed, model.KindRapidAnswerChanges, model.KindIPChanged,
	model.KindSuspiciousExtension, model.KindScreenshotAttempt,
}

func newPropLedger() (*ledger.Ledger, func()) {
	l := ledger.New(ledger.NewMemoryStore(), policy.New(policy.DefaultConfig()), ledger.DefaultConfig(),
		testutil.NewFakeClock(time.Time{}), &testutil.DummyLogger{})
	_, _ = l.Start(context.Background(), ledger.StartRequest{SessionID: "p"})
	return l, l.Shutdown
}

func TestLedgerProperties(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 100
	properties := gopter.NewProperties(params)
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	properties.Property("replaying a violation never changes the total", prop.ForAll(
		func(kind model.Kind, offset int64) bool {
			l, done := newPropLedger()
			defer done()
			v := model.Violation{SessionID: "p", Kind: kind, Timestamp: base.Add(time.Duration(offset) * time.Millisecond)}
			a, err := l.Ingest(context.Background(), v)
			if err != nil {
				return false
			}
			b, err := l.Ingest(context.Background(), v)
			if err != nil {
				return false
			}
			return a.Total == 1 && b.Total == 1 && b.Duplicate()
		},
		gen.OneConstOf(nonVisionKinds...), gen.Int64Range(0, 3_600_000),
	))

	properties.Property("locked sessions keep their status", prop.ForAll(
		func(picks []int) bool {
			l, done := newPropLedger()
			defer done()
			ts := base
			var locked model.Status
			for _, i := range picks {
				k := nonVisionKinds[i].(model.Kind)
				ts = ts.Add(2 * time.Second)
				res, err := l.Ingest(context.Background(), model.Violation{SessionID: "p", Kind: k, Timestamp: ts})
				if err != nil {
					return false
				}
				if locked != "" && res.Status != locked {
					return false
				}
				if res.Status.Locked() {
					locked = res.Status
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, len(nonVisionKinds)-1)),
	))

	properties.TestingRun(t)
}
