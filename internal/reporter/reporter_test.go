package reporter_test

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raysh454/proctor/internal/api"
	"github.com/raysh454/proctor/internal/confirm"
	"github.com/raysh454/proctor/internal/debounce"
	"github.com/raysh454/proctor/internal/interfaces"
	"github.com/raysh454/proctor/internal/model"
	"github.com/raysh454/proctor/internal/reporter"
	"github.com/raysh454/proctor/internal/retry"
	"github.com/raysh454/proctor/internal/session"
	"github.com/raysh454/proctor/internal/syncq"
	"github.com/raysh454/proctor/internal/testutil"
)

const wait = 2 * time.Second

type fixture struct {
	rep    *reporter.Reporter
	tr     *testutil.DummyTransport
	mirror *session.Mirror
	queue  *syncq.Queue
	clock  *testutil.FakeClock
}

func instant(time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- time.Time{}
	return ch
}

func newFixture(t *testing.T, handler func(method, path string, body []byte) (*interfaces.Response, error)) *fixture {
	t.Helper()
	logger := &testutil.DummyLogger{}
	clock := testutil.NewFakeClock(time.Time{})
	tr := &testutil.DummyTransport{Handler: handler}
	mirror := session.NewMirror()
	queue := syncq.New(syncq.NewMemoryStore(), tr, syncq.DefaultConfig(), clock, logger)

	cfg := reporter.DefaultConfig()
	cfg.Poll = retry.Policy{MaxAttempts: 3, Initial: time.Millisecond, Multiplier: 1, After: instant}
	rep := reporter.New(reporter.Identity{SessionID: "s1", ExamID: "e1"}, cfg, tr,
		debounce.New(debounce.DefaultConfig()), mirror, queue, clock, logger)
	t.Cleanup(rep.Close)
	return &fixture{rep: rep, tr: tr, mirror: mirror, queue: queue, clock: clock}
}

func jsonResponse(v any) *interfaces.Response {
	body, _ := json.Marshal(v)
	return &interfaces.Response{StatusCode: 200, Body: body}
}

// ledgerHandler answers like a tiny server: every report adds a strike;
// CRITICAL freezes.
func ledgerHandler() func(string, string, []byte) (*interfaces.Response, error) {
	var strikes atomic.Int32
	var frozen atomic.Bool
	return func(method, path string, body []byte) (*interfaces.Response, error) {
		if method == "GET" {
			st := model.StatusActive
			if frozen.Load() {
				st = model.StatusFrozen
			}
			return jsonResponse(api.StatusResponse{Status: st, StrikeCount: int(strikes.Load())}), nil
		}
		var req api.ViolationRequest
		_ = json.Unmarshal(body, &req)
		n := int(strikes.Add(1))
		resp := api.ViolationResponse{StrikeCount: n, Status: model.StatusActive}
		if req.Severity == model.SeverityCritical {
			frozen.Store(true)
			resp.Status = model.StatusFrozen
			resp.Frozen = true
		}
		return jsonResponse(resp), nil
	}
}

func posted(t *testing.T, tr *testutil.DummyTransport) []api.ViolationRequest {
	t.Helper()
	var out []api.ViolationRequest
	for _, c := range tr.CallsTo(api.PathViolations) {
		var req api.ViolationRequest
		require.NoError(t, json.Unmarshal(c.Body, &req))
		out = append(out, req)
	}
	return out
}

// ─── Debouncing ────────────────────────────────────────────────────────

func TestReport_DebouncedWithinWindow(t *testing.T) {
	t.Parallel()
	f := newFixture(t, ledgerHandler())

	assert.True(t, f.rep.Report(model.KindTabSwitch, model.SeverityMajor, "tab hidden", model.Evidence{}))
	f.clock.Advance(5 * time.Second)
	assert.False(t, f.rep.Report(model.KindTabSwitch, model.SeverityMajor, "tab hidden", model.Evidence{}))
	f.clock.Advance(6 * time.Second)
	assert.True(t, f.rep.Report(model.KindTabSwitch, model.SeverityMajor, "tab hidden", model.Evidence{}))

	require.Eventually(t, func() bool { return len(posted(t, f.tr)) == 2 }, wait, time.Millisecond)
	require.Eventually(t, func() bool { return f.mirror.Snapshot().Strikes == 2 }, wait, time.Millisecond)
	reqs := posted(t, f.tr)
	assert.Equal(t, "s1", reqs[0].SessionID)
	assert.Equal(t, "e1", reqs[0].ExamID)
	assert.Equal(t, 1.0, reqs[0].Confidence)
	assert.NotEmpty(t, reqs[0].ID)
}

func TestReport_DefaultSeverityAndFloor(t *testing.T) {
	t.Parallel()
	f := newFixture(t, ledgerHandler())

	f.rep.Report(model.KindLargePaste, "", "", model.Evidence{Paste: &model.PasteEvidence{Length: 80}})
	f.rep.Report(model.KindFullscreenExit, model.SeverityMinor, "", model.Evidence{})

	require.Eventually(t, func() bool { return len(posted(t, f.tr)) == 2 }, wait, time.Millisecond)
	reqs := posted(t, f.tr)
	assert.Equal(t, model.KindLargePaste.DefaultSeverity(), reqs[0].Severity)
	assert.Equal(t, model.SeverityCritical, reqs[1].Severity, "fullscreen exit is never below CRITICAL")
}

// ─── CRITICAL ──────────────────────────────────────────────────────────

func TestReport_CriticalLocksBeforeServerAnswers(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	inner := ledgerHandler()
	f := newFixture(t, func(method, path string, body []byte) (*interfaces.Response, error) {
		if method == "POST" {
			<-release
		}
		return inner(method, path, body)
	})

	assert.True(t, f.rep.Report(model.KindScreenshotAttempt, model.SeverityCritical, "print screen", model.Evidence{}))
	v := f.mirror.Snapshot()
	assert.True(t, v.PendingFreeze, "UI locks immediately")
	assert.True(t, v.Locked())

	close(release)
	select {
	case <-f.mirror.Done():
	case <-time.After(wait):
		t.Fatal("mirror never reached FROZEN")
	}
	v = f.mirror.Snapshot()
	assert.Equal(t, model.StatusFrozen, v.Status)
	assert.False(t, v.PendingFreeze)

	f.clock.Advance(time.Minute)
	assert.False(t, f.rep.Report(model.KindTabSwitch, model.SeverityMajor, "", model.Evidence{}),
		"non-critical reports are dropped once the server froze the session")
}

func TestReport_PendingFreezeStillSendsOtherViolations(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	var strikes atomic.Int32
	// A server that does not freeze on CRITICAL.
	f := newFixture(t, func(method, path string, body []byte) (*interfaces.Response, error) {
		if method == "GET" {
			return jsonResponse(api.StatusResponse{Status: model.StatusActive, StrikeCount: int(strikes.Load())}), nil
		}
		<-release
		return jsonResponse(api.ViolationResponse{Status: model.StatusActive, StrikeCount: int(strikes.Add(1))}), nil
	})

	f.rep.Report(model.KindScreenshotAttempt, model.SeverityCritical, "print screen", model.Evidence{})
	require.True(t, f.mirror.Snapshot().PendingFreeze)
	assert.True(t, f.rep.Report(model.KindTabSwitch, model.SeverityMajor, "tab hidden", model.Evidence{}),
		"a pending freeze does not swallow other violations")

	close(release)
	require.Eventually(t, func() bool { return len(posted(t, f.tr)) == 2 }, wait, time.Millisecond)
	reqs := posted(t, f.tr)
	assert.Equal(t, model.KindTabSwitch, reqs[1].Type)
	require.Eventually(t, func() bool {
		v := f.mirror.Snapshot()
		return !v.PendingFreeze && v.Strikes == 2
	}, wait, time.Millisecond)
	assert.False(t, f.mirror.Locked())
}

func TestReport_CriticalFailsOpenWhenServerUnreachable(t *testing.T) {
	t.Parallel()
	f := newFixture(t, ledgerHandler())
	f.tr.SetOffline(true)

	f.rep.Report(model.KindFullscreenExit, model.SeverityCritical, "", model.Evidence{})

	require.Eventually(t, func() bool {
		v := f.mirror.Snapshot()
		return !v.PendingFreeze && v.Offline
	}, wait, time.Millisecond)
	assert.False(t, f.mirror.Locked(), "freeze check exhausted: fail open")
	n, _ := f.queue.Len(context.Background())
	assert.Equal(t, 1, n, "the CRITICAL report waits in the offline queue")
}

func TestReport_CriticalNotFrozenByServerIsPolled(t *testing.T) {
	t.Parallel()
	f := newFixture(t, func(method, _ string, _ []byte) (*interfaces.Response, error) {
		if method == "GET" {
			return jsonResponse(api.StatusResponse{Status: model.StatusWarned, StrikeCount: 3}), nil
		}
		return jsonResponse(api.ViolationResponse{Status: model.StatusActive, StrikeCount: 1}), nil
	})

	f.rep.Report(model.KindScreenshotAttempt, model.SeverityCritical, "", model.Evidence{})

	require.Eventually(t, func() bool { return f.mirror.Snapshot().Status == model.StatusWarned }, wait, time.Millisecond)
	assert.False(t, f.mirror.Locked())
	assert.NotEmpty(t, f.tr.CallsTo(api.StatusPath("s1")))
}

// ─── Offline ───────────────────────────────────────────────────────────

func TestReport_OfflineQueuesAndReplays(t *testing.T) {
	t.Parallel()
	f := newFixture(t, ledgerHandler())
	f.tr.SetOffline(true)

	f.rep.Report(model.KindTabSwitch, model.SeverityMajor, "", model.Evidence{})
	f.clock.Advance(time.Minute)
	f.rep.Report(model.KindWindowBlur, model.SeverityMinor, "", model.Evidence{})

	require.Eventually(t, func() bool {
		n, _ := f.queue.Len(context.Background())
		return n == 2
	}, wait, time.Millisecond)
	assert.True(t, f.mirror.Snapshot().Offline)
	assert.False(t, f.queue.Online())

	f.tr.SetOffline(false)
	res, err := f.queue.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Delivered)

	v := f.mirror.Snapshot()
	assert.False(t, v.Offline)
	assert.Equal(t, 2, v.Strikes)
}

func TestReport_ServerErrorQueues(t *testing.T) {
	t.Parallel()
	f := newFixture(t, func(string, string, []byte) (*interfaces.Response, error) {
		return &interfaces.Response{StatusCode: 503}, nil
	})

	f.rep.Report(model.KindTabSwitch, model.SeverityMajor, "", model.Evidence{})

	require.Eventually(t, func() bool {
		n, _ := f.queue.Len(context.Background())
		return n == 1
	}, wait, time.Millisecond)
}

func TestReport_ClientErrorDropped(t *testing.T) {
	t.Parallel()
	f := newFixture(t, func(string, string, []byte) (*interfaces.Response, error) {
		return &interfaces.Response{StatusCode: 409, Body: []byte(`{"error":"closed"}`)}, nil
	})

	f.rep.Report(model.KindTabSwitch, model.SeverityMajor, "", model.Evidence{})

	require.Eventually(t, func() bool { return f.tr.CallCount() == 1 }, wait, time.Millisecond)
	f.rep.Close()
	n, _ := f.queue.Len(context.Background())
	assert.Zero(t, n)
}

// ─── Vision ────────────────────────────────────────────────────────────

func TestReportConfirmed_CarriesVisionEvidence(t *testing.T) {
	t.Parallel()
	f := newFixture(t, ledgerHandler())

	f.rep.ReportConfirmed(confirm.ConfirmedEvent{
		Kind:     model.KindPhoneDetected,
		Severity: model.SeverityMajor,
		Message:  "phone in frame",
		Frames:   3,
		Evidence: model.VisionEvidence{Label: "cell phone", Confidence: 0.93, ConsecutiveFrames: 3},
	})

	require.Eventually(t, func() bool { return len(posted(t, f.tr)) == 1 }, wait, time.Millisecond)
	req := posted(t, f.tr)[0]
	require.NotNil(t, req.Confirmed)
	assert.True(t, *req.Confirmed)
	assert.Equal(t, 3, req.ConsecutiveFrames)
	assert.InDelta(t, 0.93, req.Confidence, 1e-9)
	require.NotNil(t, req.Evidence.Vision)
	assert.Equal(t, "cell phone", req.Evidence.Vision.Label)
}

// ─── Lifecycle ─────────────────────────────────────────────────────────

func TestClose_RejectsFurtherReports(t *testing.T) {
	t.Parallel()
	f := newFixture(t, ledgerHandler())
	f.rep.Close()
	f.rep.Close()

	assert.False(t, f.rep.Report(model.KindTabSwitch, model.SeverityMajor, "", model.Evidence{}))
}

func TestPollStatus_Reconciles(t *testing.T) {
	t.Parallel()
	f := newFixture(t, func(string, string, []byte) (*interfaces.Response, error) {
		return jsonResponse(api.StatusResponse{Status: model.StatusTerminated, StrikeCount: 5}), nil
	})

	require.NoError(t, f.rep.PollStatus(context.Background()))
	assert.Equal(t, model.StatusTerminated, f.mirror.Snapshot().Status)
}

func TestPollStatus_UnknownSessionIsPermanent(t *testing.T) {
	t.Parallel()
	f := newFixture(t, func(string, string, []byte) (*interfaces.Response, error) {
		return &interfaces.Response{StatusCode: 404}, nil
	})

	err := f.rep.PollStatus(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, f.tr.CallCount())
}
