// Package agent assembles the client side of one exam attempt: detectors,
// confirmer, reporter, offline queue and the push channel, all torn down
// together once the session is frozen or terminated.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/raysh454/proctor/internal/api"
	"github.com/raysh454/proctor/internal/confirm"
	"github.com/raysh454/proctor/internal/debounce"
	"github.com/raysh454/proctor/internal/detect"
	"github.com/raysh454/proctor/internal/hub"
	"github.com/raysh454/proctor/internal/interfaces"
	"github.com/raysh454/proctor/internal/logging"
	"github.com/raysh454/proctor/internal/model"
	"github.com/raysh454/proctor/internal/reporter"
	"github.com/raysh454/proctor/internal/sampler"
	"github.com/raysh454/proctor/internal/session"
	"github.com/raysh454/proctor/internal/syncq"
)

// ErrNoTransport is returned by New without a transport.
var ErrNoTransport = errors.New("agent: transport is required")

// Deps are the external collaborators of an agent. Only Transport is
// required.
type Deps struct {
	Transport  interfaces.Transport
	Subscriber interfaces.Subscriber
	// Detector enables camera sampling when set.
	Detector interfaces.Detector
	// IPSource enables the network address check; WhoAmI over Transport
	// is a good default.
	IPSource detect.IPSource
	Clock    interfaces.Clock
}

// Agent is one running attempt on the student's machine.
type Agent struct {
	id     reporter.Identity
	cfg    Config
	deps   Deps
	logger logging.Logger

	Mirror     *session.Mirror
	Reporter   *reporter.Reporter
	Queue      *syncq.Queue
	Focus      *detect.Focus
	Keystrokes *detect.Keystrokes

	store     syncq.Store
	sampler   *sampler.Loop
	ip        *detect.IPWatcher
	onWarning func(hub.ModeratorWarning)
}

// New builds every client component for the attempt id.
func New(cfg Config, id reporter.Identity, deps Deps, logger logging.Logger) (*Agent, error) {
	if deps.Transport == nil {
		return nil, ErrNoTransport
	}
	if deps.Clock == nil {
		deps.Clock = interfaces.SystemClock{}
	}
	logger = logger.With(logging.Field{Key: "session", Value: id.SessionID})

	var store syncq.Store = syncq.NewMemoryStore()
	if cfg.QueuePath != "" {
		s, err := syncq.OpenSQLiteStore(cfg.QueuePath, logger)
		if err != nil {
			return nil, fmt.Errorf("open offline queue: %w", err)
		}
		store = s
	}

	mirror := session.NewMirror()
	queue := syncq.New(store, deps.Transport, cfg.SyncQ, deps.Clock, logger)
	queue.OnConnectivity(func(online bool) { mirror.SetOffline(!online) })
	rep := reporter.New(id, cfg.Reporter, deps.Transport, debounce.New(cfg.Debounce), mirror, queue, deps.Clock, logger)

	a := &Agent{
		id:         id,
		cfg:        cfg,
		deps:       deps,
		logger:     logger.With(logging.Field{Key: "component", Value: "agent"}),
		Mirror:     mirror,
		Reporter:   rep,
		Queue:      queue,
		Focus:      detect.NewFocus(cfg.Detect, rep, deps.Clock),
		Keystrokes: detect.NewKeystrokes(cfg.Detect, rep, deps.Clock),
		store:      store,
	}

	if deps.Detector != nil {
		c := confirm.New(cfg.Confirm, confirm.DefaultRules(cfg.Confirm.Threshold))
		a.sampler = sampler.New(cfg.Sampler, deps.Detector, c, rep, deps.Clock, logger)
		a.sampler.OnDegraded(func(err error) {
			a.logger.Warn("camera monitoring unavailable, other checks continue", logging.Err(err))
		})
	}
	if deps.IPSource != nil {
		a.ip = detect.NewIPWatcher(cfg.Detect, deps.IPSource, rep, logger)
	}

	mirror.OnChange(func(v session.View) {
		a.logger.Info("session view changed",
			logging.Field{Key: "status", Value: v.Status},
			logging.Field{Key: "strikes", Value: v.Strikes},
			logging.Field{Key: "pending_freeze", Value: v.PendingFreeze},
			logging.Field{Key: "offline", Value: v.Offline})
	})
	return a, nil
}

func (a *Agent) SessionID() string { return a.id.SessionID }

// OnModeratorWarning registers fn for warnings pushed by a moderator. It
// must be called before Run.
func (a *Agent) OnModeratorWarning(fn func(hub.ModeratorWarning)) { a.onWarning = fn }

// Run starts the background loops and blocks until ctx is done or the
// session becomes FROZEN or TERMINATED, whichever comes first. Either way
// every loop is stopped before Run returns. A locked session is not an
// error.
func (a *Agent) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	loop := func(name string, fn func(context.Context) error) {
		g.Go(func() error {
			err := fn(gctx)
			if err != nil && gctx.Err() == nil {
				a.logger.Warn("background loop stopped", logging.Field{Key: "loop", Value: name}, logging.Err(err))
			}
			return nil
		})
	}

	loop("syncq", a.Queue.Run)
	if a.sampler != nil {
		loop("sampler", a.sampler.Run)
	}
	if a.ip != nil {
		loop("ipwatch", a.ip.Run)
	}
	if a.deps.Subscriber != nil {
		loop("push", func(ctx context.Context) error {
			return a.deps.Subscriber.Subscribe(ctx, api.SessionWSPath(a.id.SessionID), a.onPush)
		})
	}

	// Pick up a status that changed while we were away.
	if err := a.Reporter.PollStatus(ctx); err != nil {
		a.logger.Debug("initial status check failed", logging.Err(err))
	}

	var locked bool
	select {
	case <-ctx.Done():
	case <-a.Mirror.Done():
		locked = true
		v := a.Mirror.Snapshot()
		a.logger.Warn("session locked, stopping monitors",
			logging.Field{Key: "status", Value: v.Status},
			logging.Field{Key: "strikes", Value: v.Strikes})
	}
	cancel()
	_ = g.Wait()

	if locked {
		return nil
	}
	return ctx.Err()
}

// onPush applies a server push to the mirror. Pushes never clear a pending
// freeze; only the reporter settles that.
func (a *Agent) onPush(msg interfaces.PushMessage) {
	switch hub.MessageType(msg.Type) {
	case hub.TypeStudentStatus:
		var st hub.StudentStatus
		if err := json.Unmarshal(msg.Payload, &st); err != nil {
			a.logger.Warn("undecodable status push", logging.Err(err))
			return
		}
		a.Mirror.Apply(st.Status, st.Strikes)
	case hub.TypeTermination:
		var tm hub.Termination
		if err := json.Unmarshal(msg.Payload, &tm); err != nil {
			a.logger.Warn("undecodable termination push", logging.Err(err))
			return
		}
		a.logger.Warn("session terminated by server",
			logging.Field{Key: "reason", Value: tm.Reason},
			logging.Field{Key: "manual", Value: tm.Manual})
		a.Mirror.Apply(model.StatusTerminated, tm.Strikes)
	case hub.TypeWarning:
		var w hub.ModeratorWarning
		if err := json.Unmarshal(msg.Payload, &w); err != nil {
			a.logger.Warn("undecodable warning push", logging.Err(err))
			return
		}
		a.logger.Warn("moderator warning",
			logging.Field{Key: "moderator", Value: w.Moderator},
			logging.Field{Key: "message", Value: w.Message})
		if a.onWarning != nil {
			a.onWarning(w)
		}
	default:
		a.logger.Debug("ignoring push", logging.Field{Key: "type", Value: msg.Type})
	}
}

// Close flushes the reporter into the offline queue and releases the
// queue's store. Call it after Run returns.
func (a *Agent) Close() error {
	a.Reporter.Close()
	if err := a.store.Close(); err != nil {
		return fmt.Errorf("close offline queue: %w", err)
	}
	return nil
}

// StartSession asks the server to open an attempt.
func StartSession(ctx context.Context, t interfaces.Transport, examID, studentID string) (api.StatusResponse, error) {
	var st api.StatusResponse
	resp, err := t.Post(ctx, api.PathSessions, api.StartSessionRequest{ExamID: examID, StudentID: studentID})
	if err != nil {
		return st, fmt.Errorf("start session: %w", err)
	}
	if !resp.OK() {
		return st, fmt.Errorf("start session: status %d: %s", resp.StatusCode, resp.Body)
	}
	if err := json.Unmarshal(resp.Body, &st); err != nil {
		return st, fmt.Errorf("start session: %w", err)
	}
	return st, nil
}

// CloseSession archives the attempt on submit.
func CloseSession(ctx context.Context, t interfaces.Transport, sessionID string) error {
	resp, err := t.Post(ctx, api.ClosePath(sessionID), nil)
	if err != nil {
		return fmt.Errorf("close session: %w", err)
	}
	if !resp.OK() {
		return fmt.Errorf("close session: status %d: %s", resp.StatusCode, resp.Body)
	}
	return nil
}
