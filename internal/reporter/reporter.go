// Package reporter turns detector signals into violation reports. Report is
// fire-and-forget: debouncing happens inline, delivery happens on a worker
// goroutine, and anything the server cannot take right now goes to the
// offline queue.
package reporter

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/raysh454/proctor/internal/api"
	"github.com/raysh454/proctor/internal/confirm"
	"github.com/raysh454/proctor/internal/debounce"
	"github.com/raysh454/proctor/internal/interfaces"
	"github.com/raysh454/proctor/internal/logging"
	"github.com/raysh454/proctor/internal/model"
	"github.com/raysh454/proctor/internal/retry"
	"github.com/raysh454/proctor/internal/session"
	"github.com/raysh454/proctor/internal/syncq"
)

type Config struct {
	// QueueSize bounds reports waiting for the worker. Overflow goes
	// straight to the offline queue.
	QueueSize int `mapstructure:"queue_size"`
	// Poll drives the freeze-status poll after a CRITICAL report.
	Poll retry.Policy `mapstructure:"poll"`
	// SendTimeout bounds one delivery attempt.
	SendTimeout time.Duration `mapstructure:"send_timeout"`
}

func DefaultConfig() Config {
	return Config{
		QueueSize:   256,
		Poll:        retry.DefaultPolicy(),
		SendTimeout: 10 * time.Second,
	}
}

// Identity names the attempt the reporter speaks for.
type Identity struct {
	SessionID string
	ExamID    string
}

type Reporter struct {
	id        Identity
	cfg       Config
	transport interfaces.Transport
	debouncer *debounce.Debouncer
	mirror    *session.Mirror
	queue     *syncq.Queue
	clock     interfaces.Clock
	logger    logging.Logger

	jobs     chan model.Violation
	pending  atomic.Int32 // CRITICAL reports not yet settled
	wg       sync.WaitGroup
	closing  chan struct{}
	closed   atomic.Bool
	stopOnce sync.Once
	ctx      context.Context
	cancel   context.CancelFunc
}

// New builds a reporter and starts its worker. Close stops it.
func New(id Identity, cfg Config, transport interfaces.Transport, d *debounce.Debouncer, mirror *session.Mirror,
	queue *syncq.Queue, clock interfaces.Clock, logger logging.Logger) *Reporter {
	if clock == nil {
		clock = interfaces.SystemClock{}
	}
	def := DefaultConfig()
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.Poll.MaxAttempts <= 0 {
		cfg.Poll = def.Poll
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = def.SendTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Reporter{
		id:        id,
		cfg:       cfg,
		transport: transport,
		debouncer: d,
		mirror:    mirror,
		queue:     queue,
		clock:     clock,
		logger:    logger.With(logging.Field{Key: "component", Value: "reporter"}),
		jobs:      make(chan model.Violation, cfg.QueueSize),
		closing:   make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
	}
	if queue != nil {
		queue.OnDelivered(r.onReplayed)
	}
	r.wg.Add(1)
	go r.worker()
	return r
}

// Report files a violation. It returns false when the signal was not sent:
// suppressed by the debouncer, the session already frozen or terminated by
// the server, or the reporter closed. It never blocks on the network.
func (r *Reporter) Report(kind model.Kind, sev model.Severity, message string, ev model.Evidence) bool {
	v := model.Violation{
		SessionID: r.id.SessionID,
		ExamID:    r.id.ExamID,
		Kind:      kind,
		Severity:  sev,
		Message:   message,
		Evidence:  ev,
	}
	return r.submit(v)
}

// ReportConfirmed files a camera detection that passed the confirmer.
func (r *Reporter) ReportConfirmed(ev confirm.ConfirmedEvent) bool {
	vision := ev.Evidence
	v := model.Violation{
		SessionID:         r.id.SessionID,
		ExamID:            r.id.ExamID,
		Kind:              ev.Kind,
		Severity:          ev.Severity,
		Message:           ev.Message,
		Confidence:        vision.Confidence,
		ConsecutiveFrames: ev.Frames,
		Confirmed:         model.BoolPtr(true),
		Evidence:          model.Evidence{Vision: &vision},
	}
	return r.submit(v)
}

func (r *Reporter) submit(v model.Violation) bool {
	if r.closed.Load() {
		return false
	}
	if v.Severity == "" {
		v.Severity = v.Kind.DefaultSeverity()
	}
	v.Timestamp = r.clock.Now().UTC()
	v.Normalize()

	// A pending freeze is only local optimism; until the server confirms
	// it, other violations still count.
	if r.mirror.Snapshot().Status.Locked() && v.Severity != model.SeverityCritical {
		r.logger.Debug("session locked, report dropped", logging.Field{Key: "type", Value: v.Kind})
		return false
	}
	if !r.debouncer.ShouldEmit(v.SessionID, v.Kind, v.Severity, v.Timestamp) {
		r.logger.Debug("report debounced", logging.Field{Key: "type", Value: v.Kind})
		return false
	}
	if err := v.Validate(); err != nil {
		r.logger.Warn("invalid report dropped", logging.Field{Key: "type", Value: v.Kind}, logging.Err(err))
		return false
	}
	v.ID = uuid.New().String()

	if v.Severity == model.SeverityCritical {
		r.pending.Add(1)
		r.mirror.BeginPendingFreeze()
	}

	select {
	case r.jobs <- v:
	default:
		r.logger.Warn("report backlog full, queueing offline", logging.Field{Key: "type", Value: v.Kind})
		r.enqueue(v)
		if v.Severity == model.SeverityCritical {
			r.startFreezePoll()
		}
	}
	return true
}

func (r *Reporter) worker() {
	defer r.wg.Done()
	for {
		select {
		case v := <-r.jobs:
			r.deliver(v)
		case <-r.closing:
			// Whatever is still buffered goes to the durable queue.
			for {
				select {
				case v := <-r.jobs:
					r.enqueue(v)
				default:
					return
				}
			}
		}
	}
}

func (r *Reporter) deliver(v model.Violation) {
	fields := []logging.Field{
		{Key: "session", Value: v.SessionID},
		{Key: "type", Value: v.Kind},
		{Key: "severity", Value: v.Severity},
	}
	critical := v.Severity == model.SeverityCritical

	ctx, cancel := context.WithTimeout(r.ctx, r.cfg.SendTimeout)
	resp, err := r.transport.Post(ctx, api.PathViolations, api.NewViolationRequest(v))
	cancel()

	switch {
	case err != nil:
		r.logger.Warn("violation delivery failed, queued offline", append(fields, logging.Err(err))...)
		r.mirror.SetOffline(true)
		if r.queue != nil {
			r.queue.SetOnline(false)
		}
		r.enqueue(v)
		if critical {
			r.startFreezePoll()
		}

	case resp.OK():
		if r.queue != nil {
			r.queue.SetOnline(true)
		}
		var body api.ViolationResponse
		if err := json.Unmarshal(resp.Body, &body); err != nil {
			r.logger.Warn("undecodable violation response", append(fields, logging.Err(err))...)
			if critical {
				r.startFreezePoll()
			}
			return
		}
		r.logger.Info("violation reported", append(fields,
			logging.Field{Key: "strikes", Value: body.StrikeCount},
			logging.Field{Key: "status", Value: body.Status},
			logging.Field{Key: "duplicate", Value: body.Duplicate})...)
		r.settle(critical, body.Status, body.StrikeCount)
		if critical && !body.Frozen && !body.Terminated {
			r.startFreezePoll()
		}

	case resp.ClientError() && resp.StatusCode != 429:
		r.logger.Warn("violation rejected by server", append(fields,
			logging.Field{Key: "status", Value: resp.StatusCode},
			logging.Field{Key: "body", Value: string(resp.Body)})...)
		if critical {
			r.startFreezePoll()
		}

	default:
		r.logger.Warn("server unavailable, queued offline", append(fields, logging.Field{Key: "status", Value: resp.StatusCode})...)
		r.enqueue(v)
		if critical {
			r.startFreezePoll()
		}
	}
}

// settle mirrors an authoritative answer. Only the answer to a CRITICAL
// report, or one arriving with no CRITICAL outstanding, may clear the
// pending freeze.
func (r *Reporter) settle(critical bool, status model.Status, strikes int) {
	if critical {
		if r.pending.Add(-1) <= 0 {
			r.pending.Store(0)
			r.mirror.Reconcile(status, strikes)
			return
		}
	}
	if r.pending.Load() > 0 {
		r.mirror.Apply(status, strikes)
		return
	}
	r.mirror.Reconcile(status, strikes)
}

func (r *Reporter) onReplayed(v model.Violation, resp api.ViolationResponse) {
	r.settle(false, resp.Status, resp.StrikeCount)
}

func (r *Reporter) enqueue(v model.Violation) {
	if r.queue == nil {
		r.logger.Warn("no offline queue, report lost", logging.Field{Key: "type", Value: v.Kind})
		return
	}
	if err := r.queue.Enqueue(context.Background(), v); err != nil {
		r.logger.Error("offline queue rejected report", logging.Field{Key: "type", Value: v.Kind}, logging.Err(err))
	}
}

// startFreezePoll asks the server for the authoritative status until it
// answers or the poll policy is spent. On exhaustion the client fails open:
// the pending freeze is dropped.
func (r *Reporter) startFreezePoll() {
	if r.ctx.Err() != nil {
		return
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		st, err := r.pollStatus(r.ctx)
		if err != nil {
			if r.ctx.Err() != nil {
				return
			}
			r.logger.Warn("freeze check failed, failing open", logging.Err(err))
			r.pending.Store(0)
			r.mirror.ResolvePending()
			return
		}
		r.logger.Info("freeze check answered",
			logging.Field{Key: "status", Value: st.Status},
			logging.Field{Key: "strikes", Value: st.StrikeCount})
		r.pending.Store(0)
		r.mirror.Reconcile(st.Status, st.StrikeCount)
	}()
}

func (r *Reporter) pollStatus(ctx context.Context) (api.StatusResponse, error) {
	var st api.StatusResponse
	err := retry.Do(ctx, r.cfg.Poll, func(ctx context.Context, attempt int) error {
		resp, err := r.transport.Get(ctx, api.StatusPath(r.id.SessionID))
		if err != nil {
			return err
		}
		if resp.ClientError() {
			return retry.Permanent(fmt.Errorf("status poll: %d", resp.StatusCode))
		}
		if !resp.OK() {
			return fmt.Errorf("status poll: %d", resp.StatusCode)
		}
		if err := json.Unmarshal(resp.Body, &st); err != nil {
			return retry.Permanent(fmt.Errorf("status poll: %w", err))
		}
		return nil
	})
	return st, err
}

// PollStatus performs one bounded status poll and mirrors the answer. An
// outstanding CRITICAL report keeps its pending freeze.
func (r *Reporter) PollStatus(ctx context.Context) error {
	st, err := r.pollStatus(ctx)
	if err != nil {
		return err
	}
	r.settle(false, st.Status, st.StrikeCount)
	return nil
}

// Close stops accepting reports, moves undelivered ones to the offline
// queue and waits for in-flight work. It is safe to call more than once.
func (r *Reporter) Close() {
	r.stopOnce.Do(func() {
		r.closed.Store(true)
		close(r.closing)
		r.cancel()
		r.wg.Wait()
	})
}
