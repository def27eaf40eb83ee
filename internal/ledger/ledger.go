// Package ledger is the authoritative strike counter. Every violation report
// goes through Ingest, which deduplicates it, weighs it, evaluates the
// escalation policy and applies the resulting transition in one atomic store
// update.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/raysh454/proctor/internal/interfaces"
	"github.com/raysh454/proctor/internal/logging"
	"github.com/raysh454/proctor/internal/model"
	"github.com/raysh454/proctor/internal/policy"
	"github.com/raysh454/proctor/internal/session"
)

// Config holds ledger tuning. Policy thresholds live in policy.Config.
type Config struct {
	// Weights maps severity to strikes; missing severities weigh 1.
	Weights map[model.Severity]int `mapstructure:"weights"`
	// DedupRetention is how long an idempotency key is remembered.
	DedupRetention time.Duration `mapstructure:"dedup_retention"`
	// KeyBucket is the timestamp granularity of idempotency keys.
	KeyBucket   time.Duration `mapstructure:"key_bucket"`
	Filter      FilterConfig  `mapstructure:"filter"`
	EventBuffer int           `mapstructure:"event_buffer"`
}

func DefaultConfig() Config {
	return Config{
		Weights: map[model.Severity]int{
			model.SeverityMinor:    1,
			model.SeverityMajor:    1,
			model.SeverityCritical: 1,
		},
		DedupRetention: 10 * time.Minute,
		KeyBucket:      model.DefaultKeyBucket,
		Filter:         DefaultFilterConfig(),
		EventBuffer:    256,
	}
}

// Result is what Ingest reports back to the caller.
type Result struct {
	SessionID   string
	ViolationID string
	Total       int
	Remaining   int
	Status      model.Status
	Outcome     Outcome
	Urgency     policy.Urgency
	Reason      string
	Transition  *session.Transition
}

func (r Result) Duplicate() bool  { return r.Outcome == OutcomeDuplicate }
func (r Result) Filtered() bool   { return r.Outcome == OutcomeFiltered }
func (r Result) Frozen() bool     { return r.Status == model.StatusFrozen }
func (r Result) Terminated() bool { return r.Status == model.StatusTerminated }

// Stats summarizes a session for moderators.
type Stats struct {
	SessionID        string             `json:"sessionId"`
	ExamID           string             `json:"examId"`
	StudentID        string             `json:"studentId"`
	TotalViolations  int                `json:"totalViolations"`
	Strikes          int                `json:"strikes"`
	Remaining        int                `json:"remainingStrikes"`
	CameraViolations int                `json:"cameraViolations"`
	TabSwitches      int                `json:"tabSwitchCount"`
	ByKind           map[model.Kind]int `json:"byKind"`
	Status           model.Status       `json:"status"`
	Frozen           bool               `json:"frozen"`
	Terminated       bool               `json:"terminated"`
	Colour           model.Colour       `json:"statusColour"`
	LastUpdated      time.Time          `json:"lastUpdated"`
	Closed           bool               `json:"closed"`
	// Review counts over applied violations. Unreviewed is what is left.
	Confirmed      int `json:"confirmedCount"`
	FalsePositives int `json:"falsePositiveCount"`
	Unreviewed     int `json:"unreviewedCount"`
}

// StartRequest opens a new exam attempt.
type StartRequest struct {
	SessionID string
	ExamID    string
	StudentID string
}

type Ledger struct {
	store   Store
	policy  *policy.Policy
	machine *session.Machine
	filter  Filter
	cfg     Config
	clock   interfaces.Clock
	logger  logging.Logger
	events  *dispatcher
	commits *sessionLocks
}

func New(store Store, pol *policy.Policy, cfg Config, clock interfaces.Clock, logger logging.Logger) *Ledger {
	if clock == nil {
		clock = interfaces.SystemClock{}
	}
	if cfg.KeyBucket <= 0 {
		cfg.KeyBucket = model.DefaultKeyBucket
	}
	if cfg.DedupRetention <= 0 {
		cfg.DedupRetention = DefaultConfig().DedupRetention
	}
	logger = logger.With(logging.Field{Key: "component", Value: "ledger"})
	return &Ledger{
		store:   store,
		policy:  pol,
		machine: session.NewMachine(),
		filter:  NewFilter(cfg.Filter),
		cfg:     cfg,
		clock:   clock,
		logger:  logger,
		events:  newDispatcher(cfg.EventBuffer, logger),
		commits: newSessionLocks(),
	}
}

// Subscribe registers an observer for committed events.
func (l *Ledger) Subscribe(o Observer) { l.events.subscribe(o) }

// Shutdown stops event delivery after draining queued events. It does not
// close the store.
func (l *Ledger) Shutdown() { l.events.close() }

func (l *Ledger) weight(sev model.Severity) int {
	if w, ok := l.cfg.Weights[sev]; ok {
		return w
	}
	return 1
}

// Start creates the ledger entry for a new attempt.
func (l *Ledger) Start(ctx context.Context, req StartRequest) (*Entry, error) {
	if req.SessionID == "" {
		req.SessionID = uuid.New().String()
	}
	e := newEntry(req.SessionID, req.ExamID, req.StudentID, l.clock.Now().UTC())
	if err := l.store.Create(ctx, e); err != nil {
		return nil, err
	}
	l.logger.Info("session started",
		logging.Field{Key: "session", Value: e.SessionID},
		logging.Field{Key: "exam", Value: e.ExamID})
	l.events.publish(l.event(EventSessionStarted, e))
	return e, nil
}

// Ingest applies one violation report. Duplicates, filtered reports and
// reports against locked sessions are not errors: they come back with the
// current total and the matching Outcome.
func (l *Ledger) Ingest(ctx context.Context, v model.Violation) (Result, error) {
	if err := v.Validate(); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidViolation, err)
	}
	v.Normalize()
	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	key := v.IdempotencyKey(l.cfg.KeyBucket)
	now := l.clock.Now().UTC()
	filterReason, rejected := l.filter.Reject(v)

	release := l.commits.lock(v.SessionID)
	defer release()

	var (
		res     Result
		illegal error
	)
	entry, err := l.store.Update(ctx, v.SessionID, func(e *Entry) error {
		// The store may retry this closure; start from scratch each time.
		res = Result{SessionID: v.SessionID, ViolationID: v.ID}
		illegal = nil

		if e.Closed() {
			return ErrSessionClosed
		}
		e.pruneKeys(now.Add(-l.cfg.DedupRetention))

		if _, seen := e.Applied[key]; seen {
			res.Outcome = OutcomeDuplicate
			return nil
		}
		if rejected {
			res.Outcome = OutcomeFiltered
			res.Reason = filterReason
			return nil
		}
		e.Applied[key] = now
		if e.Status.Locked() {
			res.Outcome = OutcomeAbsorbed
			return nil
		}

		e.Total += l.weight(v.Severity)
		e.ByKind[v.Kind]++
		if v.Kind == model.KindTabSwitch {
			e.TabSwitches++
		}
		e.LastUpdated = now

		d := l.policy.Decide(policy.Input{
			Total:       e.Total,
			TabSwitches: e.TabSwitches,
			Latest:      v.Severity,
			Current:     e.Status,
		})
		res.Outcome = OutcomeApplied
		res.Urgency = d.Urgency
		res.Reason = d.Reason

		tr, err := l.machine.Advance(e.Status, d.Status, d.Reason, now)
		if err != nil {
			illegal = err
			return nil
		}
		if tr != nil {
			e.Status = tr.To
			e.Reason = tr.Reason
			res.Transition = tr
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrSessionClosed) {
			l.audit(ctx, AuditRecord{SessionID: v.SessionID, Key: key, Outcome: OutcomeRejected, Violation: &v,
				Note: "session closed", ReceivedAt: now})
		}
		return Result{}, err
	}
	if illegal != nil {
		l.logger.Error("transition rejected, keeping current status",
			logging.Field{Key: "session", Value: v.SessionID}, logging.Err(illegal))
	}

	res.Total = entry.Total
	res.Status = entry.Status
	res.Remaining = l.policy.Remaining(entry.Total)

	l.audit(ctx, AuditRecord{
		SessionID:  v.SessionID,
		Key:        key,
		Outcome:    res.Outcome,
		Violation:  &v,
		Transition: res.Transition,
		Total:      entry.Total,
		Status:     entry.Status,
		Note:       res.Reason,
		ReceivedAt: now,
	})

	fields := []logging.Field{
		{Key: "session", Value: v.SessionID},
		{Key: "kind", Value: v.Kind},
		{Key: "outcome", Value: res.Outcome},
		{Key: "total", Value: res.Total},
		{Key: "status", Value: res.Status},
	}
	switch res.Outcome {
	case OutcomeApplied:
		l.logger.Info("violation applied", fields...)
		ev := l.event(EventViolation, entry)
		ev.Violation = &v
		ev.Urgency = res.Urgency
		l.events.publish(ev)
		if res.Transition != nil {
			l.publishTransition(entry, res.Transition)
		}
	default:
		l.logger.Debug("violation not counted", fields...)
	}
	return res, nil
}

// Terminate is the moderator override into TERMINATED. It always wins over
// automatic policy but cannot leave TERMINATED or touch a closed session.
func (l *Ledger) Terminate(ctx context.Context, sessionID, moderator, reason string) (Result, error) {
	now := l.clock.Now().UTC()
	if reason == "" {
		reason = "terminated by moderator"
	}
	release := l.commits.lock(sessionID)
	defer release()

	var tr *session.Transition
	entry, err := l.store.Update(ctx, sessionID, func(e *Entry) error {
		tr = nil
		if e.Closed() {
			return ErrSessionClosed
		}
		t, err := l.machine.Terminate(e.Status, reason, now)
		if err != nil {
			return err
		}
		e.Status = t.To
		e.Reason = t.Reason
		e.LastUpdated = now
		tr = t
		return nil
	})
	if err != nil {
		if errors.Is(err, session.ErrIllegalTransition) {
			l.logger.Warn("manual termination rejected",
				logging.Field{Key: "session", Value: sessionID}, logging.Err(err))
		}
		return Result{}, err
	}

	l.audit(ctx, AuditRecord{
		SessionID:  sessionID,
		Outcome:    OutcomeManual,
		Transition: tr,
		Total:      entry.Total,
		Status:     entry.Status,
		Note:       "moderator: " + moderator,
		ReceivedAt: now,
	})
	l.logger.Info("session terminated by moderator",
		logging.Field{Key: "session", Value: sessionID},
		logging.Field{Key: "moderator", Value: moderator})
	l.publishTransition(entry, tr)

	return Result{
		SessionID:  sessionID,
		Total:      entry.Total,
		Remaining:  l.policy.Remaining(entry.Total),
		Status:     entry.Status,
		Outcome:    OutcomeManual,
		Urgency:    policy.UrgencyFinal,
		Reason:     reason,
		Transition: tr,
	}, nil
}

// Close archives the attempt (submitted or exam window closed). Closing an
// already closed session is a no-op.
func (l *Ledger) Close(ctx context.Context, sessionID string) (*Entry, error) {
	now := l.clock.Now().UTC()
	closedNow := false
	release := l.commits.lock(sessionID)
	defer release()
	entry, err := l.store.Update(ctx, sessionID, func(e *Entry) error {
		closedNow = false
		if e.Closed() {
			return nil
		}
		e.ClosedAt = &now
		e.LastUpdated = now
		closedNow = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if closedNow {
		l.logger.Info("session closed", logging.Field{Key: "session", Value: sessionID})
		l.events.publish(l.event(EventSessionClosed, entry))
	}
	return entry, nil
}

// Status returns the current entry; it backs the freeze-check poll.
func (l *Ledger) Status(ctx context.Context, sessionID string) (*Entry, error) {
	return l.store.Load(ctx, sessionID)
}

func (l *Ledger) Remaining(total int) int { return l.policy.Remaining(total) }

func (l *Ledger) Stats(ctx context.Context, sessionID string) (Stats, error) {
	e, err := l.store.Load(ctx, sessionID)
	if err != nil {
		return Stats{}, err
	}
	st := Stats{
		SessionID:   e.SessionID,
		ExamID:      e.ExamID,
		StudentID:   e.StudentID,
		Strikes:     e.Total,
		Remaining:   l.policy.Remaining(e.Total),
		TabSwitches: e.TabSwitches,
		ByKind:      e.ByKind,
		Status:      e.Status,
		Frozen:      e.Status == model.StatusFrozen,
		Terminated:  e.Status == model.StatusTerminated,
		Colour:      model.ColourFor(e.Total, e.Status),
		LastUpdated: e.LastUpdated,
		Closed:      e.Closed(),
	}
	for k, n := range e.ByKind {
		st.TotalViolations += n
		if k.IsVision() {
			st.CameraViolations += n
		}
	}
	recs, err := l.store.ListAudit(ctx, sessionID, 0)
	if err != nil {
		return Stats{}, err
	}
	for _, rec := range recs {
		if rec.Outcome != OutcomeApplied {
			continue
		}
		switch {
		case rec.Review == nil:
			st.Unreviewed++
		case rec.Review.Confirmed:
			st.Confirmed++
		default:
			st.FalsePositives++
		}
	}
	return st, nil
}

// ExamSessions lists every attempt of an exam; it backs the dashboard's
// first load before the monitor socket delivers deltas.
func (l *Ledger) ExamSessions(ctx context.Context, examID string) ([]*Entry, error) {
	return l.store.ListByExam(ctx, examID)
}

// Review records a moderator's verdict on any recorded violation.
// Strikes never decrease: rejecting a violation flags it as a false
// positive for the record but leaves the total and status alone.
func (l *Ledger) Review(ctx context.Context, sessionID, recordID, moderator string, confirmed bool, reason string) (AuditRecord, error) {
	recs, err := l.Violations(ctx, sessionID, 0)
	if err != nil {
		return AuditRecord{}, err
	}
	found := false
	for _, rec := range recs {
		if rec.ID != recordID {
			continue
		}
		if rec.Violation == nil {
			return AuditRecord{}, fmt.Errorf("%w: record %s carries no violation", ErrNotReviewable, recordID)
		}
		found = true
		break
	}
	if !found {
		return AuditRecord{}, ErrRecordNotFound
	}

	rec, err := l.store.SetReview(ctx, sessionID, recordID, Review{
		Confirmed: confirmed,
		Moderator: moderator,
		Reason:    reason,
		At:        l.clock.Now().UTC(),
	})
	if err != nil {
		return AuditRecord{}, err
	}
	l.logger.Info("violation reviewed",
		logging.Field{Key: "session", Value: sessionID},
		logging.Field{Key: "record", Value: recordID},
		logging.Field{Key: "moderator", Value: moderator},
		logging.Field{Key: "confirmed", Value: confirmed})
	return rec, nil
}

// Warn sends a moderator message to the student. It is audited and
// published, and never changes strikes or status.
func (l *Ledger) Warn(ctx context.Context, sessionID, moderator, message string) (Warning, error) {
	if message == "" {
		return Warning{}, ErrEmptyWarning
	}
	release := l.commits.lock(sessionID)
	defer release()
	e, err := l.store.Load(ctx, sessionID)
	if err != nil {
		return Warning{}, err
	}
	if e.Closed() {
		return Warning{}, ErrSessionClosed
	}
	w := Warning{Moderator: moderator, Message: message, At: l.clock.Now().UTC()}

	l.audit(ctx, AuditRecord{
		SessionID:  sessionID,
		Outcome:    OutcomeWarning,
		Total:      e.Total,
		Status:     e.Status,
		Note:       "moderator " + moderator + ": " + message,
		ReceivedAt: w.At,
	})
	l.logger.Info("moderator warning sent",
		logging.Field{Key: "session", Value: sessionID},
		logging.Field{Key: "moderator", Value: moderator})

	ev := l.event(EventWarning, e)
	ev.Warning = &w
	l.events.publish(ev)
	return w, nil
}

// Violations returns the audit trail, newest limit records, oldest first.
func (l *Ledger) Violations(ctx context.Context, sessionID string, limit int) ([]AuditRecord, error) {
	if _, err := l.store.Load(ctx, sessionID); err != nil {
		return nil, err
	}
	return l.store.ListAudit(ctx, sessionID, limit)
}

func (l *Ledger) audit(ctx context.Context, rec AuditRecord) {
	rec.ID = uuid.New().String()
	if err := l.store.AppendAudit(ctx, rec); err != nil {
		l.logger.Warn("ledger: audit append failed",
			logging.Field{Key: "session", Value: rec.SessionID}, logging.Err(err))
	}
}

func (l *Ledger) event(t EventType, e *Entry) Event {
	return Event{
		Type:      t,
		SessionID: e.SessionID,
		ExamID:    e.ExamID,
		StudentID: e.StudentID,
		Total:     e.Total,
		Remaining: l.policy.Remaining(e.Total),
		Status:    e.Status,
	}
}

func (l *Ledger) publishTransition(e *Entry, tr *session.Transition) {
	ev := l.event(EventTransition, e)
	ev.Transition = tr
	l.events.publish(ev)
}
