// Package syncq holds violation reports that could not be delivered and
// replays them, oldest first, once the server is reachable again. Records
// carry the violation's idempotency key, so a replay of something the server
// already counted is absorbed as a duplicate.
package syncq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/raysh454/proctor/internal/api"
	"github.com/raysh454/proctor/internal/interfaces"
	"github.com/raysh454/proctor/internal/logging"
	"github.com/raysh454/proctor/internal/model"
)

// ErrUndelivered is returned by Flush when a transient failure stopped the
// replay; the remaining records stay queued in order.
var ErrUndelivered = errors.New("syncq: delivery failed, records kept")

type Config struct {
	// Interval between flush attempts in Run. While offline each tick
	// doubles as a connectivity probe.
	Interval  time.Duration `mapstructure:"flush_interval"`
	BatchSize int           `mapstructure:"batch_size"`
	KeyBucket time.Duration `mapstructure:"key_bucket"`
}

func DefaultConfig() Config {
	return Config{
		Interval:  30 * time.Second,
		BatchSize: 50,
		KeyBucket: model.DefaultKeyBucket,
	}
}

// FlushResult summarizes one Flush.
type FlushResult struct {
	Delivered int
	Dropped   int
	Remaining int
}

// DeliveredFunc receives the server's answer for a replayed violation.
type DeliveredFunc func(v model.Violation, resp api.ViolationResponse)

type Queue struct {
	store     Store
	transport interfaces.Transport
	cfg       Config
	clock     interfaces.Clock
	logger    logging.Logger

	flushMu     sync.Mutex
	online      atomic.Bool
	wake        chan struct{}
	mu          sync.Mutex
	onDelivered DeliveredFunc
	onOnline    func(bool)
}

func New(store Store, transport interfaces.Transport, cfg Config, clock interfaces.Clock, logger logging.Logger) *Queue {
	if clock == nil {
		clock = interfaces.SystemClock{}
	}
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.KeyBucket <= 0 {
		cfg.KeyBucket = def.KeyBucket
	}
	q := &Queue{
		store:     store,
		transport: transport,
		cfg:       cfg,
		clock:     clock,
		logger:    logger.With(logging.Field{Key: "component", Value: "syncq"}),
		wake:      make(chan struct{}, 1),
	}
	q.online.Store(true)
	return q
}

// OnDelivered registers fn for every successfully replayed record.
func (q *Queue) OnDelivered(fn DeliveredFunc) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onDelivered = fn
}

// OnConnectivity registers fn for online/offline flips.
func (q *Queue) OnConnectivity(fn func(online bool)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onOnline = fn
}

// Enqueue stores v for later delivery. Enqueueing the same occurrence twice
// keeps one record.
func (q *Queue) Enqueue(ctx context.Context, v model.Violation) error {
	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	rec := Record{
		ID:         uuid.New().String(),
		Key:        v.IdempotencyKey(q.cfg.KeyBucket),
		Violation:  v,
		EnqueuedAt: q.clock.Now().UTC(),
	}
	added, err := q.store.Put(ctx, rec)
	if err != nil {
		return fmt.Errorf("enqueue violation: %w", err)
	}
	if added {
		q.logger.Info("violation queued for later delivery",
			logging.Field{Key: "session", Value: v.SessionID},
			logging.Field{Key: "type", Value: v.Kind},
			logging.Field{Key: "key", Value: rec.Key})
	} else {
		q.logger.Debug("violation already queued", logging.Field{Key: "key", Value: rec.Key})
	}
	return nil
}

func (q *Queue) Len(ctx context.Context) (int, error) { return q.store.Len(ctx) }

func (q *Queue) Online() bool { return q.online.Load() }

// SetOnline records connectivity. An offline to online flip wakes Run for
// an immediate flush.
func (q *Queue) SetOnline(online bool) {
	if q.online.Swap(online) == online {
		return
	}
	q.logger.Info("connectivity changed", logging.Field{Key: "online", Value: online})
	q.mu.Lock()
	fn := q.onOnline
	q.mu.Unlock()
	if fn != nil {
		fn(online)
	}
	if online {
		select {
		case q.wake <- struct{}{}:
		default:
		}
	}
}

// Flush replays queued records in timestamp order. 4xx answers (other than
// 429) are permanent and drop the record; network errors, 5xx and 429 stop
// the flush so order is preserved and return ErrUndelivered. Concurrent
// calls are serialized.
func (q *Queue) Flush(ctx context.Context) (FlushResult, error) {
	q.flushMu.Lock()
	defer q.flushMu.Unlock()

	var res FlushResult
	for {
		batch, err := q.store.Pending(ctx, q.cfg.BatchSize)
		if err != nil {
			return res, err
		}
		if len(batch) == 0 {
			return res, nil
		}
		for _, rec := range batch {
			if err := ctx.Err(); err != nil {
				return q.remaining(ctx, res), err
			}
			if err := q.deliver(ctx, rec, &res); err != nil {
				return q.remaining(ctx, res), err
			}
		}
	}
}

func (q *Queue) remaining(ctx context.Context, res FlushResult) FlushResult {
	if n, err := q.store.Len(ctx); err == nil {
		res.Remaining = n
	}
	return res
}

func (q *Queue) deliver(ctx context.Context, rec Record, res *FlushResult) error {
	fields := []logging.Field{
		{Key: "session", Value: rec.Violation.SessionID},
		{Key: "type", Value: rec.Violation.Kind},
		{Key: "key", Value: rec.Key},
	}

	resp, err := q.transport.Post(ctx, api.PathViolations, api.NewViolationRequest(rec.Violation))
	if err != nil {
		q.markFailed(ctx, rec, err.Error())
		q.SetOnline(false)
		q.logger.Debug("replay failed, server unreachable", append(fields, logging.Err(err))...)
		return fmt.Errorf("%w: %v", ErrUndelivered, err)
	}
	q.SetOnline(true)

	switch {
	case resp.OK():
		if err := q.store.Delete(ctx, rec.ID); err != nil && !errors.Is(err, ErrRecordNotFound) {
			return err
		}
		res.Delivered++
		var body api.ViolationResponse
		if err := json.Unmarshal(resp.Body, &body); err != nil {
			q.logger.Warn("replayed violation: undecodable response", append(fields, logging.Err(err))...)
			return nil
		}
		q.logger.Info("replayed violation delivered", append(fields,
			logging.Field{Key: "strikes", Value: body.StrikeCount},
			logging.Field{Key: "duplicate", Value: body.Duplicate})...)
		q.mu.Lock()
		fn := q.onDelivered
		q.mu.Unlock()
		if fn != nil {
			fn(rec.Violation, body)
		}
		return nil

	case resp.ClientError() && resp.StatusCode != http.StatusTooManyRequests:
		if err := q.store.Delete(ctx, rec.ID); err != nil && !errors.Is(err, ErrRecordNotFound) {
			return err
		}
		res.Dropped++
		q.logger.Warn("replayed violation rejected, dropping", append(fields,
			logging.Field{Key: "status", Value: resp.StatusCode},
			logging.Field{Key: "body", Value: string(resp.Body)})...)
		return nil

	default:
		reason := fmt.Sprintf("status %d", resp.StatusCode)
		q.markFailed(ctx, rec, reason)
		q.logger.Warn("replay deferred", append(fields, logging.Field{Key: "status", Value: resp.StatusCode})...)
		return fmt.Errorf("%w: %s", ErrUndelivered, reason)
	}
}

func (q *Queue) markFailed(ctx context.Context, rec Record, reason string) {
	if err := q.store.MarkFailed(ctx, rec.ID, reason); err != nil {
		q.logger.Warn("syncq: mark failed", logging.Field{Key: "id", Value: rec.ID}, logging.Err(err))
	}
}

// Run flushes on every Interval tick and whenever connectivity comes back,
// until ctx is done.
func (q *Queue) Run(ctx context.Context) error {
	ticker := time.NewTicker(q.cfg.Interval)
	defer ticker.Stop()

	q.tryFlush(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-q.wake:
			q.tryFlush(ctx)
		case <-ticker.C:
			q.tryFlush(ctx)
		}
	}
}

func (q *Queue) tryFlush(ctx context.Context) {
	n, err := q.store.Len(ctx)
	if err != nil {
		q.logger.Warn("syncq: reading queue length", logging.Err(err))
		return
	}
	if n == 0 {
		return
	}
	res, err := q.Flush(ctx)
	switch {
	case err == nil:
		q.logger.Info("offline queue flushed",
			logging.Field{Key: "delivered", Value: res.Delivered},
			logging.Field{Key: "dropped", Value: res.Dropped})
	case errors.Is(err, ErrUndelivered), errors.Is(err, context.Canceled):
		q.logger.Debug("offline queue flush deferred", logging.Field{Key: "remaining", Value: res.Remaining})
	default:
		q.logger.Warn("offline queue flush failed", logging.Err(err))
	}
}
