package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/raysh454/proctor/internal/logging"
	"github.com/raysh454/proctor/internal/model"
)

var _ Store = (*RedisStore)(nil)

// RedisConfig configures the Redis-backed store.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Prefix   string        `mapstructure:"prefix"`
	TTL      time.Duration `mapstructure:"ttl"`
	// MaxRetries bounds the optimistic transaction loop in Update.
	MaxRetries int `mapstructure:"max_retries"`
}

func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:       "localhost:6379",
		Prefix:     "proctor",
		TTL:        48 * time.Hour,
		MaxRetries: 50,
	}
}

// RedisStore shares ledger state between several server replicas. Updates
// use WATCH/MULTI so concurrent ingests on different replicas never lose a
// write.
type RedisStore struct {
	client *redis.Client
	cfg    RedisConfig
	logger logging.Logger
}

func NewRedisStore(cfg RedisConfig, logger logging.Logger) *RedisStore {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewRedisStoreFromClient(rdb, cfg, logger)
}

func NewRedisStoreFromClient(client *redis.Client, cfg RedisConfig, logger logging.Logger) *RedisStore {
	if cfg.Prefix == "" {
		cfg.Prefix = "proctor"
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultRedisConfig().MaxRetries
	}
	return &RedisStore{client: client, cfg: cfg, logger: logger}
}

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) sessionKey(id string) string {
	return fmt.Sprintf("%s:session:%s", s.cfg.Prefix, id)
}

func (s *RedisStore) auditKey(id string) string {
	return fmt.Sprintf("%s:audit:%s", s.cfg.Prefix, id)
}

func (s *RedisStore) examKey(examID string) string {
	return fmt.Sprintf("%s:exam:%s", s.cfg.Prefix, examID)
}

func (s *RedisStore) Create(ctx context.Context, e *Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}
	ok, err := s.client.SetNX(ctx, s.sessionKey(e.SessionID), data, s.cfg.TTL).Result()
	if err != nil {
		return fmt.Errorf("redis create: %w", err)
	}
	if !ok {
		return ErrSessionExists
	}
	key := s.examKey(e.ExamID)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, key, e.SessionID)
		pipe.Expire(ctx, key, s.cfg.TTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis index exam: %w", err)
	}
	return nil
}

func (s *RedisStore) Load(ctx context.Context, id string) (*Entry, error) {
	raw, err := s.client.Get(ctx, s.sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis load: %w", err)
	}
	return decodeEntry(raw)
}

func decodeEntry(raw []byte) (*Entry, error) {
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("decode entry: %w", err)
	}
	if e.ByKind == nil {
		e.ByKind = map[model.Kind]int{}
	}
	if e.Applied == nil {
		e.Applied = map[string]time.Time{}
	}
	return &e, nil
}

func (s *RedisStore) Update(ctx context.Context, id string, fn func(e *Entry) error) (*Entry, error) {
	key := s.sessionKey(id)
	var written *Entry

	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrSessionNotFound
		}
		if err != nil {
			return fmt.Errorf("redis load: %w", err)
		}
		e, err := decodeEntry(raw)
		if err != nil {
			return err
		}
		if err := fn(e); err != nil {
			return err
		}
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshal entry: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, s.cfg.TTL)
			return nil
		})
		if err == nil {
			written = e
		}
		return err
	}

	for attempt := 0; attempt < s.cfg.MaxRetries; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return written, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			s.logger.Debug("ledger: optimistic update lost race, retrying",
				logging.Field{Key: "session", Value: id}, logging.Field{Key: "attempt", Value: attempt + 1})
			continue
		}
		return nil, err
	}
	return nil, ErrContention
}

func (s *RedisStore) AppendAudit(ctx context.Context, rec AuditRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal audit record: %w", err)
	}
	key := s.auditKey(rec.SessionID)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, data)
		pipe.Expire(ctx, key, s.cfg.TTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis append audit: %w", err)
	}
	return nil
}

func (s *RedisStore) ListAudit(ctx context.Context, id string, limit int) ([]AuditRecord, error) {
	start := int64(0)
	if limit > 0 {
		start = -int64(limit)
	}
	raws, err := s.client.LRange(ctx, s.auditKey(id), start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list audit: %w", err)
	}
	out := make([]AuditRecord, 0, len(raws))
	for _, raw := range raws {
		var rec AuditRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("decode audit: %w", err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// SetReview rewrites one element of the audit list under WATCH so a
// concurrent append cannot shift the index between read and write.
func (s *RedisStore) SetReview(ctx context.Context, id, recordID string, rv Review) (AuditRecord, error) {
	key := s.auditKey(id)
	var updated AuditRecord

	txf := func(tx *redis.Tx) error {
		raws, err := tx.LRange(ctx, key, 0, -1).Result()
		if err != nil {
			return fmt.Errorf("redis list audit: %w", err)
		}
		for i, raw := range raws {
			var rec AuditRecord
			if err := json.Unmarshal([]byte(raw), &rec); err != nil {
				return fmt.Errorf("decode audit: %w", err)
			}
			if rec.ID != recordID {
				continue
			}
			rec.Review = &rv
			data, err := json.Marshal(rec)
			if err != nil {
				return fmt.Errorf("marshal audit record: %w", err)
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.LSet(ctx, key, int64(i), data)
				return nil
			})
			if err == nil {
				updated = rec
			}
			return err
		}
		return ErrRecordNotFound
	}

	for attempt := 0; attempt < s.cfg.MaxRetries; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return updated, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return AuditRecord{}, err
	}
	return AuditRecord{}, ErrContention
}

// ListByExam skips index members whose session key already expired.
func (s *RedisStore) ListByExam(ctx context.Context, examID string) ([]*Entry, error) {
	ids, err := s.client.SMembers(ctx, s.examKey(examID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list exam: %w", err)
	}
	out := make([]*Entry, 0, len(ids))
	for _, id := range ids {
		e, err := s.Load(ctx, id)
		if errors.Is(err, ErrSessionNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
