package syncq

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/raysh454/proctor/internal/model"
)

var ErrRecordNotFound = errors.New("syncq: record not found")

// Record is one undelivered violation.
type Record struct {
	ID         string
	Key        string
	Violation  model.Violation
	EnqueuedAt time.Time
	Attempts   int
	LastError  string
}

// Store persists queued records.
type Store interface {
	// Put adds rec unless a record with the same Key is queued; the bool
	// reports whether it was added.
	Put(ctx context.Context, rec Record) (bool, error)

	// Pending returns up to limit records ordered by violation timestamp,
	// then by enqueue order. limit <= 0 returns everything.
	Pending(ctx context.Context, limit int) ([]Record, error)

	Delete(ctx context.Context, id string) error

	// MarkFailed bumps the attempt counter and records the failure.
	MarkFailed(ctx context.Context, id, reason string) error

	Len(ctx context.Context) (int, error)

	Close() error
}

var _ Store = (*MemoryStore)(nil)

// MemoryStore is a process-local Store for tests and for clients without
// a writable disk.
type MemoryStore struct {
	mu      sync.Mutex
	seq     int64
	records map[string]*memRecord
	keys    map[string]string
}

type memRecord struct {
	rec Record
	seq int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*memRecord), keys: make(map[string]string)}
}

func (s *MemoryStore) Put(_ context.Context, rec Record) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[rec.Key]; ok {
		return false, nil
	}
	s.seq++
	s.records[rec.ID] = &memRecord{rec: rec, seq: s.seq}
	s.keys[rec.Key] = rec.ID
	return true, nil
}

func (s *MemoryStore) Pending(_ context.Context, limit int) ([]Record, error) {
	s.mu.Lock()
	all := make([]*memRecord, 0, len(s.records))
	for _, r := range s.records {
		all = append(all, r)
	}
	s.mu.Unlock()

	sort.Slice(all, func(i, j int) bool {
		ti, tj := all[i].rec.Violation.Timestamp, all[j].rec.Violation.Timestamp
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return all[i].seq < all[j].seq
	})
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	out := make([]Record, len(all))
	for i, r := range all {
		out[i] = r.rec
	}
	return out, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return ErrRecordNotFound
	}
	delete(s.records, id)
	delete(s.keys, r.rec.Key)
	return nil
}

func (s *MemoryStore) MarkFailed(_ context.Context, id, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return ErrRecordNotFound
	}
	r.rec.Attempts++
	r.rec.LastError = reason
	return nil
}

func (s *MemoryStore) Len(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records), nil
}

func (s *MemoryStore) Close() error { return nil }
