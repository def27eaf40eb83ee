package ledger

import (
	"context"
	"errors"
	"sort"
	"sync"
)

var (
	ErrSessionNotFound  = errors.New("ledger: session not found")
	ErrSessionExists    = errors.New("ledger: session already exists")
	ErrSessionClosed    = errors.New("ledger: session is closed")
	ErrInvalidViolation = errors.New("ledger: invalid violation")
	ErrRecordNotFound   = errors.New("ledger: audit record not found")
	ErrNotReviewable    = errors.New("ledger: audit record is not reviewable")
	ErrEmptyWarning     = errors.New("ledger: warning message is empty")
	// ErrContention is returned when an optimistic update kept losing races.
	ErrContention = errors.New("ledger: too much contention on session")
)

// Store persists ledger entries and the audit trail.
type Store interface {
	Create(ctx context.Context, e *Entry) error

	Load(ctx context.Context, sessionID string) (*Entry, error)

	// Update atomically applies fn to the stored entry and returns the
	// written copy. fn may be invoked more than once when the store retries
	// an optimistic transaction, so it must not have outside side effects
	// beyond its last invocation. A non-nil error from fn aborts the update.
	Update(ctx context.Context, sessionID string, fn func(e *Entry) error) (*Entry, error)

	AppendAudit(ctx context.Context, rec AuditRecord) error

	// ListAudit returns the newest limit records in chronological order;
	// limit <= 0 returns everything.
	ListAudit(ctx context.Context, sessionID string, limit int) ([]AuditRecord, error)

	// SetReview attaches rv to one audit record and returns the updated
	// record. It is the only mutation allowed on the audit trail.
	SetReview(ctx context.Context, sessionID, recordID string, rv Review) (AuditRecord, error)

	// ListByExam returns every entry of an exam, closed ones included.
	ListByExam(ctx context.Context, examID string) ([]*Entry, error)

	Close() error
}

var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps everything in process. Each session has its own lock so
// unrelated sessions never contend.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memSlot
	audit   map[string][]AuditRecord
}

type memSlot struct {
	mu    sync.Mutex
	entry *Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*memSlot), audit: make(map[string][]AuditRecord)}
}

func (s *MemoryStore) slot(id string) (*memSlot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl, ok := s.entries[id]
	return sl, ok
}

func (s *MemoryStore) Create(_ context.Context, e *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[e.SessionID]; ok {
		return ErrSessionExists
	}
	s.entries[e.SessionID] = &memSlot{entry: e.Clone()}
	return nil
}

func (s *MemoryStore) Load(_ context.Context, id string) (*Entry, error) {
	sl, ok := s.slot(id)
	if !ok {
		return nil, ErrSessionNotFound
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()
	return sl.entry.Clone(), nil
}

func (s *MemoryStore) Update(ctx context.Context, id string, fn func(e *Entry) error) (*Entry, error) {
	sl, ok := s.slot(id)
	if !ok {
		return nil, ErrSessionNotFound
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	work := sl.entry.Clone()
	if err := fn(work); err != nil {
		return nil, err
	}
	sl.entry = work
	return work.Clone(), nil
}

func (s *MemoryStore) AppendAudit(_ context.Context, rec AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit[rec.SessionID] = append(s.audit[rec.SessionID], rec)
	return nil
}

func (s *MemoryStore) ListAudit(_ context.Context, id string, limit int) ([]AuditRecord, error) {
	s.mu.Lock()
	recs := append([]AuditRecord(nil), s.audit[id]...)
	s.mu.Unlock()

	sort.SliceStable(recs, func(i, j int) bool { return recs[i].ReceivedAt.Before(recs[j].ReceivedAt) })
	if limit > 0 && len(recs) > limit {
		recs = recs[len(recs)-limit:]
	}
	return recs, nil
}

func (s *MemoryStore) SetReview(_ context.Context, id, recordID string, rv Review) (AuditRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	recs := s.audit[id]
	for i := range recs {
		if recs[i].ID == recordID {
			r := rv
			recs[i].Review = &r
			return recs[i], nil
		}
	}
	return AuditRecord{}, ErrRecordNotFound
}

func (s *MemoryStore) ListByExam(_ context.Context, examID string) ([]*Entry, error) {
	s.mu.Lock()
	slots := make([]*memSlot, 0, len(s.entries))
	for _, sl := range s.entries {
		slots = append(slots, sl)
	}
	s.mu.Unlock()

	var out []*Entry
	for _, sl := range slots {
		sl.mu.Lock()
		if sl.entry.ExamID == examID {
			out = append(out, sl.entry.Clone())
		}
		sl.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
