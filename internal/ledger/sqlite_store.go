package ledger

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/raysh454/proctor/internal/logging"
	"github.com/raysh454/proctor/internal/model"
)

//go:embed schema.sql
var schemaSQL string

var _ Store = (*SQLiteStore)(nil)

// SQLiteStore persists the ledger in a single SQLite file. The pool is
// limited to one connection, which serializes writers in process and keeps
// Update atomic without relying on SQLITE_BUSY retries.
type SQLiteStore struct {
	db     *sql.DB
	logger logging.Logger
}

// OpenSQLiteStore opens (creating if needed) the database at path.
func OpenSQLiteStore(path string, logger logging.Logger) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create ledger directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open ledger database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply ledger schema: %w", err)
	}
	logger.Info("ledger sqlite store opened", logging.Field{Key: "path", Value: path})
	return NewSQLiteStoreFromDB(db, logger), nil
}

// NewSQLiteStoreFromDB wraps an already prepared database.
func NewSQLiteStoreFromDB(db *sql.DB, logger logging.Logger) *SQLiteStore {
	return &SQLiteStore{db: db, logger: logger}
}

func applySchema(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to set pragma %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	return nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *SQLiteStore) rollback(tx *sql.Tx) {
	if rerr := tx.Rollback(); rerr != nil && !errors.Is(rerr, sql.ErrTxDone) {
		s.logger.Warn("ledger: tx rollback failed", logging.Err(rerr))
	}
}

func (s *SQLiteStore) Create(ctx context.Context, e *Entry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer s.rollback(tx)

	res, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO sessions
		(id, exam_id, student_id, total, tab_switches, status, reason, created_at, last_updated, closed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)`,
		e.SessionID, e.ExamID, e.StudentID, e.Total, e.TabSwitches, string(e.Status), e.Reason,
		e.CreatedAt.UnixNano(), e.LastUpdated.UnixNano())
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	if n == 0 {
		return ErrSessionExists
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context, id string) (*Entry, error) {
	return loadEntry(ctx, s.db, id)
}

func loadEntry(ctx context.Context, q queryer, id string) (*Entry, error) {
	var (
		e           Entry
		status      string
		created     int64
		updated     int64
		closedAtRaw sql.NullInt64
	)
	err := q.QueryRowContext(ctx, `SELECT id, exam_id, student_id, total, tab_switches, status, reason,
		created_at, last_updated, closed_at FROM sessions WHERE id = ?`, id).
		Scan(&e.SessionID, &e.ExamID, &e.StudentID, &e.Total, &e.TabSwitches, &status, &e.Reason,
			&created, &updated, &closedAtRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}
	e.Status = model.Status(status)
	e.CreatedAt = time.Unix(0, created).UTC()
	e.LastUpdated = time.Unix(0, updated).UTC()
	if closedAtRaw.Valid {
		t := time.Unix(0, closedAtRaw.Int64).UTC()
		e.ClosedAt = &t
	}

	e.ByKind = make(map[model.Kind]int)
	rows, err := q.QueryContext(ctx, `SELECT kind, count FROM strike_kinds WHERE session_id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("load strike kinds: %w", err)
	}
	for rows.Next() {
		var k string
		var n int
		if err := rows.Scan(&k, &n); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan strike kind: %w", err)
		}
		e.ByKind[model.Kind(k)] = n
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	e.Applied = make(map[string]time.Time)
	rows, err = q.QueryContext(ctx, `SELECT key, applied_at FROM applied_keys WHERE session_id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("load applied keys: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var k string
		var at int64
		if err := rows.Scan(&k, &at); err != nil {
			return nil, fmt.Errorf("scan applied key: %w", err)
		}
		e.Applied[k] = time.Unix(0, at).UTC()
	}
	return &e, rows.Err()
}

func (s *SQLiteStore) Update(ctx context.Context, id string, fn func(e *Entry) error) (*Entry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer s.rollback(tx)

	before, err := loadEntry(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	after := before.Clone()
	if err := fn(after); err != nil {
		return nil, err
	}

	var closedAt any
	if after.ClosedAt != nil {
		closedAt = after.ClosedAt.UnixNano()
	}
	if _, err := tx.ExecContext(ctx, `UPDATE sessions SET total = ?, tab_switches = ?, status = ?, reason = ?,
		last_updated = ?, closed_at = ? WHERE id = ?`,
		after.Total, after.TabSwitches, string(after.Status), after.Reason,
		after.LastUpdated.UnixNano(), closedAt, id); err != nil {
		return nil, fmt.Errorf("update session: %w", err)
	}

	for k, n := range after.ByKind {
		if before.ByKind[k] == n {
			continue
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO strike_kinds (session_id, kind, count) VALUES (?, ?, ?)
			ON CONFLICT(session_id, kind) DO UPDATE SET count = excluded.count`, id, string(k), n); err != nil {
			return nil, fmt.Errorf("upsert strike kind: %w", err)
		}
	}

	for k := range before.Applied {
		if _, ok := after.Applied[k]; !ok {
			if _, err := tx.ExecContext(ctx, `DELETE FROM applied_keys WHERE session_id = ? AND key = ?`, id, k); err != nil {
				return nil, fmt.Errorf("prune applied key: %w", err)
			}
		}
	}
	for k, at := range after.Applied {
		if _, ok := before.Applied[k]; ok {
			continue
		}
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO applied_keys (session_id, key, applied_at) VALUES (?, ?, ?)`,
			id, k, at.UnixNano()); err != nil {
			return nil, fmt.Errorf("insert applied key: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return after, nil
}

func (s *SQLiteStore) AppendAudit(ctx context.Context, rec AuditRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal audit record: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO audit_log (id, session_id, key, outcome, total, status, payload, received_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.SessionID, rec.Key, string(rec.Outcome), rec.Total, string(rec.Status), string(payload),
		rec.ReceivedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListAudit(ctx context.Context, id string, limit int) ([]AuditRecord, error) {
	query := `SELECT payload FROM (SELECT payload, received_at, rowid FROM audit_log WHERE session_id = ?
		ORDER BY received_at DESC, rowid DESC LIMIT ?) ORDER BY received_at ASC, rowid ASC`
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, query, id, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	defer rows.Close()

	var out []AuditRecord
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		var rec AuditRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("decode audit: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SetReview(ctx context.Context, id, recordID string, rv Review) (AuditRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return AuditRecord{}, fmt.Errorf("begin tx: %w", err)
	}
	defer s.rollback(tx)

	var raw string
	err = tx.QueryRowContext(ctx, `SELECT payload FROM audit_log WHERE id = ? AND session_id = ?`, recordID, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return AuditRecord{}, ErrRecordNotFound
	}
	if err != nil {
		return AuditRecord{}, fmt.Errorf("load audit record: %w", err)
	}
	var rec AuditRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return AuditRecord{}, fmt.Errorf("decode audit: %w", err)
	}
	rec.Review = &rv
	payload, err := json.Marshal(rec)
	if err != nil {
		return AuditRecord{}, fmt.Errorf("marshal audit record: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE audit_log SET payload = ? WHERE id = ?`, string(payload), recordID); err != nil {
		return AuditRecord{}, fmt.Errorf("update audit record: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return AuditRecord{}, fmt.Errorf("commit: %w", err)
	}
	return rec, nil
}

func (s *SQLiteStore) ListByExam(ctx context.Context, examID string) ([]*Entry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM sessions WHERE exam_id = ? ORDER BY created_at, id`, examID)
	if err != nil {
		return nil, fmt.Errorf("list exam sessions: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan session id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	// The pool has one connection; release it before loading.
	rows.Close()

	out := make([]*Entry, 0, len(ids))
	for _, id := range ids {
		e, err := loadEntry(ctx, s.db, id)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
