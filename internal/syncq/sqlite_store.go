package syncq

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
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

// SQLiteStore keeps the queue in a local SQLite file so reports survive a
// browser or process restart.
type SQLiteStore struct {
	db     *sql.DB
	logger logging.Logger
}

func OpenSQLiteStore(path string, logger logging.Logger) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create queue directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open queue database: %w", err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=FULL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to execute schema: %w", err)
	}
	return &SQLiteStore{db: db, logger: logger}, nil
}

func (s *SQLiteStore) Put(ctx context.Context, rec Record) (bool, error) {
	payload, err := json.Marshal(rec.Violation)
	if err != nil {
		return false, fmt.Errorf("encode violation: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO pending_violations
		(id, idem_key, occurred_at, enqueued_at, attempts, last_error, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Key, rec.Violation.Timestamp.UnixNano(), rec.EnqueuedAt.UnixNano(),
		rec.Attempts, rec.LastError, string(payload))
	if err != nil {
		return false, fmt.Errorf("insert pending violation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert pending violation: %w", err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) Pending(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, idem_key, enqueued_at, attempts, last_error, payload
		FROM pending_violations ORDER BY occurred_at, seq LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query pending violations: %w", err)
	}
	defer rows.Close()

	var (
		out     []Record
		corrupt []string
	)
	for rows.Next() {
		var (
			rec      Record
			enqueued int64
			payload  string
		)
		if err := rows.Scan(&rec.ID, &rec.Key, &enqueued, &rec.Attempts, &rec.LastError, &payload); err != nil {
			return nil, fmt.Errorf("scan pending violation: %w", err)
		}
		var v model.Violation
		if err := json.Unmarshal([]byte(payload), &v); err != nil {
			s.logger.Warn("syncq: dropping undecodable record",
				logging.Field{Key: "id", Value: rec.ID}, logging.Err(err))
			corrupt = append(corrupt, rec.ID)
			continue
		}
		rec.Violation = v
		rec.EnqueuedAt = time.Unix(0, enqueued).UTC()
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending violations: %w", err)
	}
	rows.Close()

	// A corrupt row would block the queue forever. The single connection is
	// free only once rows is closed.
	for _, id := range corrupt {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM pending_violations WHERE id = ?`, id); err != nil {
			s.logger.Warn("syncq: delete undecodable record", logging.Err(err))
		}
	}
	return out, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM pending_violations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete pending violation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (s *SQLiteStore) MarkFailed(ctx context.Context, id, reason string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE pending_violations SET attempts = attempts + 1, last_error = ? WHERE id = ?`, reason, id)
	if err != nil {
		return fmt.Errorf("mark pending violation failed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (s *SQLiteStore) Len(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pending_violations`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count pending violations: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }
