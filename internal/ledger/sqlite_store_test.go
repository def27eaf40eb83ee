package ledger_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raysh454/proctor/internal/ledger"
	"github.com/raysh454/proctor/internal/model"
	"github.com/raysh454/proctor/internal/testutil"
)

var errBoom = errors.New("boom")

func TestSQLiteStore_RoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "ledger.db")
	store, err := ledger.OpenSQLiteStore(path, &testutil.DummyLogger{})
	require.NoError(t, err)

	now := time.Date(2026, 3, 1, 9, 0, 0, 123, time.UTC)
	require.NoError(t, store.Create(ctx, &ledger.Entry{
		SessionID: "s1", ExamID: "e1", StudentID: "u1", Status: model.StatusActive,
		CreatedAt: now, LastUpdated: now,
	}))
	assert.ErrorIs(t, store.Create(ctx, &ledger.Entry{SessionID: "s1", Status: model.StatusActive}), ledger.ErrSessionExists)

	_, err = store.Update(ctx, "s1", func(e *ledger.Entry) error {
		e.Total = 2
		e.ByKind[model.KindTabSwitch] = 2
		e.TabSwitches = 2
		e.Status = model.StatusWarned
		e.Applied["k1"] = now
		e.Applied["k2"] = now.Add(time.Second)
		return nil
	})
	require.NoError(t, err)

	_, err = store.Update(ctx, "s1", func(e *ledger.Entry) error {
		delete(e.Applied, "k1")
		closed := now.Add(time.Hour)
		e.ClosedAt = &closed
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, store.Close())
	store, err = ledger.OpenSQLiteStore(path, &testutil.DummyLogger{})
	require.NoError(t, err)
	defer store.Close()

	e, err := store.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 2, e.Total)
	assert.Equal(t, 2, e.ByKind[model.KindTabSwitch])
	assert.Equal(t, model.StatusWarned, e.Status)
	assert.Equal(t, now, e.CreatedAt)
	assert.True(t, e.Closed())
	assert.Len(t, e.Applied, 1)
	assert.Contains(t, e.Applied, "k2")

	_, err = store.Load(ctx, "missing")
	assert.ErrorIs(t, err, ledger.ErrSessionNotFound)
}

func TestSQLiteStore_AbortedUpdateLeavesRowUntouched(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, err := ledger.OpenSQLiteStore(filepath.Join(t.TempDir(), "ledger.db"), &testutil.DummyLogger{})
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Create(ctx, &ledger.Entry{SessionID: "s1", Status: model.StatusActive}))
	_, err = store.Update(ctx, "s1", func(e *ledger.Entry) error {
		e.Total = 99
		return errBoom
	})
	assert.ErrorIs(t, err, errBoom)

	e, err := store.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 0, e.Total)
}

// ─── SQL failure paths (sqlmock) ───────────────────────────────────────

func newMockStore(t *testing.T) (*ledger.SQLiteStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return ledger.NewSQLiteStoreFromDB(db, &testutil.DummyLogger{}), mock
}

func TestSQLiteStore_LoadQueryError(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT (.+) FROM sessions WHERE id = ?").WithArgs("s1").WillReturnError(errBoom)

	_, err := store.Load(context.Background(), "s1")
	assert.ErrorIs(t, err, errBoom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteStore_CreateRollsBackOnInsertError(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT OR IGNORE INTO sessions").WillReturnError(errBoom)
	mock.ExpectRollback()

	err := store.Create(context.Background(), &ledger.Entry{SessionID: "s1", Status: model.StatusActive})
	assert.ErrorIs(t, err, errBoom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteStore_UpdateRollsBackOnLoadError(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM sessions WHERE id = ?").WillReturnError(errBoom)
	mock.ExpectRollback()

	called := false
	_, err := store.Update(context.Background(), "s1", func(*ledger.Entry) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, errBoom)
	assert.False(t, called)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteStore_AppendAuditError(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO audit_log").WillReturnError(errBoom)

	err := store.AppendAudit(context.Background(), ledger.AuditRecord{ID: "a1", SessionID: "s1", Outcome: ledger.OutcomeApplied})
	assert.ErrorIs(t, err, errBoom)
	assert.NoError(t, mock.ExpectationsWereMet())
}
