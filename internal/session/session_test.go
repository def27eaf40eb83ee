package session

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raysh454/proctor/internal/model"
)

var now = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// ─── Machine ───────────────────────────────────────────────────────────

func TestAdvance_AllowedEdges(t *testing.T) {
	t.Parallel()
	m := NewMachine()
	cases := []struct{ from, to model.Status }{
		{model.StatusActive, model.StatusWarned},
		{model.StatusActive, model.StatusFrozen},
		{model.StatusActive, model.StatusTerminated},
		{model.StatusWarned, model.StatusFrozen},
		{model.StatusWarned, model.StatusTerminated},
	}
	for _, tc := range cases {
		tr, err := m.Advance(tc.from, tc.to, "r", now)
		require.NoError(t, err, "%s->%s", tc.from, tc.to)
		require.NotNil(t, tr)
		assert.Equal(t, tc.from, tr.From)
		assert.Equal(t, tc.to, tr.To)
		assert.False(t, tr.Manual)
	}
}

func TestAdvance_NoChange(t *testing.T) {
	t.Parallel()
	tr, err := NewMachine().Advance(model.StatusWarned, model.StatusWarned, "", now)
	assert.NoError(t, err)
	assert.Nil(t, tr)

	tr, err = NewMachine().Advance(model.StatusWarned, model.StatusActive, "", now)
	assert.NoError(t, err)
	assert.Nil(t, tr, "downgrades are ignored")
}

func TestAdvance_OutOfFrozenIsIllegal(t *testing.T) {
	t.Parallel()
	_, err := NewMachine().Advance(model.StatusFrozen, model.StatusTerminated, "", now)
	assert.True(t, errors.Is(err, ErrIllegalTransition))
}

func TestTerminate(t *testing.T) {
	t.Parallel()
	m := NewMachine()
	for _, from := range []model.Status{model.StatusActive, model.StatusWarned, model.StatusFrozen} {
		tr, err := m.Terminate(from, "caught", now)
		require.NoError(t, err)
		assert.True(t, tr.Manual)
		assert.Equal(t, model.StatusTerminated, tr.To)
		assert.Equal(t, "caught", tr.Reason)
	}
	_, err := m.Terminate(model.StatusTerminated, "again", now)
	assert.ErrorIs(t, err, ErrIllegalTransition)
}

// ─── Mirror ────────────────────────────────────────────────────────────

func TestMirror_PendingFreezeReconciledByServer(t *testing.T) {
	t.Parallel()
	m := NewMirror()
	m.BeginPendingFreeze()
	assert.True(t, m.Locked())

	m.Reconcile(model.StatusActive, 1)
	v := m.Snapshot()
	assert.False(t, v.PendingFreeze)
	assert.False(t, v.Locked())
	assert.Equal(t, 1, v.Strikes)
}

func TestMirror_ServerFreezeClosesDone(t *testing.T) {
	t.Parallel()
	m := NewMirror()
	var seen []View
	m.OnChange(func(v View) { seen = append(seen, v) })

	m.BeginPendingFreeze()
	m.Reconcile(model.StatusFrozen, 2)

	select {
	case <-m.Done():
	default:
		t.Fatal("Done should be closed after FROZEN")
	}
	require.Len(t, seen, 2)
	assert.True(t, seen[0].PendingFreeze)
	assert.Equal(t, model.StatusFrozen, seen[1].Status)
}

func TestMirror_NeverDowngrades(t *testing.T) {
	t.Parallel()
	m := NewMirror()
	m.Reconcile(model.StatusWarned, 3)
	m.Reconcile(model.StatusActive, 1)
	v := m.Snapshot()
	assert.Equal(t, model.StatusWarned, v.Status)
	assert.Equal(t, 3, v.Strikes)
}

func TestMirror_ResolvePendingFailsOpen(t *testing.T) {
	t.Parallel()
	m := NewMirror()
	m.BeginPendingFreeze()
	m.ResolvePending()
	assert.False(t, m.Locked())
	select {
	case <-m.Done():
		t.Fatal("Done must stay open")
	default:
	}
}

func TestMirror_Offline(t *testing.T) {
	t.Parallel()
	m := NewMirror()
	m.SetOffline(true)
	assert.True(t, m.Snapshot().Offline)
	m.Reconcile(model.StatusActive, 0)
	assert.False(t, m.Snapshot().Offline)
}

func TestMirror_ApplyKeepsPendingFreeze(t *testing.T) {
	t.Parallel()
	m := NewMirror()
	m.BeginPendingFreeze()
	m.Apply(model.StatusWarned, 2)
	v := m.Snapshot()
	assert.True(t, v.PendingFreeze)
	assert.Equal(t, model.StatusWarned, v.Status)
	assert.Equal(t, 2, v.Strikes)
}
