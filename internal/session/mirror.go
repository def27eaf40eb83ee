package session

import (
	"sync"

	"github.com/raysh454/proctor/internal/model"
)

// View is a point-in-time copy of a Mirror.
type View struct {
	Status model.Status
	// PendingFreeze is the local optimistic lock raised before the server has
	// acknowledged a CRITICAL report. It never feeds back into strike totals.
	PendingFreeze bool
	Strikes       int
	Offline       bool
}

// Locked reports whether the student UI must be blocked.
func (v View) Locked() bool { return v.PendingFreeze || v.Status.Locked() }

// Mirror is the client-side copy of the authoritative session status.
// The server is always authoritative: Reconcile only ever raises the status.
type Mirror struct {
	mu       sync.Mutex
	view     View
	done     chan struct{}
	onChange []func(View)
}

func NewMirror() *Mirror {
	return &Mirror{view: View{Status: model.StatusActive}, done: make(chan struct{})}
}

// OnChange registers fn to run after every state change, outside the lock.
func (m *Mirror) OnChange(fn func(View)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = append(m.onChange, fn)
}

// BeginPendingFreeze locks the UI before the server answers.
func (m *Mirror) BeginPendingFreeze() {
	m.update(func(v *View) bool {
		if v.PendingFreeze || v.Status.Locked() {
			return false
		}
		v.PendingFreeze = true
		return true
	})
}

// Reconcile applies a server-reported status and strike count and clears
// any pending freeze.
func (m *Mirror) Reconcile(status model.Status, strikes int) {
	m.update(func(v *View) bool {
		changed := v.PendingFreeze
		v.PendingFreeze = false
		return apply(v, status, strikes) || changed
	})
}

// Apply is Reconcile for answers that do not settle an outstanding
// CRITICAL report: the pending freeze, if any, stays up.
func (m *Mirror) Apply(status model.Status, strikes int) {
	m.update(func(v *View) bool { return apply(v, status, strikes) })
}

func apply(v *View, status model.Status, strikes int) bool {
	changed := v.Offline
	v.Offline = false
	if status.Valid() && status.Rank() > v.Status.Rank() {
		v.Status = status
		changed = true
	}
	if strikes > v.Strikes {
		v.Strikes = strikes
		changed = true
	}
	return changed
}

// ResolvePending drops the optimistic lock without new information from the
// server. Used when freeze confirmation fails: the client fails open.
func (m *Mirror) ResolvePending() {
	m.update(func(v *View) bool {
		if !v.PendingFreeze {
			return false
		}
		v.PendingFreeze = false
		return true
	})
}

// SetOffline toggles the quiet offline indicator.
func (m *Mirror) SetOffline(off bool) {
	m.update(func(v *View) bool {
		if v.Offline == off {
			return false
		}
		v.Offline = off
		return true
	})
}

func (m *Mirror) Snapshot() View {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view
}

func (m *Mirror) Locked() bool { return m.Snapshot().Locked() }

// Done is closed once the mirrored status becomes FROZEN or TERMINATED.
func (m *Mirror) Done() <-chan struct{} { return m.done }

func (m *Mirror) update(fn func(v *View) bool) {
	m.mu.Lock()
	if !fn(&m.view) {
		m.mu.Unlock()
		return
	}
	v := m.view
	if v.Status.Locked() {
		select {
		case <-m.done:
		default:
			close(m.done)
		}
	}
	listeners := make([]func(View), len(m.onChange))
	copy(listeners, m.onChange)
	m.mu.Unlock()

	for _, fn := range listeners {
		fn(v)
	}
}
