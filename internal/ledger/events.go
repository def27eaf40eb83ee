package ledger

import (
	"sync"
	"time"

	"github.com/raysh454/proctor/internal/logging"
	"github.com/raysh454/proctor/internal/model"
	"github.com/raysh454/proctor/internal/policy"
	"github.com/raysh454/proctor/internal/session"
)

type EventType string

const (
	EventSessionStarted EventType = "session_started"
	EventSessionClosed  EventType = "session_closed"
	EventViolation      EventType = "violation"
	EventTransition     EventType = "transition"
	EventWarning        EventType = "moderator_warning"
)

// Event is published to observers after the store has committed.
type Event struct {
	Type       EventType           `json:"type"`
	SessionID  string              `json:"sessionId"`
	ExamID     string              `json:"examId"`
	StudentID  string              `json:"studentId"`
	Total      int                 `json:"total"`
	Remaining  int                 `json:"remaining"`
	Status     model.Status        `json:"status"`
	Urgency    policy.Urgency      `json:"urgency,omitempty"`
	Violation  *model.Violation    `json:"violation,omitempty"`
	Transition *session.Transition `json:"transition,omitempty"`
	// Warning is set on EventWarning only.
	Warning *Warning `json:"warning,omitempty"`
}

// Warning is a moderator's message to the student of one session.
type Warning struct {
	Moderator string    `json:"moderator"`
	Message   string    `json:"message"`
	At        time.Time `json:"at"`
}

// Observer receives ledger events on the dispatcher goroutine. Implementations
// must not block for long.
type Observer interface {
	OnLedgerEvent(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) OnLedgerEvent(ev Event) { f(ev) }

// dispatcher fans events out to observers from a single goroutine, in
// publish order. The ledger publishes while holding the session's commit
// lock, so per session that is also commit order. Publishing never blocks:
// when the buffer is full the event is dropped and logged.
type dispatcher struct {
	logger logging.Logger
	events chan Event

	mu        sync.RWMutex
	observers []Observer

	closeOnce sync.Once
	done      chan struct{}
}

func newDispatcher(buffer int, logger logging.Logger) *dispatcher {
	if buffer <= 0 {
		buffer = 256
	}
	d := &dispatcher{
		logger: logger,
		events: make(chan Event, buffer),
		done:   make(chan struct{}),
	}
	go d.loop()
	return d
}

func (d *dispatcher) subscribe(o Observer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.observers = append(d.observers, o)
}

func (d *dispatcher) publish(ev Event) {
	select {
	case <-d.done:
		return
	default:
	}
	select {
	case d.events <- ev:
	default:
		d.logger.Warn("ledger: event buffer full, dropping event",
			logging.Field{Key: "session", Value: ev.SessionID},
			logging.Field{Key: "type", Value: ev.Type})
	}
}

func (d *dispatcher) loop() {
	for {
		select {
		case ev := <-d.events:
			d.deliver(ev)
		case <-d.done:
			// drain what is already queued
			for {
				select {
				case ev := <-d.events:
					d.deliver(ev)
				default:
					return
				}
			}
		}
	}
}

func (d *dispatcher) deliver(ev Event) {
	d.mu.RLock()
	obs := d.observers
	d.mu.RUnlock()
	for _, o := range obs {
		o.OnLedgerEvent(ev)
	}
}

func (d *dispatcher) close() {
	d.closeOnce.Do(func() { close(d.done) })
}

// sessionLocks serializes commit-then-publish per session within one
// process. Unrelated sessions never wait on each other.
type sessionLocks struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	mu   sync.Mutex
	refs int
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{locks: make(map[string]*refLock)}
}

// lock blocks until id is free and returns its release func.
func (s *sessionLocks) lock(id string) func() {
	s.mu.Lock()
	l, ok := s.locks[id]
	if !ok {
		l = &refLock{}
		s.locks[id] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, id)
		}
		s.mu.Unlock()
	}
}
