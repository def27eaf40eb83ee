package ledger

import (
	"time"

	"github.com/raysh454/proctor/internal/model"
	"github.com/raysh454/proctor/internal/session"
)

// Entry is the authoritative per-session strike record.
type Entry struct {
	SessionID   string             `json:"sessionId"`
	ExamID      string             `json:"examId"`
	StudentID   string             `json:"studentId"`
	Total       int                `json:"total"`
	ByKind      map[model.Kind]int `json:"byKind"`
	TabSwitches int                `json:"tabSwitches"`
	Status      model.Status       `json:"status"`
	Reason      string             `json:"reason,omitempty"`
	CreatedAt   time.Time          `json:"createdAt"`
	LastUpdated time.Time          `json:"lastUpdated"`
	// ClosedAt is set when the attempt is submitted or the exam window ends.
	ClosedAt *time.Time `json:"closedAt,omitempty"`
	// Applied maps idempotency keys to the time they were first seen.
	Applied map[string]time.Time `json:"applied"`
}

func newEntry(sessionID, examID, studentID string, now time.Time) *Entry {
	return &Entry{
		SessionID:   sessionID,
		ExamID:      examID,
		StudentID:   studentID,
		ByKind:      make(map[model.Kind]int),
		Status:      model.StatusActive,
		CreatedAt:   now,
		LastUpdated: now,
		Applied:     make(map[string]time.Time),
	}
}

// Clone returns a deep copy of e.
func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}
	c := *e
	c.ByKind = make(map[model.Kind]int, len(e.ByKind))
	for k, v := range e.ByKind {
		c.ByKind[k] = v
	}
	c.Applied = make(map[string]time.Time, len(e.Applied))
	for k, v := range e.Applied {
		c.Applied[k] = v
	}
	if e.ClosedAt != nil {
		t := *e.ClosedAt
		c.ClosedAt = &t
	}
	return &c
}

// Closed reports whether the attempt has been archived.
func (e *Entry) Closed() bool { return e.ClosedAt != nil }

// pruneKeys drops idempotency keys first seen before cutoff.
func (e *Entry) pruneKeys(cutoff time.Time) {
	for k, at := range e.Applied {
		if at.Before(cutoff) {
			delete(e.Applied, k)
		}
	}
}

// Outcome classifies what the ledger did with a received violation.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeFiltered  Outcome = "filtered"
	// OutcomeAbsorbed is a report against a FROZEN or TERMINATED session:
	// recorded for audit, no effect on strikes or status.
	OutcomeAbsorbed Outcome = "absorbed"
	OutcomeManual   Outcome = "manual_termination"
	// OutcomeRejected is a report against a closed (archived) session.
	OutcomeRejected Outcome = "rejected"
	OutcomeWarning  Outcome = "moderator_warning"
)

// Review is a moderator's verdict on one recorded violation. A rejected
// violation is marked as a false positive; its strike stays counted.
type Review struct {
	Confirmed bool      `json:"confirmed"`
	Moderator string    `json:"moderator"`
	Reason    string    `json:"reason,omitempty"`
	At        time.Time `json:"at"`
}

// AuditRecord is one append-only line in a session's audit trail.
type AuditRecord struct {
	ID         string              `json:"id"`
	SessionID  string              `json:"sessionId"`
	Key        string              `json:"key,omitempty"`
	Outcome    Outcome             `json:"outcome"`
	Violation  *model.Violation    `json:"violation,omitempty"`
	Transition *session.Transition `json:"transition,omitempty"`
	Total      int                 `json:"total"`
	Status     model.Status        `json:"status"`
	Note       string              `json:"note,omitempty"`
	Review     *Review             `json:"review,omitempty"`
	ReceivedAt time.Time           `json:"receivedAt"`
}
