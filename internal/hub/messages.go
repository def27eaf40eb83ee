package hub

import (
	"time"

	"github.com/raysh454/proctor/internal/model"
	"github.com/raysh454/proctor/internal/policy"
)

// MessageType tags every pushed message.
type MessageType string

const (
	TypeViolationAlert MessageType = "violation_alert"
	TypeTermination    MessageType = "termination"
	TypeStudentStatus  MessageType = "student_status"
	TypeWarning        MessageType = "moderator_warning"
)

// Message is the envelope written to subscribers.
type Message struct {
	Type    MessageType `json:"type"`
	Payload any         `json:"payload"`
}

// ViolationAlert tells moderators that a strike was applied.
type ViolationAlert struct {
	SessionID   string         `json:"sessionId"`
	ExamID      string         `json:"examId"`
	StudentID   string         `json:"studentId"`
	ViolationID string         `json:"violationId"`
	Kind        model.Kind     `json:"type"`
	Severity    model.Severity `json:"severity"`
	Message     string         `json:"message,omitempty"`
	Confidence  float64        `json:"confidence"`
	Strikes     int            `json:"strikeCount"`
	Remaining   int            `json:"remainingStrikes"`
	Status      model.Status   `json:"status"`
	Urgency     policy.Urgency `json:"urgency,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}

// Termination is sent when a session reaches TERMINATED.
type Termination struct {
	SessionID string    `json:"sessionId"`
	ExamID    string    `json:"examId"`
	StudentID string    `json:"studentId"`
	Reason    string    `json:"reason"`
	Manual    bool      `json:"manual"`
	Strikes   int       `json:"strikeCount"`
	At        time.Time `json:"at"`
}

// ModeratorWarning is pushed to the student and echoed to the exam's
// dashboards.
type ModeratorWarning struct {
	SessionID string    `json:"sessionId"`
	ExamID    string    `json:"examId"`
	StudentID string    `json:"studentId"`
	Moderator string    `json:"moderator"`
	Message   string    `json:"message"`
	At        time.Time `json:"at"`
}

// StudentStatus is the dashboard row for one attempt.
type StudentStatus struct {
	SessionID string       `json:"sessionId"`
	ExamID    string       `json:"examId"`
	StudentID string       `json:"studentId"`
	Status    model.Status `json:"status"`
	Strikes   int          `json:"strikeCount"`
	Remaining int          `json:"remainingStrikes"`
	Colour    model.Colour `json:"statusColour"`
	Connected bool         `json:"connected"`
	Closed    bool         `json:"closed,omitempty"`
	Reason    string       `json:"reason,omitempty"`
}

// Topic helpers.
const TopicModerators = "moderators"

func ExamTopic(examID string) string       { return "exam:" + examID }
func SessionTopic(sessionID string) string { return "session:" + sessionID }
