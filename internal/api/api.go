// Package api holds the JSON wire types shared by the server and the
// student-side client.
package api

import (
	"net/url"
	"time"

	"github.com/raysh454/proctor/internal/model"
)

// Paths used by both sides.
const (
	PathSessions   = "/api/sessions"
	PathViolations = "/api/violations"
	PathWhoAmI     = "/api/whoami"
	PathExams      = "/api/exams"
)

func SessionPath(id string) string    { return PathSessions + "/" + url.PathEscape(id) }
func StatusPath(id string) string     { return SessionPath(id) + "/status" }
func StrikesPath(id string) string    { return SessionPath(id) + "/strikes" }
func ClosePath(id string) string      { return SessionPath(id) + "/close" }
func TerminatePath(id string) string  { return SessionPath(id) + "/terminate" }
func ViolationsPath(id string) string { return SessionPath(id) + "/violations" }
func StatsPath(id string) string      { return SessionPath(id) + "/stats" }
func WarnPath(id string) string       { return SessionPath(id) + "/warn" }
func ReviewPath(id, record string) string {
	return ViolationsPath(id) + "/" + url.PathEscape(record) + "/review"
}
func ExamSessionsPath(exam string) string {
	return PathExams + "/" + url.PathEscape(exam) + "/sessions"
}
func SessionWSPath(id string) string { return "/ws/sessions/" + url.PathEscape(id) }
func MonitorWSPath(exam string) string {
	return "/ws/exams/" + url.PathEscape(exam) + "/monitor"
}

// ViolationRequest is the body of POST /api/violations.
type ViolationRequest struct {
	ID                string         `json:"id,omitempty" validate:"omitempty,max=64"`
	SessionID         string         `json:"sessionId" validate:"notblank,max=128" example:"3f1c..."`
	ExamID            string         `json:"examId,omitempty" validate:"max=128"`
	Type              model.Kind     `json:"type" validate:"violationkind" example:"TAB_SWITCH"`
	Severity          model.Severity `json:"severity,omitempty" validate:"omitempty,oneof=MINOR MAJOR CRITICAL" example:"MAJOR"`
	Confidence        float64        `json:"confidence" validate:"gte=0,lte=1" example:"0.92"`
	ConsecutiveFrames int            `json:"consecutiveFrames,omitempty" validate:"gte=0"`
	Confirmed         *bool          `json:"confirmed,omitempty"`
	Message           string         `json:"message,omitempty" validate:"max=1024"`
	Evidence          model.Evidence `json:"evidence"`
	Timestamp         time.Time      `json:"timestamp" validate:"required"`
}

// ToViolation converts the request to the domain type.
func (r ViolationRequest) ToViolation() model.Violation {
	return model.Violation{
		ID:                r.ID,
		SessionID:         r.SessionID,
		ExamID:            r.ExamID,
		Kind:              r.Type,
		Severity:          r.Severity,
		Confidence:        r.Confidence,
		ConsecutiveFrames: r.ConsecutiveFrames,
		Confirmed:         r.Confirmed,
		Message:           r.Message,
		Evidence:          r.Evidence,
		Timestamp:         r.Timestamp,
	}
}

// NewViolationRequest is the inverse of ToViolation.
func NewViolationRequest(v model.Violation) ViolationRequest {
	return ViolationRequest{
		ID:                v.ID,
		SessionID:         v.SessionID,
		ExamID:            v.ExamID,
		Type:              v.Kind,
		Severity:          v.Severity,
		Confidence:        v.Confidence,
		ConsecutiveFrames: v.ConsecutiveFrames,
		Confirmed:         v.Confirmed,
		Message:           v.Message,
		Evidence:          v.Evidence,
		Timestamp:         v.Timestamp,
	}
}

// ViolationResponse is returned from POST /api/violations.
type ViolationResponse struct {
	ViolationID string       `json:"violationId,omitempty"`
	StrikeCount int          `json:"strikeCount" example:"2"`
	Remaining   int          `json:"remainingStrikes" example:"3"`
	Terminated  bool         `json:"terminated"`
	Frozen      bool         `json:"frozen"`
	Status      model.Status `json:"status" example:"WARNED"`
	Urgency     string       `json:"urgency,omitempty" example:"warning"`
	Duplicate   bool         `json:"duplicate,omitempty"`
	Filtered    bool         `json:"filtered,omitempty"`
	Reason      string       `json:"reason,omitempty"`
}

// StartSessionRequest is the body of POST /api/sessions.
type StartSessionRequest struct {
	SessionID string `json:"sessionId,omitempty" validate:"max=128"`
	ExamID    string `json:"examId" validate:"notblank,max=128" example:"midterm-2026"`
	StudentID string `json:"studentId" validate:"notblank,max=128" example:"stu-42"`
}

// StatusResponse backs the freeze-check poll and session creation.
type StatusResponse struct {
	SessionID   string       `json:"sessionId"`
	ExamID      string       `json:"examId"`
	StudentID   string       `json:"studentId"`
	Status      model.Status `json:"status" example:"ACTIVE"`
	StrikeCount int          `json:"strikeCount"`
	Frozen      bool         `json:"frozen"`
	Terminated  bool         `json:"terminated"`
	Closed      bool         `json:"closed"`
	Reason      string       `json:"reason,omitempty"`
}

// StrikesResponse is returned from GET /api/sessions/{id}/strikes.
type StrikesResponse struct {
	CurrentStrikes   int  `json:"currentStrikes" example:"1"`
	RemainingStrikes int  `json:"remainingStrikes" example:"4"`
	Terminated       bool `json:"terminated"`
}

// TerminateRequest is the body of POST /api/sessions/{id}/terminate.
type TerminateRequest struct {
	Reason string `json:"reason" validate:"max=512" example:"confirmed use of a phone"`
}

// ReviewRequest is the body of PUT /api/sessions/{id}/violations/{record}/review.
type ReviewRequest struct {
	Confirmed *bool  `json:"confirmed" validate:"required" example:"false"`
	Reason    string `json:"reason" validate:"max=512" example:"glare on glasses"`
}

// WarningRequest is the body of POST /api/sessions/{id}/warn.
type WarningRequest struct {
	Message string `json:"message" validate:"notblank,max=512" example:"keep your eyes on the screen"`
}

// ErrorResponse is a uniform error payload returned by the API.
type ErrorResponse struct {
	Error  string            `json:"error" example:"not found"`
	Fields map[string]string `json:"fields,omitempty"`
}

// WhoAmIResponse reports the client address as the server sees it.
type WhoAmIResponse struct {
	IP string `json:"ip" example:"203.0.113.7"`
}
