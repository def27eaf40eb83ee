package model

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Kind enumerates every integrity signal the system understands.
type Kind string

const (
	KindTabSwitch             Kind = "TAB_SWITCH"
	KindWindowBlur            Kind = "WINDOW_BLUR"
	KindFullscreenExit        Kind = "FULLSCREEN_EXIT"
	KindMultipleFaces         Kind = "MULTIPLE_FACES"
	KindNoFace                Kind = "NO_FACE"
	KindPhoneDetected         Kind = "PHONE_DETECTED"
	KindUnauthorizedObject    Kind = "UNAUTHORIZED_OBJECT"
	KindLargePaste            Kind = "LARGE_PASTE"
	KindSuspiciousTypingSpeed Kind = "SUSPICIOUS_TYPING_SPEED"
	KindRapidAnswerChanges    Kind = "RAPID_ANSWER_CHANGES"
	KindIPChanged             Kind = "IP_CHANGED"
	KindSuspiciousExtension   Kind = "SUSPICIOUS_EXTENSION"
	KindScreenshotAttempt     Kind = "SCREENSHOT_ATTEMPT"
)

// AllKinds lists every known kind in a stable order.
var AllKinds = []Kind{
	KindTabSwitch, KindWindowBlur, KindFullscreenExit,
	KindMultipleFaces, KindNoFace, KindPhoneDetected, KindUnauthorizedObject,
	KindLargePaste, KindSuspiciousTypingSpeed, KindRapidAnswerChanges,
	KindIPChanged, KindSuspiciousExtension, KindScreenshotAttempt,
}

func (k Kind) Valid() bool {
	for _, known := range AllKinds {
		if k == known {
			return true
		}
	}
	return false
}

// IsVision reports whether k originates from the camera pipeline and is
// therefore subject to confidence and frame-count filtering.
func (k Kind) IsVision() bool {
	switch k {
	case KindMultipleFaces, KindNoFace, KindPhoneDetected, KindUnauthorizedObject:
		return true
	}
	return false
}

// MinSeverity is the floor a reported severity is raised to. Fullscreen exit
// and screenshot attempts are always CRITICAL.
func (k Kind) MinSeverity() Severity {
	switch k {
	case KindFullscreenExit, KindScreenshotAttempt:
		return SeverityCritical
	}
	return SeverityMinor
}

// DefaultSeverity is used by clients that do not pick a severity themselves.
func (k Kind) DefaultSeverity() Severity {
	switch k {
	case KindFullscreenExit, KindScreenshotAttempt:
		return SeverityCritical
	case KindMultipleFaces, KindPhoneDetected, KindUnauthorizedObject,
		KindTabSwitch, KindLargePaste, KindIPChanged, KindSuspiciousExtension:
		return SeverityMajor
	default:
		return SeverityMinor
	}
}

// DefaultKeyBucket is the timestamp granularity of idempotency keys.
const DefaultKeyBucket = time.Second

// Violation is a single detected integrity signal for one session.
type Violation struct {
	// ID is assigned by the server when absent.
	ID        string `json:"id,omitempty"`
	SessionID string `json:"sessionId"`
	ExamID    string `json:"examId,omitempty"`
	Kind      Kind   `json:"type"`

	Severity Severity `json:"severity"`

	// Confidence is in [0,1]. Non-vision kinds default to 1.
	Confidence float64 `json:"confidence"`

	// ConsecutiveFrames is the run length that confirmed a vision detection.
	ConsecutiveFrames int `json:"consecutiveFrames,omitempty"`

	// Confirmed is an optional client-side confirmation flag; nil means unset.
	Confirmed *bool `json:"confirmed,omitempty"`

	Message   string    `json:"message,omitempty"`
	Evidence  Evidence  `json:"evidence"`
	Timestamp time.Time `json:"timestamp"`
}

// Validation errors returned by Violation.Validate.
var (
	ErrMissingSession   = errors.New("violation: session id is required")
	ErrUnknownKind      = errors.New("violation: unknown kind")
	ErrUnknownSeverity  = errors.New("violation: unknown severity")
	ErrConfidenceRange  = errors.New("violation: confidence must be in [0,1]")
	ErrMissingTimestamp = errors.New("violation: timestamp is required")
	ErrNegativeFrames   = errors.New("violation: consecutive frames must be >= 0")
)

// Validate checks the structural invariants of v.
func (v *Violation) Validate() error {
	if strings.TrimSpace(v.SessionID) == "" {
		return ErrMissingSession
	}
	if !v.Kind.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownKind, v.Kind)
	}
	if v.Severity != "" && !v.Severity.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownSeverity, v.Severity)
	}
	if v.Confidence < 0 || v.Confidence > 1 {
		return ErrConfidenceRange
	}
	if v.ConsecutiveFrames < 0 {
		return ErrNegativeFrames
	}
	if v.Timestamp.IsZero() {
		return ErrMissingTimestamp
	}
	return v.Evidence.Check(v.Kind)
}

// Normalize fills defaults and applies the per-kind severity floor.
// It must be called after Validate.
func (v *Violation) Normalize() {
	if v.Severity == "" {
		v.Severity = v.Kind.DefaultSeverity()
	}
	v.Severity = v.Severity.Max(v.Kind.MinSeverity())
	if ev := v.Evidence.Vision; ev != nil {
		if v.ConsecutiveFrames == 0 {
			v.ConsecutiveFrames = ev.ConsecutiveFrames
		}
		if v.Confidence == 0 {
			v.Confidence = ev.Confidence
		}
	}
	if v.Confidence == 0 && !v.Kind.IsVision() {
		v.Confidence = 1
	}
	v.Timestamp = v.Timestamp.UTC()
}

// IdempotencyKey identifies retransmissions of the same violation. Two
// reports for one session and kind within the same bucket collapse.
func (v *Violation) IdempotencyKey(bucket time.Duration) string {
	if bucket <= 0 {
		bucket = DefaultKeyBucket
	}
	slot := v.Timestamp.UnixNano() / int64(bucket)
	return v.SessionID + ":" + string(v.Kind) + ":" + strconv.FormatInt(slot, 10)
}

// BoolPtr is a convenience for setting Violation.Confirmed.
func BoolPtr(b bool) *bool { return &b }
