package model

import (
	"errors"
	"fmt"
)

// ErrEvidenceMismatch is returned when evidence does not fit the violation kind.
var ErrEvidenceMismatch = errors.New("violation: evidence does not match kind")

// Evidence carries kind-specific supporting data. At most one payload may be
// set, and it must be the one that belongs to the violation kind.
type Evidence struct {
	Vision    *VisionEvidence    `json:"vision,omitempty"`
	Focus     *FocusEvidence     `json:"focus,omitempty"`
	Paste     *PasteEvidence     `json:"paste,omitempty"`
	Typing    *TypingEvidence    `json:"typing,omitempty"`
	Network   *NetworkEvidence   `json:"network,omitempty"`
	Extension *ExtensionEvidence `json:"extension,omitempty"`
	Screen    *ScreenEvidence    `json:"screen,omitempty"`
}

// VisionEvidence describes a confirmed camera detection.
type VisionEvidence struct {
	Label             string     `json:"label,omitempty"`
	FaceCount         int        `json:"faceCount,omitempty"`
	Confidence        float64    `json:"confidence"`
	BBox              [4]float64 `json:"bbox,omitempty"`
	ConsecutiveFrames int        `json:"consecutiveFrames"`
	// SnapshotRef points at stored imagery; frames themselves never travel.
	SnapshotRef string `json:"snapshotRef,omitempty"`
}

// FocusEvidence covers tab switches and window blur.
type FocusEvidence struct {
	HiddenMillis int64 `json:"hiddenMillis"`
	SwitchCount  int   `json:"switchCount,omitempty"`
}

type PasteEvidence struct {
	Length     int    `json:"length"`
	QuestionID string `json:"questionId,omitempty"`
}

type TypingEvidence struct {
	AvgIntervalMillis float64 `json:"avgIntervalMillis"`
	Keystrokes        int     `json:"keystrokes"`
	AnswerChanges     int     `json:"answerChanges,omitempty"`
}

type NetworkEvidence struct {
	PreviousIP string `json:"previousIp"`
	CurrentIP  string `json:"currentIp"`
}

type ExtensionEvidence struct {
	Name string `json:"name"`
}

// ScreenEvidence covers fullscreen exit and screenshot attempts.
type ScreenEvidence struct {
	Trigger string `json:"trigger,omitempty"`
}

func (e Evidence) payloads() []string {
	var set []string
	if e.Vision != nil {
		set = append(set, "vision")
	}
	if e.Focus != nil {
		set = append(set, "focus")
	}
	if e.Paste != nil {
		set = append(set, "paste")
	}
	if e.Typing != nil {
		set = append(set, "typing")
	}
	if e.Network != nil {
		set = append(set, "network")
	}
	if e.Extension != nil {
		set = append(set, "extension")
	}
	if e.Screen != nil {
		set = append(set, "screen")
	}
	return set
}

func evidenceFor(k Kind) string {
	switch k {
	case KindMultipleFaces, KindNoFace, KindPhoneDetected, KindUnauthorizedObject:
		return "vision"
	case KindTabSwitch, KindWindowBlur:
		return "focus"
	case KindLargePaste:
		return "paste"
	case KindSuspiciousTypingSpeed, KindRapidAnswerChanges:
		return "typing"
	case KindIPChanged:
		return "network"
	case KindSuspiciousExtension:
		return "extension"
	case KindFullscreenExit, KindScreenshotAttempt:
		return "screen"
	}
	return ""
}

// Check validates e against kind k. Empty evidence is always accepted.
func (e Evidence) Check(k Kind) error {
	set := e.payloads()
	switch len(set) {
	case 0:
		return nil
	case 1:
		if want := evidenceFor(k); set[0] != want {
			return fmt.Errorf("%w: %s carries %s evidence, want %s", ErrEvidenceMismatch, k, set[0], want)
		}
		return nil
	default:
		return fmt.Errorf("%w: multiple payloads %v", ErrEvidenceMismatch, set)
	}
}

// IsEmpty reports whether no payload is set.
func (e Evidence) IsEmpty() bool { return len(e.payloads()) == 0 }
