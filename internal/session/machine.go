// Package session holds the exam-session state machine. The server applies
// transitions; clients keep a Mirror of the server's view.
package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/raysh454/proctor/internal/model"
)

// ErrIllegalTransition is returned for an edge the machine does not allow.
// The current state is always preserved.
var ErrIllegalTransition = errors.New("session: illegal transition")

// Transition records one applied state change.
type Transition struct {
	From   model.Status `json:"from"`
	To     model.Status `json:"to"`
	Manual bool         `json:"manual"`
	Reason string       `json:"reason,omitempty"`
	At     time.Time    `json:"at"`
}

type edge struct {
	from, to model.Status
}

// automatic edges are driven by the escalation policy; manual edges only by a
// moderator.
var (
	automatic = map[edge]bool{
		{model.StatusActive, model.StatusWarned}:     true,
		{model.StatusActive, model.StatusFrozen}:     true,
		{model.StatusActive, model.StatusTerminated}: true,
		{model.StatusWarned, model.StatusFrozen}:     true,
		{model.StatusWarned, model.StatusTerminated}: true,
	}
	manual = map[edge]bool{
		{model.StatusActive, model.StatusTerminated}: true,
		{model.StatusWarned, model.StatusTerminated}: true,
		{model.StatusFrozen, model.StatusTerminated}: true,
	}
)

// Machine validates and produces transitions. It holds no state itself;
// the caller owns the status and applies transitions inside its own atomic
// update.
type Machine struct{}

func NewMachine() *Machine { return &Machine{} }

// Advance moves from current to desired under the automatic edge set.
// desired == current yields (nil, nil). A desired status below current is
// ignored rather than rejected, since the policy never lowers a status.
func (m *Machine) Advance(current, desired model.Status, reason string, at time.Time) (*Transition, error) {
	if desired == current || desired.Rank() < current.Rank() {
		return nil, nil
	}
	if !automatic[edge{current, desired}] {
		return nil, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, current, desired)
	}
	return &Transition{From: current, To: desired, Reason: reason, At: at}, nil
}

// Terminate is the privileged moderator edge into TERMINATED.
func (m *Machine) Terminate(current model.Status, reason string, at time.Time) (*Transition, error) {
	if !manual[edge{current, model.StatusTerminated}] {
		return nil, fmt.Errorf("%w: %s -> %s (manual)", ErrIllegalTransition, current, model.StatusTerminated)
	}
	return &Transition{From: current, To: model.StatusTerminated, Manual: true, Reason: reason, At: at}, nil
}
