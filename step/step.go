package step

import (
	"errors"
	"fmt"
)

// Step is a named state of the onboarding workflow.
type Step uint8

const (
	// CaptureInput is the initial step: the workflow waits for the contact input.
	CaptureInput Step = iota + 1
	// VerifyCode waits for the one-time code sent to the captured input.
	VerifyCode
	// Terminal marks a completed workflow.
	Terminal
)

var stepNames = [...]string{
	CaptureInput: "CAPTURE_INPUT",
	VerifyCode:   "VERIFY_CODE",
	Terminal:     "TERMINAL",
}

// String returns the wire name of s.
func (s Step) String() string {
	if s.Valid() {
		return stepNames[s]
	}
	return fmt.Sprintf("Step(%d)", uint8(s))
}

// Valid reports whether s is a known step.
func (s Step) Valid() bool {
	return s >= CaptureInput && s <= Terminal
}

// ParseStep maps a wire name back to a Step.
func ParseStep(name string) (Step, error) {
	for s := CaptureInput; s <= Terminal; s++ {
		if stepNames[s] == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownStep, name)
}

// Action is a client-triggered event. The set is closed; ParseAction rejects
// anything else.
type Action uint8

const (
	ActionStart Action = iota + 1
	ActionSubmitInput
	ActionResendCode
	ActionChangeInput
	ActionVerifyCode
	ActionCancel
	ActionRestart
)

var actionNames = [...]string{
	ActionStart:       "start",
	ActionSubmitInput: "submit_input",
	ActionResendCode:  "resend_code",
	ActionChangeInput: "change_input",
	ActionVerifyCode:  "verify_code",
	ActionCancel:      "cancel",
	ActionRestart:     "restart",
}

// Actions returns every known action in declaration order.
func Actions() []Action {
	out := make([]Action, 0, len(actionNames)-1)
	for a := ActionStart; a <= ActionRestart; a++ {
		out = append(out, a)
	}
	return out
}

// String returns the wire name of a.
func (a Action) String() string {
	if a.Valid() {
		return actionNames[a]
	}
	return fmt.Sprintf("Action(%d)", uint8(a))
}

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	return a >= ActionStart && a <= ActionRestart
}

// ParseAction maps a wire name to an Action.
func ParseAction(name string) (Action, error) {
	for a := ActionStart; a <= ActionRestart; a++ {
		if actionNames[a] == name {
			return a, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownAction, name)
}

// EdgeKind classifies a transition.
type EdgeKind uint8

const (
	// Forward advances to the next step. At most one per step.
	Forward EdgeKind = iota + 1
	// Stay keeps the current step (renders, resends).
	Stay
	// Reset jumps back to an earlier step of the same session.
	Reset
	// Restart leaves the terminal step by creating a new session.
	Restart
)

func (k EdgeKind) String() string {
	switch k {
	case Forward:
		return "forward"
	case Stay:
		return "stay"
	case Reset:
		return "reset"
	case Restart:
		return "restart"
	default:
		return "unknown"
	}
}

var (
	// ErrUnknownStep is returned by ParseStep.
	ErrUnknownStep = errors.New("unknown step")
	// ErrUnknownAction is returned by ParseAction.
	ErrUnknownAction = errors.New("unknown action")
	// ErrIllegalTransition is matched by every *StateConflictError.
	ErrIllegalTransition = errors.New("illegal step transition")
)

// StateConflictError reports an action that is not legal from the current step.
type StateConflictError struct {
	From   Step
	Action Action
}

func (e *StateConflictError) Error() string {
	return fmt.Sprintf("%v: %s from %s", ErrIllegalTransition, e.Action, e.From)
}

// Is lets errors.Is match ErrIllegalTransition.
func (e *StateConflictError) Is(target error) bool {
	return target == ErrIllegalTransition
}
