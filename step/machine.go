package step

import (
	"errors"
	"fmt"
)

// Transition is the key of a Table.
type Transition struct {
	From   Step
	Action Action
}

// Edge is the target of a legal transition.
type Edge struct {
	To   Step
	Kind EdgeKind
}

// Table lists every legal transition. Pairs absent from the table are conflicts.
type Table map[Transition]Edge

// DefaultTable returns the onboarding transition table.
func DefaultTable() Table {
	return Table{
		{CaptureInput, ActionStart}:       {To: CaptureInput, Kind: Stay},
		{CaptureInput, ActionSubmitInput}: {To: VerifyCode, Kind: Forward},
		{CaptureInput, ActionCancel}:      {To: CaptureInput, Kind: Reset},

		{VerifyCode, ActionStart}:       {To: VerifyCode, Kind: Stay},
		{VerifyCode, ActionResendCode}:  {To: VerifyCode, Kind: Stay},
		{VerifyCode, ActionVerifyCode}:  {To: Terminal, Kind: Forward},
		{VerifyCode, ActionChangeInput}: {To: CaptureInput, Kind: Reset},
		{VerifyCode, ActionCancel}:      {To: CaptureInput, Kind: Reset},

		{Terminal, ActionRestart}: {To: CaptureInput, Kind: Restart},
	}
}

// Machine answers transition queries against a validated, immutable table.
type Machine struct {
	table Table
}

// NewMachine copies and validates t:
//   - steps, actions and edge kinds must be known;
//   - each step has at most one Forward edge, and Forward edges move to a later step;
//   - Stay edges keep the step, Reset edges never move forward;
//   - the terminal step only has Restart edges, and Restart edges start over at
//     CaptureInput.
func NewMachine(t Table) (*Machine, error) {
	if len(t) == 0 {
		return nil, errors.New("step table is empty")
	}

	forward := make(map[Step]bool)
	copied := make(Table, len(t))
	for tr, e := range t {
		if !tr.From.Valid() || !e.To.Valid() {
			return nil, fmt.Errorf("step table: unknown step in %s -> %s", tr.From, e.To)
		}
		if !tr.Action.Valid() {
			return nil, fmt.Errorf("step table: unknown action %s", tr.Action)
		}
		switch e.Kind {
		case Forward:
			if forward[tr.From] {
				return nil, fmt.Errorf("step table: %s has more than one forward edge", tr.From)
			}
			if e.To <= tr.From {
				return nil, fmt.Errorf("step table: forward edge %s -> %s does not advance", tr.From, e.To)
			}
			forward[tr.From] = true
		case Stay:
			if e.To != tr.From {
				return nil, fmt.Errorf("step table: stay edge %s -> %s changes step", tr.From, e.To)
			}
		case Reset:
			if e.To > tr.From {
				return nil, fmt.Errorf("step table: reset edge %s -> %s moves forward", tr.From, e.To)
			}
		case Restart:
			if tr.From != Terminal || e.To != CaptureInput {
				return nil, fmt.Errorf("step table: restart edge must be %s -> %s", Terminal, CaptureInput)
			}
		default:
			return nil, fmt.Errorf("step table: unknown edge kind %d", e.Kind)
		}
		if tr.From == Terminal && e.Kind != Restart {
			return nil, fmt.Errorf("step table: %s may only restart", Terminal)
		}
		copied[tr] = e
	}

	return &Machine{table: copied}, nil
}

// Initial returns the step new sessions start at.
func (m *Machine) Initial() Step {
	return CaptureInput
}

// IsTerminal reports whether s ends the workflow.
func (m *Machine) IsTerminal(s Step) bool {
	return s == Terminal
}

// Next returns the edge for action taken from from, or a *StateConflictError.
func (m *Machine) Next(from Step, action Action) (Edge, error) {
	e, ok := m.table[Transition{From: from, Action: action}]
	if !ok {
		return Edge{}, &StateConflictError{From: from, Action: action}
	}
	return e, nil
}

// Allowed returns the actions legal from s, in declaration order.
func (m *Machine) Allowed(s Step) []Action {
	var out []Action
	for _, a := range Actions() {
		if _, ok := m.table[Transition{From: s, Action: a}]; ok {
			out = append(out, a)
		}
	}
	return out
}
