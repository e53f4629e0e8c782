package tap

import (
	"fmt"

	"github.com/OpenTraceLab/OpenTraceTAP/pkg/taperr"
)

// State represents one of the 16 defined IEEE 1149.1 TAP controller states.
type State uint8

const (
	StateTestLogicReset State = iota
	StateRunTestIdle
	StateSelectDRScan
	StateCaptureDR
	StateShiftDR
	StateExit1DR
	StatePauseDR
	StateExit2DR
	StateUpdateDR
	StateSelectIRScan
	StateCaptureIR
	StateShiftIR
	StateExit1IR
	StatePauseIR
	StateExit2IR
	StateUpdateIR
)

// NumStates is the number of controller states.
const NumStates = 16

var stateNames = [NumStates]string{
	StateTestLogicReset: "TestLogicReset",
	StateRunTestIdle:    "RunTestIdle",
	StateSelectDRScan:   "SelectDRScan",
	StateCaptureDR:      "CaptureDR",
	StateShiftDR:        "ShiftDR",
	StateExit1DR:        "Exit1DR",
	StatePauseDR:        "PauseDR",
	StateExit2DR:        "Exit2DR",
	StateUpdateDR:       "UpdateDR",
	StateSelectIRScan:   "SelectIRScan",
	StateCaptureIR:      "CaptureIR",
	StateShiftIR:        "ShiftIR",
	StateExit1IR:        "Exit1IR",
	StatePauseIR:        "PauseIR",
	StateExit2IR:        "Exit2IR",
	StateUpdateIR:       "UpdateIR",
}

func (s State) String() string {
	if s.Valid() {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", s)
}

// Valid reports whether s is one of the 16 controller states.
func (s State) Valid() bool {
	return s < NumStates
}

// Domain tells which register a state operates on.
type Domain uint8

const (
	DomainNone Domain = iota
	DomainDR
	DomainIR
)

func (d Domain) String() string {
	switch d {
	case DomainDR:
		return "DR"
	case DomainIR:
		return "IR"
	default:
		return "none"
	}
}

// Domain returns the register column s belongs to. Test-Logic-Reset and
// Run-Test/Idle belong to neither.
func (s State) Domain() Domain {
	switch {
	case s >= StateSelectDRScan && s <= StateUpdateDR:
		return DomainDR
	case s >= StateSelectIRScan && s <= StateUpdateIR:
		return DomainIR
	default:
		return DomainNone
	}
}

// IsCapture reports Capture-DR or Capture-IR.
func (s State) IsCapture() bool { return s == StateCaptureDR || s == StateCaptureIR }

// IsShift reports Shift-DR or Shift-IR.
func (s State) IsShift() bool { return s == StateShiftDR || s == StateShiftIR }

// IsUpdate reports Update-DR or Update-IR.
func (s State) IsUpdate() bool { return s == StateUpdateDR || s == StateUpdateIR }

// IsStable reports the states the controller can rest in while TMS is held.
func (s State) IsStable() bool {
	switch s {
	case StateTestLogicReset, StateRunTestIdle, StateShiftDR, StatePauseDR, StateShiftIR, StatePauseIR:
		return true
	}
	return false
}

// Sequence captures the TMS drive pattern and the sequence of states that result
// from applying that pattern to the TAP controller.
type Sequence struct {
	TMS    []bool
	States []State
}

type stateTransitions struct {
	onZero State
	onOne  State
}

var transitions = [NumStates]stateTransitions{
	StateTestLogicReset: {onZero: StateRunTestIdle, onOne: StateTestLogicReset},
	StateRunTestIdle:    {onZero: StateRunTestIdle, onOne: StateSelectDRScan},
	StateSelectDRScan:   {onZero: StateCaptureDR, onOne: StateSelectIRScan},
	StateCaptureDR:      {onZero: StateShiftDR, onOne: StateExit1DR},
	StateShiftDR:        {onZero: StateShiftDR, onOne: StateExit1DR},
	StateExit1DR:        {onZero: StatePauseDR, onOne: StateUpdateDR},
	StatePauseDR:        {onZero: StatePauseDR, onOne: StateExit2DR},
	StateExit2DR:        {onZero: StateShiftDR, onOne: StateUpdateDR},
	StateUpdateDR:       {onZero: StateRunTestIdle, onOne: StateSelectDRScan},
	StateSelectIRScan:   {onZero: StateCaptureIR, onOne: StateTestLogicReset},
	StateCaptureIR:      {onZero: StateShiftIR, onOne: StateExit1IR},
	StateShiftIR:        {onZero: StateShiftIR, onOne: StateExit1IR},
	StateExit1IR:        {onZero: StatePauseIR, onOne: StateUpdateIR},
	StatePauseIR:        {onZero: StatePauseIR, onOne: StateExit2IR},
	StateExit2IR:        {onZero: StateShiftIR, onOne: StateUpdateIR},
	StateUpdateIR:       {onZero: StateRunTestIdle, onOne: StateSelectDRScan},
}

// NextState returns the next TAP state after clocking TCK with the provided TMS
// value. A state outside the 16 defined ones is a modelling bug upstream and
// is reported as a ModelInvariantError.
func NextState(current State, tms bool) (State, error) {
	if !current.Valid() {
		return current, taperr.Invariant("tap.NextState", "undefined state %d", uint8(current))
	}
	row := transitions[current]
	if tms {
		return row.onOne, nil
	}
	return row.onZero, nil
}

func mustNext(current State, tms bool) State {
	next, err := NextState(current, tms)
	if err != nil {
		panic(err)
	}
	return next
}

// StateMachine tracks the TAP controller state locally. It does not perform any
// I/O; instead it produces the sequences of TMS bits needed so a hardware
// adapter or a simulated session can be driven separately.
type StateMachine struct {
	state State
}

// NewStateMachine creates a TAP state machine initialized to Test-Logic-Reset.
func NewStateMachine() *StateMachine {
	return &StateMachine{state: StateTestLogicReset}
}

// State reports the current TAP state tracked by the machine.
func (m *StateMachine) State() State {
	return m.state
}

// Clock advances the machine one TCK cycle with the provided TMS bit and
// returns the new state. The machine only ever holds valid states, so the
// transition cannot fail.
func (m *StateMachine) Clock(tms bool) State {
	m.state = mustNext(m.state, tms)
	return m.state
}

// ForceReset puts the machine in Test-Logic-Reset without clocking, as an
// asserted TRST does.
func (m *StateMachine) ForceReset() {
	m.state = StateTestLogicReset
}

// Reset applies the IEEE recommendation of clocking five consecutive TMS=1
// cycles. It returns the sequence for convenience so it can be forwarded to an
// adapter.
func (m *StateMachine) Reset() Sequence {
	seq := Sequence{
		TMS:    make([]bool, 5),
		States: make([]State, 6),
	}
	seq.States[0] = m.state
	for i := 0; i < 5; i++ {
		seq.TMS[i] = true
		seq.States[i+1] = m.Clock(true)
	}
	return seq
}

// GoTo computes the minimal sequence of TMS values needed to reach the target
// state from the current state. It updates the machine as a side effect and
// returns the generated sequence.
func (m *StateMachine) GoTo(target State) (Sequence, error) {
	path, err := Path(m.state, target)
	if err != nil {
		return Sequence{}, err
	}
	for _, bit := range path.TMS {
		m.Clock(bit)
	}
	return path, nil
}

// Path uses BFS across the TAP state diagram to find the shortest set of
// transitions between two states.
func Path(from, to State) (Sequence, error) {
	if !from.Valid() {
		return Sequence{}, fmt.Errorf("tap: invalid start state %d", from)
	}
	if !to.Valid() {
		return Sequence{}, fmt.Errorf("tap: invalid target state %d", to)
	}
	if from == to {
		return Sequence{States: []State{from}}, nil
	}

	type node struct {
		state  State
		tms    []bool
		states []State
	}

	queue := []node{{
		state:  from,
		states: []State{from},
	}}
	var visited [NumStates]bool
	visited[from] = true

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for _, bit := range []bool{false, true} {
			next := mustNext(current.state, bit)
			if visited[next] {
				continue
			}

			newTMS := append(append([]bool{}, current.tms...), bit)
			newStates := append(append([]State{}, current.states...), next)

			if next == to {
				return Sequence{TMS: newTMS, States: newStates}, nil
			}

			visited[next] = true
			queue = append(queue, node{state: next, tms: newTMS, states: newStates})
		}
	}

	return Sequence{}, fmt.Errorf("tap: no path from %s to %s", from, to)
}
