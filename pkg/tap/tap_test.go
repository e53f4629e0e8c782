package tap

import (
	"errors"
	"testing"

	"github.com/OpenTraceLab/OpenTraceTAP/pkg/taperr"
)

func TestNextStateTable(t *testing.T) {
	// start -> {tms=1, tms=0}
	table := map[State][2]State{
		StateTestLogicReset: {StateTestLogicReset, StateRunTestIdle},
		StateRunTestIdle:    {StateSelectDRScan, StateRunTestIdle},
		StateSelectDRScan:   {StateSelectIRScan, StateCaptureDR},
		StateCaptureDR:      {StateExit1DR, StateShiftDR},
		StateShiftDR:        {StateExit1DR, StateShiftDR},
		StateExit1DR:        {StateUpdateDR, StatePauseDR},
		StatePauseDR:        {StateExit2DR, StatePauseDR},
		StateExit2DR:        {StateUpdateDR, StateShiftDR},
		StateUpdateDR:       {StateSelectDRScan, StateRunTestIdle},
		StateSelectIRScan:   {StateTestLogicReset, StateCaptureIR},
		StateCaptureIR:      {StateExit1IR, StateShiftIR},
		StateShiftIR:        {StateExit1IR, StateShiftIR},
		StateExit1IR:        {StateUpdateIR, StatePauseIR},
		StatePauseIR:        {StateExit2IR, StatePauseIR},
		StateExit2IR:        {StateUpdateIR, StateShiftIR},
		StateUpdateIR:       {StateSelectDRScan, StateRunTestIdle},
	}
	if len(table) != NumStates {
		t.Fatalf("table covers %d states, want %d", len(table), NumStates)
	}

	for start, want := range table {
		for i, tms := range []bool{true, false} {
			got, err := NextState(start, tms)
			if err != nil {
				t.Fatalf("NextState(%s, %v) returned error: %v", start, tms, err)
			}
			if got != want[i] {
				t.Fatalf("NextState(%s, %v) = %s, want %s", start, tms, got, want[i])
			}
		}
	}
}

func TestNextStateRejectsUndefinedState(t *testing.T) {
	_, err := NextState(State(16), true)
	var inv *taperr.ModelInvariantError
	if !errors.As(err, &inv) {
		t.Fatalf("NextState(16) error = %v, want ModelInvariantError", err)
	}
	if !taperr.IsFatal(err) {
		t.Fatalf("undefined state error must be fatal")
	}
}

func TestFiveOnesReachResetFromEveryState(t *testing.T) {
	for s := State(0); s < NumStates; s++ {
		cur := s
		for i := 0; i < 5; i++ {
			next, err := NextState(cur, true)
			if err != nil {
				t.Fatalf("NextState: %v", err)
			}
			cur = next
		}
		if cur != StateTestLogicReset {
			t.Fatalf("from %s five TMS=1 cycles reached %s", s, cur)
		}
		if next, _ := NextState(cur, true); next != StateTestLogicReset {
			t.Fatalf("Test-Logic-Reset is not idempotent under TMS=1")
		}
	}
}

func TestStateMachineReset(t *testing.T) {
	m := NewStateMachine()
	// Move out of reset to ensure Reset() actually travels back.
	m.Clock(false) // -> Run-Test/Idle
	if m.State() != StateRunTestIdle {
		t.Fatalf("State() = %s, want %s", m.State(), StateRunTestIdle)
	}

	seq := m.Reset()

	if len(seq.TMS) != 5 {
		t.Fatalf("Reset sequence length = %d, want 5", len(seq.TMS))
	}
	if want := StateTestLogicReset; m.State() != want {
		t.Fatalf("State after reset = %s, want %s", m.State(), want)
	}
	if seq.States[len(seq.States)-1] != StateTestLogicReset {
		t.Fatalf("Final sequence state = %s, want %s", seq.States[len(seq.States)-1], StateTestLogicReset)
	}
}

func TestGoToProducesExpectedPattern(t *testing.T) {
	m := NewStateMachine()
	m.Clock(false)

	path, err := m.GoTo(StateShiftIR)
	if err != nil {
		t.Fatalf("GoTo returned error: %v", err)
	}

	wantBits := []bool{true, true, false, false}
	if len(path.TMS) != len(wantBits) {
		t.Fatalf("GoTo length = %d, want %d", len(path.TMS), len(wantBits))
	}
	for i, want := range wantBits {
		if path.TMS[i] != want {
			t.Fatalf("path bit %d = %v, want %v", i, path.TMS[i], want)
		}
	}
	if m.State() != StateShiftIR {
		t.Fatalf("State() = %s, want %s", m.State(), StateShiftIR)
	}

	if _, err := m.GoTo(StateRunTestIdle); err != nil {
		t.Fatalf("GoTo RunTestIdle returned error: %v", err)
	}
	if m.State() != StateRunTestIdle {
		t.Fatalf("State() = %s, want %s", m.State(), StateRunTestIdle)
	}
}

func TestPathRejectsInvalidStates(t *testing.T) {
	if _, err := Path(State(99), StateRunTestIdle); err == nil {
		t.Fatalf("expected error for invalid start")
	}
	if _, err := Path(StateRunTestIdle, State(99)); err == nil {
		t.Fatalf("expected error for invalid target")
	}
}

func TestDomains(t *testing.T) {
	cases := map[State]Domain{
		StateTestLogicReset: DomainNone,
		StateRunTestIdle:    DomainNone,
		StateSelectDRScan:   DomainDR,
		StateUpdateDR:       DomainDR,
		StateSelectIRScan:   DomainIR,
		StateUpdateIR:       DomainIR,
	}
	for s, want := range cases {
		if got := s.Domain(); got != want {
			t.Fatalf("%s.Domain() = %s, want %s", s, got, want)
		}
	}
	if !StateShiftDR.IsShift() || !StateCaptureIR.IsCapture() || !StateUpdateIR.IsUpdate() {
		t.Fatalf("state predicates disagree with the diagram")
	}
}
