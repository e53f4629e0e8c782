package jtag

import (
	"fmt"

	"github.com/OpenTraceLab/OpenTraceTAP/pkg/bitutil"
	"github.com/OpenTraceLab/OpenTraceTAP/pkg/engine"
	"github.com/OpenTraceLab/OpenTraceTAP/pkg/tap"
	"github.com/OpenTraceLab/OpenTraceTAP/pkg/timing"
)

// SessionAdapter implements Adapter by clocking an engine.Session one TCK
// cycle per bit. It is not safe for concurrent use.
type SessionAdapter struct {
	session *engine.Session
	timing  *timing.Observation

	// EndIR and EndDR are the stable states a shift finishes in
	// (default Run-Test/Idle).
	EndIR tap.State
	EndDR tap.State
}

var _ Adapter = (*SessionAdapter)(nil)

// NewSessionAdapter wraps s. Cycles use the session's nominal timing until
// SetSpeed is called.
func NewSessionAdapter(s *engine.Session) *SessionAdapter {
	return &SessionAdapter{session: s, EndIR: tap.StateRunTestIdle, EndDR: tap.StateRunTestIdle}
}

// Session returns the wrapped session.
func (a *SessionAdapter) Session() *engine.Session { return a.session }

// State returns the controller state of the session.
func (a *SessionAdapter) State() tap.State { return a.session.State() }

func (a *SessionAdapter) Info() (AdapterInfo, error) {
	cfg := a.session.Config()
	return AdapterInfo{
		Name:         "session",
		Model:        "IEEE " + cfg.Standard.String() + " TAP model",
		Session:      a.session.ID(),
		Standard:     cfg.Standard,
		IRWidth:      cfg.IRWidth,
		MinFrequency: int(1e9 / cfg.Budget.PeriodMaxNs),
		MaxFrequency: int(1e9 / cfg.Budget.PeriodMinNs),
		SupportsTRST: true,
	}, nil
}

// SetSpeed sets the TCK frequency of subsequent cycles, with setup and hold
// at a quarter period. Frequencies outside the session budget are accepted;
// the session reports them as timing violations.
func (a *SessionAdapter) SetSpeed(hz int) error {
	if hz <= 0 {
		return fmt.Errorf("jtag: speed must be positive, got %d", hz)
	}
	obs := timing.FromFrequency(hz)
	a.timing = &obs
	return nil
}

// SetTiming overrides the per-cycle timing directly.
func (a *SessionAdapter) SetTiming(obs timing.Observation) {
	a.timing = &obs
}

// ResetTAP pulses TRST for one cycle when hard is set, otherwise clocks five
// cycles of TMS=1.
func (a *SessionAdapter) ResetTAP(hard bool) error {
	if hard {
		_, err := a.Clock(engine.Cycle{TRST: true})
		return err
	}
	for i := 0; i < 5; i++ {
		if _, err := a.Clock(engine.Cycle{TMS: true}); err != nil {
			return err
		}
	}
	return nil
}

// Clock runs one cycle, filling in the adapter timing.
func (a *SessionAdapter) Clock(c engine.Cycle) (engine.Output, error) {
	if c.Timing == nil {
		c.Timing = a.timing
	}
	out, err := a.session.Tick(c)
	if err != nil {
		return out, fmt.Errorf("jtag: cycle %d: %w", a.session.Cycle(), err)
	}
	return out, nil
}

// GoTo clocks the shortest TMS path to target.
func (a *SessionAdapter) GoTo(target tap.State) error {
	path, err := tap.Path(a.session.State(), target)
	if err != nil {
		return fmt.Errorf("jtag: %w", err)
	}
	for _, tms := range path.TMS {
		if _, err := a.Clock(engine.Cycle{TMS: tms}); err != nil {
			return err
		}
	}
	return nil
}

// RunTest holds TMS low for n cycles in the current state.
func (a *SessionAdapter) RunTest(n int) error {
	for i := 0; i < n; i++ {
		if _, err := a.Clock(engine.Cycle{}); err != nil {
			return err
		}
	}
	return nil
}

func (a *SessionAdapter) ShiftIR(tms, tdi []byte, bits int) ([]byte, error) {
	return a.shift(tap.StateShiftIR, a.EndIR, tms, tdi, bits)
}

func (a *SessionAdapter) ShiftDR(tms, tdi []byte, bits int) ([]byte, error) {
	return a.shift(tap.StateShiftDR, a.EndDR, tms, tdi, bits)
}

// shift moves to the shift state, clocks bits cycles and settles in end. An
// empty tms buffer raises TMS on the last bit only; a supplied one is driven
// as given.
func (a *SessionAdapter) shift(shift, end tap.State, tms, tdi []byte, bits int) ([]byte, error) {
	if _, err := ValidateShiftBuffers(tms, tdi, bits); err != nil {
		return nil, err
	}
	if err := a.GoTo(shift); err != nil {
		return nil, err
	}
	tmsBits := bitutil.BytesToBools(tms, bits)
	if len(tms) == 0 {
		tmsBits[bits-1] = true
	}
	tdiBits := bitutil.BytesToBools(tdi, bits)
	tdo := make([]bool, bits)
	for i := 0; i < bits; i++ {
		out, err := a.Clock(engine.Cycle{TMS: tmsBits[i], TDI: tdiBits[i]})
		if err != nil {
			return nil, err
		}
		tdo[i] = out.TDO
	}
	if err := a.GoTo(end); err != nil {
		return nil, err
	}
	return bitutil.BoolsToBytes(tdo), nil
}
