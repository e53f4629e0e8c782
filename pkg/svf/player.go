package svf

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/pkg/errors"

	"github.com/OpenTraceLab/OpenTraceTAP/pkg/bitutil"
	"github.com/OpenTraceLab/OpenTraceTAP/pkg/jtag"
	"github.com/OpenTraceLab/OpenTraceTAP/pkg/scoreboard"
	"github.com/OpenTraceLab/OpenTraceTAP/pkg/tap"
)

var (
	// ErrCycleLimit is returned when a script runs past Options.MaxCycles.
	ErrCycleLimit = errors.New("svf: cycle limit reached")
	// ErrTDOMismatch is returned on an unexpected TDO mismatch when
	// Options.StopOnMismatch is set.
	ErrTDOMismatch = errors.New("svf: TDO mismatch")
)

var stateNames = map[string]tap.State{
	"RESET":     tap.StateTestLogicReset,
	"IDLE":      tap.StateRunTestIdle,
	"DRSELECT":  tap.StateSelectDRScan,
	"DRCAPTURE": tap.StateCaptureDR,
	"DRSHIFT":   tap.StateShiftDR,
	"DREXIT1":   tap.StateExit1DR,
	"DRPAUSE":   tap.StatePauseDR,
	"DREXIT2":   tap.StateExit2DR,
	"DRUPDATE":  tap.StateUpdateDR,
	"IRSELECT":  tap.StateSelectIRScan,
	"IRCAPTURE": tap.StateCaptureIR,
	"IRSHIFT":   tap.StateShiftIR,
	"IREXIT1":   tap.StateExit1IR,
	"IRPAUSE":   tap.StatePauseIR,
	"IREXIT2":   tap.StateExit2IR,
	"IRUPDATE":  tap.StateUpdateIR,
}

// ParseState maps an SVF state name to a controller state.
func ParseState(name string) (tap.State, error) {
	s, ok := stateNames[strings.ToUpper(name)]
	if !ok {
		return 0, errors.Errorf("svf: unknown state %q", name)
	}
	return s, nil
}

// Options tune a Player.
type Options struct {
	MaxCycles      uint64 // 0 = unlimited
	StopOnMismatch bool   // return ErrTDOMismatch on the first unexpected mismatch
	Logger         *slog.Logger
}

// Result summarizes one script run.
type Result struct {
	Commands   int
	Cycles     uint64
	Checks     int
	Mismatches []scoreboard.Mismatch
}

// Unexpected returns the TDO mismatches not attributed to injected faults.
func (r Result) Unexpected() []scoreboard.Mismatch {
	var out []scoreboard.Mismatch
	for _, m := range r.Mismatches {
		if m.Classification == scoreboard.Unexpected {
			out = append(out, m)
		}
	}
	return out
}

// scanParams are the operands SVF carries over between scans of the same
// kind.
type scanParams struct {
	length int
	tdi    []bool
	mask   []bool
	smask  []bool
}

// Player runs scripts against a session adapter. A Player keeps the sticky
// SVF state (scan operands, end states, run state, frequency) across Run
// calls.
type Player struct {
	adapter *jtag.SessionAdapter
	opts    Options
	log     *slog.Logger

	ir, dr   scanParams
	runState tap.State
	runEnd   tap.State
	hz       float64
}

// NewPlayer returns a player driving a.
func NewPlayer(a *jtag.SessionAdapter, opts Options) *Player {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Player{
		adapter:  a,
		opts:     opts,
		log:      log.With(slog.String("component", "svf")),
		runState: tap.StateRunTestIdle,
		runEnd:   tap.StateRunTestIdle,
	}
}

// Run plays script. It stops at the first error, when ctx is done, or when
// MaxCycles is exceeded; the result covers the commands completed so far.
func (p *Player) Run(ctx context.Context, script *Script) (res Result, err error) {
	session := p.adapter.Session()
	start := session.Cycle()
	defer func() { res.Cycles = session.Cycle() - start }()

	for _, cmd := range script.Commands {
		if cerr := ctx.Err(); cerr != nil {
			return res, errors.Wrap(cerr, "svf: run cancelled")
		}
		if p.opts.MaxCycles > 0 && session.Cycle()-start >= p.opts.MaxCycles {
			return res, errors.Wrapf(ErrCycleLimit, "svf: %s after %d cycles", cmd.Pos, p.opts.MaxCycles)
		}
		if err = p.exec(cmd, &res); err != nil {
			return res, errors.Wrapf(err, "svf: %s", cmd.Pos)
		}
		res.Commands++
	}
	p.log.Debug("script done",
		slog.Int("commands", res.Commands),
		slog.Int("checks", res.Checks),
		slog.Int("mismatches", len(res.Mismatches)))
	return res, nil
}

func (p *Player) exec(cmd *Command, res *Result) error {
	switch {
	case cmd.Scan != nil:
		return p.scan(cmd.Scan, cmd.Pos.Line, res)
	case cmd.RunTest != nil:
		return p.runTest(cmd.RunTest)
	case cmd.State != nil:
		return p.statePath(cmd.State.States)
	case cmd.EndState != nil:
		return p.endState(cmd.EndState)
	case cmd.Frequency != nil:
		return p.frequency(cmd.Frequency)
	case cmd.TRST != nil:
		// ON pulses TRST for one cycle; the other modes release it.
		if strings.EqualFold(cmd.TRST.Mode, "ON") {
			return p.adapter.ResetTAP(true)
		}
		return nil
	}
	return errors.New("empty command")
}

func (p *Player) scan(s *Scan, line int, res *Result) error {
	kind := strings.ToUpper(s.Kind)
	if s.Length < 0 {
		return errors.Errorf("%s length %d is negative", kind, s.Length)
	}
	var params *scanParams
	switch kind {
	case "SIR":
		params = &p.ir
	case "SDR":
		params = &p.dr
	default:
		if s.Length != 0 {
			return errors.Errorf("%s %d: only single-device chains are supported", kind, s.Length)
		}
		return nil
	}
	if s.Length == 0 {
		return nil
	}

	if err := params.update(s); err != nil {
		return errors.Wrap(err, kind)
	}

	shift := p.adapter.ShiftDR
	state := tap.StateShiftDR
	if kind == "SIR" {
		shift = p.adapter.ShiftIR
		state = tap.StateShiftIR
	}
	session := p.adapter.Session()
	instr := session.Instruction()
	raw, err := shift(nil, bitutil.BoolsToBytes(params.tdi), s.Length)
	if err != nil {
		return err
	}

	hex, ok := s.Field("TDO")
	if !ok {
		return nil
	}
	expected, err := decodeHex(hex, s.Length)
	if err != nil {
		return errors.Wrap(err, kind+" TDO")
	}
	observed := bitutil.BytesToBools(raw, s.Length)
	res.Checks++
	r := session.CheckMasked(expected, observed, params.mask, scoreboard.Context{
		Cycle:       session.Cycle(),
		State:       state,
		Instruction: instr,
		Label:       fmt.Sprintf("%s line %d", kind, line),
	})
	if r.Match {
		return nil
	}
	res.Mismatches = append(res.Mismatches, *r.Mismatch)
	p.log.Info("TDO mismatch", slog.String("mismatch", r.Mismatch.String()))
	if p.opts.StopOnMismatch && r.Mismatch.Classification == scoreboard.Unexpected {
		return errors.Wrap(ErrTDOMismatch, r.Mismatch.String())
	}
	return nil
}

// update applies the operands of s. TDI is required when the length
// changes; MASK and SMASK fall back to all ones then.
func (sp *scanParams) update(s *Scan) error {
	n := s.Length
	if n != sp.length {
		if _, ok := s.Field("TDI"); !ok {
			return errors.Errorf("length changed to %d without TDI", n)
		}
		sp.length = n
		sp.mask = ones(n)
		sp.smask = ones(n)
	}
	for _, f := range []struct {
		name string
		dst  *[]bool
	}{{"TDI", &sp.tdi}, {"MASK", &sp.mask}, {"SMASK", &sp.smask}} {
		hex, ok := s.Field(f.name)
		if !ok {
			continue
		}
		bits, err := decodeHex(hex, n)
		if err != nil {
			return errors.Wrap(err, f.name)
		}
		*f.dst = bits
	}
	return nil
}

func (p *Player) runTest(rt *RunTest) error {
	if rt.RunState != "" {
		s, err := p.stableState(rt.RunState)
		if err != nil {
			return err
		}
		p.runState = s
		p.runEnd = s
	}
	if rt.EndState != "" {
		s, err := p.stableState(rt.EndState)
		if err != nil {
			return err
		}
		p.runEnd = s
	}

	var cycles int
	switch strings.ToUpper(rt.Unit) {
	case "TCK":
		cycles = int(rt.Count)
		if rt.MinTime != nil {
			cycles = max(cycles, p.cyclesFor(*rt.MinTime))
		}
	case "SEC":
		cycles = p.cyclesFor(rt.Count)
	default:
		return errors.Errorf("RUNTEST %s: no system clock is modelled", rt.Unit)
	}

	if err := p.adapter.GoTo(p.runState); err != nil {
		return err
	}
	if err := p.adapter.RunTest(cycles); err != nil {
		return err
	}
	return p.adapter.GoTo(p.runEnd)
}

// cyclesFor converts seconds to TCK cycles at the current frequency.
func (p *Player) cyclesFor(sec float64) int {
	hz := p.hz
	if hz == 0 {
		hz = 1e9 / p.adapter.Session().Config().NominalTiming.PeriodNs
	}
	return int(math.Ceil(sec * hz))
}

func (p *Player) statePath(names []string) error {
	for i, name := range names {
		s, err := ParseState(name)
		if err != nil {
			return err
		}
		if i == len(names)-1 && !s.IsStable() {
			return errors.Errorf("STATE must end in a stable state, got %s", s)
		}
		if err := p.adapter.GoTo(s); err != nil {
			return err
		}
	}
	return nil
}

func (p *Player) endState(e *EndState) error {
	s, err := p.stableState(e.State)
	if err != nil {
		return err
	}
	if strings.EqualFold(e.Kind, "ENDIR") {
		p.adapter.EndIR = s
	} else {
		p.adapter.EndDR = s
	}
	return nil
}

func (p *Player) frequency(f *Frequency) error {
	if f.Hz == nil {
		p.hz = 0
		p.adapter.SetTiming(p.adapter.Session().Config().NominalTiming)
		return nil
	}
	if *f.Hz < 1 {
		return errors.Errorf("FREQUENCY %g HZ is not positive", *f.Hz)
	}
	p.hz = *f.Hz
	return p.adapter.SetSpeed(int(*f.Hz))
}

// stableState parses name and requires a state a scan or idle may end in.
func (p *Player) stableState(name string) (tap.State, error) {
	s, err := ParseState(name)
	if err != nil {
		return 0, err
	}
	if !s.IsStable() || s.IsShift() {
		return 0, errors.Errorf("%s is not a valid end state", s)
	}
	return s, nil
}

func ones(n int) []bool {
	b := make([]bool, n)
	for i := range b {
		b[i] = true
	}
	return b
}
