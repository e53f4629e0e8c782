// Package engine drives a TAP model cycle by cycle. A Session composes the
// controller state machine, the IR/DR model, the protocol and timing checks,
// the fault injector, the scoreboard and the performance monitor, and keeps
// every event they produce.
package engine

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/google/uuid"

	"github.com/OpenTraceLab/OpenTraceTAP/pkg/compliance"
	"github.com/OpenTraceLab/OpenTraceTAP/pkg/fault"
	"github.com/OpenTraceLab/OpenTraceTAP/pkg/perf"
	"github.com/OpenTraceLab/OpenTraceTAP/pkg/register"
	"github.com/OpenTraceLab/OpenTraceTAP/pkg/scoreboard"
	"github.com/OpenTraceLab/OpenTraceTAP/pkg/tap"
	"github.com/OpenTraceLab/OpenTraceTAP/pkg/taperr"
	"github.com/OpenTraceLab/OpenTraceTAP/pkg/timing"
)

// Cycle is the pin state presented for one TCK cycle. A nil Timing uses the
// session's nominal timing.
type Cycle struct {
	TMS    bool
	TDI    bool
	TRST   bool
	Timing *timing.Observation
}

// Output is what one cycle produced.
type Output struct {
	TDO    bool
	State  tap.State // state reported at the end of the cycle
	Events []compliance.Event
	Fault  *fault.Record
}

// Session is a single-threaded verification run over one TAP. Independent
// sessions may run in parallel.
type Session struct {
	id  uuid.UUID
	cfg Config
	log *slog.Logger

	state     tap.State
	model     *register.Model
	checker   *compliance.Checker
	validator *timing.Validator
	injector  *fault.Injector
	monitor   *perf.Monitor
	board     *scoreboard.Scoreboard

	// The golden model sees the signals before fault injection.
	golden       *register.Model
	goldenState  tap.State
	window       []bool
	goldenWindow []bool
	injected     bool

	// An injected fault that corrupted the IR stays attributable until a
	// clean IR commit or a reset; one that corrupted a data register until a
	// reset. A clean reset also closes the external window.
	taintIR      bool
	taintDR      bool
	externalMark int // injector count at the previous external check

	cycle  uint64
	scanNs float64
	events []compliance.Event
	halted error
}

// NewSession validates cfg and returns a session in Test-Logic-Reset. A nil
// cfg uses DefaultConfig. A register map the profile rejects is returned as
// a *taperr.ProtocolViolation unless protocol violations are downgraded.
func NewSession(cfg *Config) (*Session, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	c := *cfg
	c.Instructions = slices.Clone(cfg.Instructions)
	if err := c.Validate(); err != nil {
		return nil, err
	}

	model, err := register.NewModel(register.Config{
		IRWidth:      c.IRWidth,
		Instructions: c.Instructions,
		IDCode:       c.IDCode,
		HasIDCode:    c.HasIDCode,
		Bypass:       c.Bypass,
		Source:       c.Source,
		Sink:         c.Sink,

		ResetInstruction: c.ResetInstruction,
	})
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	validator, err := timing.NewValidator(c.Budget)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	injector, err := fault.NewInjector(c.Fault)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	s := &Session{
		id:          uuid.New(),
		cfg:         c,
		state:       tap.StateTestLogicReset,
		model:       model,
		checker:     compliance.NewChecker(compliance.ProfileFor(c.Standard), model, c.DisallowPartialScans),
		validator:   validator,
		injector:    injector,
		monitor:     perf.NewMonitor(c.MaxThroughput),
		board:       scoreboard.New(),
		golden:      model.Clone(),
		goldenState: tap.StateTestLogicReset,
	}
	s.log = c.Logger.With(slog.String("component", "engine"), slog.String("session", s.id.String()))

	for _, e := range s.checker.CheckRegisterMap(c.IRWidth, c.Instructions) {
		e = s.classify(e)
		if e.Fatal {
			return nil, fmt.Errorf("engine: register map: %w", &taperr.ProtocolViolation{Rule: e.Kind.String(), Cause: e.Cause})
		}
		s.events = append(s.events, e)
	}

	s.log.Info("session started",
		slog.String("standard", c.Standard.String()),
		slog.Int("ir_width", c.IRWidth),
		slog.Int("instructions", len(c.Instructions)),
		slog.String("fault_mode", c.Fault.Mode.String()))
	return s, nil
}

// ID returns the session identifier attached to every log record.
func (s *Session) ID() string { return s.id.String() }

// Config returns the validated configuration, defaults filled in.
func (s *Session) Config() Config { return s.cfg }

// State returns the controller state.
func (s *Session) State() tap.State { return s.state }

// Cycle returns the number of cycles run.
func (s *Session) Cycle() uint64 { return s.cycle }

// Instruction returns the instruction in force.
func (s *Session) Instruction() uint32 { return s.model.Instruction() }

// Model exposes the register model for inspection.
func (s *Session) Model() *register.Model { return s.model }

// Scoreboard exposes the session scoreboard so drivers can add their own
// expected/observed comparisons.
func (s *Session) Scoreboard() *scoreboard.Scoreboard { return s.board }

// CheckMasked scores a comparison made outside the session, such as a
// script's expected TDO, on the session scoreboard. A mismatch is Expected
// when a fault was injected since the previous external check, or when an
// earlier fault corrupted a register that has not been repaired since.
func (s *Session) CheckMasked(expected, observed, mask []bool, ctx scoreboard.Context) scoreboard.MatchResult {
	if s.FaultAttributable() {
		s.board.NoteInjection()
	}
	r := s.board.CheckMasked(expected, observed, mask, ctx)
	s.monitor.ObserveMatch(r.Match)
	return r
}

// FaultAttributable reports whether a discrepancy seen now can be explained
// by an injected fault, and starts a new external attribution window.
func (s *Session) FaultAttributable() bool {
	n := s.injector.Count()
	fresh := n != s.externalMark
	s.externalMark = n
	return fresh || s.taintIR || s.taintDR
}

// Injector exposes the fault injector, for Reseed between runs.
func (s *Session) Injector() *fault.Injector { return s.injector }

// Halted returns the fatal error that stopped the session, or nil.
func (s *Session) Halted() error { return s.halted }

// Metrics returns a snapshot of the performance monitor.
func (s *Session) Metrics() perf.Metrics { return s.monitor.Snapshot() }

// Events returns a copy of every event recorded so far.
func (s *Session) Events() []compliance.Event { return slices.Clone(s.events) }

// Report collects everything the session has emitted.
func (s *Session) Report() Report {
	r := Report{
		SessionID:   s.ID(),
		Standard:    s.cfg.Standard,
		Cycles:      s.cycle,
		State:       s.state,
		Instruction: s.model.Instruction(),
		Halted:      s.halted != nil,
		Events:      s.Events(),
		Metrics:     s.Metrics(),
		Mismatches:  s.board.Mismatches(),
		Faults:      s.injector.Log(),
	}
	if s.halted != nil {
		r.HaltReason = s.halted.Error()
	}
	return r
}

// Tick runs one TCK cycle. It returns a *taperr.ModelInvariantError or a
// *taperr.ProtocolViolation when the cycle is fatal; the session is then
// halted and every later call returns an error wrapping taperr.ErrHalted.
func (s *Session) Tick(c Cycle) (Output, error) {
	if s.halted != nil {
		return Output{State: s.state}, fmt.Errorf("engine: %w: %v", taperr.ErrHalted, s.halted)
	}

	nominal := s.cfg.NominalTiming
	if c.Timing != nil {
		nominal = *c.Timing
	}
	sig, rec := s.injector.Perturb(s.cycle, fault.Signals{
		TMS:      c.TMS,
		TDI:      c.TDI,
		SetupNs:  nominal.SetupNs,
		HoldNs:   nominal.HoldNs,
		PeriodNs: nominal.PeriodNs,
	})
	if rec != nil {
		s.injected = true
		s.log.Debug("fault injected", slog.Uint64("cycle", s.cycle), slog.String("fault", rec.String()))
	}

	prev := s.state
	out := Output{State: prev, Fault: rec}

	tdo, err := s.model.Advance(prev, sig.TDI)
	if err != nil {
		return out, s.halt(err)
	}
	out.TDO = tdo
	var capture *compliance.Capture
	if prev.IsCapture() {
		reg := s.model.IR()
		if prev.Domain() == tap.DomainDR {
			reg = s.model.DR()
		}
		capture = &compliance.Capture{Domain: prev.Domain(), Instruction: s.model.Instruction(), Bits: reg.Captured()}
		s.scanNs = 0
	}
	if prev.IsShift() {
		s.window = append(s.window, tdo)
	}

	next := tap.StateTestLogicReset
	if !c.TRST {
		if next, err = tap.NextState(prev, sig.TMS); err != nil {
			return out, s.halt(err)
		}
	}
	commit, err := s.model.Enter(next)
	if err != nil {
		return out, s.halt(err)
	}
	out.State = sig.Reported(next)

	events := s.checker.Check(compliance.Observation{
		Cycle:       s.cycle,
		Prev:        prev,
		Next:        out.State,
		TMS:         sig.TMS,
		TDI:         sig.TDI,
		TDO:         tdo,
		TRST:        c.TRST,
		Instruction: s.model.Instruction(),
		IRWidth:     s.cfg.IRWidth,
		DRWidth:     s.model.DR().Width(),
		Capture:     capture,
		Commit:      commit,
	})
	events = append(events, s.validator.Validate(s.cycle, timing.Observation{
		SetupNs:  sig.SetupNs,
		HoldNs:   sig.HoldNs,
		PeriodNs: sig.PeriodNs,
	})...)

	integrity, err := s.predict(c, prev, out.State, next, commit)
	if err != nil {
		return out, s.halt(err)
	}
	events = append(events, integrity...)

	violations := 0
	var fatal *compliance.Event
	for i := range events {
		if rec != nil {
			events[i].Injected = true
		}
		events[i] = s.classify(events[i])
		if events[i].Severity == compliance.SeverityError {
			violations++
		}
		if events[i].Fatal && fatal == nil {
			fatal = &events[i]
		}
		s.log.Debug("compliance event", slog.String("event", events[i].String()))
	}

	s.monitor.ObserveCycle(sig.PeriodNs)
	s.scanNs += max(sig.PeriodNs, 0)
	if commit != nil {
		s.monitor.Record(uint64(commit.Shifted), s.scanNs)
	}
	s.monitor.AddViolations(violations)

	s.events = append(s.events, events...)
	s.state = next
	s.cycle++
	out.Events = events

	if fatal != nil {
		return out, s.halt(&taperr.ProtocolViolation{Cycle: fatal.Cycle, Rule: fatal.Kind.String(), Cause: fatal.Cause})
	}
	return out, nil
}

// predict runs the golden model on the unperturbed inputs and scores the real
// model against it whenever a scan commits or the two controllers diverge.
// After any mismatch the golden model is resynchronized to the real one.
func (s *Session) predict(c Cycle, prev, reported, next tap.State, commit *register.Commit) ([]compliance.Event, error) {
	gprev := s.goldenState
	gtdo, err := s.golden.Advance(gprev, c.TDI)
	if err != nil {
		return nil, err
	}
	if gprev.IsShift() {
		s.goldenWindow = append(s.goldenWindow, gtdo)
	}
	gnext := tap.StateTestLogicReset
	if !c.TRST {
		if gnext, err = tap.NextState(gprev, c.TMS); err != nil {
			return nil, err
		}
	}
	gcommit, err := s.golden.Enter(gnext)
	if err != nil {
		return nil, err
	}
	s.goldenState = gnext

	ctx := scoreboard.Context{Cycle: s.cycle, State: next, Instruction: s.model.Instruction()}
	var results []scoreboard.MatchResult
	check := func(r func() scoreboard.MatchResult) {
		if s.injected {
			s.board.NoteInjection()
		}
		results = append(results, r())
	}
	switch {
	case gnext != next:
		ctx.Label = "controller"
		check(func() scoreboard.MatchResult { return s.board.CheckState(gnext, next, ctx) })
	case commit != nil && gcommit != nil:
		ctx.Label = commit.Domain.String() + " tdo"
		check(func() scoreboard.MatchResult { return s.board.Check(s.goldenWindow, s.window, ctx) })
		if commit.Domain == tap.DomainDR {
			ctx.Label = "dr crc"
			check(func() scoreboard.MatchResult { return s.board.CheckCRC(gcommit.Bits, commit.Bits, ctx) })
		} else {
			ctx.Label = "ir"
			check(func() scoreboard.MatchResult { return s.board.Check(gcommit.Bits, commit.Bits, ctx) })
		}
		s.window, s.goldenWindow = s.window[:0], s.goldenWindow[:0]
	default:
		if next == tap.StateTestLogicReset {
			s.window, s.goldenWindow = s.window[:0], s.goldenWindow[:0]
			if !s.injected {
				s.taintIR, s.taintDR = false, false
				s.externalMark = s.injector.Count()
			}
		}
		return nil, nil
	}
	injected := s.injected
	s.injected = false

	var events []compliance.Event
	resync, expected := false, false
	for _, r := range results {
		s.monitor.ObserveMatch(r.Match)
		if r.Match {
			continue
		}
		resync = true
		m := r.Mismatch
		expected = expected || m.Classification == scoreboard.Expected
		e := compliance.NewIntegrityEvent(s.cycle, "%s", m.String())
		e.State, e.Next, e.Instruction = prev, reported, ctx.Instruction
		e.Injected = m.Classification == scoreboard.Expected
		events = append(events, e)
	}
	switch {
	case expected && gnext != next:
		s.taintIR, s.taintDR = true, true
	case expected && commit.Domain == tap.DomainIR:
		s.taintIR = true
	case expected:
		s.taintDR = true
	case !resync && !injected && commit.Domain == tap.DomainIR:
		s.taintIR = false
	}
	if resync {
		s.golden = s.model.Clone()
		s.goldenState = next
		s.window, s.goldenWindow = s.window[:0], s.goldenWindow[:0]
	}
	return events, nil
}

// classify applies the downgrade policy to a fatal event.
func (s *Session) classify(e compliance.Event) compliance.Event {
	if e.Fatal && s.cfg.DowngradeProtocolViolations {
		e.Fatal = false
		e.Downgraded = true
	}
	return e
}

func (s *Session) halt(err error) error {
	s.halted = err
	s.log.Error("session halted", slog.Uint64("cycle", s.cycle), slog.String("state", s.state.String()), slog.Any("error", err))
	return err
}
