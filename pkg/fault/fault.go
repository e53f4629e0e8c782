// Package fault perturbs TAP pin signals to exercise the checker and
// scoreboard with known-bad traffic. Injection is deterministic for a seed.
package fault

import (
	"fmt"
	"math/rand/v2"
	"slices"
	"strings"

	"github.com/OpenTraceLab/OpenTraceTAP/pkg/tap"
)

// Mode selects when faults fire.
type Mode uint8

const (
	ModeDisabled Mode = iota
	ModeRandom
	ModeSystematic
)

func (m Mode) String() string {
	switch m {
	case ModeDisabled:
		return "disabled"
	case ModeRandom:
		return "random"
	case ModeSystematic:
		return "systematic"
	default:
		return fmt.Sprintf("Mode(%d)", m)
	}
}

// ParseMode accepts the names printed by Mode.String.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "disabled", "off", "none":
		return ModeDisabled, nil
	case "random":
		return ModeRandom, nil
	case "systematic":
		return ModeSystematic, nil
	}
	return ModeDisabled, fmt.Errorf("fault: unknown mode %q", s)
}

// Class is the kind of perturbation applied.
type Class uint8

const (
	ClassBitFlip Class = iota
	ClassBurst
	ClassTimingViolation
	ClassProtocolViolation
	ClassStateMachineViolation
)

// AllClasses is the random-mode pool used when Spec.Classes is empty.
var AllClasses = []Class{
	ClassBitFlip,
	ClassBurst,
	ClassTimingViolation,
	ClassProtocolViolation,
	ClassStateMachineViolation,
}

var classNames = map[Class]string{
	ClassBitFlip:               "bit-flip",
	ClassBurst:                 "burst",
	ClassTimingViolation:       "timing",
	ClassProtocolViolation:     "protocol",
	ClassStateMachineViolation: "state-machine",
}

func (c Class) String() string {
	if name, ok := classNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Class(%d)", c)
}

// ParseClass accepts the names printed by Class.String.
func ParseClass(s string) (Class, error) {
	want := strings.ToLower(strings.TrimSpace(s))
	for c, name := range classNames {
		if name == want {
			return c, nil
		}
	}
	return 0, fmt.Errorf("fault: unknown class %q", s)
}

// Spec configures an injector.
type Spec struct {
	Mode Mode
	// Rate is the per-cycle injection probability in percent (random mode).
	Rate float64
	// Class is injected by systematic mode.
	Class Class
	// Classes is the random-mode pool; empty means AllClasses.
	Classes []Class
	// Every fires on cycles Every-1, 2*Every-1, ... (systematic mode, 0 = off).
	Every uint64
	// Locations are absolute cycles that fire (systematic mode).
	Locations []uint64
	// BurstLength is the number of consecutive TDI flips of a Burst.
	BurstLength int
	Seed        uint64
}

// DefaultBurstLength is used when Spec.BurstLength is zero.
const DefaultBurstLength = 4

// Validate checks the spec for the selected mode.
func (s Spec) Validate() error {
	if s.Rate < 0 || s.Rate > 100 {
		return fmt.Errorf("fault: rate %.2f%% outside [0,100]", s.Rate)
	}
	if s.BurstLength < 0 {
		return fmt.Errorf("fault: negative burst length %d", s.BurstLength)
	}
	if _, ok := classNames[s.Class]; !ok {
		return fmt.Errorf("fault: unknown class %d", s.Class)
	}
	for _, c := range s.Classes {
		if _, ok := classNames[c]; !ok {
			return fmt.Errorf("fault: unknown class %d in pool", c)
		}
	}
	switch s.Mode {
	case ModeDisabled, ModeRandom:
	case ModeSystematic:
		if s.Every == 0 && len(s.Locations) == 0 {
			return fmt.Errorf("fault: systematic mode needs a period or locations")
		}
	default:
		return fmt.Errorf("fault: unknown mode %d", s.Mode)
	}
	return nil
}

// Signals are the per-cycle inputs the injector may alter.
type Signals struct {
	TMS      bool
	TDI      bool
	SetupNs  float64
	HoldNs   float64
	PeriodNs float64
	// ForceState asks the session to report State instead of the state the
	// controller actually reached.
	ForceState bool
	State      tap.State
}

// Reported returns the state to report for a cycle whose controller reached
// actual. A forced state equal to actual is moved on by one so the report
// always disagrees.
func (s Signals) Reported(actual tap.State) tap.State {
	if !s.ForceState {
		return actual
	}
	if s.State == actual {
		return (actual + 1) % tap.NumStates
	}
	return s.State
}

// Record is one entry of the injection log.
type Record struct {
	Cycle  uint64
	Class  Class
	Detail string
}

func (r Record) String() string {
	return fmt.Sprintf("cycle %d %s: %s", r.Cycle, r.Class, r.Detail)
}

// Injector applies a Spec cycle by cycle.
type Injector struct {
	spec      Spec
	rng       *rand.Rand
	locations map[uint64]struct{}
	burstLeft int
	burstLen  int
	log       []Record
}

// NewInjector validates spec and seeds the generator.
func NewInjector(spec Spec) (*Injector, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	inj := &Injector{spec: spec, locations: make(map[uint64]struct{}, len(spec.Locations))}
	inj.spec.Classes = slices.Clone(spec.Classes)
	inj.spec.Locations = slices.Clone(spec.Locations)
	for _, loc := range spec.Locations {
		inj.locations[loc] = struct{}{}
	}
	inj.seed(spec.Seed)
	return inj, nil
}

func (i *Injector) seed(seed uint64) {
	i.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	i.burstLeft = 0
}

// Spec returns a copy of the active spec.
func (i *Injector) Spec() Spec {
	s := i.spec
	s.Classes = slices.Clone(s.Classes)
	s.Locations = slices.Clone(s.Locations)
	return s
}

// Enabled reports whether the injector can fire at all.
func (i *Injector) Enabled() bool { return i.spec.Mode != ModeDisabled }

// Reseed changes the random rate and seed between runs. It cancels any burst
// in progress; the log is kept.
func (i *Injector) Reseed(rate float64, seed uint64) error {
	next := i.spec
	next.Rate = rate
	next.Seed = seed
	if err := next.Validate(); err != nil {
		return err
	}
	i.spec = next
	i.seed(seed)
	return nil
}

// Log returns a copy of every injection so far.
func (i *Injector) Log() []Record { return slices.Clone(i.log) }

// Count returns the number of injections so far.
func (i *Injector) Count() int { return len(i.log) }

// Perturb returns the signals to apply for cycle and the injection record,
// or the input unchanged and nil when nothing fires. A fault triggered while
// a burst is in progress is applied on top of the burst and logged too; the
// returned record is then the triggered one.
func (i *Injector) Perturb(cycle uint64, in Signals) (Signals, *Record) {
	if i.spec.Mode == ModeDisabled {
		return in, nil
	}
	if i.burstLeft == 0 {
		class, fire := i.trigger(cycle)
		if !fire {
			return in, nil
		}
		return i.apply(cycle, class, in)
	}

	i.burstLeft--
	out := in
	out.TDI = !in.TDI
	rec := i.record(cycle, ClassBurst, "burst bit %d/%d: tdi %d->%d",
		i.burstLen-i.burstLeft, i.burstLen, b2i(in.TDI), b2i(out.TDI))
	class, fire := i.trigger(cycle)
	if !fire {
		return out, rec
	}
	switch class {
	case ClassBitFlip:
		return out, i.record(cycle, class, "merged into burst: tdi %d->%d", b2i(in.TDI), b2i(out.TDI))
	case ClassBurst:
		i.burstLen = i.burstLength()
		i.burstLeft = i.burstLen - 1
		return out, i.record(cycle, class, "burst bit 1/%d (restarted): tdi %d->%d", i.burstLen, b2i(in.TDI), b2i(out.TDI))
	}
	return i.apply(cycle, class, out)
}

func (i *Injector) burstLength() int {
	if i.spec.BurstLength == 0 {
		return DefaultBurstLength
	}
	return i.spec.BurstLength
}

func (i *Injector) trigger(cycle uint64) (Class, bool) {
	switch i.spec.Mode {
	case ModeSystematic:
		_, at := i.locations[cycle]
		periodic := i.spec.Every > 0 && (cycle+1)%i.spec.Every == 0
		return i.spec.Class, at || periodic
	case ModeRandom:
		if i.rng.Float64()*100 >= i.spec.Rate {
			return 0, false
		}
		pool := i.spec.Classes
		if len(pool) == 0 {
			pool = AllClasses
		}
		return pool[i.rng.IntN(len(pool))], true
	}
	return 0, false
}

func (i *Injector) apply(cycle uint64, class Class, in Signals) (Signals, *Record) {
	out := in
	switch class {
	case ClassBitFlip:
		out.TDI = !in.TDI
		return out, i.record(cycle, class, "tdi %d->%d", b2i(in.TDI), b2i(out.TDI))
	case ClassBurst:
		n := i.burstLength()
		i.burstLen = n
		i.burstLeft = n - 1
		out.TDI = !in.TDI
		return out, i.record(cycle, class, "burst bit 1/%d: tdi %d->%d", n, b2i(in.TDI), b2i(out.TDI))
	case ClassTimingViolation:
		out.SetupNs = 0
		out.HoldNs = 0
		return out, i.record(cycle, class, "setup %.2fns hold %.2fns -> 0ns", in.SetupNs, in.HoldNs)
	case ClassProtocolViolation:
		out.TMS = !in.TMS
		return out, i.record(cycle, class, "tms %d->%d", b2i(in.TMS), b2i(out.TMS))
	case ClassStateMachineViolation:
		out.ForceState = true
		out.State = tap.State(i.rng.IntN(tap.NumStates))
		return out, i.record(cycle, class, "reported state forced to %s", out.State)
	}
	return in, nil
}

func (i *Injector) record(cycle uint64, class Class, format string, args ...any) *Record {
	i.log = append(i.log, Record{Cycle: cycle, Class: class, Detail: fmt.Sprintf(format, args...)})
	r := i.log[len(i.log)-1]
	return &r
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}
