// Package timing validates per-cycle TCK period, setup and hold figures
// against a session budget.
package timing

import (
	"fmt"
	"strings"

	"github.com/OpenTraceLab/OpenTraceTAP/pkg/bitutil"
	"github.com/OpenTraceLab/OpenTraceTAP/pkg/compliance"
)

// Budget bounds the timing of every cycle in a session. All values are in
// nanoseconds.
type Budget struct {
	SetupMinNs  float64
	HoldMinNs   float64
	PeriodMinNs float64
	PeriodMaxNs float64
}

// DefaultBudget is the IEEE envelope: 1ns setup and hold, 10ns–1000ns TCK.
func DefaultBudget() Budget {
	return Budget{
		SetupMinNs:  bitutil.SetupMinNs,
		HoldMinNs:   bitutil.HoldMinNs,
		PeriodMinNs: bitutil.TCKPeriodMinNs,
		PeriodMaxNs: bitutil.TCKPeriodMaxNs,
	}
}

// Validate checks that the budget is self-consistent and lies inside the
// 10ns–1000ns (1MHz–100MHz) TCK range.
func (b Budget) Validate() error {
	if b.SetupMinNs <= 0 || b.HoldMinNs <= 0 {
		return fmt.Errorf("timing: setup and hold minimums must be positive, got %.2fns/%.2fns", b.SetupMinNs, b.HoldMinNs)
	}
	if b.PeriodMinNs < bitutil.TCKPeriodMinNs || b.PeriodMaxNs > bitutil.TCKPeriodMaxNs {
		return fmt.Errorf("timing: TCK period range [%.1f,%.1f]ns outside [%.0f,%.0f]ns",
			b.PeriodMinNs, b.PeriodMaxNs, bitutil.TCKPeriodMinNs, bitutil.TCKPeriodMaxNs)
	}
	if b.PeriodMinNs > b.PeriodMaxNs {
		return fmt.Errorf("timing: TCK period minimum %.1fns exceeds maximum %.1fns", b.PeriodMinNs, b.PeriodMaxNs)
	}
	if b.SetupMinNs+b.HoldMinNs > b.PeriodMinNs {
		return fmt.Errorf("timing: setup+hold %.1fns does not fit the shortest period %.1fns", b.SetupMinNs+b.HoldMinNs, b.PeriodMinNs)
	}
	return nil
}

// Observation is the timing measured (or synthesized) for one cycle.
type Observation struct {
	SetupNs  float64
	HoldNs   float64
	PeriodNs float64
}

// FromFrequency returns a nominal observation for a TCK frequency, with setup
// and hold at a quarter period each.
func FromFrequency(hz int) Observation {
	if hz <= 0 {
		return Observation{}
	}
	period := 1e9 / float64(hz)
	return Observation{SetupNs: period / 4, HoldNs: period / 4, PeriodNs: period}
}

// Validator checks cycles against an immutable budget.
type Validator struct {
	budget Budget
}

// NewValidator validates b and freezes it for the session.
func NewValidator(b Budget) (*Validator, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return &Validator{budget: b}, nil
}

// Budget returns the frozen budget.
func (v *Validator) Budget() Budget { return v.budget }

// Check reports whether the cycle meets the budget.
func (v *Validator) Check(setupNs, holdNs, periodNs float64) bool {
	b := v.budget
	return setupNs >= b.SetupMinNs &&
		holdNs >= b.HoldMinNs &&
		periodNs >= b.PeriodMinNs &&
		periodNs <= b.PeriodMaxNs
}

// Validate returns at most one non-fatal TimingViolation event for the
// cycle, naming every parameter out of bounds.
func (v *Validator) Validate(cycle uint64, obs Observation) []compliance.Event {
	if v.Check(obs.SetupNs, obs.HoldNs, obs.PeriodNs) {
		return nil
	}
	b := v.budget
	var causes []string
	if obs.SetupNs < b.SetupMinNs {
		causes = append(causes, fmt.Sprintf("setup %.2fns < %.2fns", obs.SetupNs, b.SetupMinNs))
	}
	if obs.HoldNs < b.HoldMinNs {
		causes = append(causes, fmt.Sprintf("hold %.2fns < %.2fns", obs.HoldNs, b.HoldMinNs))
	}
	if obs.PeriodNs < b.PeriodMinNs || obs.PeriodNs > b.PeriodMaxNs {
		causes = append(causes, fmt.Sprintf("period %.2fns outside [%.1f,%.1f]ns", obs.PeriodNs, b.PeriodMinNs, b.PeriodMaxNs))
	}
	return []compliance.Event{compliance.NewTimingEvent(cycle, "%s", strings.Join(causes, "; "))}
}
