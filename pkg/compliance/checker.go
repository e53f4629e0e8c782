package compliance

import (
	"strings"

	"github.com/OpenTraceLab/OpenTraceTAP/pkg/bitutil"
	"github.com/OpenTraceLab/OpenTraceTAP/pkg/idcode"
	"github.com/OpenTraceLab/OpenTraceTAP/pkg/register"
	"github.com/OpenTraceLab/OpenTraceTAP/pkg/tap"
)

// RegisterMap is the view of the register model the checker needs.
// *register.Model satisfies it.
type RegisterMap interface {
	Lookup(opcode uint32) (register.Instruction, bool)
	Opcode(name string) (uint32, bool)
}

// Capture describes a parallel load observed this cycle.
type Capture struct {
	Domain      tap.Domain
	Instruction uint32
	Bits        []bool
}

// Observation is everything the checker sees of one cycle.
type Observation struct {
	Cycle uint64
	Prev  tap.State
	// Next is the state reported for the end of the cycle.
	Next tap.State
	TMS  bool
	TDI  bool
	TDO  bool
	TRST bool

	Instruction uint32
	IRWidth     int
	DRWidth     int

	Capture *Capture
	Commit  *register.Commit
}

// Checker validates cycles against one profile and register map.
type Checker struct {
	profile     Profile
	regs        RegisterMap
	partialScan Severity

	resetName   string
	resetOpcode uint32
	hasReset    bool
}

// NewChecker builds a checker. disallowPartial raises partial scans to
// error level regardless of the profile.
func NewChecker(profile Profile, regs RegisterMap, disallowPartial bool) *Checker {
	c := &Checker{profile: profile, regs: regs, partialScan: profile.PartialScan}
	if disallowPartial {
		c.partialScan = SeverityError
	}
	if regs != nil {
		for _, name := range profile.ResetInstructions {
			if op, ok := regs.Opcode(name); ok {
				c.resetName, c.resetOpcode, c.hasReset = name, op, true
				break
			}
		}
	}
	return c
}

// Profile returns the rule set in force.
func (c *Checker) Profile() Profile { return c.profile }

// CheckRegisterMap validates a declared register map against the profile
// before any cycle runs. Missing mandatory instructions are warnings;
// widths the standard fixes are errors.
func (c *Checker) CheckRegisterMap(irWidth int, instrs []register.Instruction) []Event {
	var events []Event
	p := c.profile
	if irWidth < p.MinIRWidth || irWidth > p.MaxIRWidth {
		events = append(events, newEvent(KindRegisterMap, SeverityError, 0,
			"IR width %d outside [%d,%d] for %s", irWidth, p.MinIRWidth, p.MaxIRWidth, p.Standard))
	}

	declared := make(map[string]register.Instruction, len(instrs))
	for _, instr := range instrs {
		name := strings.ToUpper(instr.Name)
		declared[name] = instr
		if want, ok := p.FixedWidths[name]; ok && instr.DRWidth != want {
			events = append(events, newEvent(KindRegisterMap, SeverityError, 0,
				"%s selects a %d-bit register, %s requires %d", name, instr.DRWidth, p.Standard, want))
		}
		if instr.DRWidth > p.MaxDRWidth {
			events = append(events, newEvent(KindRegisterMap, SeverityError, 0,
				"%s selects a %d-bit register, beyond %d", name, instr.DRWidth, p.MaxDRWidth))
		}
	}
	for _, name := range p.Mandatory {
		if _, ok := declared[name]; !ok {
			events = append(events, newEvent(KindRegisterMap, SeverityWarning, 0,
				"mandatory instruction %s not declared for %s", name, p.Standard))
		}
	}
	if bypass, ok := declared["BYPASS"]; ok && p.AllOnesBypass && bypass.Opcode != bitutil.Mask(irWidth) {
		events = append(events, newEvent(KindRegisterMap, SeverityError, 0,
			"BYPASS opcode %#x is not all ones for a %d-bit IR", bypass.Opcode, irWidth))
	}
	return events
}

// Check evaluates one cycle and returns the events it raises, possibly none.
func (c *Checker) Check(obs Observation) []Event {
	var events []Event
	add := func(e Event) { events = append(events, c.stamp(e, obs)) }

	expected := tap.StateTestLogicReset
	if !obs.TRST {
		next, err := tap.NextState(obs.Prev, obs.TMS)
		if err != nil {
			add(newEvent(KindIllegalTransition, SeverityError, obs.Cycle, "%v", err))
			return events
		}
		expected = next
	}
	if obs.Next != expected {
		add(newEvent(KindIllegalTransition, SeverityError, obs.Cycle,
			"%s with TMS=%d reported %s, table gives %s", obs.Prev, b2i(obs.TMS), obs.Next, expected))
	}

	if !bitutil.IsValidInstruction(obs.Instruction, obs.IRWidth) {
		add(newEvent(KindInvalidInstruction, SeverityError, obs.Cycle,
			"instruction %#x does not fit a %d-bit IR", obs.Instruction, obs.IRWidth))
	}
	if !bitutil.IsValidDataLength(obs.DRWidth) || obs.DRWidth > c.profile.MaxDRWidth {
		add(newEvent(KindInvalidDataLength, SeverityError, obs.Cycle,
			"data register width %d outside [%d,%d]", obs.DRWidth, bitutil.DRWidthMin, c.profile.MaxDRWidth))
	}

	// The required instruction comes from the profile, so a design that
	// resets to the wrong instruction is flagged too.
	if obs.Next == tap.StateTestLogicReset && c.hasReset && obs.Instruction != c.resetOpcode {
		add(newEvent(KindResetIntegrity, SeverityError, obs.Cycle,
			"IR holds %#x in Test-Logic-Reset, %s requires %s (%#x)",
			obs.Instruction, c.profile.Standard, c.resetName, c.resetOpcode))
	}

	if obs.Commit != nil {
		events = append(events, c.checkCommit(obs)...)
	}
	if obs.Capture != nil {
		events = append(events, c.checkCapture(obs)...)
	}
	return events
}

func (c *Checker) checkCommit(obs Observation) []Event {
	var events []Event
	commit := obs.Commit
	if commit.Partial() {
		e := newEvent(KindPartialScan, c.partialScan, obs.Cycle,
			"%s scan committed after %d of %d bits", commit.Domain, commit.Shifted, commit.Width)
		events = append(events, c.stamp(e, obs))
	}
	if commit.Domain == tap.DomainIR && c.regs != nil {
		opcode := bitutil.BitsToUint32(commit.Bits)
		if _, ok := c.regs.Lookup(opcode); !ok {
			e := newEvent(KindUnknownInstruction, SeverityWarning, obs.Cycle,
				"opcode %#x is not declared, BYPASS selected", opcode)
			events = append(events, c.stamp(e, obs))
		}
	}
	return events
}

func (c *Checker) checkCapture(obs Observation) []Event {
	capture := obs.Capture
	if capture.Domain == tap.DomainIR {
		// IEEE 1149.1 fixes the two least significant captured IR bits at 01.
		if len(capture.Bits) >= 2 && (!capture.Bits[0] || capture.Bits[1]) {
			e := newEvent(KindInvalidInstruction, SeverityWarning, obs.Cycle,
				"IR captured %s, the two low bits must read 01", bitutil.FormatBits(capture.Bits))
			return []Event{c.stamp(e, obs)}
		}
		return nil
	}
	if c.regs == nil {
		return nil
	}
	instr, ok := c.regs.Lookup(capture.Instruction)
	if !ok || !strings.EqualFold(instr.Name, "IDCODE") || len(capture.Bits) != 32 {
		return nil
	}
	if err := idcode.Validate(bitutil.BitsToUint32(capture.Bits)); err != nil {
		e := newEvent(KindIDCode, SeverityWarning, obs.Cycle, "%v", err)
		return []Event{c.stamp(e, obs)}
	}
	return nil
}

func (c *Checker) stamp(e Event, obs Observation) Event {
	e.State, e.Next = obs.Prev, obs.Next
	e.TMS, e.TDI, e.TDO = obs.TMS, obs.TDI, obs.TDO
	e.Instruction = obs.Instruction
	return e
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}
