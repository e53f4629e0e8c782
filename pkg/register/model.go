// Package register models the TAP instruction and data registers and the
// capture/shift/update behaviour the controller states drive on them.
package register

import (
	"fmt"
	"strings"

	"github.com/OpenTraceLab/OpenTraceTAP/pkg/bitutil"
	"github.com/OpenTraceLab/OpenTraceTAP/pkg/tap"
	"github.com/OpenTraceLab/OpenTraceTAP/pkg/taperr"
)

// BypassPolicy selects what TDO shows outside the shift states.
type BypassPolicy uint8

const (
	// PassThrough mirrors TDI on TDO.
	PassThrough BypassPolicy = iota
	// HoldLast keeps the last bit shifted out.
	HoldLast
)

func (p BypassPolicy) String() string {
	if p == HoldLast {
		return "hold-last"
	}
	return "pass-through"
}

// Instruction declares one opcode and the width of the data register it
// selects.
type Instruction struct {
	Name    string
	Opcode  uint32
	DRWidth int
}

// CaptureSource is the design-under-test side of a capture. It returns the
// width-bit snapshot (LSB first) loaded at Capture-IR or Capture-DR, or nil to
// fall back to the IEEE default for that register.
type CaptureSource interface {
	Capture(domain tap.Domain, instruction uint32, width int) []bool
}

// Peeker is a CaptureSource whose Capture acts on the design. Peek returns
// the same snapshot without acting on it.
type Peeker interface {
	CaptureSource
	Peek(domain tap.Domain, instruction uint32, width int) []bool
}

// CaptureFunc adapts a function to CaptureSource.
type CaptureFunc func(domain tap.Domain, instruction uint32, width int) []bool

func (f CaptureFunc) Capture(domain tap.Domain, instruction uint32, width int) []bool {
	return f(domain, instruction, width)
}

// UpdateSink receives every committed register value.
type UpdateSink interface {
	Update(domain tap.Domain, instruction uint32, bits []bool)
}

// Config declares the register map a model is built from.
type Config struct {
	IRWidth      int
	Instructions []Instruction
	IDCode       uint32
	HasIDCode    bool
	Bypass       BypassPolicy
	// ResetInstruction names the instruction loaded in Test-Logic-Reset.
	// Empty selects IDCODE when declared, BYPASS otherwise.
	ResetInstruction string
	Source           CaptureSource
	Sink             UpdateSink
}

// Commit describes a register value latched on entering an Update state.
type Commit struct {
	Domain      tap.Domain
	Instruction uint32 // instruction in force during the scan
	Bits        []bool
	Shifted     int
	Width       int
}

// Partial reports whether fewer bits were shifted than the register holds.
func (c Commit) Partial() bool { return c.Shifted < c.Width }

// Model owns the IR and DR of one TAP.
type Model struct {
	ir *ScanRegister
	dr *ScanRegister

	table     map[uint32]Instruction
	bypass    uint32
	reset     uint32
	idcode    uint32
	hasIDCode bool

	policy  BypassPolicy
	source  CaptureSource
	sink    UpdateSink
	lastTDO bool
}

// NewModel validates cfg and returns a model in its post-reset condition: the
// IR holds the reset instruction (IDCODE when declared, BYPASS otherwise) and
// the DR is sized for it.
func NewModel(cfg Config) (*Model, error) {
	if !bitutil.IsValidInstruction(0, cfg.IRWidth) {
		return nil, fmt.Errorf("register: IR width %d outside [%d,%d]", cfg.IRWidth, bitutil.IRWidthMin, bitutil.IRWidthMax)
	}

	m := &Model{
		table:     make(map[uint32]Instruction, len(cfg.Instructions)+1),
		bypass:    bitutil.Mask(cfg.IRWidth),
		idcode:    cfg.IDCode,
		hasIDCode: cfg.HasIDCode,
		policy:    cfg.Bypass,
		source:    cfg.Source,
		sink:      cfg.Sink,
	}

	resetSet := false
	for _, instr := range cfg.Instructions {
		if !bitutil.IsValidInstruction(instr.Opcode, cfg.IRWidth) {
			return nil, fmt.Errorf("register: opcode %#x of %s does not fit a %d-bit IR", instr.Opcode, instr.Name, cfg.IRWidth)
		}
		if !bitutil.IsValidDataLength(instr.DRWidth) {
			return nil, fmt.Errorf("register: %s selects a %d-bit DR, outside [%d,%d]", instr.Name, instr.DRWidth, bitutil.DRWidthMin, bitutil.DRWidthMax)
		}
		if prev, dup := m.table[instr.Opcode]; dup {
			return nil, fmt.Errorf("register: opcode %#x declared by both %s and %s", instr.Opcode, prev.Name, instr.Name)
		}
		m.table[instr.Opcode] = instr
		switch strings.ToUpper(instr.Name) {
		case "BYPASS":
			m.bypass = instr.Opcode
		case "IDCODE":
			m.reset = instr.Opcode
			resetSet = true
		}
	}
	if _, ok := m.table[m.bypass]; !ok {
		m.table[m.bypass] = Instruction{Name: "BYPASS", Opcode: m.bypass, DRWidth: 1}
	}
	if !resetSet {
		m.reset = m.bypass
	}
	if cfg.ResetInstruction != "" {
		op, ok := m.Opcode(cfg.ResetInstruction)
		if !ok {
			return nil, fmt.Errorf("register: reset instruction %s is not declared", cfg.ResetInstruction)
		}
		m.reset = op
	}

	var err error
	if m.ir, err = NewScanRegister("ir", bitutil.IRWidthMin, bitutil.IRWidthMax, cfg.IRWidth); err != nil {
		return nil, err
	}
	if m.dr, err = NewScanRegister("dr", bitutil.DRWidthMin, bitutil.DRWidthMax, 1); err != nil {
		return nil, err
	}
	if err := m.resetLogic(); err != nil {
		return nil, err
	}
	return m, nil
}

// IR exposes the instruction register.
func (m *Model) IR() *ScanRegister { return m.ir }

// DR exposes the currently selected data register.
func (m *Model) DR() *ScanRegister { return m.dr }

// Instruction is the value of the IR update stage.
func (m *Model) Instruction() uint32 { return bitutil.BitsToUint32(m.ir.update) }

// ResetInstruction is the instruction loaded on entering Test-Logic-Reset.
func (m *Model) ResetInstruction() uint32 { return m.reset }

// BypassOpcode is the opcode that selects the 1-bit bypass register.
func (m *Model) BypassOpcode() uint32 { return m.bypass }

// Lookup returns the declaration of opcode, if any.
func (m *Model) Lookup(opcode uint32) (Instruction, bool) {
	instr, ok := m.table[opcode]
	return instr, ok
}

// Opcode returns the lowest opcode declared under name, ignoring case.
func (m *Model) Opcode(name string) (uint32, bool) {
	found := false
	var best uint32
	for op, instr := range m.table {
		if strings.EqualFold(instr.Name, name) && (!found || op < best) {
			best, found = op, true
		}
	}
	return best, found
}

// InstructionName names opcode, or formats it when undeclared.
func (m *Model) InstructionName(opcode uint32) string {
	if instr, ok := m.table[opcode]; ok {
		return instr.Name
	}
	return fmt.Sprintf("0x%X", opcode)
}

// DRWidthFor returns the DR width opcode selects. Undeclared opcodes select
// the bypass register, as IEEE 1149.1 requires.
func (m *Model) DRWidthFor(opcode uint32) int {
	if instr, ok := m.table[opcode]; ok {
		return instr.DRWidth
	}
	return 1
}

// Advance performs the rising-edge action of state with the given TDI and
// returns TDO: capture in Capture-*, one shift in Shift-*, the bypass policy
// elsewhere.
func (m *Model) Advance(state tap.State, tdi bool) (bool, error) {
	switch state {
	case tap.StateCaptureIR:
		if err := m.capture(tap.DomainIR, m.ir); err != nil {
			return false, err
		}
		return m.idle(tdi), nil
	case tap.StateCaptureDR:
		if err := m.dr.SetWidth(m.DRWidthFor(m.Instruction())); err != nil {
			return false, err
		}
		if err := m.capture(tap.DomainDR, m.dr); err != nil {
			return false, err
		}
		return m.idle(tdi), nil
	case tap.StateShiftIR:
		m.lastTDO = m.ir.Shift(tdi)
		return m.lastTDO, nil
	case tap.StateShiftDR:
		m.lastTDO = m.dr.Shift(tdi)
		return m.lastTDO, nil
	}
	if !state.Valid() {
		return false, taperr.Invariant("register.Advance", "undefined state %d", uint8(state))
	}
	return m.idle(tdi), nil
}

// Enter performs the falling-edge action of entering next. Update states
// commit the shift stage and return the commit; Test-Logic-Reset reloads the
// reset instruction.
func (m *Model) Enter(next tap.State) (*Commit, error) {
	switch next {
	case tap.StateUpdateIR:
		return m.commit(tap.DomainIR, m.ir), nil
	case tap.StateUpdateDR:
		return m.commit(tap.DomainDR, m.dr), nil
	case tap.StateTestLogicReset:
		return nil, m.resetLogic()
	}
	return nil, nil
}

// Clone returns an independent copy that never drives the design: it has no
// update sink, and it captures through Peek when the source is a Peeker.
// Other sources are shared and must not act on the design in Capture.
func (m *Model) Clone() *Model {
	c := *m
	c.ir = m.ir.clone()
	c.dr = m.dr.clone()
	c.sink = nil
	if p, ok := m.source.(Peeker); ok {
		c.source = CaptureFunc(p.Peek)
	}
	return &c
}

func (m *Model) idle(tdi bool) bool {
	if m.policy == HoldLast {
		return m.lastTDO
	}
	return tdi
}

func (m *Model) capture(domain tap.Domain, reg *ScanRegister) error {
	instr := m.Instruction()
	var bits []bool
	if m.source != nil {
		bits = m.source.Capture(domain, instr, reg.Width())
	}
	if bits == nil {
		bits = m.defaultCapture(domain, instr, reg.Width())
	}
	return reg.Capture(bits)
}

// defaultCapture follows IEEE 1149.1: the IR captures ...01, IDCODE captures
// the device identity, other data registers capture zeros.
func (m *Model) defaultCapture(domain tap.Domain, instr uint32, width int) []bool {
	if domain == tap.DomainIR {
		bits := make([]bool, width)
		bits[0] = true
		return bits
	}
	if decl, ok := m.table[instr]; ok && strings.EqualFold(decl.Name, "IDCODE") && m.hasIDCode {
		return bitutil.Uint32ToBits(m.idcode, width)
	}
	return make([]bool, width)
}

func (m *Model) commit(domain tap.Domain, reg *ScanRegister) *Commit {
	instr := m.Instruction()
	c := &Commit{
		Domain:      domain,
		Instruction: instr,
		Shifted:     reg.Shifted(),
		Width:       reg.Width(),
	}
	c.Bits = reg.Commit()
	if m.sink != nil {
		m.sink.Update(domain, instr, c.Bits)
	}
	return c
}

func (m *Model) resetLogic() error {
	if err := m.ir.Load(bitutil.Uint32ToBits(m.reset, m.ir.Width())); err != nil {
		return err
	}
	m.dr.scanning = false
	return m.dr.SetWidth(m.DRWidthFor(m.reset))
}
