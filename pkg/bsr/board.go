package bsr

import (
	"fmt"
	"sort"
	"strings"

	"github.com/OpenTraceLab/OpenTraceTAP/pkg/bitutil"
	"github.com/OpenTraceLab/OpenTraceTAP/pkg/bsdl"
	"github.com/OpenTraceLab/OpenTraceTAP/pkg/register"
	"github.com/OpenTraceLab/OpenTraceTAP/pkg/tap"
)

var boundaryInstructions = map[string]bool{
	"EXTEST": true, "SAMPLE": true, "PRELOAD": true, "INTEST": true,
	"EXTEST_PULSE": true, "EXTEST_TRAIN": true,
}

// Instructions that connect the update latches to the pins.
var pinInstructions = map[string]bool{
	"EXTEST": true, "EXTEST_PULSE": true, "EXTEST_TRAIN": true, "CLAMP": true,
}

// Board implements register.CaptureSource and register.UpdateSink for one
// device. It is not safe for concurrent use; give each session its own
// Board.
type Board struct {
	entity   string
	cells    []bsdl.BoundaryCell
	kinds    []cellKind
	names    map[uint32]string // opcode -> instruction name
	fallback register.CaptureSource

	instr  uint32
	known  bool
	update []bool
	pins   map[string]*PinState
	ports  []string
}

var (
	_ register.Peeker     = (*Board)(nil)
	_ register.UpdateSink = (*Board)(nil)
)

// NewBoard builds a board from a register map with a BOUNDARY_REGISTER.
// Captures the board does not own fall through to the map's own capture
// source. The update latches start at the cells' safe values.
func NewBoard(m *bsdl.RegisterMap) (*Board, error) {
	if len(m.Cells) == 0 {
		return nil, fmt.Errorf("bsr: %s declares no boundary register", m.Entity)
	}
	b := &Board{
		entity:   m.Entity,
		cells:    m.Cells,
		kinds:    make([]cellKind, len(m.Cells)),
		names:    make(map[uint32]string, len(m.Instructions)),
		fallback: m.CaptureSource(),
		pins:     make(map[string]*PinState),
	}
	for i, c := range m.Cells {
		b.kinds[i] = classify(c.Function)
		if c.Port == "*" {
			continue
		}
		port := strings.ToUpper(c.Port)
		if _, ok := b.pins[port]; !ok {
			b.pins[port] = &PinState{Port: port}
			b.ports = append(b.ports, port)
		}
		if b.kinds[i].drives() && c.Control >= len(m.Cells) {
			return nil, fmt.Errorf("bsr: %s: cell %d names control cell %d beyond the register", m.Entity, c.Number, c.Control)
		}
	}
	sort.Strings(b.ports)
	for _, instr := range m.Instructions {
		name := strings.ToUpper(instr.Name)
		if boundaryInstructions[name] && instr.DRWidth != len(m.Cells) {
			return nil, fmt.Errorf("bsr: %s: %s selects %d bits, boundary register has %d", m.Entity, name, instr.DRWidth, len(m.Cells))
		}
		b.names[instr.Opcode] = name
	}
	b.update = b.SafeVector()
	return b, nil
}

// Length returns the number of boundary cells.
func (b *Board) Length() int { return len(b.cells) }

// Ports returns the port names, sorted.
func (b *Board) Ports() []string { return append([]string(nil), b.ports...) }

// SetInput applies an external level to a port that has an input cell.
func (b *Board) SetInput(port string, level bool) error {
	p, ok := b.pins[strings.ToUpper(port)]
	if !ok {
		return fmt.Errorf("bsr: %s has no port %s", b.entity, port)
	}
	for i, c := range b.cells {
		if strings.EqualFold(c.Port, port) && b.kinds[i].observes() {
			p.Input = level
			return nil
		}
	}
	return fmt.Errorf("bsr: port %s has no input cell", port)
}

// Pin returns the state of port.
func (b *Board) Pin(port string) (PinState, bool) {
	p, ok := b.pins[strings.ToUpper(port)]
	if !ok {
		return PinState{}, false
	}
	return *p, true
}

// Pins returns every port state in port order.
func (b *Board) Pins() []PinState {
	out := make([]PinState, 0, len(b.ports))
	for _, port := range b.ports {
		out = append(out, *b.pins[port])
	}
	return out
}

// Capture loads the boundary register under a boundary instruction and
// defers everything else to the register map. The instruction it is called
// with becomes the one in force.
func (b *Board) Capture(domain tap.Domain, instruction uint32, width int) []bool {
	b.observe(instruction)
	return b.Peek(domain, instruction, width)
}

// Peek returns what Capture would load without changing the pins.
func (b *Board) Peek(domain tap.Domain, instruction uint32, width int) []bool {
	if domain != tap.DomainDR || !boundaryInstructions[b.names[instruction]] || width != len(b.cells) {
		return b.fallback.Capture(domain, instruction, width)
	}
	pins := b.resolve(instruction)
	bits := make([]bool, width)
	for i, c := range b.cells {
		switch b.kinds[i] {
		case kindInput, kindBidir:
			bits[i] = inputLevel(pins[strings.ToUpper(c.Port)])
		case kindOutput, kindControl:
			bits[i] = b.update[i]
		default:
			bits[i] = safeValue(c)
		}
	}
	return bits
}

// Update latches committed boundary values and re-evaluates the pins.
func (b *Board) Update(domain tap.Domain, instruction uint32, bits []bool) {
	switch domain {
	case tap.DomainIR:
		b.observe(bitutil.BitsToUint32(bits))
	case tap.DomainDR:
		if boundaryInstructions[b.names[instruction]] && len(bits) == len(b.cells) {
			copy(b.update, bits)
			b.apply()
		}
	}
}

// observe tracks the instruction in force. A reset changes it without a
// commit, so captures report it too.
func (b *Board) observe(instruction uint32) {
	if b.known && instruction == b.instr {
		return
	}
	b.instr, b.known = instruction, true
	b.apply()
}

// inputLevel is what an input cell sees: the pin's own drive, or the
// external level.
func inputLevel(p PinState) bool {
	if p.Mode == PinOutput {
		return p.Driven
	}
	return p.Input
}

func (b *Board) apply() {
	for port, p := range b.resolve(b.instr) {
		b.pins[port].Mode, b.pins[port].Driven = p.Mode, p.Driven
	}
}

// resolve computes every port state under instr from the update latches.
func (b *Board) resolve(instr uint32) map[string]PinState {
	name := b.names[instr]
	out := make(map[string]PinState, len(b.ports))
	for _, port := range b.ports {
		p := *b.pins[port]
		p.Mode, p.Driven = PinSystem, false
		if name == "HIGHZ" && b.drivable(port) {
			p.Mode = PinHiZ
		}
		out[port] = p
	}
	if !pinInstructions[name] {
		return out
	}
	for i, c := range b.cells {
		if !b.kinds[i].drives() {
			continue
		}
		port := strings.ToUpper(c.Port)
		p := out[port]
		if b.enabled(c) {
			p.Mode, p.Driven = PinOutput, b.update[i]
		} else {
			p.Mode = PinHiZ
		}
		out[port] = p
	}
	return out
}

func (b *Board) drivable(port string) bool {
	for i, c := range b.cells {
		if b.kinds[i].drives() && strings.EqualFold(c.Port, port) {
			return true
		}
	}
	return false
}

// enabled reports whether the control cell governing c lets it drive.
func (b *Board) enabled(c bsdl.BoundaryCell) bool {
	if c.Control < 0 {
		return true
	}
	return b.update[c.Control] != (disableValue(c, b.cells) == 1)
}

func disableValue(c bsdl.BoundaryCell, cells []bsdl.BoundaryCell) int {
	if c.Disable >= 0 {
		return c.Disable
	}
	if c.Control >= 0 && cells[c.Control].Disable >= 0 {
		return cells[c.Control].Disable
	}
	return 0
}

func safeValue(c bsdl.BoundaryCell) bool {
	return strings.TrimSpace(c.Safe) == "1"
}
