package bsdl

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/OpenTraceLab/OpenTraceTAP/pkg/bitutil"
	"github.com/OpenTraceLab/OpenTraceTAP/pkg/compliance"
	"github.com/OpenTraceLab/OpenTraceTAP/pkg/register"
	"github.com/OpenTraceLab/OpenTraceTAP/pkg/tap"
)

// RegisterMap is the part of a BSDL description a TAP session needs.
type RegisterMap struct {
	Entity       string
	Package      string // use clause package, e.g. STD_1149_1_2013
	IRWidth      int
	Instructions []register.Instruction

	// IR capture pattern; mask bits are 0 where the file has X.
	IRCapture     uint32
	IRCaptureMask uint32

	IDCode     uint32
	IDCodeMask uint32
	HasIDCode  bool

	BoundaryLength int
	Cells          []BoundaryCell // BOUNDARY_REGISTER, empty when not declared
	MaxTCKHz       float64

	// Instructions whose data register width could not be determined;
	// they are mapped to the bypass register.
	Unsized []string
}

// Standard maps the use clause (or COMPONENT_CONFORMANCE) onto a profile.
// Files naming no package default to 1149.1-2001.
func (m *RegisterMap) Standard() compliance.Standard {
	pkg := strings.ToUpper(m.Package)
	switch {
	case strings.Contains(pkg, "1149_7"):
		return compliance.Std1149_7
	case strings.Contains(pkg, "1149_6"):
		return compliance.Std1149_6
	case strings.Contains(pkg, "1149_4"):
		return compliance.Std1149_4
	case strings.Contains(pkg, "2013"):
		return compliance.Std1149_1_2013
	}
	return compliance.Std1149_1_2001
}

// CaptureSource returns a source that loads the declared INSTRUCTION_CAPTURE
// pattern at Capture-IR. Don't-care bits keep the IEEE default. Data
// registers use the model defaults.
func (m *RegisterMap) CaptureSource() register.CaptureSource {
	return register.CaptureFunc(func(domain tap.Domain, _ uint32, width int) []bool {
		if domain != tap.DomainIR {
			return nil
		}
		return bitutil.Uint32ToBits(m.IRCapture&m.IRCaptureMask|1&^m.IRCaptureMask, width)
	})
}

// RegisterMap extracts the instruction set and register widths. Widths come
// from REGISTER_ACCESS when present, then from the IEEE defaults: BYPASS,
// HIGHZ and CLAMP select the 1-bit bypass register, IDCODE and USERCODE a
// 32-bit register, and the boundary instructions BOUNDARY_LENGTH cells.
func (e *Entity) RegisterMap() (*RegisterMap, error) {
	m := &RegisterMap{Entity: e.Name}
	if use := e.UseClause(); use != nil {
		m.Package = use.Package
	}
	if spec := e.Spec("COMPONENT_CONFORMANCE"); spec != nil && spec.Is != nil {
		m.Package = spec.Is.Text()
	}

	spec := e.Spec("INSTRUCTION_LENGTH")
	if spec == nil || spec.Is == nil {
		return nil, fmt.Errorf("bsdl: %s: INSTRUCTION_LENGTH attribute missing", e.Name)
	}
	width, ok := spec.Is.Integer()
	if !ok || !bitutil.IsValidInstruction(0, width) {
		return nil, fmt.Errorf("bsdl: %s: INSTRUCTION_LENGTH must be an integer in [%d,%d]", e.Name, bitutil.IRWidthMin, bitutil.IRWidthMax)
	}
	m.IRWidth = width

	if spec := e.Spec("BOUNDARY_LENGTH"); spec != nil && spec.Is != nil {
		m.BoundaryLength, _ = spec.Is.Integer()
	}
	switch cells, err := e.BoundaryCells(); {
	case errors.Is(err, ErrNoBoundary):
	case err != nil:
		return nil, fmt.Errorf("bsdl: %s: %w", e.Name, err)
	default:
		m.Cells = cells
		if m.BoundaryLength == 0 {
			m.BoundaryLength = len(cells)
		} else if len(cells) != m.BoundaryLength {
			return nil, fmt.Errorf("bsdl: %s: BOUNDARY_REGISTER has %d cells, BOUNDARY_LENGTH says %d", e.Name, len(cells), m.BoundaryLength)
		}
	}

	if spec := e.Spec("INSTRUCTION_CAPTURE"); spec != nil && spec.Is != nil {
		value, mask, err := parsePattern(spec.Is.Text(), m.IRWidth)
		if err != nil {
			return nil, fmt.Errorf("bsdl: %s: INSTRUCTION_CAPTURE: %w", e.Name, err)
		}
		m.IRCapture, m.IRCaptureMask = value, mask
	}

	if spec := e.Spec("IDCODE_REGISTER"); spec != nil && spec.Is != nil {
		value, mask, err := parsePattern(spec.Is.Text(), 32)
		if err != nil {
			return nil, fmt.Errorf("bsdl: %s: IDCODE_REGISTER: %w", e.Name, err)
		}
		m.IDCode, m.IDCodeMask, m.HasIDCode = value, mask, true
	}

	if spec := e.Spec("TAP_SCAN_CLOCK"); spec != nil && spec.Is != nil && len(spec.Is.Terms) == 1 {
		if tuple := spec.Is.Terms[0].Tuple; tuple != nil && len(tuple.Values) > 0 {
			m.MaxTCKHz, _ = tuple.Values[0].Number()
		}
	}

	spec = e.Spec("INSTRUCTION_OPCODE")
	if spec == nil || spec.Is == nil {
		return nil, fmt.Errorf("bsdl: %s: INSTRUCTION_OPCODE attribute missing", e.Name)
	}
	opcodes, err := parseOpcodes(spec.Is.Text(), m.IRWidth)
	if err != nil {
		return nil, fmt.Errorf("bsdl: %s: INSTRUCTION_OPCODE: %w", e.Name, err)
	}

	var access map[string]int
	if spec := e.Spec("REGISTER_ACCESS"); spec != nil && spec.Is != nil {
		if access, err = parseRegisterAccess(spec.Is.Text(), m.BoundaryLength); err != nil {
			return nil, fmt.Errorf("bsdl: %s: REGISTER_ACCESS: %w", e.Name, err)
		}
	}

	for _, op := range opcodes {
		w, ok := access[op.name]
		if !ok {
			w, ok = defaultWidth(op.name, m.BoundaryLength)
		}
		if !ok {
			w = 1
			m.Unsized = append(m.Unsized, op.name)
		}
		if !bitutil.IsValidDataLength(w) {
			return nil, fmt.Errorf("bsdl: %s: %s selects a %d-bit register", e.Name, op.name, w)
		}
		m.Instructions = append(m.Instructions, register.Instruction{Name: op.name, Opcode: op.value, DRWidth: w})
	}
	return m, nil
}

type opcode struct {
	name  string
	value uint32
}

var opcodeEntry = regexp.MustCompile(`([A-Za-z][A-Za-z0-9_]*)\s*\(([^)]*)\)`)

// parseOpcodes reads "NAME (0101, 1101), ...". An instruction listing
// several opcodes yields one entry per opcode; the first listed comes last so
// it is the one a name lookup settles on.
func parseOpcodes(text string, width int) ([]opcode, error) {
	matches := opcodeEntry.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil, fmt.Errorf("no instructions")
	}
	var out []opcode
	for _, match := range matches {
		name := strings.ToUpper(match[1])
		codes := splitAndTrim(match[2])
		for i := len(codes) - 1; i >= 0; i-- {
			value, mask, err := parsePattern(codes[i], width)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", name, err)
			}
			if mask != bitutil.Mask(width) {
				return nil, fmt.Errorf("%s: don't-care bits in opcode %q", name, codes[i])
			}
			out = append(out, opcode{name: name, value: value})
		}
	}
	return out, nil
}

var accessEntry = regexp.MustCompile(`([A-Za-z][A-Za-z0-9_]*)\s*(?:\[\s*(\d+)\s*\])?\s*\(([^)]*)\)`)

// parseRegisterAccess reads "BOUNDARY (EXTEST, SAMPLE), USER1[12] (USER1)"
// into instruction → width.
func parseRegisterAccess(text string, boundary int) (map[string]int, error) {
	widths := make(map[string]int)
	for _, match := range accessEntry.FindAllStringSubmatch(text, -1) {
		reg := strings.ToUpper(match[1])
		width, ok := registerWidth(reg, boundary)
		if match[2] != "" {
			n, err := strconv.Atoi(match[2])
			if err != nil {
				return nil, fmt.Errorf("register %s: %w", reg, err)
			}
			width, ok = n, true
		}
		if !ok {
			continue
		}
		for _, instr := range splitAndTrim(match[3]) {
			widths[strings.ToUpper(instr)] = width
		}
	}
	return widths, nil
}

func registerWidth(reg string, boundary int) (int, bool) {
	switch reg {
	case "BYPASS":
		return 1, true
	case "DEVICE_ID", "IDCODE", "USERCODE":
		return 32, true
	case "BOUNDARY":
		return boundary, boundary > 0
	}
	return 0, false
}

func defaultWidth(instr string, boundary int) (int, bool) {
	switch instr {
	case "BYPASS", "HIGHZ", "CLAMP":
		return 1, true
	case "IDCODE", "USERCODE":
		return 32, true
	case "EXTEST", "SAMPLE", "PRELOAD", "INTEST", "EXTEST_PULSE", "EXTEST_TRAIN":
		return boundary, boundary > 0
	}
	return 0, false
}

// parsePattern converts an MSB-first pattern of 0, 1 and X into a value and
// a care mask.
func parsePattern(s string, width int) (value, mask uint32, err error) {
	n := 0
	for _, ch := range s {
		switch ch {
		case '0', '1', 'X', 'x':
			value <<= 1
			mask <<= 1
			if ch == '1' {
				value |= 1
			}
			if ch == '0' || ch == '1' {
				mask |= 1
			}
			n++
		case ' ', '\t', '_':
		default:
			return 0, 0, fmt.Errorf("invalid pattern character %q", ch)
		}
	}
	if n != width {
		return 0, 0, fmt.Errorf("pattern %q has %d bits, want %d", s, n, width)
	}
	return value, mask, nil
}
