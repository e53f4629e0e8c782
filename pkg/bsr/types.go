package bsr

import "strings"

// PinMode represents the current drive state of a pin.
type PinMode int

const (
	// PinSystem indicates the pin belongs to system logic; no boundary
	// instruction is in force.
	PinSystem PinMode = iota
	// PinHiZ indicates the pin is in high-impedance (tri-stated) mode.
	PinHiZ
	// PinOutput indicates the pin is actively driving a value (0 or 1).
	PinOutput
)

func (m PinMode) String() string {
	switch m {
	case PinHiZ:
		return "hi-z"
	case PinOutput:
		return "output"
	default:
		return "system"
	}
}

// PinState is the runtime state of one port.
type PinState struct {
	Port   string
	Mode   PinMode
	Driven bool // valid when Mode == PinOutput
	Input  bool // level applied from outside
}

// cellKind groups BSDL cell functions by what they do at capture and
// update.
type cellKind int

const (
	kindInternal cellKind = iota
	kindInput
	kindOutput
	kindBidir
	kindControl
)

func classify(function string) cellKind {
	f := strings.ToLower(strings.TrimSpace(function))
	switch {
	case f == "input" || f == "clock" || f == "observe_only":
		return kindInput
	case strings.HasPrefix(f, "output"):
		return kindOutput
	case f == "bidir":
		return kindBidir
	case strings.HasPrefix(f, "control"):
		return kindControl
	}
	return kindInternal
}

func (k cellKind) drives() bool   { return k == kindOutput || k == kindBidir }
func (k cellKind) observes() bool { return k == kindInput || k == kindBidir }
