package compliance

import (
	"fmt"
	"strings"

	"github.com/OpenTraceLab/OpenTraceTAP/pkg/bitutil"
)

// Standard selects the IEEE rule set a session is checked against.
type Standard uint8

const (
	Std1149_1_2001 Standard = iota
	Std1149_1_2013
	Std1149_4
	Std1149_6
	Std1149_7
)

var standardNames = map[Standard]string{
	Std1149_1_2001: "1149.1-2001",
	Std1149_1_2013: "1149.1-2013",
	Std1149_4:      "1149.4",
	Std1149_6:      "1149.6",
	Std1149_7:      "1149.7",
}

func (s Standard) String() string {
	if name, ok := standardNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Standard(%d)", s)
}

// Valid reports whether s names a known standard.
func (s Standard) Valid() bool {
	_, ok := standardNames[s]
	return ok
}

// ParseStandard accepts the names printed by String, with or without an
// "IEEE" prefix.
func ParseStandard(name string) (Standard, error) {
	clean := strings.TrimSpace(strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(name)), "IEEE"))
	for std, n := range standardNames {
		if clean == n {
			return std, nil
		}
	}
	return 0, fmt.Errorf("compliance: unknown IEEE standard %q", name)
}

// Profile is the rule set derived from a Standard.
type Profile struct {
	Standard Standard

	// Instructions every conforming register map declares.
	Mandatory []string
	// Registers whose width the standard fixes, by instruction name.
	FixedWidths map[string]int

	MinIRWidth int
	MaxIRWidth int
	MaxDRWidth int

	// BYPASS must be encoded as all ones.
	AllOnesBypass bool
	// Severity of a scan that reaches Update with fewer bits than the
	// register holds.
	PartialScan Severity
	// Instructions the IR must hold in Test-Logic-Reset, by preference: the
	// first one the register map declares is required.
	ResetInstructions []string
}

var baseInstructions = []string{"BYPASS", "SAMPLE", "PRELOAD", "EXTEST"}

// ProfileFor returns the rule set of std.
func ProfileFor(std Standard) Profile {
	p := Profile{
		Standard:      std,
		Mandatory:     baseInstructions,
		FixedWidths:   map[string]int{"BYPASS": 1, "IDCODE": 32, "USERCODE": 32},
		MinIRWidth:    bitutil.IRWidthMin,
		MaxIRWidth:    bitutil.IRWidthMax,
		MaxDRWidth:    bitutil.DRWidthMax,
		AllOnesBypass: true,
		PartialScan:   SeverityWarning,
		// IDCODE when the device has one, BYPASS otherwise.
		ResetInstructions: []string{"IDCODE", "BYPASS"},
	}
	switch std {
	case Std1149_4:
		p.Mandatory = append(append([]string{}, baseInstructions...), "PROBE")
	case Std1149_6:
		p.Mandatory = append(append([]string{}, baseInstructions...), "EXTEST_PULSE", "EXTEST_TRAIN")
	case Std1149_7:
		// Scan formats on a two-pin TAP.7 count bits exactly.
		p.Mandatory = []string{"BYPASS", "IDCODE"}
		p.PartialScan = SeverityError
	}
	return p
}
