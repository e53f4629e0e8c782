// Package svf parses Serial Vector Format scripts and plays them against a
// simulated TAP session.
//
// The supported subset covers single-device chains: SIR, SDR, RUNTEST,
// STATE, ENDIR, ENDDR, FREQUENCY and TRST. Header and trailer commands
// (HIR, TIR, HDR, TDR) are accepted only with a length of zero.
package svf

import (
	"io"
	"os"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
	"github.com/pkg/errors"
)

var svfLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Comment", Pattern: `(?:!|//)[^\n]*`},
	{Name: "Whitespace", Pattern: `[\s]+`},
	{Name: "Hex", Pattern: `\([\s0-9a-fA-F]*\)`},
	{Name: "Number", Pattern: `[0-9]+(?:\.[0-9]+)?(?:[eE][-+]?[0-9]+)?`},
	{Name: "Ident", Pattern: `[a-zA-Z_][a-zA-Z0-9_]*`},
	{Name: "Semicolon", Pattern: `;`},
})

// Script is a parsed SVF file.
type Script struct {
	Commands []*Command `( @@ Semicolon )*`
}

// Command is one SVF statement.
type Command struct {
	Pos lexer.Position

	Scan      *Scan      `  @@`
	RunTest   *RunTest   `| @@`
	State     *StatePath `| @@`
	EndState  *EndState  `| @@`
	Frequency *Frequency `| @@`
	TRST      *TRST      `| @@`
}

// Scan is SIR, SDR or one of the header/trailer commands:
//
//	SDR 32 TDI (00000000) TDO (4BA00477) MASK (FFFFFFFF);
type Scan struct {
	Kind   string       `@( "SIR" | "SDR" | "HIR" | "TIR" | "HDR" | "TDR" )`
	Length int          `@Number`
	Fields []*ScanField `@@*`
}

// ScanField is one hex operand of a scan.
type ScanField struct {
	Name  string `@( "TDI" | "TDO" | "MASK" | "SMASK" )`
	Value string `@Hex`
}

// Field returns the hex digits of the named operand, without parentheses
// or whitespace.
func (s *Scan) Field(name string) (string, bool) {
	for _, f := range s.Fields {
		if strings.EqualFold(f.Name, name) {
			return strings.Join(strings.Fields(strings.Trim(f.Value, "()")), ""), true
		}
	}
	return "", false
}

// RunTest idles the controller:
//
//	RUNTEST [run_state] count TCK [min SEC [MAXIMUM max SEC]] [ENDSTATE end_state];
//	RUNTEST [run_state] min SEC [MAXIMUM max SEC] [ENDSTATE end_state];
type RunTest struct {
	RunState string   `"RUNTEST" @Ident?`
	Count    float64  `@Number`
	Unit     string   `@( "TCK" | "SCK" | "SEC" )`
	MinTime  *float64 `( @Number "SEC" )?`
	MaxTime  *float64 `( "MAXIMUM" @Number "SEC" )?`
	EndState string   `( "ENDSTATE" @Ident )?`
}

// StatePath walks the controller through the listed states.
type StatePath struct {
	States []string `"STATE" @Ident+`
}

// EndState sets the state ENDIR or ENDDR scans finish in.
type EndState struct {
	Kind  string `@( "ENDIR" | "ENDDR" )`
	State string `@Ident`
}

// Frequency sets the TCK rate. Without a value it restores the nominal
// rate.
type Frequency struct {
	Hz *float64 `"FREQUENCY" ( @Number "HZ" )?`
}

// TRST drives the optional reset pin.
type TRST struct {
	Mode string `"TRST" @( "ON" | "OFF" | "Z" | "ABSENT" )`
}

var parser = participle.MustBuild[Script](
	participle.Lexer(svfLexer),
	participle.Elide("Comment", "Whitespace"),
	participle.CaseInsensitive("Ident"),
	participle.UseLookahead(2),
)

// Parse reads an SVF script from r; name is used in error positions.
func Parse(name string, r io.Reader) (*Script, error) {
	script, err := parser.Parse(name, r)
	if err != nil {
		return nil, errors.Wrap(err, "svf: parse")
	}
	return script, nil
}

// ParseString parses an SVF script held in memory.
func ParseString(name, input string) (*Script, error) {
	return Parse(name, strings.NewReader(input))
}

// ParseFile parses the SVF file at path.
func ParseFile(path string) (*Script, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "svf: open")
	}
	defer f.Close()
	return Parse(path, f)
}
