package bsdl

import (
	"strings"

	"github.com/alecthomas/participle/v2/lexer"
)

// keywords become case-insensitive Kw<Name> tokens. The token for
// BIT_VECTOR is KwBitVector.
var keywords = []string{
	"ENTITY", "IS", "END", "GENERIC", "PORT", "USE", "ALL", "ATTRIBUTE", "OF", "CONSTANT",
	"IN", "OUT", "INOUT", "BUFFER", "LINKAGE",
	"BIT", "BIT_VECTOR", "STRING", "INTEGER", "REAL", "BOOLEAN", "TRUE", "FALSE",
}

// bsdlLexer tokenizes the VHDL subset BSDL uses.
var bsdlLexer = lexer.MustSimple(bsdlRules())

func bsdlRules() []lexer.SimpleRule {
	rules := []lexer.SimpleRule{
		{Name: "Comment", Pattern: `--[^\n]*`},
		{Name: "Whitespace", Pattern: `\s+`},
	}
	for _, kw := range keywords {
		rules = append(rules, lexer.SimpleRule{Name: "Kw" + tokenName(kw), Pattern: `(?i)\b` + kw + `\b`})
	}
	return append(rules,
		lexer.SimpleRule{Name: "Assign", Pattern: `:=`},
		lexer.SimpleRule{Name: "Colon", Pattern: `:`},
		lexer.SimpleRule{Name: "Semicolon", Pattern: `;`},
		lexer.SimpleRule{Name: "Comma", Pattern: `,`},
		lexer.SimpleRule{Name: "Dot", Pattern: `\.`},
		lexer.SimpleRule{Name: "Concat", Pattern: `&`},
		lexer.SimpleRule{Name: "LParen", Pattern: `\(`},
		lexer.SimpleRule{Name: "RParen", Pattern: `\)`},
		lexer.SimpleRule{Name: "String", Pattern: `"(?:[^"\\]|\\.)*"`},
		lexer.SimpleRule{Name: "Real", Pattern: `[-+]?[0-9]+\.[0-9]+([eE][-+]?[0-9]+)?`},
		lexer.SimpleRule{Name: "Integer", Pattern: `[-+]?[0-9]+`},
		lexer.SimpleRule{Name: "Ident", Pattern: `[a-zA-Z][a-zA-Z0-9_]*`},
		lexer.SimpleRule{Name: "Asterisk", Pattern: `\*`},
	)
}

// tokenName turns BIT_VECTOR into BitVector.
func tokenName(kw string) string {
	var sb strings.Builder
	for _, part := range strings.Split(kw, "_") {
		sb.WriteString(part[:1])
		sb.WriteString(strings.ToLower(part[1:]))
	}
	return sb.String()
}
