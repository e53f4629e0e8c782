package bsdl

import (
	"fmt"
	"io"
	"os"

	"github.com/alecthomas/participle/v2"
)

// Parser parses BSDL files.
type Parser struct {
	parser *participle.Parser[File]
}

// NewParser builds the grammar.
func NewParser() (*Parser, error) {
	parser, err := participle.Build[File](
		participle.Lexer(bsdlLexer),
		participle.Elide("Comment", "Whitespace"),
		participle.UseLookahead(2),
	)
	if err != nil {
		return nil, fmt.Errorf("bsdl: failed to build parser: %w", err)
	}
	return &Parser{parser: parser}, nil
}

// Parse reads a BSDL file from r; name is used in error positions.
func (p *Parser) Parse(name string, r io.Reader) (*File, error) {
	file, err := p.parser.Parse(name, r)
	if err != nil {
		return nil, fmt.Errorf("bsdl: parse error: %w", err)
	}
	return file, nil
}

// ParseString parses BSDL source held in memory.
func (p *Parser) ParseString(input string) (*File, error) {
	file, err := p.parser.ParseString("", input)
	if err != nil {
		return nil, fmt.Errorf("bsdl: parse error: %w", err)
	}
	return file, nil
}

// ParseFile parses the BSDL file at path.
func (p *Parser) ParseFile(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("bsdl: failed to open file: %w", err)
	}
	defer f.Close()
	return p.Parse(path, f)
}

// Load parses the file at path and extracts its register map.
func Load(path string) (*RegisterMap, error) {
	p, err := NewParser()
	if err != nil {
		return nil, err
	}
	file, err := p.ParseFile(path)
	if err != nil {
		return nil, err
	}
	if file.Entity == nil {
		return nil, fmt.Errorf("bsdl: %s declares no entity", path)
	}
	return file.Entity.RegisterMap()
}
