package bsdl

import "strings"

// File is a parsed BSDL file. A file describes one entity.
type File struct {
	Entity *Entity `@@`
}

// Entity is the top-level declaration:
//
//	entity NAME is ... end NAME;
type Entity struct {
	Name    string         `KwEntity @Ident KwIs`
	Generic *GenericClause `@@?`
	Port    *PortClause    `@@?`
	Decls   []*EntityDecl  `@@*`
	EndName string         `KwEnd ( KwEntity )? @Ident? Semicolon`
}

// EntityDecl is a use clause, a constant or an attribute specification.
type EntityDecl struct {
	UseClause *UseClause `  @@`
	Attribute *Attribute `| @@`
}

// UseClause returns the first use clause, or nil.
func (e *Entity) UseClause() *UseClause {
	for _, decl := range e.Decls {
		if decl.UseClause != nil {
			return decl.UseClause
		}
	}
	return nil
}

// Attributes returns every constant and attribute specification in order.
func (e *Entity) Attributes() []*Attribute {
	var attrs []*Attribute
	for _, decl := range e.Decls {
		if decl.Attribute != nil {
			attrs = append(attrs, decl.Attribute)
		}
	}
	return attrs
}

// Spec returns the attribute specification called name, matched without
// regard to case.
func (e *Entity) Spec(name string) *AttributeSpec {
	for _, attr := range e.Attributes() {
		if attr.Spec != nil && strings.EqualFold(attr.Spec.Name, name) {
			return attr.Spec
		}
	}
	return nil
}

// GenericClause holds the generic parameters, usually just the package
// selector:
//
//	generic (PHYSICAL_PIN_MAP : string := "DIP8");
type GenericClause struct {
	Generics []*Generic `KwGeneric LParen ( @@ ( Semicolon @@ )* )? RParen Semicolon`
}

type Generic struct {
	Name         string  `@Ident`
	Type         string  `Colon @( Ident | KwString | KwInteger | KwReal | KwBoolean )`
	DefaultValue *String `( Assign @@ )?`
}

// PortClause lists the device pins.
type PortClause struct {
	Ports []*Port `KwPort LParen ( @@ ( Semicolon @@ )* Semicolon? )? RParen Semicolon`
}

type Port struct {
	Name string    `@Ident`
	Mode string    `Colon @( KwIn | KwOut | KwInout | KwBuffer | KwLinkage )`
	Type *PortType `@@`
}

type PortType struct {
	Name  string     `@( KwBit | KwBitVector | KwString )`
	Range *RangeSpec `@@?`
}

// RangeSpec is a vector range such as (7 downto 0).
type RangeSpec struct {
	Start     int    `LParen @Integer`
	Direction string `@Ident`
	End       int    `@Integer RParen`
}

// UseClause names the standard package, e.g. use STD_1149_1_2013.all;
type UseClause struct {
	Package string `KwUse @Ident`
	Dot     string `Dot @( Ident | KwAll ) Semicolon`
}

type Attribute struct {
	Constant *ConstantAttribute `  @@`
	Spec     *AttributeSpec     `| @@`
}

// ConstantAttribute is a constant declaration, typically a PIN_MAP_STRING.
type ConstantAttribute struct {
	Name  string      `KwConstant @Ident`
	Type  string      `Colon @Ident`
	Value *Expression `Assign @@ Semicolon`
}

// AttributeSpec is an attribute specification:
//
//	attribute INSTRUCTION_LENGTH of CHIP : entity is 4;
type AttributeSpec struct {
	Name       string      `KwAttribute @Ident`
	Of         string      `KwOf @Ident`
	EntityType string      `Colon @( Ident | KwEntity | "signal" | KwConstant )`
	Is         *Expression `KwIs @@ Semicolon`
}

// Expression is a single term or an & concatenation of terms.
type Expression struct {
	Terms []*ExpressionTerm `@@ ( Concat @@ )*`
}

type ExpressionTerm struct {
	String  *String  `  @@`
	Integer *int     `| @Integer`
	Real    *float64 `| @Real`
	Ident   *string  `| @Ident`
	Tuple   *Tuple   `| @@`
	Boolean *bool    `| ( @KwTrue | KwFalse )`
}

// Tuple is a parenthesized list, e.g. (25.0e6, BOTH).
type Tuple struct {
	Values []*Expression `LParen @@ ( Comma @@ )* RParen`
}

type String struct {
	Value string `@String`
}

// Unquoted returns the literal without its quotes.
func (s *String) Unquoted() string {
	if len(s.Value) >= 2 && s.Value[0] == '"' && s.Value[len(s.Value)-1] == '"' {
		return s.Value[1 : len(s.Value)-1]
	}
	return s.Value
}

// Text joins every string term of the expression.
func (e *Expression) Text() string {
	var b strings.Builder
	for _, term := range e.Terms {
		if term.String != nil {
			b.WriteString(term.String.Unquoted())
		}
	}
	return b.String()
}

// Integer returns the value of a single-integer expression.
func (e *Expression) Integer() (int, bool) {
	if len(e.Terms) == 1 && e.Terms[0].Integer != nil {
		return *e.Terms[0].Integer, true
	}
	return 0, false
}

// Number returns the value of a single integer or real term.
func (e *Expression) Number() (float64, bool) {
	if len(e.Terms) != 1 {
		return 0, false
	}
	switch t := e.Terms[0]; {
	case t.Real != nil:
		return *t.Real, true
	case t.Integer != nil:
		return float64(*t.Integer), true
	}
	return 0, false
}
