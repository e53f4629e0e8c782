package idcode

// IDCode represents a parsed IEEE 1149.1 JTAG IDCODE
type IDCode struct {
	Raw              uint32 // full IDCODE
	Version          uint8  // [31:28]
	PartNumber       uint16 // [27:12]
	ManufacturerCode uint16 // [11:1] JEP106, bank in [11:8], identity in [7:1]
	HasIDCode        bool   // bit 0 == 1
}

// Bank is the JEP106 continuation count (0-based bank number).
func (id IDCode) Bank() uint8 { return uint8(id.ManufacturerCode >> 7) }

// Identity is the 7-bit JEP106 code within the bank.
func (id IDCode) Identity() uint8 { return uint8(id.ManufacturerCode & 0x7F) }

// Manufacturer represents a JEP106 manufacturer entry
type Manufacturer struct {
	Code         uint16 // JEP106 code as it appears in IDCODE bits [11:1]
	Name         string
	Abbreviation string
}
