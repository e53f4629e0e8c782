package idcode

import (
	"errors"
	"fmt"
)

// Reserved manufacturer code: bank 0, identity 0x7F is the JEP106
// continuation byte and is used by chain scanners to detect the end of a
// chain, so IEEE 1149.1 forbids it in an IDCODE.
const reservedManufacturer = 0x07F

var (
	ErrNoIDCodeMarker       = errors.New("idcode: bit 0 must be 1")
	ErrReservedManufacturer = errors.New("idcode: manufacturer code 0x07F is reserved")
	ErrFloatingTDO          = errors.New("idcode: all ones, TDO is floating or the chain is open")
)

// ParseIDCode parses a raw 32-bit IDCODE into its component fields
func ParseIDCode(raw uint32) IDCode {
	return IDCode{
		Raw:              raw,
		Version:          uint8((raw >> 28) & 0xF),
		PartNumber:       uint16((raw >> 12) & 0xFFFF),
		ManufacturerCode: uint16((raw >> 1) & 0x7FF),
		HasIDCode:        (raw & 0x1) == 0x1,
	}
}

// Validate checks the fixed structure IEEE 1149.1 imposes on an IDCODE.
func Validate(raw uint32) error {
	if raw == 0xFFFFFFFF {
		return ErrFloatingTDO
	}
	id := ParseIDCode(raw)
	if !id.HasIDCode {
		return ErrNoIDCodeMarker
	}
	if id.ManufacturerCode == reservedManufacturer {
		return ErrReservedManufacturer
	}
	return nil
}

// String renders the decoded fields with the manufacturer name.
func (id IDCode) String() string {
	m, _ := LookupManufacturer(id.ManufacturerCode)
	return fmt.Sprintf("0x%08X (Mfg: %s, Part: 0x%04X, Ver: %d)", id.Raw, m.Name, id.PartNumber, id.Version)
}
