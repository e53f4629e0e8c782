package idcode

import "fmt"

// jep106 maps IDCODE bits [11:1] to {name, abbreviation} for manufacturers
// common on JTAG targets. The bank is the top four bits.
var jep106 = map[uint16][2]string{
	// bank 0
	0x001: {"AMD", "AMD"},
	0x009: {"Intel", "Intel"},
	0x00E: {"Freescale (Motorola)", "Freescale"},
	0x015: {"NXP (Philips)", "NXP"},
	0x017: {"Texas Instruments", "TI"},
	0x01F: {"Atmel", "Atmel"},
	0x020: {"STMicroelectronics", "STM"},
	0x021: {"Lattice Semiconductor", "Lattice"},
	0x049: {"Xilinx", "Xilinx"},
	0x06E: {"Altera", "Altera"},
	// bank 1
	0x0E7: {"Microsemi (Actel)", "Microsemi"},
	// bank 4
	0x23B: {"ARM", "ARM"},
	0x272: {"Espressif Systems", "Espressif"},
	// bank 9
	0x489: {"SiFive", "SiFive"},
}

// LookupManufacturer returns the JEP106 entry for code. Unknown codes get a
// placeholder name and false.
func LookupManufacturer(code uint16) (Manufacturer, bool) {
	if e, ok := jep106[code]; ok {
		return Manufacturer{Code: code, Name: e[0], Abbreviation: e[1]}, true
	}
	return Manufacturer{Code: code, Name: fmt.Sprintf("Unknown (0x%03X)", code), Abbreviation: "Unknown"}, false
}
