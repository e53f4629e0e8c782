package bsr

import (
	"fmt"
	"sort"
	"strings"
)

// SafeVector returns every cell at its safe value. Cells whose safe value
// is X load 0.
func (b *Board) SafeVector() []bool {
	bits := make([]bool, len(b.cells))
	for i, c := range b.cells {
		bits[i] = safeValue(c)
	}
	return bits
}

// HiZVector returns the safe vector with every output control cell set to
// its disable value.
func (b *Board) HiZVector() []bool {
	bits := b.SafeVector()
	for i, c := range b.cells {
		if b.kinds[i].drives() && c.Control >= 0 {
			bits[c.Control] = disableValue(c, b.cells) == 1
		}
	}
	return bits
}

// DriveVector returns the high-impedance vector with the given ports driven
// to the given levels: each port's output cell carries the level and its
// control cell the enable value.
func (b *Board) DriveVector(levels map[string]bool) ([]bool, error) {
	bits := b.HiZVector()
	ports := make([]string, 0, len(levels))
	for port := range levels {
		ports = append(ports, port)
	}
	sort.Strings(ports)
	for _, port := range ports {
		out := -1
		for i, c := range b.cells {
			if b.kinds[i].drives() && strings.EqualFold(c.Port, port) {
				out = i
				break
			}
		}
		if out < 0 {
			return nil, fmt.Errorf("bsr: no output cell for pin %s", port)
		}
		bits[out] = levels[port]
		if c := b.cells[out]; c.Control >= 0 {
			bits[c.Control] = disableValue(c, b.cells) != 1
		}
	}
	return bits, nil
}
