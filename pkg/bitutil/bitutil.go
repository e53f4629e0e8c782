// Package bitutil holds the stateless arithmetic shared by the TAP model:
// width masks, range checks, the bit-serial CRC and throughput figures.
package bitutil

import (
	"fmt"
	"strings"
)

// Protocol bounds used when a session does not override them.
const (
	IRWidthMin = 2
	IRWidthMax = 32
	DRWidthMin = 1
	DRWidthMax = 1024

	SetupMinNs     = 1.0
	HoldMinNs      = 1.0
	TCKPeriodMinNs = 10.0
	TCKPeriodMaxNs = 1000.0
)

const (
	crcPolynomial = 0x04C11DB7
	crcSeed       = 0xFFFFFFFF
)

// CRC32 computes the bit-serial CRC-32 of a shifted chain. Each input bit is
// folded into the MSB and followed by eight shift-reduce steps, so the result
// differs from the byte-oriented IEEE CRC-32 in hash/crc32.
func CRC32(bits []bool) uint32 {
	crc := uint32(crcSeed)
	for _, bit := range bits {
		if bit {
			crc ^= 1 << 31
		}
		for i := 0; i < 8; i++ {
			if crc&0x80000000 != 0 {
				crc = crc<<1 ^ crcPolynomial
			} else {
				crc <<= 1
			}
		}
	}
	return ^crc
}

// Mask returns the (1<<width)-1 mask for an instruction register width. Widths
// of 32 and above saturate to all ones.
func Mask(width int) uint32 {
	if width <= 0 {
		return 0
	}
	if width >= 32 {
		return 0xFFFFFFFF
	}
	return uint32(1)<<uint(width) - 1
}

// IsValidInstruction reports whether instr fits in an IR of the given width.
// Widths outside [IRWidthMin, IRWidthMax] are never valid.
func IsValidInstruction(instr uint32, width int) bool {
	if width < IRWidthMin || width > IRWidthMax {
		return false
	}
	return instr&^Mask(width) == 0
}

// IsValidDataLength reports whether n is a legal DR width.
func IsValidDataLength(n int) bool {
	return n >= DRWidthMin && n <= DRWidthMax
}

// IsValidTiming checks one cycle against the default IEEE bounds.
func IsValidTiming(setupNs, holdNs, periodNs float64) bool {
	return setupNs >= SetupMinNs &&
		holdNs >= HoldMinNs &&
		periodNs >= TCKPeriodMinNs &&
		periodNs <= TCKPeriodMaxNs
}

// Throughput returns the transfer rate in Mbps. Non-positive elapsed time
// yields zero.
func Throughput(bits uint64, elapsedNs float64) float64 {
	if elapsedNs <= 0 {
		return 0
	}
	return float64(bits) * 1000 / elapsedNs
}

// BandwidthUtilization expresses throughput as a percentage of max. A
// non-positive max yields zero.
func BandwidthUtilization(throughput, max float64) float64 {
	if max <= 0 {
		return 0
	}
	return 100 * throughput / max
}

// BoolsToBytes packs bits LSB first, the layout used by the adapter API.
func BoolsToBytes(bits []bool) []byte {
	if len(bits) == 0 {
		return nil
	}
	out := make([]byte, (len(bits)+7)/8)
	for i, bit := range bits {
		if bit {
			out[i/8] |= 1 << (uint(i) % 8)
		}
	}
	return out
}

// BytesToBools unpacks the first n bits of buf, LSB first. Missing bytes read
// as zero.
func BytesToBools(buf []byte, n int) []bool {
	if n <= 0 {
		return nil
	}
	out := make([]bool, n)
	for i := 0; i < n; i++ {
		if i/8 < len(buf) {
			out[i] = buf[i/8]&(1<<(uint(i)%8)) != 0
		}
	}
	return out
}

// BitsToUint32 folds up to 32 bits, bit i landing at position i.
func BitsToUint32(bits []bool) uint32 {
	var val uint32
	for i, bit := range bits {
		if i >= 32 {
			break
		}
		if bit {
			val |= 1 << uint(i)
		}
	}
	return val
}

// Uint32ToBits expands the low width bits of v, LSB first.
func Uint32ToBits(v uint32, width int) []bool {
	bits := make([]bool, width)
	for i := 0; i < width && i < 32; i++ {
		bits[i] = v&(1<<uint(i)) != 0
	}
	return bits
}

// ParseBits reads a binary string written MSB first ("1010" is the value 10)
// and returns it LSB first. Underscores and spaces are ignored.
func ParseBits(s string) ([]bool, error) {
	var digits []byte
	for _, r := range s {
		switch r {
		case '0', '1':
			digits = append(digits, byte(r))
		case '_', ' ', '\t':
		default:
			return nil, fmt.Errorf("bitutil: invalid binary digit %q", r)
		}
	}
	bits := make([]bool, len(digits))
	for i := range digits {
		bits[i] = digits[len(digits)-1-i] == '1'
	}
	return bits, nil
}

// FormatBits renders bits MSB first, the inverse of ParseBits.
func FormatBits(bits []bool) string {
	var b strings.Builder
	b.Grow(len(bits))
	for i := len(bits) - 1; i >= 0; i-- {
		if bits[i] {
			b.WriteByte('1')
		} else {
			b.WriteByte('0')
		}
	}
	return b.String()
}
