package svf

import (
	"strings"

	"github.com/pkg/errors"
)

// decodeHex turns SVF hex digits into n bits, LSB first. The rightmost
// digit holds the first bits shifted. Set bits beyond n are an error.
func decodeHex(hex string, n int) ([]bool, error) {
	bits := make([]bool, n)
	i := 0
	for d := len(hex) - 1; d >= 0; d-- {
		v, ok := hexDigit(hex[d])
		if !ok {
			return nil, errors.Errorf("invalid hex digit %q", hex[d])
		}
		for b := 0; b < 4; b++ {
			set := v&(1<<b) != 0
			if i < n {
				bits[i] = set
			} else if set {
				return nil, errors.Errorf("value %s wider than %d bits", hex, n)
			}
			i++
		}
	}
	return bits, nil
}

func hexDigit(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}

// FormatHex renders bits (LSB first) as SVF hex digits, most significant
// digit first, the inverse of the scan operand encoding.
func FormatHex(bits []bool) string {
	if len(bits) == 0 {
		return "0"
	}
	var sb strings.Builder
	for d := (len(bits)+3)/4 - 1; d >= 0; d-- {
		v := 0
		for b := 3; b >= 0; b-- {
			v <<= 1
			if i := d*4 + b; i < len(bits) && bits[i] {
				v |= 1
			}
		}
		sb.WriteByte("0123456789ABCDEF"[v])
	}
	return sb.String()
}
