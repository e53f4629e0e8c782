package bitutil

import (
	"math/rand/v2"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestIsValidInstruction(t *testing.T) {
	for w := IRWidthMin; w <= IRWidthMax; w++ {
		mask := uint64(1)<<uint(w) - 1
		for _, x := range []uint32{0, 1, 2, 3, 10, 16, 0x7FFFFFFF, 0xFFFFFFFF, uint32(mask), uint32(mask + 1)} {
			want := uint64(x)&^mask == 0
			if got := IsValidInstruction(x, w); got != want {
				t.Fatalf("IsValidInstruction(%#x, %d) = %v, want %v", x, w, got, want)
			}
		}
	}
	for _, w := range []int{-1, 0, 1, 33, 64} {
		if IsValidInstruction(0, w) {
			t.Fatalf("IsValidInstruction(0, %d) = true, want false", w)
		}
	}
	if !IsValidInstruction(10, 4) {
		t.Fatalf("IsValidInstruction(10, 4) = false")
	}
	if IsValidInstruction(16, 4) {
		t.Fatalf("IsValidInstruction(16, 4) = true")
	}
}

func TestIsValidDataLength(t *testing.T) {
	for n := -2; n <= 1030; n++ {
		want := n >= 1 && n <= 1024
		if got := IsValidDataLength(n); got != want {
			t.Fatalf("IsValidDataLength(%d) = %v, want %v", n, got, want)
		}
	}
}

func TestIsValidTiming(t *testing.T) {
	cases := []struct {
		setup, hold, period float64
		want                bool
	}{
		{1, 1, 10, true},
		{2, 2, 1000, true},
		{0.5, 1, 100, false},
		{1, 0.9, 100, false},
		{1, 1, 5, false},
		{1, 1, 1001, false},
	}
	for _, tc := range cases {
		if got := IsValidTiming(tc.setup, tc.hold, tc.period); got != tc.want {
			t.Fatalf("IsValidTiming(%v, %v, %v) = %v, want %v", tc.setup, tc.hold, tc.period, got, tc.want)
		}
	}
}

func TestCRC32Deterministic(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	bits := make([]bool, 256)
	for i := range bits {
		bits[i] = rng.IntN(2) == 1
	}
	first := CRC32(bits)
	if again := CRC32(bits); again != first {
		t.Fatalf("CRC32 not deterministic: %#x then %#x", first, again)
	}
	for i := range bits {
		flipped := append([]bool(nil), bits...)
		flipped[i] = !flipped[i]
		if CRC32(flipped) == first {
			t.Fatalf("flipping bit %d did not change the CRC", i)
		}
	}
}

func TestCRC32Empty(t *testing.T) {
	if got := CRC32(nil); got != 0 {
		t.Fatalf("CRC32(nil) = %#x, want 0", got)
	}
}

func TestCRC32SingleBit(t *testing.T) {
	// One zero bit: eight shift-reduce steps of the all-ones seed.
	crc := uint32(0xFFFFFFFF)
	for i := 0; i < 8; i++ {
		if crc&0x80000000 != 0 {
			crc = crc<<1 ^ 0x04C11DB7
		} else {
			crc <<= 1
		}
	}
	if got := CRC32([]bool{false}); got != ^crc {
		t.Fatalf("CRC32([0]) = %#x, want %#x", got, ^crc)
	}
}

func TestThroughputAndBandwidth(t *testing.T) {
	if got := Throughput(1000, 1000); got != 1000.0 {
		t.Fatalf("Throughput(1000, 1000) = %v, want 1000", got)
	}
	if got := Throughput(1000, 0); got != 0 {
		t.Fatalf("Throughput(1000, 0) = %v, want 0", got)
	}
	if got := Throughput(1000, -5); got != 0 {
		t.Fatalf("Throughput(1000, -5) = %v, want 0", got)
	}
	if got := BandwidthUtilization(50, 100); got != 50 {
		t.Fatalf("BandwidthUtilization(50, 100) = %v, want 50", got)
	}
	if got := BandwidthUtilization(50, 0); got != 0 {
		t.Fatalf("BandwidthUtilization(50, 0) = %v, want 0", got)
	}
}

func TestBitPacking(t *testing.T) {
	bits := []bool{true, false, true, true, false, false, false, false, true}
	packed := BoolsToBytes(bits)
	if diff := cmp.Diff([]byte{0x0D, 0x01}, packed); diff != "" {
		t.Fatalf("BoolsToBytes mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(bits, BytesToBools(packed, len(bits))); diff != "" {
		t.Fatalf("BytesToBools mismatch (-want +got):\n%s", diff)
	}
	if got := BitsToUint32(Uint32ToBits(0xA5, 8)); got != 0xA5 {
		t.Fatalf("round trip = %#x, want 0xA5", got)
	}
}

func TestParseBits(t *testing.T) {
	bits, err := ParseBits("1010")
	if err != nil {
		t.Fatalf("ParseBits: %v", err)
	}
	if got := BitsToUint32(bits); got != 10 {
		t.Fatalf("value = %d, want 10", got)
	}
	if got := FormatBits(bits); got != "1010" {
		t.Fatalf("FormatBits = %q", got)
	}
	if _, err := ParseBits("10x1"); err == nil {
		t.Fatalf("expected error for invalid digit")
	}
}
