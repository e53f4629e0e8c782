package scoreboard

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/OpenTraceLab/OpenTraceTAP/pkg/bitutil"
	"github.com/OpenTraceLab/OpenTraceTAP/pkg/tap"
)

func bits(t *testing.T, s string) []bool {
	t.Helper()
	b, err := bitutil.ParseBits(s)
	if err != nil {
		t.Fatalf("ParseBits(%q): %v", s, err)
	}
	return b
}

func TestCheckRecordsFirstMismatch(t *testing.T) {
	sb := New()
	ctx := Context{Cycle: 12, State: tap.StateUpdateDR, Instruction: 0x2}
	if r := sb.Check(bits(t, "1010"), bits(t, "1010"), ctx); !r.Match {
		t.Fatalf("identical windows mismatched")
	}
	r := sb.Check(bits(t, "1010"), bits(t, "0011"), ctx)
	if r.Match || r.Mismatch == nil {
		t.Fatalf("expected a mismatch")
	}
	want := Mismatch{Context: ctx, Index: 0, Expected: false, Observed: true, Classification: Unexpected}
	if diff := cmp.Diff(want, *r.Mismatch); diff != "" {
		t.Fatalf("mismatch record (-want +got):\n%s", diff)
	}
	if sb.Checks() != 2 || sb.MatchRate() != 50 || len(sb.Mismatches()) != 1 {
		t.Fatalf("checks=%d rate=%v", sb.Checks(), sb.MatchRate())
	}
}

func TestMaskedAndLength(t *testing.T) {
	sb := New()
	mask := bits(t, "0110")
	if r := sb.CheckMasked(bits(t, "1010"), bits(t, "0011"), mask, Context{}); !r.Match {
		t.Fatalf("masked compare mismatched: %+v", r.Mismatch)
	}
	r := sb.Check(bits(t, "101"), bits(t, "0101"), Context{})
	if r.Match || r.Mismatch.Index != 3 {
		t.Fatalf("length difference not reported at index 3: %+v", r)
	}
}

func TestFaultAttribution(t *testing.T) {
	sb := New()
	sb.NoteInjection()
	r := sb.Check([]bool{true}, []bool{false}, Context{})
	if r.Mismatch.Classification != Expected {
		t.Fatalf("injected mismatch classified %s", r.Mismatch.Classification)
	}
	r = sb.Check([]bool{true}, []bool{false}, Context{})
	if r.Mismatch.Classification != Unexpected {
		t.Fatalf("mark was not cleared")
	}
	sb.NoteInjection()
	sb.Check([]bool{true}, []bool{true}, Context{})
	r = sb.Check([]bool{true}, []bool{false}, Context{})
	if r.Mismatch.Classification != Unexpected {
		t.Fatalf("mark survived a passing check")
	}
	if sb.Unexpected() != 2 {
		t.Fatalf("unexpected = %d", sb.Unexpected())
	}
}

func TestCheckCRC(t *testing.T) {
	sb := New()
	a := bits(t, "11001010")
	if r := sb.CheckCRC(a, append([]bool(nil), a...), Context{}); !r.Match {
		t.Fatalf("equal chains mismatched")
	}
	b := append([]bool(nil), a...)
	b[5] = !b[5]
	r := sb.CheckCRC(a, b, Context{Label: "dr"})
	if r.Match || r.Mismatch.Kind != KindCRC || r.Mismatch.ExpectedCRC == r.Mismatch.ObservedCRC {
		t.Fatalf("crc mismatch not recorded: %+v", r)
	}
}

func TestCheckState(t *testing.T) {
	sb := New()
	if r := sb.CheckState(tap.StateShiftDR, tap.StateShiftDR, Context{}); !r.Match {
		t.Fatalf("equal states mismatched")
	}
	r := sb.CheckState(tap.StateShiftDR, tap.StateShiftIR, Context{Cycle: 4})
	if r.Match || r.Mismatch.Kind != KindState || r.Mismatch.ObservedState != tap.StateShiftIR {
		t.Fatalf("state mismatch not recorded: %+v", r)
	}
	if got := r.Mismatch.String(); got != "cycle 4: controller in ShiftIR, predicted ShiftDR (unexpected)" {
		t.Fatalf("String() = %q", got)
	}
}
