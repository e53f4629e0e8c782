package svf

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/OpenTraceLab/OpenTraceTAP/pkg/engine"
	"github.com/OpenTraceLab/OpenTraceTAP/pkg/fault"
	"github.com/OpenTraceLab/OpenTraceTAP/pkg/jtag"
	"github.com/OpenTraceLab/OpenTraceTAP/pkg/register"
	"github.com/OpenTraceLab/OpenTraceTAP/pkg/scoreboard"
	"github.com/OpenTraceLab/OpenTraceTAP/pkg/tap"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func newPlayer(t *testing.T, opts Options) (*Player, *jtag.SessionAdapter) {
	t.Helper()
	return newFaultPlayer(t, opts, fault.Spec{})
}

func newFaultPlayer(t *testing.T, opts Options, spec fault.Spec) (*Player, *jtag.SessionAdapter) {
	t.Helper()
	cfg := engine.DefaultConfig()
	cfg.Fault = spec
	cfg.Instructions = append(cfg.Instructions, register.Instruction{Name: "USER", Opcode: 0xA, DRWidth: 8})
	cfg.Logger = quiet
	s, err := engine.NewSession(cfg)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	a := jtag.NewSessionAdapter(s)
	opts.Logger = quiet
	return NewPlayer(a, opts), a
}

func play(t *testing.T, p *Player, src string) (Result, error) {
	t.Helper()
	script, err := ParseString("test.svf", src)
	if err != nil {
		t.Fatalf("ParseString: %v", err)
	}
	return p.Run(context.Background(), script)
}

func TestParseScript(t *testing.T) {
	script, err := ParseString("t.svf", `
! header comment
sdr 32 tdi (00000000)
    tdo (4BA0 0477) mask (FFFFFFFF);  // trailing comment
RUNTEST IDLE 10 TCK ENDSTATE DRPAUSE;
STATE RESET IDLE;
FREQUENCY 1E6 HZ;
FREQUENCY;
TRST OFF;
ENDIR IRPAUSE;
`)
	if err != nil {
		t.Fatalf("ParseString: %v", err)
	}
	if len(script.Commands) != 8 {
		t.Fatalf("commands = %d, want 8", len(script.Commands))
	}
	sdr := script.Commands[0].Scan
	if sdr == nil || sdr.Length != 32 || len(sdr.Fields) != 3 {
		t.Fatalf("sdr = %+v", sdr)
	}
	if tdo, _ := sdr.Field("TDO"); tdo != "4BA00477" {
		t.Fatalf("TDO field = %q", tdo)
	}
	rt := script.Commands[1].RunTest
	if rt == nil || rt.RunState != "IDLE" || rt.Count != 10 || rt.EndState != "DRPAUSE" {
		t.Fatalf("runtest = %+v", rt)
	}
	if diff := cmp.Diff([]string{"RESET", "IDLE"}, script.Commands[2].State.States); diff != "" {
		t.Fatalf("state path (-want +got):\n%s", diff)
	}
	if f := script.Commands[3].Frequency; f.Hz == nil || *f.Hz != 1e6 {
		t.Fatalf("frequency = %+v", f)
	}
	if script.Commands[4].Frequency.Hz != nil {
		t.Fatalf("bare FREQUENCY carries a value")
	}
	if script.Commands[0].Pos.Line != 3 {
		t.Fatalf("position line = %d", script.Commands[0].Pos.Line)
	}
}

func TestParseRejectsBadHex(t *testing.T) {
	if _, err := ParseString("bad.svf", "SDR 8 TDI (GG);"); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestDecodeHex(t *testing.T) {
	bits, err := decodeHex("A5", 8)
	if err != nil {
		t.Fatalf("decodeHex: %v", err)
	}
	want := []bool{true, false, true, false, false, true, false, true}
	if diff := cmp.Diff(want, bits); diff != "" {
		t.Fatalf("bits (-want +got):\n%s", diff)
	}
	if bits, err := decodeHex("1", 3); err != nil || !bits[0] || bits[1] || bits[2] {
		t.Fatalf("short value = %v, %v", bits, err)
	}
	if _, err := decodeHex("1F", 4); err == nil {
		t.Fatalf("expected error for value wider than length")
	}
}

func TestFormatHex(t *testing.T) {
	tests := []struct {
		bits []bool
		want string
	}{
		{[]bool{true, false, true, false, false, true, false, true}, "A5"},
		{[]bool{false, true, true, true, false, true}, "2E"},
		{[]bool{true}, "1"},
		{nil, "0"},
	}
	for _, tt := range tests {
		if got := FormatHex(tt.bits); got != tt.want {
			t.Fatalf("FormatHex(%v) = %q, want %q", tt.bits, got, tt.want)
		}
		if len(tt.bits) == 0 {
			continue
		}
		back, err := decodeHex(tt.want, len(tt.bits))
		if err != nil || !cmp.Equal(back, tt.bits) {
			t.Fatalf("decodeHex(%q) = %v, %v", tt.want, back, err)
		}
	}
}

func TestPlayIDCodeAndUserScan(t *testing.T) {
	p, a := newPlayer(t, Options{})
	res, err := play(t, p, `
TRST ON;
TRST OFF;
SDR 32 TDI (00000000) TDO (4BA00477) MASK (FFFFFFFF);
SIR 4 TDI (A) TDO (1);
SDR 8 TDI (A5);
SDR 8 TDI (00) TDO (00);
RUNTEST 10 TCK;
ENDDR DRPAUSE;
SDR 8 TDI (3C);
`)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Commands != 9 || res.Checks != 3 || len(res.Mismatches) != 0 {
		t.Fatalf("result = %+v", res)
	}
	if a.State() != tap.StatePauseDR {
		t.Fatalf("state = %s, want PauseDR", a.State())
	}
	if res.Cycles != a.Session().Cycle() {
		t.Fatalf("cycles = %d, session at %d", res.Cycles, a.Session().Cycle())
	}
	if r := a.Session().Report(); !r.Passed() || len(r.Events) != 0 {
		t.Fatalf("report: passed=%v events=%v", r.Passed(), r.Events)
	}
}

func TestTDOMismatch(t *testing.T) {
	p, _ := newPlayer(t, Options{})
	res, err := play(t, p, `
SDR 32 TDI (0) TDO (00000000);
SDR 32 TDO (FFFFFFFF) MASK (00000000);
`)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Checks != 2 || len(res.Unexpected()) != 1 {
		t.Fatalf("result = %+v", res)
	}
	m := res.Mismatches[0]
	if m.Kind != scoreboard.KindBits || m.Index != 0 || m.Label != "SDR line 2" {
		t.Fatalf("mismatch = %+v", m)
	}

	p, _ = newPlayer(t, Options{StopOnMismatch: true})
	res, err = play(t, p, "SDR 32 TDI (0) TDO (0);\nRUNTEST 5 TCK;")
	if !errors.Is(err, ErrTDOMismatch) {
		t.Fatalf("err = %v, want ErrTDOMismatch", err)
	}
	if res.Commands != 0 {
		t.Fatalf("commands = %d", res.Commands)
	}
}

func TestInjectedFaultAttributedAcrossScans(t *testing.T) {
	// Cycle 6 shifts IR bit 1, so SIR 1 commits PRELOAD instead of IDCODE.
	flip := fault.Spec{Mode: fault.ModeSystematic, Class: fault.ClassBitFlip, Locations: []uint64{6}}
	tests := []struct {
		name       string
		src        string
		unexpected int
	}{
		{
			name:       "readback after corrupted IR",
			src:        "SIR 4 TDI (1);\nSDR 32 TDI (0) TDO (4BA00477);\n",
			unexpected: 0,
		},
		{
			name:       "clean IR check in between",
			src:        "SIR 4 TDI (1) TDO (1);\nRUNTEST 3 TCK;\nSDR 32 TDI (0) TDO (4BA00477);\n",
			unexpected: 0,
		},
		{
			name:       "clean IR rescan repairs",
			src:        "SIR 4 TDI (1);\nSIR 4 TDI (1) TDO (1);\nSDR 32 TDI (0) TDO (00000000);\n",
			unexpected: 1,
		},
		{
			name:       "reset repairs",
			src:        "SIR 4 TDI (1);\nSTATE RESET;\nSDR 32 TDI (0) TDO (00000000);\n",
			unexpected: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, a := newFaultPlayer(t, Options{}, flip)
			res, err := play(t, p, tt.src)
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if len(res.Mismatches) != 1 || len(res.Unexpected()) != tt.unexpected {
				t.Fatalf("mismatches = %v, want 1 with %d unexpected", res.Mismatches, tt.unexpected)
			}
			r := a.Session().Report()
			if len(r.Faults) != 1 || r.Passed() != (tt.unexpected == 0) {
				t.Fatalf("faults = %v passed = %v", r.Faults, r.Passed())
			}
		})
	}

	p, _ := newFaultPlayer(t, Options{StopOnMismatch: true}, flip)
	if _, err := play(t, p, tests[0].src); err != nil {
		t.Fatalf("fault-explained mismatch stopped the run: %v", err)
	}
}

func TestStickyOperands(t *testing.T) {
	p, _ := newPlayer(t, Options{})
	if _, err := play(t, p, "SDR 32 TDI (12345678);\nSDR 32 TDO (4BA00477);"); err != nil {
		t.Fatalf("sticky TDI: %v", err)
	}
	if _, err := play(t, p, "SDR 16 TDO (0000);"); err == nil {
		t.Fatalf("expected error for length change without TDI")
	}
}

func TestRunErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"header", "HIR 8 TDI (00);"},
		{"unstable STATE end", "STATE DRSHIFT DREXIT1;"},
		{"unknown state", "STATE NOWHERE;"},
		{"shift end state", "ENDDR DRSHIFT;"},
		{"system clock", "RUNTEST 10 SCK;"},
		{"zero frequency", "FREQUENCY 0 HZ;"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, _ := newPlayer(t, Options{})
			if _, err := play(t, p, tt.src); err == nil {
				t.Fatalf("expected error")
			}
		})
	}

	p, _ := newPlayer(t, Options{})
	if _, err := play(t, p, "HIR 0; TIR 0; HDR 0; TDR 0;"); err != nil {
		t.Fatalf("zero-length headers: %v", err)
	}
}

func TestMaxCycles(t *testing.T) {
	p, a := newPlayer(t, Options{MaxCycles: 50})
	res, err := play(t, p, "RUNTEST 100 TCK;\nRUNTEST 100 TCK;")
	if !errors.Is(err, ErrCycleLimit) {
		t.Fatalf("err = %v, want ErrCycleLimit", err)
	}
	if res.Commands != 1 || res.Cycles != 101 || a.Session().Cycle() != 101 {
		t.Fatalf("result = %+v", res)
	}
}

func TestCancelledContext(t *testing.T) {
	p, _ := newPlayer(t, Options{})
	script, err := ParseString("c.svf", "RUNTEST 10 TCK;")
	if err != nil {
		t.Fatalf("ParseString: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Run(ctx, script); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestFrequencyAndTimedRunTest(t *testing.T) {
	p, a := newPlayer(t, Options{})
	// 2^20 Hz for 2^-11 s is 512 cycles.
	res, err := play(t, p, "FREQUENCY 1048576 HZ;\nRUNTEST 0.00048828125 SEC;")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Cycles != 513 {
		t.Fatalf("cycles = %d, want 513", res.Cycles)
	}
	if got := a.Session().Metrics().MeanPeriodNs; got < 953 || got > 954 {
		t.Fatalf("mean period = %v", got)
	}

	if _, err := play(t, p, "FREQUENCY;\nRUNTEST 513 TCK;"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := a.Session().Metrics().MeanPeriodNs; got < 526 || got > 528 {
		t.Fatalf("mean period after reset = %v", got)
	}
}
