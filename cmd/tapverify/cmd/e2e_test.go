package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/OpenTraceLab/OpenTraceTAP/pkg/bitutil"
)

const demoBSDL = "../../../pkg/bsdl/testdata/demo_tap.bsd"

// execute runs the root command with fresh flag values and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	verbose, configFile, parallel, stopOnFatal, traceFile = false, "", 0, false, ""
	boundaryDrive, boundaryHiZ, showCells = nil, false, false
	for _, c := range []*cobra.Command{rootCmd, runCmd, regressCmd, boundaryCmd, bsdlCmd} {
		c.Flags().VisitAll(func(f *pflag.Flag) {
			if sv, ok := f.Value.(pflag.SliceValue); ok {
				sv.Replace(nil)
			} else {
				f.Value.Set(f.DefValue)
			}
			f.Changed = false
		})
	}

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestRunE2E(t *testing.T) {
	idcode := writeFile(t, "idcode.svf", "SDR 32 TDI (00000000) TDO (4BA00477);\nRUNTEST 10 TCK;\n")
	bsdlScript := writeFile(t, "bsdl.svf", "SIR 4 TDI (1) TDO (5);\nSDR 32 TDI (0) TDO (4BA00477);\n")
	wrong := writeFile(t, "wrong.svf", "SDR 32 TDI (0) TDO (0);\n")
	partial := writeFile(t, "partial.svf", "SIR 2 TDI (3);\n")
	idle := writeFile(t, "idle.svf", "RUNTEST 100 TCK;\n")
	reset := writeFile(t, "reset.svf", "SIR 4 TDI (1);\nSTATE RESET;\n")
	config := writeFile(t, "session.yaml", "standard: \"1149.7\"\n")

	tests := []struct {
		name        string
		args        []string
		wantErr     error
		anyErr      bool
		wantContain []string
	}{
		{
			name:        "default session",
			args:        []string{"run", idcode},
			wantContain: []string{"1 TDO checks, 0 mismatches", "IEEE 1149.1-2013): PASS"},
		},
		{
			name:        "register map from BSDL",
			args:        []string{"run", "--bsdl", demoBSDL, bsdlScript},
			wantContain: []string{"2 TDO checks, 0 mismatches", "PASS"},
		},
		{
			name:        "TDO mismatch",
			args:        []string{"run", wrong},
			wantErr:     errVerificationFailed,
			wantContain: []string{"1 mismatches", "bit 0 expected 0 observed 1", "FAIL"},
		},
		{
			name:        "profile from config file",
			args:        []string{"run", "--config", config, partial},
			wantErr:     errVerificationFailed,
			wantContain: []string{"IEEE 1149.7", "Halted:", "FAIL"},
		},
		{
			name:        "flag overrides config file",
			args:        []string{"run", "--config", config, "--standard", "1149.1-2013", partial},
			wantContain: []string{"IEEE 1149.1-2013", "PASS"},
		},
		{
			name:        "systematic faults",
			args:        []string{"run", "--fault-mode", "systematic", "--fault-every", "10", "-v", idle},
			wantContain: []string{"10 injected", "Faults:", "PASS"},
		},
		{
			name:        "reset instruction checked against profile",
			args:        []string{"run", "--reset-instruction", "BYPASS", reset},
			wantErr:     errVerificationFailed,
			wantContain: []string{"Halted:", "reset-integrity", "FAIL"},
		},
		{
			name:   "bad fault mode",
			args:   []string{"run", "--fault-mode", "sometimes", idle},
			anyErr: true,
		},
		{
			name:   "missing script",
			args:   []string{"run", filepath.Join(t.TempDir(), "absent.svf")},
			anyErr: true,
		},
		{
			name:        "regression",
			args:        []string{"regress", "-j", "2", idcode, idle},
			wantContain: []string{"idcode.svf", "idle.svf", "2/2 passed"},
		},
		{
			name:        "regression with failure",
			args:        []string{"regress", idcode, wrong},
			wantErr:     errVerificationFailed,
			wantContain: []string{"FAIL", "1/2 passed"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			output, err := execute(t, tt.args...)
			switch {
			case tt.wantErr != nil:
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v\nOutput:\n%s", err, tt.wantErr, output)
				}
			case tt.anyErr:
				if err == nil {
					t.Fatalf("expected error\nOutput:\n%s", output)
				}
				return
			case err != nil:
				t.Fatalf("unexpected error: %v\nOutput:\n%s", err, output)
			}
			for _, want := range tt.wantContain {
				if !strings.Contains(output, want) {
					t.Errorf("output missing %q\nGot:\n%s", want, output)
				}
			}
		})
	}
}

func TestStatesE2E(t *testing.T) {
	output, err := execute(t, "states")
	if err != nil {
		t.Fatalf("states: %v", err)
	}
	for _, want := range []string{"TestLogicReset", "UpdateIR", "SelectIRScan"} {
		if !strings.Contains(output, want) {
			t.Errorf("table missing %q:\n%s", want, output)
		}
	}

	output, err = execute(t, "states", "IDLE", "DRSHIFT")
	if err != nil {
		t.Fatalf("states path: %v", err)
	}
	if !strings.Contains(output, "TMS 100") || !strings.Contains(output, "RunTestIdle -> SelectDRScan -> CaptureDR -> ShiftDR") {
		t.Fatalf("path output:\n%s", output)
	}

	if _, err := execute(t, "states", "IDLE"); err == nil {
		t.Fatalf("expected argument error")
	}
}

func TestCRCAndIDCodeE2E(t *testing.T) {
	output, err := execute(t, "crc", "1010_0101")
	if err != nil {
		t.Fatalf("crc: %v", err)
	}
	bits, _ := bitutil.ParseBits("10100101")
	want := fmt.Sprintf("CRC-32 0x%08X over 8 bits", bitutil.CRC32(bits))
	if !strings.Contains(output, want) {
		t.Fatalf("crc output %q, want %q", output, want)
	}
	if _, err := execute(t, "crc", "102"); err == nil {
		t.Fatalf("expected error for non-binary input")
	}

	output, err = execute(t, "idcode", "0x4BA00477")
	if err != nil || !strings.Contains(output, "ARM") || !strings.Contains(output, "valid") {
		t.Fatalf("idcode: %v\n%s", err, output)
	}
	if _, err := execute(t, "idcode", "4BA00476"); !errors.Is(err, errVerificationFailed) {
		t.Fatalf("even IDCODE: err = %v", err)
	}
}

func TestRegressTraceE2E(t *testing.T) {
	a := writeFile(t, "a.svf", "SDR 32 TDI (00000000) TDO (4BA00477);\n")
	b := writeFile(t, "b.svf", "RUNTEST 10 TCK;\n")
	spans := filepath.Join(t.TempDir(), "spans.json")
	if out, err := execute(t, "regress", "--trace", spans, a, b); err != nil {
		t.Fatalf("regress: %v\nOutput:\n%s", err, out)
	}
	data, err := os.ReadFile(spans)
	if err != nil {
		t.Fatalf("read trace: %v", err)
	}
	if got := strings.Count(string(data), `"Name":"regress.Job"`); got != 2 {
		t.Fatalf("spans = %d, want 2\n%s", got, data)
	}
	for _, job := range []string{"a.svf", "b.svf"} {
		if !strings.Contains(string(data), job) {
			t.Errorf("trace missing job %s", job)
		}
	}
}

func TestPinsE2E(t *testing.T) {
	sample := writeFile(t, "sample.svf", "SIR 4 TDI (2) TDO (5);\nSDR 6 TDI (0) TDO (29);\n")
	if output, err := execute(t, "run", "--bsdl", demoBSDL, "--pin", "IO1=1", sample); err != nil {
		t.Fatalf("sample with IO1 high: %v\n%s", err, output)
	}
	if _, err := execute(t, "run", "--bsdl", demoBSDL, sample); !errors.Is(err, errVerificationFailed) {
		t.Fatalf("sample with IO1 low: err = %v, want verification failure", err)
	}
	if _, err := execute(t, "run", "--pin", "IO1=1", sample); err == nil {
		t.Fatalf("expected error for --pin without a boundary register")
	}
	if _, err := execute(t, "run", "--bsdl", demoBSDL, "--pin", "IO1=2", sample); err == nil {
		t.Fatalf("expected error for bad pin level")
	}
	if _, err := execute(t, "run", "--bsdl", demoBSDL, "--pin", "TCK=1", sample); err == nil {
		t.Fatalf("expected error for a pin without an input cell")
	}
}

func TestBoundaryE2E(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want []string
	}{
		{
			name: "safe",
			args: nil,
			want: []string{"boundary vector: safe", "SIR 4 TDI (3);\nSDR 6 TDI (09);\nSIR 4 TDI (0);\nSDR 6 TDI (09);"},
		},
		{
			name: "high impedance",
			args: []string{"--hiz"},
			want: []string{"high impedance", "SDR 6 TDI (09);"},
		},
		{
			name: "drive",
			args: []string{"--drive", "IO0=1"},
			want: []string{"drive IO0=1", "SDR 6 TDI (0A);"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			output, err := execute(t, append([]string{"boundary", demoBSDL}, tt.args...)...)
			if err != nil {
				t.Fatalf("boundary: %v", err)
			}
			for _, want := range tt.want {
				if !strings.Contains(output, want) {
					t.Errorf("output missing %q\nGot:\n%s", want, output)
				}
			}
		})
	}

	if _, err := execute(t, "boundary", demoBSDL, "--drive", "TDO=1"); err == nil {
		t.Fatalf("expected error for a pin without an output cell")
	}
}

func TestBoundaryVectorDrivesPins(t *testing.T) {
	script, err := execute(t, "boundary", demoBSDL, "--drive", "IO0=1")
	if err != nil {
		t.Fatalf("boundary: %v", err)
	}
	path := writeFile(t, "drive.svf", script)
	output, err := execute(t, "run", "--verbose", "--bsdl", demoBSDL, path)
	if err != nil {
		t.Fatalf("run: %v\n%s", err, output)
	}
	for _, want := range []string{"Pins:", "IO0      output = 1", "IO1      hi-z"} {
		if !strings.Contains(output, want) {
			t.Errorf("output missing %q\nGot:\n%s", want, output)
		}
	}
}

func TestBSDLE2E(t *testing.T) {
	output, err := execute(t, "bsdl", demoBSDL)
	if err != nil {
		t.Fatalf("bsdl: %v", err)
	}
	for _, want := range []string{"Entity:      DEMO_TAP", "IEEE 1149.1-2013", "4 bits, capture 0101", "Mfg: ARM", "25000000 Hz", "6 cells", "IDCODE", "USER1"} {
		if !strings.Contains(output, want) {
			t.Errorf("output missing %q\nGot:\n%s", want, output)
		}
	}
	if strings.Contains(output, "output3") {
		t.Fatalf("cells listed without --cells:\n%s", output)
	}

	output, err = execute(t, "bsdl", "--cells", demoBSDL)
	if err != nil || !strings.Contains(output, "output3") || !strings.Contains(output, "3 (disable 1, Z)") {
		t.Fatalf("bsdl --cells: %v\n%s", err, output)
	}
	if _, err := execute(t, "bsdl", "missing.bsd"); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
