package bsr

import (
	"io"
	"log/slog"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/OpenTraceLab/OpenTraceTAP/pkg/bitutil"
	"github.com/OpenTraceLab/OpenTraceTAP/pkg/bsdl"
	"github.com/OpenTraceLab/OpenTraceTAP/pkg/engine"
	"github.com/OpenTraceLab/OpenTraceTAP/pkg/jtag"
	"github.com/OpenTraceLab/OpenTraceTAP/pkg/tap"
)

func loadDemo(t *testing.T) *bsdl.RegisterMap {
	t.Helper()
	m, err := bsdl.Load("../bsdl/testdata/demo_tap.bsd")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return m
}

func TestVectors(t *testing.T) {
	b, err := NewBoard(loadDemo(t))
	if err != nil {
		t.Fatalf("NewBoard: %v", err)
	}
	if b.Length() != 6 {
		t.Fatalf("Length = %d", b.Length())
	}
	if diff := cmp.Diff([]string{"IO0", "IO1"}, b.Ports()); diff != "" {
		t.Fatalf("ports (-want +got):\n%s", diff)
	}

	safe := []bool{true, false, false, true, false, false}
	if diff := cmp.Diff(safe, b.SafeVector()); diff != "" {
		t.Fatalf("safe (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(safe, b.HiZVector()); diff != "" {
		t.Fatalf("hi-z (-want +got):\n%s", diff)
	}
	drive, err := b.DriveVector(map[string]bool{"io0": true, "IO1": false})
	if err != nil {
		t.Fatalf("DriveVector: %v", err)
	}
	want := []bool{false, true, false, false, false, false}
	if diff := cmp.Diff(want, drive); diff != "" {
		t.Fatalf("drive (-want +got):\n%s", diff)
	}
	if _, err := b.DriveVector(map[string]bool{"IO7": true}); err == nil {
		t.Fatalf("expected error for unknown pin")
	}
	if err := b.SetInput("IO7", true); err == nil {
		t.Fatalf("expected error for unknown port")
	}
}

func TestNewBoardErrors(t *testing.T) {
	m := loadDemo(t)
	noCells := *m
	noCells.Cells = nil
	if _, err := NewBoard(&noCells); err == nil {
		t.Fatalf("expected error without boundary register")
	}

	short := *m
	short.Cells = m.Cells[:4]
	if _, err := NewBoard(&short); err == nil {
		t.Fatalf("expected error when EXTEST width disagrees with the cells")
	}
}

func boardSession(t *testing.T, m *bsdl.RegisterMap, board *Board) (*engine.Session, *jtag.SessionAdapter) {
	t.Helper()
	cfg := engine.DefaultConfig()
	cfg.Standard = m.Standard()
	cfg.IRWidth = m.IRWidth
	cfg.Instructions = m.Instructions
	cfg.IDCode, cfg.HasIDCode = m.IDCode, m.HasIDCode
	cfg.Source, cfg.Sink = board, board
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := engine.NewSession(cfg)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	return s, jtag.NewSessionAdapter(s)
}

func TestBoardDrivesPinsThroughSession(t *testing.T) {
	m := loadDemo(t)
	board, err := NewBoard(m)
	if err != nil {
		t.Fatalf("NewBoard: %v", err)
	}
	if err := board.SetInput("IO1", true); err != nil {
		t.Fatalf("SetInput: %v", err)
	}
	s, a := boardSession(t, m, board)

	// SAMPLE: inputs and the safe latches are captured, pins stay with the system.
	tdo, err := a.ShiftIR(nil, []byte{0x2}, 4)
	if err != nil || tdo[0] != 0x5 {
		t.Fatalf("IR capture = %#x, %v", tdo, err)
	}
	drive, _ := board.DriveVector(map[string]bool{"IO0": true})
	tdo, err = a.ShiftDR(nil, bitutil.BoolsToBytes(drive), 6)
	if err != nil || tdo[0] != 0x29 {
		t.Fatalf("SAMPLE capture = %#x, %v", tdo, err)
	}
	if p, _ := board.Pin("IO0"); p.Mode != PinSystem {
		t.Fatalf("IO0 under SAMPLE = %s", p.Mode)
	}

	// EXTEST: the preloaded vector drives IO0 high, IO1 stays tri-stated.
	if _, err := a.ShiftIR(nil, []byte{0x0}, 4); err != nil {
		t.Fatalf("ShiftIR: %v", err)
	}
	want := []PinState{
		{Port: "IO0", Mode: PinOutput, Driven: true},
		{Port: "IO1", Mode: PinHiZ, Input: true},
	}
	if diff := cmp.Diff(want, board.Pins()); diff != "" {
		t.Fatalf("pins under EXTEST (-want +got):\n%s", diff)
	}
	tdo, err = a.ShiftDR(nil, bitutil.BoolsToBytes(board.HiZVector()), 6)
	if err != nil || tdo[0] != 0x2E {
		t.Fatalf("EXTEST capture = %#x, %v", tdo, err)
	}
	if p, _ := board.Pin("IO0"); p.Mode != PinHiZ {
		t.Fatalf("IO0 after hi-z vector = %s", p.Mode)
	}

	// HIGHZ floats everything; a reset hands the pins back at the next capture.
	if _, err := a.ShiftIR(nil, []byte{0xC}, 4); err != nil {
		t.Fatalf("ShiftIR: %v", err)
	}
	for _, p := range board.Pins() {
		if p.Mode != PinHiZ {
			t.Fatalf("%s under HIGHZ = %s", p.Port, p.Mode)
		}
	}
	if err := a.ResetTAP(false); err != nil {
		t.Fatalf("ResetTAP: %v", err)
	}
	tdo, err = a.ShiftDR(nil, nil, 32)
	if err != nil || tdo[0] != 0x77 {
		t.Fatalf("IDCODE after reset = % X, %v", tdo, err)
	}
	if p, _ := board.Pin("IO1"); p.Mode != PinSystem {
		t.Fatalf("IO1 after reset = %s", p.Mode)
	}

	if r := s.Report(); !r.Passed() || len(r.Events) != 0 {
		t.Fatalf("report: passed=%v events=%v", r.Passed(), r.Events)
	}
}

func TestShadowCaptureLeavesPins(t *testing.T) {
	m := loadDemo(t)
	board, err := NewBoard(m)
	if err != nil {
		t.Fatalf("NewBoard: %v", err)
	}
	s, a := boardSession(t, m, board)
	drive, _ := board.DriveVector(map[string]bool{"IO0": true})
	if _, err := a.ShiftIR(nil, []byte{0x3}, 4); err != nil {
		t.Fatalf("ShiftIR: %v", err)
	}
	if _, err := a.ShiftDR(nil, bitutil.BoolsToBytes(drive), 6); err != nil {
		t.Fatalf("ShiftDR: %v", err)
	}
	if _, err := a.ShiftIR(nil, []byte{0x0}, 4); err != nil {
		t.Fatalf("ShiftIR: %v", err)
	}
	driving := board.Pins()
	if driving[0].Mode != PinOutput || !driving[0].Driven {
		t.Fatalf("IO0 under EXTEST = %+v", driving[0])
	}

	// A clone that resets and captures IDCODE must not hand the pins back.
	shadow := s.Model().Clone()
	if _, err := shadow.Enter(tap.StateTestLogicReset); err != nil {
		t.Fatalf("Enter: %v", err)
	}
	if _, err := shadow.Advance(tap.StateCaptureDR, false); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if diff := cmp.Diff(driving, board.Pins()); diff != "" {
		t.Fatalf("shadow capture moved pins (-want +got):\n%s", diff)
	}

	// Peek under SAMPLE reads the same cells Capture would, without the switch.
	peeked := board.Peek(tap.DomainDR, 0x2, 6)
	if diff := cmp.Diff(driving, board.Pins()); diff != "" {
		t.Fatalf("Peek moved pins (-want +got):\n%s", diff)
	}
	captured := board.Capture(tap.DomainDR, 0x2, 6)
	if diff := cmp.Diff(captured, peeked); diff != "" {
		t.Fatalf("Peek and Capture differ (-capture +peek):\n%s", diff)
	}
	if p, _ := board.Pin("IO0"); p.Mode != PinSystem {
		t.Fatalf("IO0 after SAMPLE capture = %s", p.Mode)
	}
}
