// Package jtag drives a TAP session the way a probe drives a device: whole
// IR and DR scans, state moves and idle clocking on top of single TCK cycles.
// It also lists the USB probes a session could later take its signals from.
package jtag

import (
	"fmt"

	"github.com/OpenTraceLab/OpenTraceTAP/pkg/compliance"
	"github.com/OpenTraceLab/OpenTraceTAP/pkg/tap"
)

// AdapterInfo describes the target behind an adapter.
type AdapterInfo struct {
	Name     string
	Model    string
	Session  string // session ID, empty for hardware
	Standard compliance.Standard
	IRWidth  int

	// Clock range the timing budget accepts, in hertz.
	MinFrequency int
	MaxFrequency int

	SupportsTRST bool
}

// Adapter is what a scan driver (an SVF player, a boundary vector loader)
// needs from a target. Shift buffers are packed LSB first: bit i lives in
// byte i/8, bit i%8. A nil TDI buffer shifts zeros.
type Adapter interface {
	Info() (AdapterInfo, error)
	State() tap.State
	GoTo(target tap.State) error
	RunTest(cycles int) error
	ShiftIR(tms, tdi []byte, bits int) (tdo []byte, err error)
	ShiftDR(tms, tdi []byte, bits int) (tdo []byte, err error)
	ResetTAP(hard bool) error
	SetSpeed(hz int) error
}

// ValidateShiftBuffers checks that any TMS/TDI buffer given covers bits and
// returns the number of bytes a buffer of that length needs.
func ValidateShiftBuffers(tms, tdi []byte, bits int) (int, error) {
	if bits <= 0 {
		return 0, fmt.Errorf("jtag: scan length must be positive, got %d", bits)
	}
	need := (bits + 7) / 8
	for _, buf := range []struct {
		name string
		data []byte
	}{{"tms", tms}, {"tdi", tdi}} {
		if len(buf.data) > 0 && len(buf.data) < need {
			return 0, fmt.Errorf("jtag: %s buffer holds %d bytes, %d bits need %d", buf.name, len(buf.data), bits, need)
		}
	}
	return need, nil
}
