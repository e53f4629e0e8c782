package jtag

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/gousb"
)

// ProbeKind is a probe family.
type ProbeKind string

const (
	ProbeCMSISDAP ProbeKind = "cmsis-dap"
	ProbePico     ProbeKind = "picoprobe"
	ProbeFTDI     ProbeKind = "ftdi-mpsse"
	ProbeSession  ProbeKind = "session"
)

// Probe is a signal source a session can be driven from. The session probe
// is the built-in SessionAdapter; USB probes are listed for capture setups.
type Probe struct {
	Kind      ProbeKind
	Name      string
	VendorID  uint16
	ProductID uint16
	Bus       int
	Address   int
}

func (p Probe) String() string {
	if p.Kind == ProbeSession {
		return p.Name
	}
	name := p.Name
	if name == "" {
		name = string(p.Kind)
	}
	return fmt.Sprintf("%s (%04X:%04X, bus %d addr %d)", name, p.VendorID, p.ProductID, p.Bus, p.Address)
}

// DiscoverProbes enumerates USB devices with a known probe VID:PID. The
// session probe is always last. Missing USB permissions are not an error.
func DiscoverProbes(ctx context.Context) ([]Probe, error) {
	usb := gousb.NewContext()
	defer usb.Close()

	var probes []Probe
	_, err := usb.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		if ctx.Err() != nil {
			return false
		}
		if p, ok := lookupProbe(uint16(desc.Vendor), uint16(desc.Product)); ok {
			p.Bus, p.Address = desc.Bus, desc.Address
			probes = append(probes, p)
		}
		return false
	})
	if err != nil && !errors.Is(err, gousb.ErrorAccess) {
		return probes, fmt.Errorf("jtag: usb scan: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return probes, err
	}
	return append(probes, Probe{Kind: ProbeSession, Name: "TAP session model (no hardware)"}), nil
}

func lookupProbe(vendor, product uint16) (Probe, bool) {
	for _, p := range knownProbes {
		if p.VendorID == vendor && p.ProductID == product {
			return p, true
		}
	}
	return Probe{}, false
}

var knownProbes = []Probe{
	{Kind: ProbeCMSISDAP, VendorID: 0x2e8a, ProductID: 0x000c, Name: "Raspberry Pi CMSIS-DAP"},
	{Kind: ProbeCMSISDAP, VendorID: 0x0d28, ProductID: 0x0204, Name: "DAPLink CMSIS-DAP"},
	{Kind: ProbeCMSISDAP, VendorID: 0x1366, ProductID: 0x0101, Name: "SEGGER J-Link CMSIS-DAP"},
	{Kind: ProbePico, VendorID: 0x2e8a, ProductID: 0x000a, Name: "Raspberry Pi Pico"},
	{Kind: ProbeFTDI, VendorID: 0x0403, ProductID: 0x6010, Name: "FTDI FT2232H MPSSE"},
	{Kind: ProbeFTDI, VendorID: 0x0403, ProductID: 0x6014, Name: "FTDI FT232H MPSSE"},
}
