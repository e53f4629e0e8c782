package register

import (
	"github.com/OpenTraceLab/OpenTraceTAP/pkg/taperr"
)

// ScanRegister is one shiftable TAP register: a capture stage, a shift chain
// of exactly Width bits and an update (output) stage.
//
// Bits are held LSB first. TDI enters at index Width-1 and TDO leaves from
// index 0, so after Width shifts index i holds the i-th bit shifted in.
type ScanRegister struct {
	name     string
	min, max int
	width    int

	capture []bool
	shift   []bool
	update  []bool

	shifted  int
	scanning bool
}

// NewScanRegister builds a register whose width may range over [min, max].
func NewScanRegister(name string, min, max, width int) (*ScanRegister, error) {
	r := &ScanRegister{name: name, min: min, max: max}
	if err := r.SetWidth(width); err != nil {
		return nil, err
	}
	return r, nil
}

// Name identifies the register in errors and reports.
func (r *ScanRegister) Name() string { return r.name }

// Width is the declared chain length.
func (r *ScanRegister) Width() int { return r.width }

// Scanning reports whether a capture happened that has not been committed yet.
func (r *ScanRegister) Scanning() bool { return r.scanning }

// Shifted is the number of bits clocked through since the last capture.
func (r *ScanRegister) Shifted() int { return r.shifted }

// SetWidth declares a new width. It fails while a scan is in progress, since
// the chain length must not change mid-scan.
func (r *ScanRegister) SetWidth(width int) error {
	if width < r.min || width > r.max {
		return taperr.Invariant(r.name+".SetWidth", "width %d outside [%d,%d]", width, r.min, r.max)
	}
	if r.scanning && width != r.width {
		return taperr.Invariant(r.name+".SetWidth", "width change %d->%d during a scan", r.width, width)
	}
	if width == r.width {
		return nil
	}
	r.width = width
	r.capture = make([]bool, width)
	r.shift = make([]bool, width)
	r.update = make([]bool, width)
	return nil
}

// Capture loads the parallel snapshot into the capture and shift stages and
// starts a scan.
func (r *ScanRegister) Capture(bits []bool) error {
	if len(bits) != r.width {
		return taperr.Invariant(r.name+".Capture", "snapshot of %d bits for width %d", len(bits), r.width)
	}
	copy(r.capture, bits)
	copy(r.shift, bits)
	r.shifted = 0
	r.scanning = true
	return nil
}

// Shift clocks tdi in at the far end and returns the bit leaving toward TDO.
func (r *ScanRegister) Shift(tdi bool) bool {
	tdo := r.shift[0]
	copy(r.shift, r.shift[1:])
	r.shift[r.width-1] = tdi
	r.shifted++
	return tdo
}

// Commit latches the shift stage into the update stage and ends the scan.
func (r *ScanRegister) Commit() []bool {
	copy(r.update, r.shift)
	r.scanning = false
	return r.Update()
}

// Load writes the update stage directly, as a reset does.
func (r *ScanRegister) Load(bits []bool) error {
	if len(bits) != r.width {
		return taperr.Invariant(r.name+".Load", "value of %d bits for width %d", len(bits), r.width)
	}
	copy(r.update, bits)
	r.scanning = false
	r.shifted = 0
	return nil
}

// Captured returns a copy of the capture stage.
func (r *ScanRegister) Captured() []bool { return append([]bool(nil), r.capture...) }

// ShiftBuffer returns a copy of the shift stage.
func (r *ScanRegister) ShiftBuffer() []bool { return append([]bool(nil), r.shift...) }

// Update returns a copy of the update stage.
func (r *ScanRegister) Update() []bool { return append([]bool(nil), r.update...) }

func (r *ScanRegister) clone() *ScanRegister {
	c := *r
	c.capture = r.Captured()
	c.shift = r.ShiftBuffer()
	c.update = r.Update()
	return &c
}
