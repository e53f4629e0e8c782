// Package compliance checks each TAP cycle against the IEEE 1149.x rules of
// a configured standard profile and reports what it finds as Events. It only
// observes; it never changes protocol state.
package compliance

import (
	"fmt"

	"github.com/OpenTraceLab/OpenTraceTAP/pkg/tap"
)

// Kind classifies a compliance event.
type Kind uint8

const (
	KindIllegalTransition Kind = iota
	KindInvalidInstruction
	KindInvalidDataLength
	KindResetIntegrity
	KindPartialScan
	KindUnknownInstruction
	KindIDCode
	KindRegisterMap
	KindTimingViolation
	KindIntegrityMismatch
)

var kindNames = map[Kind]string{
	KindIllegalTransition:  "illegal-transition",
	KindInvalidInstruction: "invalid-instruction",
	KindInvalidDataLength:  "invalid-data-length",
	KindResetIntegrity:     "reset-integrity",
	KindPartialScan:        "partial-scan",
	KindUnknownInstruction: "unknown-instruction",
	KindIDCode:             "idcode",
	KindRegisterMap:        "register-map",
	KindTimingViolation:    "timing-violation",
	KindIntegrityMismatch:  "integrity-mismatch",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", k)
}

// Protocol reports whether k is a protocol rule, as opposed to a timing or
// integrity observation. Only protocol kinds can be fatal.
func (k Kind) Protocol() bool {
	return k != KindTimingViolation && k != KindIntegrityMismatch
}

// Severity grades an event.
type Severity uint8

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "INFO"
	case SeverityWarning:
		return "WARNING"
	case SeverityError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Event is an immutable record of one detected violation.
type Event struct {
	Kind     Kind
	Severity Severity
	// Fatal is set for error-level protocol events. A session configured to
	// downgrade protocol violations clears it and sets Downgraded instead.
	Fatal      bool
	Downgraded bool
	// Injected marks events raised on a cycle where a fault was injected.
	Injected bool

	Cycle       uint64
	State       tap.State
	Next        tap.State
	TMS         bool
	TDI         bool
	TDO         bool
	Instruction uint32
	Cause       string
}

func (e Event) String() string {
	tag := ""
	switch {
	case e.Fatal:
		tag = " [fatal]"
	case e.Downgraded:
		tag = " [downgraded]"
	}
	if e.Injected {
		tag += " [injected]"
	}
	return fmt.Sprintf("cycle %d %s %s%s: %s", e.Cycle, e.Severity, e.Kind, tag, e.Cause)
}

func newEvent(kind Kind, sev Severity, cycle uint64, format string, args ...any) Event {
	return Event{
		Kind:     kind,
		Severity: sev,
		Fatal:    sev == SeverityError && kind.Protocol(),
		Cycle:    cycle,
		Cause:    fmt.Sprintf(format, args...),
	}
}

// NewTimingEvent records a non-fatal timing violation.
func NewTimingEvent(cycle uint64, format string, args ...any) Event {
	return newEvent(KindTimingViolation, SeverityError, cycle, format, args...)
}

// NewIntegrityEvent records a non-fatal CRC or scoreboard mismatch.
func NewIntegrityEvent(cycle uint64, format string, args ...any) Event {
	return newEvent(KindIntegrityMismatch, SeverityError, cycle, format, args...)
}
