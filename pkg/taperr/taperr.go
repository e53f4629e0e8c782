// Package taperr defines the error taxonomy shared by the TAP model packages.
//
// Two kinds of error stop a session: a ModelInvariantError, which means the
// model itself was driven outside its contract (an undefined TAP state, a
// register operation beyond its declared width), and a ProtocolViolation,
// which means the observed TAP sequence is illegal for the configured IEEE
// profile. Timing and integrity problems are never returned as errors; they
// are recorded as compliance events and surfaced in the session report.
package taperr

import (
	"errors"
	"fmt"
)

// ErrHalted is returned by a session that already stopped on a fatal error.
var ErrHalted = errors.New("tap: session halted")

// ModelInvariantError reports a bug in the model or its driver rather than a
// condition of the device under test.
type ModelInvariantError struct {
	Op     string
	Detail string
}

func (e *ModelInvariantError) Error() string {
	return fmt.Sprintf("model invariant violated in %s: %s", e.Op, e.Detail)
}

// Invariant builds a ModelInvariantError with a formatted detail message.
func Invariant(op, format string, args ...any) error {
	return &ModelInvariantError{Op: op, Detail: fmt.Sprintf(format, args...)}
}

// ProtocolViolation reports an illegal or non-standard TAP sequence.
type ProtocolViolation struct {
	Cycle uint64
	Rule  string
	Cause string
}

func (e *ProtocolViolation) Error() string {
	return fmt.Sprintf("protocol violation at cycle %d (%s): %s", e.Cycle, e.Rule, e.Cause)
}

// IsFatal reports whether err must stop the session. Orchestration layers use
// it to decide whether a regression can continue with the next test.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var inv *ModelInvariantError
	if errors.As(err, &inv) {
		return true
	}
	var pv *ProtocolViolation
	if errors.As(err, &pv) {
		return true
	}
	return errors.Is(err, ErrHalted)
}
