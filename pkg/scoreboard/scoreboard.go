// Package scoreboard compares observed scan data with predicted data and
// keeps a record of every mismatch.
package scoreboard

import (
	"fmt"

	"github.com/OpenTraceLab/OpenTraceTAP/pkg/bitutil"
	"github.com/OpenTraceLab/OpenTraceTAP/pkg/tap"
)

// Classification attributes a mismatch to injected faults or not.
type Classification uint8

const (
	Unexpected Classification = iota
	Expected
)

func (c Classification) String() string {
	if c == Expected {
		return "expected"
	}
	return "unexpected"
}

// Kind says what was compared.
type Kind uint8

const (
	KindBits Kind = iota
	KindCRC
	KindState
)

func (k Kind) String() string {
	switch k {
	case KindCRC:
		return "crc"
	case KindState:
		return "state"
	default:
		return "bits"
	}
}

// Context locates an access window.
type Context struct {
	Cycle       uint64
	State       tap.State
	Instruction uint32
	Label       string
}

// Mismatch is the record kept for a failed comparison.
type Mismatch struct {
	Context
	Kind Kind
	// Index is the first differing bit of a KindBits comparison, -1
	// otherwise.
	Index          int
	Expected       bool
	Observed       bool
	ExpectedCRC    uint32
	ObservedCRC    uint32
	ExpectedState  tap.State
	ObservedState  tap.State
	Classification Classification
}

func (m Mismatch) String() string {
	label := ""
	if m.Label != "" {
		label = " " + m.Label
	}
	switch m.Kind {
	case KindCRC:
		return fmt.Sprintf("cycle %d %s%s: crc %08x != %08x (%s)",
			m.Cycle, m.State, label, m.ExpectedCRC, m.ObservedCRC, m.Classification)
	case KindState:
		return fmt.Sprintf("cycle %d%s: controller in %s, predicted %s (%s)",
			m.Cycle, label, m.ObservedState, m.ExpectedState, m.Classification)
	}
	return fmt.Sprintf("cycle %d %s%s: bit %d expected %d observed %d (%s)",
		m.Cycle, m.State, label, m.Index, b2i(m.Expected), b2i(m.Observed), m.Classification)
}

// MatchResult is the outcome of one comparison.
type MatchResult struct {
	Match    bool
	Mismatch *Mismatch
}

// Scoreboard is owned by one session.
type Scoreboard struct {
	checks     uint64
	matches    uint64
	mismatches []Mismatch
	injected   bool
}

// New returns an empty scoreboard.
func New() *Scoreboard { return &Scoreboard{} }

// NoteInjection marks that a fault was injected; the next mismatch is
// classified Expected. The mark clears at every check.
func (s *Scoreboard) NoteInjection() { s.injected = true }

// Check compares expected and observed bit for bit.
func (s *Scoreboard) Check(expected, observed []bool, ctx Context) MatchResult {
	return s.CheckMasked(expected, observed, nil, ctx)
}

// CheckMasked compares only positions where mask is true. A nil mask
// compares every bit. A length difference is a mismatch at the first index
// past the shorter slice.
func (s *Scoreboard) CheckMasked(expected, observed, mask []bool, ctx Context) MatchResult {
	n := max(len(expected), len(observed))
	for i := 0; i < n; i++ {
		if mask != nil && (i >= len(mask) || !mask[i]) {
			continue
		}
		var e, o bool
		if i < len(expected) {
			e = expected[i]
		}
		if i < len(observed) {
			o = observed[i]
		}
		if i >= len(expected) || i >= len(observed) || e != o {
			return s.fail(Mismatch{Context: ctx, Index: i, Expected: e, Observed: o})
		}
	}
	return s.pass()
}

// CheckCRC compares two bit chains by CRC-32.
func (s *Scoreboard) CheckCRC(expected, observed []bool, ctx Context) MatchResult {
	ec, oc := bitutil.CRC32(expected), bitutil.CRC32(observed)
	if ec == oc && len(expected) == len(observed) {
		return s.pass()
	}
	return s.fail(Mismatch{Context: ctx, Kind: KindCRC, Index: -1, ExpectedCRC: ec, ObservedCRC: oc})
}

// CheckState compares a predicted controller state with the observed one.
func (s *Scoreboard) CheckState(expected, observed tap.State, ctx Context) MatchResult {
	if expected == observed {
		return s.pass()
	}
	return s.fail(Mismatch{Context: ctx, Kind: KindState, Index: -1, ExpectedState: expected, ObservedState: observed})
}

func (s *Scoreboard) pass() MatchResult {
	s.checks++
	s.matches++
	s.injected = false
	return MatchResult{Match: true}
}

func (s *Scoreboard) fail(m Mismatch) MatchResult {
	s.checks++
	if s.injected {
		m.Classification = Expected
	}
	s.injected = false
	s.mismatches = append(s.mismatches, m)
	return MatchResult{Mismatch: &s.mismatches[len(s.mismatches)-1]}
}

// Mismatches returns a copy of every recorded mismatch.
func (s *Scoreboard) Mismatches() []Mismatch {
	return append([]Mismatch(nil), s.mismatches...)
}

// Unexpected counts mismatches not attributed to injected faults.
func (s *Scoreboard) Unexpected() int {
	n := 0
	for _, m := range s.mismatches {
		if m.Classification == Unexpected {
			n++
		}
	}
	return n
}

// Checks returns the number of comparisons made.
func (s *Scoreboard) Checks() uint64 { return s.checks }

// MatchRate is the percentage of comparisons that matched, 100 when none
// were made.
func (s *Scoreboard) MatchRate() float64 {
	if s.checks == 0 {
		return 100
	}
	return 100 * float64(s.matches) / float64(s.checks)
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}
