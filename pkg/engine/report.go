package engine

import (
	"fmt"
	"io"

	"github.com/OpenTraceLab/OpenTraceTAP/pkg/compliance"
	"github.com/OpenTraceLab/OpenTraceTAP/pkg/fault"
	"github.com/OpenTraceLab/OpenTraceTAP/pkg/perf"
	"github.com/OpenTraceLab/OpenTraceTAP/pkg/scoreboard"
	"github.com/OpenTraceLab/OpenTraceTAP/pkg/tap"
)

// Report is everything a session has emitted so far.
type Report struct {
	SessionID   string
	Standard    compliance.Standard
	Cycles      uint64
	State       tap.State
	Instruction uint32
	Halted      bool
	HaltReason  string

	Events     []compliance.Event
	Metrics    perf.Metrics
	Mismatches []scoreboard.Mismatch
	Faults     []fault.Record
}

// Count returns the number of events of kind.
func (r Report) Count(kind compliance.Kind) int {
	n := 0
	for _, e := range r.Events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

// Fatal returns the number of fatal events.
func (r Report) Fatal() int {
	n := 0
	for _, e := range r.Events {
		if e.Fatal {
			n++
		}
	}
	return n
}

// UnexpectedMismatches counts mismatches not explained by injected faults.
func (r Report) UnexpectedMismatches() int {
	n := 0
	for _, m := range r.Mismatches {
		if m.Classification == scoreboard.Unexpected {
			n++
		}
	}
	return n
}

// Passed reports whether the session ran without halting and without
// unexpected mismatches.
func (r Report) Passed() bool {
	return !r.Halted && r.UnexpectedMismatches() == 0
}

// WriteSummary prints a human-readable summary.
func (r Report) WriteSummary(w io.Writer) {
	m := r.Metrics
	status := "PASS"
	if !r.Passed() {
		status = "FAIL"
	}
	fmt.Fprintf(w, "Session %s (IEEE %s): %s\n", r.SessionID, r.Standard, status)
	fmt.Fprintf(w, "  Cycles:        %d (final state %s, IR 0x%X)\n", r.Cycles, r.State, r.Instruction)
	if r.Halted {
		fmt.Fprintf(w, "  Halted:        %s\n", r.HaltReason)
	}
	fmt.Fprintf(w, "  Transactions:  %d (%d bits)\n", m.Transactions, m.Bits)
	fmt.Fprintf(w, "  Throughput:    %.2f Mbps avg, %.2f Mbps peak, %.1f%% of %.2f Mbps\n",
		m.AvgThroughput, m.PeakThroughput, m.Utilization, m.MaxThroughput)
	fmt.Fprintf(w, "  TCK:           %.2f ns mean, %.3f ns jitter\n", m.MeanPeriodNs, m.JitterNs)
	fmt.Fprintf(w, "  Error rate:    %.4f per transaction\n", m.ErrorRate)
	fmt.Fprintf(w, "  Scoreboard:    %d checks, %.2f%% match, %d mismatches (%d unexpected)\n",
		m.Checks, m.MatchRate, len(r.Mismatches), r.UnexpectedMismatches())
	fmt.Fprintf(w, "  Faults:        %d injected\n", len(r.Faults))
	fmt.Fprintf(w, "  Events:        %d (%d fatal)\n", len(r.Events), r.Fatal())
}
