// Package perf accumulates throughput, error-rate, latency and TCK jitter
// figures for a session.
package perf

import (
	"math"

	"github.com/OpenTraceLab/OpenTraceTAP/pkg/bitutil"
)

// Sample describes one completed transaction (a scan reaching UPDATE).
type Sample struct {
	Bits       uint64
	ElapsedNs  float64
	Throughput float64 // Mbps
}

// Metrics is a read-only snapshot of a Monitor.
type Metrics struct {
	Cycles       uint64
	Transactions uint64
	Bits         uint64
	ElapsedNs    float64
	Violations   uint64
	// ErrorRate is violations per transaction.
	ErrorRate float64

	Checks     uint64
	Mismatches uint64
	MatchRate  float64 // percent

	AvgThroughput  float64 // Mbps
	PeakThroughput float64 // Mbps
	MaxThroughput  float64 // Mbps
	Utilization    float64 // percent of MaxThroughput
	AvgLatencyNs   float64
	MeanPeriodNs   float64
	JitterNs       float64
}

// Monitor is not safe for concurrent use; each session owns one.
type Monitor struct {
	maxThroughput float64

	cycles       uint64
	transactions uint64
	bits         uint64
	elapsedNs    float64
	violations   uint64
	checks       uint64
	mismatches   uint64
	peak         float64

	// Welford running mean and sum of squared deviations of the TCK period.
	periods    uint64
	periodMean float64
	periodM2   float64
}

// NewMonitor creates a monitor that reports utilization against
// maxThroughput Mbps. A non-positive value reports zero utilization.
func NewMonitor(maxThroughput float64) *Monitor {
	return &Monitor{maxThroughput: maxThroughput}
}

// ObserveCycle accounts one TCK cycle of the given period.
func (m *Monitor) ObserveCycle(periodNs float64) {
	m.cycles++
	if periodNs <= 0 {
		return
	}
	m.periods++
	delta := periodNs - m.periodMean
	m.periodMean += delta / float64(m.periods)
	m.periodM2 += delta * (periodNs - m.periodMean)
}

// Record accounts one transaction of bits shifted over elapsedNs.
func (m *Monitor) Record(bits uint64, elapsedNs float64) Sample {
	s := Sample{Bits: bits, ElapsedNs: elapsedNs, Throughput: bitutil.Throughput(bits, elapsedNs)}
	m.transactions++
	m.bits += bits
	if elapsedNs > 0 {
		m.elapsedNs += elapsedNs
	}
	if s.Throughput > m.peak {
		m.peak = s.Throughput
	}
	return s
}

// AddViolations counts error-level events and unexpected mismatches.
func (m *Monitor) AddViolations(n int) {
	if n > 0 {
		m.violations += uint64(n)
	}
}

// ObserveMatch accounts one scoreboard comparison.
func (m *Monitor) ObserveMatch(matched bool) {
	m.checks++
	if !matched {
		m.mismatches++
	}
}

// Snapshot returns the current metrics without modifying the monitor.
func (m *Monitor) Snapshot() Metrics {
	out := Metrics{
		Cycles:         m.cycles,
		Transactions:   m.transactions,
		Bits:           m.bits,
		ElapsedNs:      m.elapsedNs,
		Violations:     m.violations,
		Checks:         m.checks,
		Mismatches:     m.mismatches,
		PeakThroughput: m.peak,
		MaxThroughput:  m.maxThroughput,
		MeanPeriodNs:   m.periodMean,
		MatchRate:      100,
	}
	if m.transactions > 0 {
		out.ErrorRate = float64(m.violations) / float64(m.transactions)
		out.AvgLatencyNs = m.elapsedNs / float64(m.transactions)
	}
	if m.checks > 0 {
		out.MatchRate = 100 * float64(m.checks-m.mismatches) / float64(m.checks)
	}
	out.AvgThroughput = bitutil.Throughput(m.bits, m.elapsedNs)
	out.Utilization = bitutil.BandwidthUtilization(out.AvgThroughput, m.maxThroughput)
	if m.periods > 1 {
		out.JitterNs = math.Sqrt(m.periodM2 / float64(m.periods))
	}
	return out
}
