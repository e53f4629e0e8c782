package engine

import (
	"fmt"
	"log/slog"

	"github.com/OpenTraceLab/OpenTraceTAP/pkg/bitutil"
	"github.com/OpenTraceLab/OpenTraceTAP/pkg/compliance"
	"github.com/OpenTraceLab/OpenTraceTAP/pkg/fault"
	"github.com/OpenTraceLab/OpenTraceTAP/pkg/register"
	"github.com/OpenTraceLab/OpenTraceTAP/pkg/timing"
)

// Config describes one verification session.
type Config struct {
	// Rule set and register map
	Standard     compliance.Standard    // IEEE profile (default: 1149.1-2013)
	IRWidth      int                    // Instruction register width, 2..32 (default: 4)
	Instructions []register.Instruction // Declared opcodes and the DR width each selects
	IDCode       uint32                 // Captured by IDCODE when HasIDCode is set
	HasIDCode    bool
	// Loaded in Test-Logic-Reset (default: IDCODE when declared, else BYPASS)
	ResetInstruction string

	// Timing
	Budget        timing.Budget      // Per-cycle limits (default: IEEE envelope)
	NominalTiming timing.Observation // Used for cycles that carry no timing (default: 10MHz)

	// Negative testing
	Fault fault.Spec // Fault injection (default: disabled)

	// Reporting
	MaxThroughput float64 // Mbps for utilization (default: one bit per shortest period)

	// Register behaviour and policy
	Bypass                      register.BypassPolicy // TDO outside shift states (default: pass-through)
	DisallowPartialScans        bool                  // Report partial scans as errors regardless of profile
	DowngradeProtocolViolations bool                  // Record protocol errors without halting

	// Collaborators
	Source register.CaptureSource // Design-side capture values (default: IEEE defaults)
	Sink   register.UpdateSink    // Receives committed register values
	Logger *slog.Logger           // Session logger (default: slog.Default())
}

// DefaultNominalTiming is a 10MHz TCK with a quarter period of setup and hold.
var DefaultNominalTiming = timing.FromFrequency(10_000_000)

// DefaultInstructions is a minimal 4-bit register map covering the
// instructions every 1149.1 device implements, with an 8-cell boundary
// register.
func DefaultInstructions() []register.Instruction {
	return []register.Instruction{
		{Name: "EXTEST", Opcode: 0x0, DRWidth: 8},
		{Name: "IDCODE", Opcode: 0x1, DRWidth: 32},
		{Name: "SAMPLE", Opcode: 0x2, DRWidth: 8},
		{Name: "PRELOAD", Opcode: 0x3, DRWidth: 8},
		{Name: "BYPASS", Opcode: 0xF, DRWidth: 1},
	}
}

// DefaultConfig returns a Config for a compliant 4-bit TAP with an IDCODE.
func DefaultConfig() *Config {
	return &Config{
		Standard:      compliance.Std1149_1_2013,
		IRWidth:       4,
		Instructions:  DefaultInstructions(),
		IDCode:        0x4BA00477,
		HasIDCode:     true,
		Budget:        timing.DefaultBudget(),
		NominalTiming: DefaultNominalTiming,
		Bypass:        register.PassThrough,
	}
}

// Validate checks the configuration and fills unset defaults.
func (c *Config) Validate() error {
	if !c.Standard.Valid() {
		return fmt.Errorf("engine: unknown IEEE standard %d", c.Standard)
	}
	if !bitutil.IsValidInstruction(0, c.IRWidth) {
		return fmt.Errorf("engine: IR width %d outside [%d,%d]", c.IRWidth, bitutil.IRWidthMin, bitutil.IRWidthMax)
	}
	if c.Budget == (timing.Budget{}) {
		c.Budget = timing.DefaultBudget()
	}
	if err := c.Budget.Validate(); err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	if c.NominalTiming == (timing.Observation{}) {
		c.NominalTiming = DefaultNominalTiming
	}
	if err := c.Fault.Validate(); err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	if c.MaxThroughput < 0 {
		return fmt.Errorf("engine: negative max throughput %.2f", c.MaxThroughput)
	}
	if c.MaxThroughput == 0 {
		c.MaxThroughput = 1000 / c.Budget.PeriodMinNs
	}
	if c.Bypass != register.PassThrough && c.Bypass != register.HoldLast {
		return fmt.Errorf("engine: unknown bypass policy %d", c.Bypass)
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}
