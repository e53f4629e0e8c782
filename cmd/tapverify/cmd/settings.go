package cmd

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/OpenTraceLab/OpenTraceTAP/pkg/bitutil"
	"github.com/OpenTraceLab/OpenTraceTAP/pkg/bsdl"
	"github.com/OpenTraceLab/OpenTraceTAP/pkg/bsr"
	"github.com/OpenTraceLab/OpenTraceTAP/pkg/compliance"
	"github.com/OpenTraceLab/OpenTraceTAP/pkg/engine"
	"github.com/OpenTraceLab/OpenTraceTAP/pkg/fault"
	"github.com/OpenTraceLab/OpenTraceTAP/pkg/register"
	"github.com/OpenTraceLab/OpenTraceTAP/pkg/timing"
)

// settings is the flat session configuration shared by flags and the
// --config file. Keys are the flag names.
type settings struct {
	BSDL      string `mapstructure:"bsdl"`
	Standard  string `mapstructure:"standard"`
	IRWidth   int    `mapstructure:"ir-width"`
	IDCode    string `mapstructure:"idcode"`
	Frequency int    `mapstructure:"frequency"`
	HoldLast  bool   `mapstructure:"hold-last"`
	ResetIR   string `mapstructure:"reset-instruction"`
	// PORT=0|1 levels applied to boundary input pins.
	Pins []string `mapstructure:"pin"`

	StrictPartial bool `mapstructure:"strict-partial"`
	Downgrade     bool `mapstructure:"downgrade"`

	FaultMode    string   `mapstructure:"fault-mode"`
	FaultRate    float64  `mapstructure:"fault-rate"`
	FaultClasses []string `mapstructure:"fault-class"`
	FaultEvery   uint64   `mapstructure:"fault-every"`
	FaultAt      []string `mapstructure:"fault-at"`
	FaultSeed    uint64   `mapstructure:"fault-seed"`
	BurstLength  int      `mapstructure:"burst-length"`

	MaxCycles      uint64 `mapstructure:"max-cycles"`
	StopOnMismatch bool   `mapstructure:"stop-on-mismatch"`
}

func addSessionFlags(fs *pflag.FlagSet) {
	fs.StringP("bsdl", "b", "", "BSDL file describing the register map")
	fs.String("standard", "", "IEEE profile: 1149.1-2001, 1149.1-2013, 1149.4, 1149.6, 1149.7 (default: from BSDL, else 1149.1-2013)")
	fs.Int("ir-width", 0, "instruction register width (default: from BSDL, else 4)")
	fs.String("idcode", "", "IDCODE value in hex (default: from BSDL, else 0x4BA00477)")
	fs.Int("frequency", 0, "nominal TCK frequency in Hz (default 10MHz)")
	fs.Bool("hold-last", false, "TDO holds the last shifted bit outside shift states")
	fs.String("reset-instruction", "", "instruction loaded in Test-Logic-Reset (default: IDCODE if declared, else BYPASS)")
	fs.StringSlice("pin", nil, "boundary input level PORT=0|1 (needs --bsdl with a boundary register)")
	fs.Bool("strict-partial", false, "report partial scans as errors under every profile")
	fs.Bool("downgrade", false, "record protocol violations without halting")

	fs.String("fault-mode", "disabled", "fault injection: disabled, random, systematic")
	fs.Float64("fault-rate", 0, "random mode: per-cycle injection probability in percent")
	fs.StringSlice("fault-class", nil, "fault classes: bit-flip, burst, timing, protocol, state-machine")
	fs.Uint64("fault-every", 0, "systematic mode: inject every N cycles")
	fs.StringSlice("fault-at", nil, "systematic mode: absolute cycles to inject at")
	fs.Uint64("fault-seed", 1, "random mode seed")
	fs.Int("burst-length", 0, "cycles flipped by a burst (default 4)")

	fs.Uint64("max-cycles", 0, "stop a script after this many cycles (0 = unlimited)")
	fs.Bool("stop-on-mismatch", false, "stop a script at the first unexpected TDO mismatch")
}

// loadSettings merges the --config file under the command's flags.
func loadSettings(cmd *cobra.Command) (settings, error) {
	v := viper.New()
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return settings{}, fmt.Errorf("read config: %w", err)
		}
	}
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return settings{}, fmt.Errorf("bind flags: %w", err)
	}
	var s settings
	if err := v.Unmarshal(&s); err != nil {
		return settings{}, fmt.Errorf("decode settings: %w", err)
	}
	return s, nil
}

// sessionConfig maps settings onto an engine configuration. When the BSDL
// file declares a boundary register, the returned board models its pins and
// is wired in as the session's capture source and update sink.
func sessionConfig(s settings) (*engine.Config, *bsr.Board, error) {
	cfg := engine.DefaultConfig()
	var board *bsr.Board
	if s.BSDL != "" {
		m, err := bsdl.Load(s.BSDL)
		if err != nil {
			return nil, nil, err
		}
		applyRegisterMap(cfg, m)
		if len(m.Cells) > 0 {
			if board, err = bsr.NewBoard(m); err != nil {
				return nil, nil, err
			}
			cfg.Source, cfg.Sink = board, board
		}
	}
	if len(s.Pins) > 0 {
		if board == nil {
			return nil, nil, fmt.Errorf("--pin needs a BSDL file with a boundary register")
		}
		levels, err := parseLevels(s.Pins)
		if err != nil {
			return nil, nil, err
		}
		for port, level := range levels {
			if err := board.SetInput(port, level); err != nil {
				return nil, nil, err
			}
		}
	}
	if s.Standard != "" {
		std, err := compliance.ParseStandard(s.Standard)
		if err != nil {
			return nil, nil, err
		}
		cfg.Standard = std
	}
	if s.IRWidth != 0 {
		cfg.IRWidth = s.IRWidth
	}
	if s.IDCode != "" {
		v, err := parseHex32(s.IDCode)
		if err != nil {
			return nil, nil, err
		}
		cfg.IDCode, cfg.HasIDCode = v, true
	}
	if s.Frequency < 0 {
		return nil, nil, fmt.Errorf("frequency must be positive, got %d", s.Frequency)
	}
	if s.Frequency > 0 {
		cfg.NominalTiming = timing.FromFrequency(s.Frequency)
	}
	if s.HoldLast {
		cfg.Bypass = register.HoldLast
	}
	cfg.ResetInstruction = s.ResetIR
	cfg.DisallowPartialScans = s.StrictPartial
	cfg.DowngradeProtocolViolations = s.Downgrade

	spec, err := faultSpec(s)
	if err != nil {
		return nil, nil, err
	}
	cfg.Fault = spec
	cfg.Logger = logger
	return cfg, board, nil
}

// applyRegisterMap copies what a BSDL file declares into cfg. A declared
// TAP_SCAN_CLOCK tightens the shortest allowed period.
func applyRegisterMap(cfg *engine.Config, m *bsdl.RegisterMap) {
	cfg.Standard = m.Standard()
	cfg.IRWidth = m.IRWidth
	cfg.Instructions = m.Instructions
	cfg.IDCode, cfg.HasIDCode = m.IDCode, m.HasIDCode
	cfg.Source = m.CaptureSource()
	if m.MaxTCKHz > 0 {
		if p := 1e9 / m.MaxTCKHz; p >= bitutil.TCKPeriodMinNs && p <= cfg.Budget.PeriodMaxNs {
			cfg.Budget.PeriodMinNs = p
		}
	}
	for _, name := range m.Unsized {
		logger.Warn("instruction has no declared register; using bypass",
			slog.String("entity", m.Entity), slog.String("instruction", name))
	}
}

func faultSpec(s settings) (fault.Spec, error) {
	mode, err := fault.ParseMode(s.FaultMode)
	if err != nil {
		return fault.Spec{}, err
	}
	spec := fault.Spec{
		Mode:        mode,
		Rate:        s.FaultRate,
		Every:       s.FaultEvery,
		BurstLength: s.BurstLength,
		Seed:        s.FaultSeed,
	}
	for _, name := range s.FaultClasses {
		c, err := fault.ParseClass(name)
		if err != nil {
			return fault.Spec{}, err
		}
		spec.Classes = append(spec.Classes, c)
	}
	if len(spec.Classes) > 0 {
		spec.Class = spec.Classes[0]
	}
	for _, at := range s.FaultAt {
		cycle, err := strconv.ParseUint(strings.TrimSpace(at), 10, 64)
		if err != nil {
			return fault.Spec{}, fmt.Errorf("invalid fault cycle %q: %w", at, err)
		}
		spec.Locations = append(spec.Locations, cycle)
	}
	return spec, nil
}

func parseHex32(s string) (uint32, error) {
	v, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "0x"), 16, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid IDCODE %q: %w", s, err)
	}
	return uint32(v), nil
}

// parseLevels reads PORT=0|1 pairs.
func parseLevels(pairs []string) (map[string]bool, error) {
	levels := make(map[string]bool, len(pairs))
	for _, pair := range pairs {
		port, value, ok := strings.Cut(pair, "=")
		if !ok || (value != "0" && value != "1") {
			return nil, fmt.Errorf("invalid pin level %q, want PORT=0 or PORT=1", pair)
		}
		levels[strings.TrimSpace(port)] = value == "1"
	}
	return levels, nil
}
