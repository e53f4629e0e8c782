package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	verbose    bool
	configFile string

	logger = slog.Default()
)

var rootCmd = &cobra.Command{
	Use:   "tapverify",
	Short: "IEEE 1149.x TAP verification against a simulated session",
	Long: `Drive a simulated JTAG Test Access Port with SVF vectors, check every
cycle against an IEEE 1149.x profile and report compliance events, scoreboard
mismatches, injected faults and throughput.

Examples:
  tapverify run vectors.svf                              # Default 4-bit TAP
  tapverify run --bsdl device.bsd vectors.svf            # Register map from BSDL
  tapverify run --fault-mode systematic --fault-every 100 vectors.svf
  tapverify regress --parallel 4 tests/*.svf             # Independent sessions
  tapverify states                                       # Transition table`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
	},
}

// Execute runs the root command
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output (debug logging, per-event listing)")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "session settings file (YAML, TOML or JSON); flags override it")
}
