package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceTAP/pkg/jtag"
)

var probesCmd = &cobra.Command{
	Use:     "probes",
	Aliases: []string{"interfaces"},
	Short:   "List USB JTAG probes and the session model",
	Long: `Scan the host for USB JTAG probes (CMSIS-DAP, PicoProbe, FTDI MPSSE). The
TAP session model is always listed last.`,
	RunE: runProbes,
}

func init() {
	rootCmd.AddCommand(probesCmd)
}

func runProbes(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
	defer cancel()

	probes, err := jtag.DiscoverProbes(ctx)
	if err != nil {
		return fmt.Errorf("discover probes: %w", err)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Probes:")
	for _, p := range probes {
		fmt.Fprintf(out, "  - %s [%s]\n", p, p.Kind)
	}
	return nil
}
