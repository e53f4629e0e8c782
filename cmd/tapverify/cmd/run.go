package cmd

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceTAP/pkg/bsr"
	"github.com/OpenTraceLab/OpenTraceTAP/pkg/engine"
	"github.com/OpenTraceLab/OpenTraceTAP/pkg/jtag"
	"github.com/OpenTraceLab/OpenTraceTAP/pkg/svf"
	"github.com/OpenTraceLab/OpenTraceTAP/pkg/taperr"
)

var errVerificationFailed = errors.New("verification failed")

var runCmd = &cobra.Command{
	Use:   "run <script.svf>",
	Short: "Play an SVF script against one session",
	Long: `Build a TAP session from flags, a --config file or a BSDL register map,
play the SVF script against it and print the session report.

The command fails when the session halts on a fatal protocol violation or
when the script or the golden model sees a mismatch not explained by an
injected fault.

Examples:
  tapverify run vectors.svf
  tapverify run --bsdl device.bsd --standard 1149.7 vectors.svf
  tapverify run --fault-mode random --fault-rate 0.5 --fault-seed 7 vectors.svf`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
	addSessionFlags(runCmd.Flags())
}

func runRun(cmd *cobra.Command, args []string) error {
	s, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	cfg, board, err := sessionConfig(s)
	if err != nil {
		return err
	}
	script, err := svf.ParseFile(args[0])
	if err != nil {
		return err
	}
	session, err := engine.NewSession(cfg)
	if err != nil {
		return err
	}

	player := svf.NewPlayer(jtag.NewSessionAdapter(session), svf.Options{
		MaxCycles:      s.MaxCycles,
		StopOnMismatch: s.StopOnMismatch,
		Logger:         logger,
	})
	res, runErr := player.Run(cmd.Context(), script)
	report := session.Report()

	out := cmd.OutOrStdout()
	printScriptResult(out, args[0], res)
	report.WriteSummary(out)
	if verbose {
		printDetails(out, report)
		if board != nil {
			printPins(out, board)
		}
	}

	// A fatal error is already reported as a halted session.
	if runErr != nil && !taperr.IsFatal(runErr) {
		return runErr
	}
	if !report.Passed() || len(res.Unexpected()) > 0 {
		return errVerificationFailed
	}
	return nil
}

func printScriptResult(w io.Writer, name string, res svf.Result) {
	fmt.Fprintf(w, "Script %s: %d commands, %d cycles, %d TDO checks, %d mismatches\n",
		name, res.Commands, res.Cycles, res.Checks, len(res.Mismatches))
	for _, m := range res.Mismatches {
		fmt.Fprintf(w, "  %s\n", m)
	}
}

func printDetails(w io.Writer, r engine.Report) {
	if len(r.Events) > 0 {
		fmt.Fprintln(w, "Events:")
		for _, e := range r.Events {
			fmt.Fprintf(w, "  %s\n", e)
		}
	}
	if len(r.Mismatches) > 0 {
		fmt.Fprintln(w, "Mismatches:")
		for _, m := range r.Mismatches {
			fmt.Fprintf(w, "  %s\n", m)
		}
	}
	if len(r.Faults) > 0 {
		fmt.Fprintln(w, "Faults:")
		for _, f := range r.Faults {
			fmt.Fprintf(w, "  %s\n", f)
		}
	}
}

func printPins(w io.Writer, b *bsr.Board) {
	fmt.Fprintln(w, "Pins:")
	for _, p := range b.Pins() {
		level := ""
		if p.Mode == bsr.PinOutput {
			level = fmt.Sprintf(" = %d", b2i(p.Driven))
		}
		fmt.Fprintf(w, "  %-8s %s%s (input %d)\n", p.Port, p.Mode, level, b2i(p.Input))
	}
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}
