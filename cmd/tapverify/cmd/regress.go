package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"golang.org/x/term"

	"github.com/OpenTraceLab/OpenTraceTAP/pkg/regress"
	"github.com/OpenTraceLab/OpenTraceTAP/pkg/svf"
)

var (
	parallel    int
	stopOnFatal bool
	traceFile   string
)

var regressCmd = &cobra.Command{
	Use:   "regress <script.svf>...",
	Short: "Play several SVF scripts on independent sessions in parallel",
	Long: `Run every script on its own fresh session built from the same settings
and print one line per script.

Examples:
  tapverify regress --parallel 4 tests/*.svf
  tapverify regress --stop-on-fatal --standard 1149.7 a.svf b.svf
  tapverify regress --trace spans.json tests/*.svf`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRegress,
}

func init() {
	rootCmd.AddCommand(regressCmd)
	addSessionFlags(regressCmd.Flags())
	regressCmd.Flags().IntVarP(&parallel, "parallel", "j", 0, "sessions run at once (default GOMAXPROCS)")
	regressCmd.Flags().BoolVar(&stopOnFatal, "stop-on-fatal", false, "cancel remaining scripts after a fatal error")
	regressCmd.Flags().StringVar(&traceFile, "trace", "", "write one JSON span per script to `file`")
}

func runRegress(cmd *cobra.Command, args []string) error {
	s, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	jobs := make([]regress.Job, 0, len(args))
	for _, path := range args {
		script, err := svf.ParseFile(path)
		if err != nil {
			return err
		}
		// Each job gets its own config and board so nothing is shared
		// between sessions.
		cfg, _, err := sessionConfig(s)
		if err != nil {
			return err
		}
		jobs = append(jobs, regress.Job{Name: filepath.Base(path), Config: cfg, Script: script})
	}

	opts := regress.Options{
		Parallelism:    parallel,
		StopOnFatal:    stopOnFatal,
		StopOnMismatch: s.StopOnMismatch,
		MaxCycles:      s.MaxCycles,
		Logger:         logger,
	}
	if traceFile != "" {
		tp, closeTrace, err := fileTracer(traceFile)
		if err != nil {
			return err
		}
		defer closeTrace()
		opts.TracerProvider = tp
	}

	results, runErr := regress.Run(cmd.Context(), jobs, opts)
	failed := printResults(cmd.OutOrStdout(), results)
	if runErr != nil {
		return runErr
	}
	if failed > 0 {
		return fmt.Errorf("%w: %d of %d scripts", errVerificationFailed, failed, len(results))
	}
	return nil
}

// fileTracer exports every finished span to path as JSON.
func fileTracer(path string) (*sdktrace.TracerProvider, func(), error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("trace: %w", err)
	}
	exp, err := stdouttrace.New(stdouttrace.WithWriter(f))
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("trace: %w", err)
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	return tp, func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			logger.Warn("trace shutdown", "error", err)
		}
		f.Close()
	}, nil
}

// printResults writes the result table and returns the number of failed
// jobs. On a terminal the detail column is cut to the window width.
func printResults(w io.Writer, results []regress.Result) int {
	width := 0
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		if cols, _, err := term.GetSize(int(f.Fd())); err == nil {
			width = cols
		}
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SCRIPT\tRESULT\tCYCLES\tCHECKS\tMISMATCHES\tEVENTS\tDETAIL")
	failed := 0
	for _, r := range results {
		status := "PASS"
		if !r.Passed() {
			status = "FAIL"
			failed++
		}
		detail := ""
		switch {
		case r.Err != nil:
			detail = r.Err.Error()
		case r.Report.Halted:
			detail = r.Report.HaltReason
		}
		if width > 0 && len(detail) > width/2 {
			detail = detail[:max(width/2-3, 0)] + "..."
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\t%s\n", r.Job, status, r.Report.Cycles,
			r.Script.Checks, len(r.Report.Mismatches), len(r.Report.Events), detail)
	}
	tw.Flush()
	fmt.Fprintf(w, "%d/%d passed\n", len(results)-failed, len(results))
	return failed
}
