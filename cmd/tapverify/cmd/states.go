package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceTAP/pkg/svf"
	"github.com/OpenTraceLab/OpenTraceTAP/pkg/tap"
)

var statesCmd = &cobra.Command{
	Use:   "states [from to]",
	Short: "Print the TAP transition table or the shortest path between two states",
	Long: `Without arguments, print the 16-state TAP controller table. With two SVF
state names (RESET, IDLE, DRSHIFT, IRPAUSE, ...) print the shortest TMS
sequence between them.`,
	Args: func(cmd *cobra.Command, args []string) error {
		if len(args) != 0 && len(args) != 2 {
			return fmt.Errorf("expected no arguments or two states, got %d", len(args))
		}
		return nil
	},
	RunE: runStates,
}

func init() {
	rootCmd.AddCommand(statesCmd)
}

func runStates(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if len(args) == 2 {
		from, err := svf.ParseState(args[0])
		if err != nil {
			return err
		}
		to, err := svf.ParseState(args[1])
		if err != nil {
			return err
		}
		path, err := tap.Path(from, to)
		if err != nil {
			return err
		}
		var tms strings.Builder
		for _, b := range path.TMS {
			if b {
				tms.WriteByte('1')
			} else {
				tms.WriteByte('0')
			}
		}
		names := make([]string, len(path.States))
		for i, s := range path.States {
			names[i] = s.String()
		}
		fmt.Fprintf(out, "TMS %s\n%s\n", tms.String(), strings.Join(names, " -> "))
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STATE\tTMS=0\tTMS=1\tDOMAIN")
	for s := tap.State(0); s < tap.NumStates; s++ {
		zero, err := tap.NextState(s, false)
		if err != nil {
			return err
		}
		one, err := tap.NextState(s, true)
		if err != nil {
			return err
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", s, zero, one, s.Domain())
	}
	return tw.Flush()
}
