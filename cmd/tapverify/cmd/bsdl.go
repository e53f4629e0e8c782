package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceTAP/pkg/bitutil"
	"github.com/OpenTraceLab/OpenTraceTAP/pkg/bsdl"
	"github.com/OpenTraceLab/OpenTraceTAP/pkg/idcode"
)

var showCells bool

var bsdlCmd = &cobra.Command{
	Use:   "bsdl <file.bsd>",
	Short: "Show the register map a BSDL file gives a session",
	Long: `Parse a BSDL file and print what --bsdl would load into a session: the
compliance profile, instruction register, instructions with their data
register widths, IDCODE and boundary register.

Examples:
  tapverify bsdl part.bsd
  tapverify bsdl --cells part.bsd`,
	Args: cobra.ExactArgs(1),
	RunE: runBSDL,
}

func init() {
	rootCmd.AddCommand(bsdlCmd)
	bsdlCmd.Flags().BoolVarP(&showCells, "cells", "c", false, "list boundary register cells")
}

func runBSDL(cmd *cobra.Command, args []string) error {
	m, err := bsdl.Load(args[0])
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	fmt.Fprintf(out, "Entity:      %s\n", m.Entity)
	fmt.Fprintf(out, "Standard:    IEEE %s\n", m.Standard())
	fmt.Fprintf(out, "IR:          %d bits, capture %s\n", m.IRWidth, bitutil.FormatBits(bitutil.Uint32ToBits(m.IRCapture, m.IRWidth)))
	if m.HasIDCode {
		fmt.Fprintf(out, "IDCODE:      %s", idcode.ParseIDCode(m.IDCode))
		if m.IDCodeMask != 0xFFFFFFFF {
			fmt.Fprintf(out, " mask 0x%08X", m.IDCodeMask)
		}
		fmt.Fprintln(out)
	}
	if m.MaxTCKHz > 0 {
		fmt.Fprintf(out, "Max TCK:     %.0f Hz\n", m.MaxTCKHz)
	}
	fmt.Fprintf(out, "Boundary:    %d cells\n\n", m.BoundaryLength)

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "INSTRUCTION\tOPCODE\tDR BITS")
	for _, in := range m.Instructions {
		fmt.Fprintf(tw, "%s\t%s\t%d\n", in.Name, bitutil.FormatBits(bitutil.Uint32ToBits(in.Opcode, m.IRWidth)), in.DRWidth)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	for _, name := range m.Unsized {
		fmt.Fprintf(out, "  %s: register width unknown, mapped to BYPASS\n", name)
	}

	if showCells && len(m.Cells) > 0 {
		fmt.Fprintln(out)
		tw = tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "CELL\tTYPE\tPORT\tFUNCTION\tSAFE\tCONTROL")
		for _, c := range m.Cells {
			control := "-"
			if c.Control >= 0 {
				control = fmt.Sprintf("%d (disable %d, %s)", c.Control, c.Disable, c.Result)
			}
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n", c.Number, c.CellType, c.Port, c.Function, c.Safe, control)
		}
		return tw.Flush()
	}
	return nil
}
