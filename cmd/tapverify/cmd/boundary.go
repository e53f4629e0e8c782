package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceTAP/pkg/bitutil"
	"github.com/OpenTraceLab/OpenTraceTAP/pkg/bsdl"
	"github.com/OpenTraceLab/OpenTraceTAP/pkg/bsr"
	"github.com/OpenTraceLab/OpenTraceTAP/pkg/svf"
)

var (
	boundaryDrive []string
	boundaryHiZ   bool
)

var boundaryCmd = &cobra.Command{
	Use:   "boundary <file.bsd>",
	Short: "Emit SVF that loads a boundary-scan vector",
	Long: `Emit an SVF fragment that preloads a boundary register vector and then
selects EXTEST so the pins take it.

The vector is the safe vector by default, every output disabled with --hiz,
or the disabled vector with the listed pins driven with --drive.

Examples:
  tapverify boundary part.bsd --hiz
  tapverify boundary part.bsd --drive IO0=1 --drive IO1=0 > drive.svf`,
	Args: cobra.ExactArgs(1),
	RunE: runBoundary,
}

func init() {
	rootCmd.AddCommand(boundaryCmd)
	boundaryCmd.Flags().StringSliceVar(&boundaryDrive, "drive", nil, "drive output pin PORT=0|1")
	boundaryCmd.Flags().BoolVar(&boundaryHiZ, "hiz", false, "disable every output")
}

func runBoundary(cmd *cobra.Command, args []string) error {
	m, err := bsdl.Load(args[0])
	if err != nil {
		return err
	}
	board, err := bsr.NewBoard(m)
	if err != nil {
		return err
	}

	var vector []bool
	label := "safe"
	switch {
	case len(boundaryDrive) > 0:
		levels, err := parseLevels(boundaryDrive)
		if err != nil {
			return err
		}
		if vector, err = board.DriveVector(levels); err != nil {
			return err
		}
		label = "drive " + strings.Join(boundaryDrive, ", ")
	case boundaryHiZ:
		vector, label = board.HiZVector(), "high impedance"
	default:
		vector = board.SafeVector()
	}

	opcodes := make(map[string]uint32, len(m.Instructions))
	for _, in := range m.Instructions {
		opcodes[strings.ToUpper(in.Name)] = in.Opcode
	}
	extest, ok := opcodes["EXTEST"]
	if !ok {
		return fmt.Errorf("%s declares no EXTEST opcode", m.Entity)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "! %s boundary vector: %s\n", m.Entity, label)
	for _, name := range []string{"PRELOAD", "SAMPLE"} {
		if op, ok := opcodes[name]; ok {
			writeScan(out, m.IRWidth, op, vector)
			break
		}
	}
	writeScan(out, m.IRWidth, extest, vector)
	return nil
}

// writeScan selects an instruction and shifts the vector through its
// register.
func writeScan(w io.Writer, irWidth int, opcode uint32, vector []bool) {
	fmt.Fprintf(w, "SIR %d TDI (%s);\n", irWidth, svf.FormatHex(bitutil.Uint32ToBits(opcode, irWidth)))
	fmt.Fprintf(w, "SDR %d TDI (%s);\n", len(vector), svf.FormatHex(vector))
}
