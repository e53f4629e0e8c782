package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceTAP/pkg/bitutil"
	"github.com/OpenTraceLab/OpenTraceTAP/pkg/idcode"
)

var crcCmd = &cobra.Command{
	Use:   "crc <bits>",
	Short: "Compute the scoreboard CRC-32 of a bit string",
	Long: `Compute the CRC-32 the scoreboard uses for data register integrity over a
bit string written MSB first (the last character is the first bit shifted).

Example:
  tapverify crc 10100101`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		bits, err := bitutil.ParseBits(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "CRC-32 0x%08X over %d bits\n", bitutil.CRC32(bits), len(bits))
		return nil
	},
}

var idcodeCmd = &cobra.Command{
	Use:   "idcode <hex>",
	Short: "Decode and validate a 32-bit IDCODE",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := parseHex32(args[0])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, idcode.ParseIDCode(raw))
		if err := idcode.Validate(raw); err != nil {
			fmt.Fprintf(out, "  invalid: %v\n", err)
			return errVerificationFailed
		}
		fmt.Fprintln(out, "  valid")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(crcCmd)
	rootCmd.AddCommand(idcodeCmd)
}
