package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceMKII/pkg/mkii"
)

var pokeCmd = &cobra.Command{
	Use:   "poke <addr> <value>",
	Short: "Write one byte of target SRAM",
	Args:  cobra.ExactArgs(2),
	RunE:  runPoke,
}

func init() {
	rootCmd.AddCommand(pokeCmd)
}

func runPoke(cmd *cobra.Command, args []string) error {
	addr, err := parseAddr(args[0])
	if err != nil {
		return err
	}
	v, err := strconv.ParseUint(args[1], 0, 8)
	if err != nil {
		return fmt.Errorf("invalid value %q: %w", args[1], err)
	}

	s, _, err := connect(nil)
	if err != nil {
		return err
	}
	defer closeSession(s)

	if err := mkii.NewRAM(s).Poke(addr, byte(v)); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "0x%04X <- 0x%02X\n", addr, byte(v))
	return nil
}
