package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceMKII/pkg/mkii"
)

var resetFlags uint8

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset the target",
	Long: `Reset the target. --flags combines 0x01 (low-level reset) and 0x02
(leave the target halted).`,
	Args: cobra.NoArgs,
	RunE: runReset,
}

func init() {
	rootCmd.AddCommand(resetCmd)
	resetCmd.Flags().Uint8Var(&resetFlags, "flags", mkii.ResetLowLevel, "reset flags")
}

func runReset(cmd *cobra.Command, args []string) error {
	s, _, err := connect(nil)
	if err != nil {
		return err
	}
	defer closeSession(s)

	if err := s.Reset(resetFlags); err != nil {
		return err
	}
	s.AdvanceSeqno()

	fmt.Fprintf(cmd.OutOrStdout(), "target reset (flags 0x%02X)\n", resetFlags)
	return nil
}
