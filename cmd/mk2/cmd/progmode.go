package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceMKII/pkg/mkii"
)

var sendDescriptor bool

var progmodeCmd = &cobra.Command{
	Use:   "progmode enter|leave",
	Short: "Enter or leave programming mode",
	Long: `Enter or leave programming mode. With --descriptor the default device
descriptor is sent before entering.`,
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"enter", "leave"},
	RunE:      runProgmode,
}

func init() {
	rootCmd.AddCommand(progmodeCmd)
	progmodeCmd.Flags().BoolVar(&sendDescriptor, "descriptor", false, "send the default device descriptor first")
}

func runProgmode(cmd *cobra.Command, args []string) error {
	s, _, err := connect(nil)
	if err != nil {
		return err
	}
	defer closeSession(s)

	out := cmd.OutOrStdout()
	if args[0] == "leave" {
		if err := s.LeaveProgMode(); err != nil {
			return err
		}
		s.AdvanceSeqno()
		fmt.Fprintln(out, "left programming mode")
		return nil
	}

	if sendDescriptor {
		if err := s.SetDeviceDescriptor(mkii.DefaultDeviceDescriptor()); err != nil {
			return err
		}
		s.AdvanceSeqno()
	}
	if err := s.EnterProgMode(); err != nil {
		return err
	}
	s.AdvanceSeqno()
	fmt.Fprintln(out, "entered programming mode")
	return nil
}
