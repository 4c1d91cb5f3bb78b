package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceMKII/pkg/mkii/transport"
)

var interfacesCmd = &cobra.Command{
	Use:   "interfaces",
	Short: "List serial ports and mkII USB probes",
	Long: `Scan the host for serial ports and JTAG ICE mkII USB probes and print a
summary. Use this to find the --port or --usb-serial value for other commands.`,
	Args: cobra.NoArgs,
	RunE: runInterfaces,
}

func init() {
	rootCmd.AddCommand(interfacesCmd)
}

func runInterfaces(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
	defer cancel()

	out := cmd.OutOrStdout()
	infos, err := transport.Discover(ctx)
	if err != nil {
		// Serial ports found before the USB scan failed are still useful.
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
	}

	if len(infos) == 0 {
		fmt.Fprintln(out, "No interfaces found.")
		return nil
	}

	fmt.Fprintln(out, "Detected interfaces:")
	for _, p := range infos {
		line := fmt.Sprintf("  - %s [%s]", p.Label(), p.Kind)
		if p.VendorID != 0 || p.ProductID != 0 {
			line += fmt.Sprintf(" (VID:PID %04X:%04X)", p.VendorID, p.ProductID)
		}
		if p.Serial != "" {
			line += " serial " + p.Serial
		}
		if p.IsMKII() {
			line += " *mkII*"
		}
		fmt.Fprintln(out, line)
	}
	return nil
}
