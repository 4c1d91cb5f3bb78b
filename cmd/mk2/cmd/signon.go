package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/OpenTraceLab/OpenTraceMKII/pkg/mkii"
)

var signonJSON bool

// SignOnOutput is the JSON form of a sign-on.
type SignOnOutput struct {
	ProtocolVersion int    `json:"protocol_version"`
	Master          string `json:"master"`
	Slave           string `json:"slave"`
	Serial          string `json:"serial"`
	DeviceName      string `json:"device_name"`
	TargetMillivolt *int   `json:"target_mv,omitempty"`
}

var signonCmd = &cobra.Command{
	Use:   "signon",
	Short: "Sign on to the probe and print its identity",
	Long: `Sign on to the probe, print the firmware versions, serial number and
device name it reports, and the target supply voltage when available.

Examples:
  mk2 signon --port /dev/ttyUSB0
  mk2 signon --transport usb --json`,
	Args: cobra.NoArgs,
	RunE: runSignon,
}

func init() {
	rootCmd.AddCommand(signonCmd)
	signonCmd.Flags().BoolVar(&signonJSON, "json", false, "output as JSON")
}

func runSignon(cmd *cobra.Command, args []string) error {
	s, info, err := connect(nil)
	if err != nil {
		return err
	}
	defer closeSession(s)

	result := SignOnOutput{
		ProtocolVersion: int(info.ProtocolVersion),
		Master:          info.Master.String(),
		Slave:           info.Slave.String(),
		Serial:          info.SerialString(),
		DeviceName:      info.DeviceName,
	}

	mv, err := s.GetTargetVoltage()
	switch {
	case err == nil:
		s.AdvanceSeqno()
		v := int(mv)
		result.TargetMillivolt = &v
	case mkii.Classify(err) == mkii.ClassDevice:
		// Some firmware refuses the query without target power.
		s.AdvanceSeqno()
		logger.Debug("target voltage unavailable", zap.Error(err))
	default:
		return err
	}

	out := cmd.OutOrStdout()
	if signonJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	fmt.Fprintf(out, "Device:   %s\n", result.DeviceName)
	fmt.Fprintf(out, "Serial:   %s\n", result.Serial)
	fmt.Fprintf(out, "Protocol: %d\n", result.ProtocolVersion)
	fmt.Fprintf(out, "Master:   %s\n", result.Master)
	fmt.Fprintf(out, "Slave:    %s\n", result.Slave)
	if result.TargetMillivolt != nil {
		fmt.Fprintf(out, "Target:   %.2f V\n", float64(*result.TargetMillivolt)/1000)
	}
	return nil
}
