package cmd

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceMKII/pkg/mkii"
)

// paramNames are the parameter ids accepted by name.
var paramNames = map[string]mkii.Param{
	"hw-version":    mkii.ParamHWVersion,
	"fw-version":    mkii.ParamFWVersion,
	"emulator-mode": mkii.ParamEmulatorMode,
	"baud-rate":     mkii.ParamBaudRate,
	"vtarget":       mkii.ParamOCDVTarget,
	"jtag-clock":    mkii.ParamJTAGClock,
	"jtag-id":       mkii.ParamJTAGID,
	"ext-reset":     mkii.ParamExtReset,
	"mcu-state":     mkii.ParamMCUState,
}

// parseParam accepts a parameter name or a numeric id (0x06, 6).
func parseParam(s string) (mkii.Param, error) {
	if p, ok := paramNames[strings.ToLower(s)]; ok {
		return p, nil
	}
	n, err := strconv.ParseUint(s, 0, 8)
	if err != nil {
		names := make([]string, 0, len(paramNames))
		for name := range paramNames {
			names = append(names, name)
		}
		sort.Strings(names)
		return 0, fmt.Errorf("unknown parameter %q (want an id or one of %s)", s, strings.Join(names, ", "))
	}
	return mkii.Param(n), nil
}

// parseHexBytes accepts "1f07", "1F 07" or "0x1f,0x07".
func parseHexBytes(args []string) ([]byte, error) {
	joined := strings.Join(args, "")
	joined = strings.NewReplacer("0x", "", "0X", "", ",", "", " ", "").Replace(joined)
	b, err := hex.DecodeString(joined)
	if err != nil {
		return nil, fmt.Errorf("parse value: %w", err)
	}
	if len(b) == 0 {
		return nil, fmt.Errorf("parse value: empty")
	}
	return b, nil
}

var paramCmd = &cobra.Command{
	Use:   "param",
	Short: "Read or write probe parameters",
	Long: `Read or write probe parameters by name or numeric id.

Examples:
  mk2 param get vtarget
  mk2 param get 0x02
  mk2 param set jtag-clock 06`,
}

var paramGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Read a parameter",
	Args:  cobra.ExactArgs(1),
	RunE:  runParamGet,
}

var paramSetCmd = &cobra.Command{
	Use:   "set <id> <hex bytes>",
	Short: "Write a parameter",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runParamSet,
}

func init() {
	rootCmd.AddCommand(paramCmd)
	paramCmd.AddCommand(paramGetCmd, paramSetCmd)
}

func runParamGet(cmd *cobra.Command, args []string) error {
	id, err := parseParam(args[0])
	if err != nil {
		return err
	}

	s, _, err := connect(nil)
	if err != nil {
		return err
	}
	defer closeSession(s)

	value, err := s.GetParam(id)
	if err != nil {
		return err
	}
	s.AdvanceSeqno()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "param 0x%02X: % X\n", byte(id), value)
	if id == mkii.ParamOCDVTarget && len(value) >= 2 {
		fmt.Fprintf(out, "target voltage: %d mV\n", binary.LittleEndian.Uint16(value))
	}
	return nil
}

func runParamSet(cmd *cobra.Command, args []string) error {
	id, err := parseParam(args[0])
	if err != nil {
		return err
	}
	value, err := parseHexBytes(args[1:])
	if err != nil {
		return err
	}
	if id == mkii.ParamBaudRate {
		return fmt.Errorf("use session.switchBaud to change the baud rate")
	}

	s, _, err := connect(nil)
	if err != nil {
		return err
	}
	defer closeSession(s)

	if err := s.SetParam(id, value...); err != nil {
		return err
	}
	s.AdvanceSeqno()

	fmt.Fprintf(cmd.OutOrStdout(), "param 0x%02X set to % X\n", byte(id), value)
	return nil
}
