package cmd

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceMKII/pkg/mkii"
)

var peekCmd = &cobra.Command{
	Use:   "peek <addr> [count]",
	Short: "Dump target SRAM",
	Long: `Read count bytes (default 16) of target SRAM starting at addr, one byte
per round trip, and print them as a hex dump.

Examples:
  mk2 peek 0x0100
  mk2 peek 0x0060 64 --transport usb`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runPeek,
}

func init() {
	rootCmd.AddCommand(peekCmd)
}

func parseAddr(s string) (uint16, error) {
	n, err := strconv.ParseUint(s, 0, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q: %w", s, err)
	}
	return uint16(n), nil
}

func parseCount(args []string, def int) (int, error) {
	if len(args) == 0 {
		return def, nil
	}
	n, err := strconv.ParseUint(args[0], 0, 32)
	if err != nil || n == 0 || n > 0x10000 {
		return 0, fmt.Errorf("invalid count %q", args[0])
	}
	return int(n), nil
}

func runPeek(cmd *cobra.Command, args []string) error {
	addr, err := parseAddr(args[0])
	if err != nil {
		return err
	}
	count, err := parseCount(args[1:], 16)
	if err != nil {
		return err
	}
	if int(addr)+count > 0x10000 {
		return fmt.Errorf("range 0x%04X+%d exceeds address space", addr, count)
	}

	s, _, err := connect(nil)
	if err != nil {
		return err
	}
	defer closeSession(s)

	buf := make([]byte, count)
	if err := mkii.NewRAM(s).Peek(addr, buf); err != nil {
		return err
	}
	hexDump(cmd.OutOrStdout(), addr, buf)
	return nil
}

// hexDump prints 16 bytes per line prefixed with the target address.
func hexDump(w io.Writer, addr uint16, data []byte) {
	for off := 0; off < len(data); off += 16 {
		end := min(off+16, len(data))
		line := data[off:end]

		var ascii strings.Builder
		for _, b := range line {
			if b >= 0x20 && b < 0x7F {
				ascii.WriteByte(b)
			} else {
				ascii.WriteByte('.')
			}
		}
		fmt.Fprintf(w, "%04X: %-47s  |%s|\n", int(addr)+off, fmt.Sprintf("% X", line), ascii.String())
	}
}
