package mkii

import "fmt"

// Framing bytes
const (
	MessageStart = 0x1B
	Token        = 0x0E

	// HeaderSize is start + seqno + length + token.
	HeaderSize = 8
	// CRCSize is the trailing checksum width.
	CRCSize = 2
	// lengthFieldEnd is the number of bytes needed before the payload
	// length can be read.
	lengthFieldEnd = 7
)

// Opcode identifies a host command. It is the first payload byte of every
// command frame.
type Opcode byte

// Command opcodes
const (
	CmdSignOff             Opcode = 0x00
	CmdGetSignOn           Opcode = 0x01
	CmdSetParameter        Opcode = 0x02
	CmdGetParameter        Opcode = 0x03
	CmdWriteMemory         Opcode = 0x04
	CmdReadMemory          Opcode = 0x05
	CmdReset               Opcode = 0x0B
	CmdSetDeviceDescriptor Opcode = 0x0C
	CmdGetSync             Opcode = 0x0F
	CmdEnterProgMode       Opcode = 0x14
	CmdLeaveProgMode       Opcode = 0x15
)

func (o Opcode) String() string {
	switch o {
	case CmdSignOff:
		return "sign-off"
	case CmdGetSignOn:
		return "sign-on"
	case CmdSetParameter:
		return "set-parameter"
	case CmdGetParameter:
		return "get-parameter"
	case CmdWriteMemory:
		return "write-memory"
	case CmdReadMemory:
		return "read-memory"
	case CmdReset:
		return "reset"
	case CmdSetDeviceDescriptor:
		return "set-device-descriptor"
	case CmdGetSync:
		return "get-sync"
	case CmdEnterProgMode:
		return "enter-progmode"
	case CmdLeaveProgMode:
		return "leave-progmode"
	default:
		return fmt.Sprintf("opcode-0x%02X", byte(o))
	}
}

// Memory types used by read/write memory commands
const (
	MemTypeSRAM      = 0x20
	MemTypeEEPROM    = 0x22
	MemTypeIOShadow  = 0x30
	MemTypeFlashPage = 0xB0
	MemTypeFuseBits  = 0xB2
	MemTypeLockBits  = 0xB3
	MemTypeSignature = 0xB4
)

// Param identifies a device parameter for get/set parameter commands.
type Param byte

// Parameter IDs
const (
	ParamHWVersion    Param = 0x01
	ParamFWVersion    Param = 0x02
	ParamEmulatorMode Param = 0x03
	ParamBaudRate     Param = 0x05
	ParamOCDVTarget   Param = 0x06
	ParamJTAGClock    Param = 0x07
	ParamJTAGID       Param = 0x0E
	ParamExtReset     Param = 0x13
	ParamMCUState     Param = 0x1A
)

// Emulator modes for ParamEmulatorMode
const (
	EmulatorModeDebugWire = 0x00
	EmulatorModeJTAG      = 0x01
	EmulatorModeSPI       = 0x03
	EmulatorModePDI       = 0x06
)

// Reset flags
const (
	ResetLowLevel = 0x01
	ResetHigh     = 0x02
)

// baudCodes maps line rates to the values accepted by ParamBaudRate.
var baudCodes = map[int]byte{
	2400:   0x01,
	4800:   0x02,
	9600:   0x03,
	19200:  0x04,
	38400:  0x05,
	57600:  0x06,
	115200: 0x07,
	14400:  0x08,
}

// BaudCode returns the ParamBaudRate value for a line rate.
func BaudCode(baud int) (byte, bool) {
	c, ok := baudCodes[baud]
	return c, ok
}

// DefaultBaudRate is the rate the probe uses after power-up.
const DefaultBaudRate = 19200
