package mkii

import "fmt"

// ReplyCode is the first payload byte of a reply frame. Only the codes
// declared below are valid; ParseReplyCode rejects everything else.
type ReplyCode byte

// Reply codes
const (
	RspOk              ReplyCode = 0x80
	RspParameter       ReplyCode = 0x81
	RspMemory          ReplyCode = 0x82
	RspSignOn          ReplyCode = 0x86
	RspFailed          ReplyCode = 0xA0
	RspIllegalMCUState ReplyCode = 0xA5
	RspNoTargetPower   ReplyCode = 0xAB
	// Firmware revisions differ in how they report missing target power.
	RspNoTargetPower1 ReplyCode = 0xC1
	RspNoTargetPower2 ReplyCode = 0xC2
	RspNoTargetPower3 ReplyCode = 0xC3
	RspNoTargetPower4 ReplyCode = 0xC4
)

// ReplyClass partitions the known reply codes.
type ReplyClass int

const (
	// ClassSuccess codes mean the command's preconditions were met.
	ClassSuccess ReplyClass = iota + 1
	// ClassDeviceFailure codes mean the probe rejected the command.
	ClassDeviceFailure
)

func (c ReplyClass) String() string {
	switch c {
	case ClassSuccess:
		return "success"
	case ClassDeviceFailure:
		return "device-failure"
	default:
		return "invalid"
	}
}

var replyCodes = map[ReplyCode]struct {
	name  string
	class ReplyClass
}{
	RspOk:              {"ok", ClassSuccess},
	RspParameter:       {"parameter", ClassSuccess},
	RspMemory:          {"memory", ClassSuccess},
	RspSignOn:          {"sign-on", ClassSuccess},
	RspFailed:          {"failed", ClassDeviceFailure},
	RspIllegalMCUState: {"illegal-mcu-state", ClassDeviceFailure},
	RspNoTargetPower:   {"no-target-power", ClassDeviceFailure},
	RspNoTargetPower1:  {"no-target-power-1", ClassDeviceFailure},
	RspNoTargetPower2:  {"no-target-power-2", ClassDeviceFailure},
	RspNoTargetPower3:  {"no-target-power-3", ClassDeviceFailure},
	RspNoTargetPower4:  {"no-target-power-4", ClassDeviceFailure},
}

// ParseReplyCode maps a wire byte onto the closed set of reply codes.
func ParseReplyCode(b byte) (ReplyCode, error) {
	code := ReplyCode(b)
	if _, ok := replyCodes[code]; !ok {
		return 0, &UnknownReplyError{Code: b}
	}
	return code, nil
}

// Class reports which partition the code belongs to.
func (c ReplyCode) Class() ReplyClass {
	return replyCodes[c].class
}

// IsSuccess reports whether c is in the success class.
func (c ReplyCode) IsSuccess() bool {
	return c.Class() == ClassSuccess
}

// IsNoTargetPower reports whether c is any of the no-target-power variants.
func (c ReplyCode) IsNoTargetPower() bool {
	switch c {
	case RspNoTargetPower, RspNoTargetPower1, RspNoTargetPower2, RspNoTargetPower3, RspNoTargetPower4:
		return true
	}
	return false
}

func (c ReplyCode) String() string {
	if info, ok := replyCodes[c]; ok {
		return fmt.Sprintf("%s (0x%02X)", info.name, byte(c))
	}
	return fmt.Sprintf("unknown (0x%02X)", byte(c))
}

// Reply is a decoded reply frame with the reply code stripped from Data.
type Reply struct {
	Seqno uint16
	Code  ReplyCode
	Data  []byte
}
