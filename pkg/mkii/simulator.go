package mkii

import (
	"encoding/binary"
	"errors"
	"io"
)

// ErrSimTimeout is returned by SimDevice.Read when no reply is pending,
// standing in for a serial read timeout.
var ErrSimTimeout = errors.New("mkii: simulator read timeout")

// Command is a decoded command frame as seen by the simulator.
type Command struct {
	Seqno uint16
	Op    Opcode
	Args  []byte
}

// CommandHook lets tests replace the simulator's answer to a command. When
// handled is false the default behavior applies.
type CommandHook func(cmd Command) (code ReplyCode, data []byte, handled bool)

// SimDevice is an in-memory JTAG ICE mkII. Frames written to it are decoded
// and answered; replies are read back in chunks of ChunkSizes (cycled), or
// as much as the caller asks for when ChunkSizes is empty.
type SimDevice struct {
	SRAM        [0x10000]byte
	Params      map[Param][]byte
	TargetPower bool
	ProgMode    bool
	BaudRate    int
	DeviceName  string

	ChunkSizes []int
	// ReplySeqOffset is added to the seqno of every reply.
	ReplySeqOffset uint16
	// CorruptReplies flips a CRC bit in every reply.
	CorruptReplies bool
	// Trailing is appended after every reply frame.
	Trailing  []byte
	OnCommand CommandHook

	codec    *Codec
	inbound  []byte
	outbound []byte
	chunk    int
	commands []Command
	closed   bool
}

var _ Transport = (*SimDevice)(nil)

// NewSimDevice returns a powered simulator at the default baud rate.
func NewSimDevice() *SimDevice {
	return &SimDevice{
		Params: map[Param][]byte{
			ParamHWVersion:    {0x01},
			ParamFWVersion:    {0x1F, 0x07},
			ParamEmulatorMode: {EmulatorModeJTAG},
			ParamJTAGClock:    {0x06},
		},
		TargetPower: true,
		BaudRate:    DefaultBaudRate,
		DeviceName:  "JTAGICEmkII",
		codec:       DefaultCodec,
	}
}

// Commands returns every command decoded so far.
func (d *SimDevice) Commands() []Command {
	return append([]Command(nil), d.commands...)
}

// LastCommand returns the most recent command, if any.
func (d *SimDevice) LastCommand() (Command, bool) {
	if len(d.commands) == 0 {
		return Command{}, false
	}
	return d.commands[len(d.commands)-1], true
}

// Pending reports how many reply bytes have not been read yet.
func (d *SimDevice) Pending() int {
	return len(d.outbound)
}

// Write accepts command bytes. Complete frames are answered immediately;
// corrupt input is dropped without a reply.
func (d *SimDevice) Write(p []byte) (int, error) {
	if d.closed {
		return 0, io.ErrClosedPipe
	}
	d.inbound = append(d.inbound, p...)
	for len(d.inbound) > 0 {
		total, err := FrameLength(d.inbound)
		if errors.Is(err, ErrIncomplete) || (err == nil && len(d.inbound) < total) {
			break
		}
		if err != nil {
			d.inbound = nil
			break
		}
		frame, err := d.codec.DecodeFrame(d.inbound[:total])
		d.inbound = d.inbound[total:]
		if err != nil || len(frame.Payload) == 0 {
			continue
		}
		d.handle(Command{
			Seqno: frame.Seqno,
			Op:    Opcode(frame.Payload[0]),
			Args:  frame.Payload[1:],
		})
	}
	return len(p), nil
}

// Read returns pending reply bytes, or ErrSimTimeout when none are queued.
func (d *SimDevice) Read(p []byte) (int, error) {
	if d.closed {
		return 0, io.ErrClosedPipe
	}
	if len(d.outbound) == 0 {
		return 0, ErrSimTimeout
	}
	n := len(p)
	if len(d.ChunkSizes) > 0 {
		n = min(n, d.ChunkSizes[d.chunk%len(d.ChunkSizes)])
		d.chunk++
	}
	n = copy(p, d.outbound[:min(n, len(d.outbound))])
	d.outbound = d.outbound[n:]
	return n, nil
}

// SetBaudRate records the new line rate.
func (d *SimDevice) SetBaudRate(baud int) error {
	d.BaudRate = baud
	return nil
}

// Close makes further reads and writes fail.
func (d *SimDevice) Close() error {
	d.closed = true
	return nil
}

func (d *SimDevice) handle(cmd Command) {
	d.commands = append(d.commands, cmd)

	code, data, handled := RspFailed, []byte(nil), false
	if d.OnCommand != nil {
		code, data, handled = d.OnCommand(cmd)
	}
	if !handled {
		code, data = d.execute(cmd)
	}

	raw := d.codec.EncodeReply(cmd.Seqno+d.ReplySeqOffset, code, data)
	if d.CorruptReplies {
		raw[len(raw)-1] ^= 0x01
	}
	d.outbound = append(d.outbound, raw...)
	d.outbound = append(d.outbound, d.Trailing...)
}

func (d *SimDevice) execute(cmd Command) (ReplyCode, []byte) {
	switch cmd.Op {
	case CmdGetSignOn:
		return RspSignOn, d.signOnPayload()
	case CmdSignOff, CmdGetSync, CmdReset, CmdLeaveProgMode:
		if cmd.Op == CmdLeaveProgMode {
			d.ProgMode = false
		}
		return RspOk, nil
	case CmdEnterProgMode:
		if !d.TargetPower {
			return RspNoTargetPower, nil
		}
		d.ProgMode = true
		return RspOk, nil
	case CmdSetDeviceDescriptor:
		if len(cmd.Args) != DeviceDescriptorSize {
			return RspFailed, nil
		}
		return RspOk, nil
	case CmdGetParameter:
		return d.getParam(cmd.Args)
	case CmdSetParameter:
		return d.setParam(cmd.Args)
	case CmdReadMemory:
		return d.readMemory(cmd.Args)
	case CmdWriteMemory:
		return d.writeMemory(cmd.Args)
	}
	return RspFailed, nil
}

func (d *SimDevice) signOnPayload() []byte {
	p := []byte{
		0x01,                   // protocol version
		0xFF, 0x07, 0x06, 0x01, // master MCU
		0xFF, 0x07, 0x06, 0x01, // slave MCU
		0x07, 0x00, 0x00, 0x00, 0x12, 0x34,
	}
	p = append(p, d.DeviceName...)
	return append(p, 0x00)
}

func (d *SimDevice) getParam(args []byte) (ReplyCode, []byte) {
	if len(args) < 1 {
		return RspFailed, nil
	}
	id := Param(args[0])
	switch id {
	case ParamOCDVTarget:
		mv := uint16(0)
		if d.TargetPower {
			mv = 3300
		}
		return RspParameter, binary.LittleEndian.AppendUint16(nil, mv)
	case ParamBaudRate:
		code, _ := BaudCode(d.BaudRate)
		return RspParameter, []byte{code}
	}
	v, ok := d.Params[id]
	if !ok {
		return RspFailed, nil
	}
	return RspParameter, append([]byte(nil), v...)
}

func (d *SimDevice) setParam(args []byte) (ReplyCode, []byte) {
	if len(args) < 2 {
		return RspFailed, nil
	}
	id := Param(args[0])
	if id == ParamBaudRate {
		for baud, code := range baudCodes {
			if code == args[1] {
				d.BaudRate = baud
				return RspOk, nil
			}
		}
		return RspFailed, nil
	}
	if d.Params == nil {
		d.Params = make(map[Param][]byte)
	}
	d.Params[id] = append([]byte(nil), args[1:]...)
	return RspOk, nil
}

func (d *SimDevice) memoryRange(args []byte) (addr, count int, code ReplyCode, ok bool) {
	if !d.TargetPower {
		return 0, 0, RspNoTargetPower, false
	}
	if len(args) < 9 || args[0] != MemTypeSRAM {
		return 0, 0, RspFailed, false
	}
	count = int(binary.LittleEndian.Uint32(args[1:5]))
	addr = int(binary.LittleEndian.Uint32(args[5:9]))
	if addr+count > len(d.SRAM) {
		return 0, 0, RspFailed, false
	}
	return addr, count, RspOk, true
}

func (d *SimDevice) readMemory(args []byte) (ReplyCode, []byte) {
	addr, count, code, ok := d.memoryRange(args)
	if !ok {
		return code, nil
	}
	return RspMemory, append([]byte(nil), d.SRAM[addr:addr+count]...)
}

func (d *SimDevice) writeMemory(args []byte) (ReplyCode, []byte) {
	addr, count, code, ok := d.memoryRange(args)
	if !ok {
		return code, nil
	}
	data := args[9:]
	if len(data) != count {
		return RspFailed, nil
	}
	copy(d.SRAM[addr:], data)
	return RspOk, nil
}
