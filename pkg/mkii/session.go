package mkii

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Session is the command-level API of a JTAG ICE mkII probe. Every method is
// one command/reply round trip over the session's Channel.
//
// No method advances the sequence number. Callers invoke AdvanceSeqno after
// each round trip they consider consumed, mirroring the probe's own counter.
type Session struct {
	ch *Channel
}

// NewSession creates a session over an opened transport. The session owns t
// from now on; Close releases it.
func NewSession(t Transport, opts ...ChannelOption) *Session {
	return &Session{ch: NewChannel(t, opts...)}
}

// Channel exposes the underlying channel.
func (s *Session) Channel() *Channel { return s.ch }

// Seqno returns the sequence number of the next command.
func (s *Session) Seqno() uint16 { return s.ch.Seqno() }

// AdvanceSeqno moves to the next sequence number.
func (s *Session) AdvanceSeqno() { s.ch.AdvanceSeqno() }

// ResetSeqno forces the sequence number.
func (s *Session) ResetSeqno(seqno uint16) { s.ch.ResetSeqno(seqno) }

// Close releases the transport if it can be closed.
func (s *Session) Close() error {
	if c, ok := s.ch.Transport().(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (s *Session) roundTrip(cmd []byte, want ReplyCode) (Reply, error) {
	op := Opcode(cmd[0])
	reply, err := s.ch.Exchange(cmd)
	if err != nil {
		return Reply{}, fmt.Errorf("%s: %w", op, err)
	}
	if err := checkReply(op, reply, want); err != nil {
		return reply, err
	}
	return reply, nil
}

func checkReply(op Opcode, reply Reply, want ReplyCode) error {
	if reply.Code == want {
		return nil
	}
	if reply.Code.Class() == ClassDeviceFailure {
		return &DeviceError{Op: op, Code: reply.Code}
	}
	return &UnexpectedReplyError{Op: op, Want: want, Got: reply.Code}
}

// SignOn performs the handshake. Only a sign-on reply is accepted.
func (s *Session) SignOn() (Reply, error) {
	return s.roundTrip([]byte{byte(CmdGetSignOn)}, RspSignOn)
}

// SignOff ends the debug session on the probe side.
func (s *Session) SignOff() error {
	_, err := s.roundTrip([]byte{byte(CmdSignOff)}, RspOk)
	return err
}

// GetSync checks that the probe is alive and in step.
func (s *Session) GetSync() error {
	_, err := s.roundTrip([]byte{byte(CmdGetSync)}, RspOk)
	return err
}

// EncodeGetParam builds a get-parameter command.
func EncodeGetParam(id Param) []byte {
	return []byte{byte(CmdGetParameter), byte(id)}
}

// EncodeSetParam builds a set-parameter command.
func EncodeSetParam(id Param, value []byte) []byte {
	cmd := make([]byte, 2, 2+len(value))
	cmd[0] = byte(CmdSetParameter)
	cmd[1] = byte(id)
	return append(cmd, value...)
}

// GetParam reads a parameter and returns its raw value bytes.
func (s *Session) GetParam(id Param) ([]byte, error) {
	reply, err := s.roundTrip(EncodeGetParam(id), RspParameter)
	if err != nil {
		return nil, err
	}
	return reply.Data, nil
}

// SetParam writes a parameter.
func (s *Session) SetParam(id Param, value ...byte) error {
	_, err := s.roundTrip(EncodeSetParam(id, value), RspOk)
	return err
}

// GetTargetVoltage returns the target supply voltage in millivolts.
func (s *Session) GetTargetVoltage() (uint16, error) {
	data, err := s.GetParam(ParamOCDVTarget)
	if err != nil {
		return 0, err
	}
	if len(data) < 2 {
		return 0, &UnexpectedReplyError{Op: CmdGetParameter, Msg: fmt.Sprintf("vtarget reply too short: %d bytes", len(data))}
	}
	return binary.LittleEndian.Uint16(data), nil
}

// SetBaudRate switches the probe to a new line rate and then reconfigures
// the transport to match. It must not be called while a command is in
// flight.
func (s *Session) SetBaudRate(baud int) error {
	if s.ch.InFlight() {
		return ErrCommandInFlight
	}
	code, ok := BaudCode(baud)
	if !ok {
		return fmt.Errorf("mkii: unsupported baud rate %d", baud)
	}
	if err := s.SetParam(ParamBaudRate, code); err != nil {
		return err
	}
	if setter, ok := s.ch.Transport().(BaudRateSetter); ok {
		if err := setter.SetBaudRate(baud); err != nil {
			return &TransportError{Op: "set baud rate", Err: err}
		}
	}
	return nil
}

// EncodeReadMemory builds a read-memory command:
// [opcode][type][count u32][address u32].
func EncodeReadMemory(memType byte, addr, count uint32) []byte {
	cmd := make([]byte, 10)
	cmd[0] = byte(CmdReadMemory)
	cmd[1] = memType
	binary.LittleEndian.PutUint32(cmd[2:6], count)
	binary.LittleEndian.PutUint32(cmd[6:10], addr)
	return cmd
}

// EncodeWriteMemory builds a write-memory command:
// [opcode][type][count u32][address u32][data...].
func EncodeWriteMemory(memType byte, addr uint32, data []byte) []byte {
	cmd := make([]byte, 10, 10+len(data))
	cmd[0] = byte(CmdWriteMemory)
	cmd[1] = memType
	binary.LittleEndian.PutUint32(cmd[2:6], uint32(len(data)))
	binary.LittleEndian.PutUint32(cmd[6:10], addr)
	return append(cmd, data...)
}

// ReadMemory reads count bytes of memType starting at addr. Reply bytes
// beyond count are dropped.
func (s *Session) ReadMemory(memType byte, addr, count uint32) ([]byte, error) {
	reply, err := s.roundTrip(EncodeReadMemory(memType, addr, count), RspMemory)
	if err != nil {
		return nil, err
	}
	if uint32(len(reply.Data)) < count {
		return nil, &UnexpectedReplyError{
			Op:  CmdReadMemory,
			Msg: fmt.Sprintf("short memory reply: want %d bytes, got %d", count, len(reply.Data)),
		}
	}
	return reply.Data[:count], nil
}

// WriteMemory writes data to memType starting at addr.
func (s *Session) WriteMemory(memType byte, addr uint32, data []byte) error {
	_, err := s.roundTrip(EncodeWriteMemory(memType, addr, data), RspOk)
	return err
}

// ReadRAMByte reads one byte of SRAM.
func (s *Session) ReadRAMByte(addr uint16) (byte, error) {
	data, err := s.ReadMemory(MemTypeSRAM, uint32(addr), 1)
	if err != nil {
		return 0, err
	}
	return data[0], nil
}

// WriteRAMByte writes one byte of SRAM.
func (s *Session) WriteRAMByte(addr uint16, value byte) error {
	return s.WriteMemory(MemTypeSRAM, uint32(addr), []byte{value})
}

// EnterProgMode puts the target into programming mode.
func (s *Session) EnterProgMode() error {
	_, err := s.roundTrip([]byte{byte(CmdEnterProgMode)}, RspOk)
	return err
}

// LeaveProgMode takes the target out of programming mode.
func (s *Session) LeaveProgMode() error {
	_, err := s.roundTrip([]byte{byte(CmdLeaveProgMode)}, RspOk)
	return err
}

// Reset resets the target. flags is a combination of ResetLowLevel and
// ResetHigh.
func (s *Session) Reset(flags byte) error {
	_, err := s.roundTrip([]byte{byte(CmdReset), flags}, RspOk)
	return err
}

// SetDeviceDescriptor uploads the target description the probe needs
// before programming. See DefaultDeviceDescriptor.
func (s *Session) SetDeviceDescriptor(desc []byte) error {
	cmd := make([]byte, 1, 1+len(desc))
	cmd[0] = byte(CmdSetDeviceDescriptor)
	_, err := s.roundTrip(append(cmd, desc...), RspOk)
	return err
}
