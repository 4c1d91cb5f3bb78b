package mkii

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

func TestReadRAMByteEncoding(t *testing.T) {
	tr := &scriptedTransport{reads: [][]byte{memoryReply(0, 0x5A, 0x11, 0x22)}}
	s := NewSession(tr)

	got, err := s.ReadRAMByte(0x3F00)
	if err != nil {
		t.Fatalf("ReadRAMByte() error = %v", err)
	}
	if got != 0x5A {
		t.Fatalf("ReadRAMByte() = 0x%02X, want 0x5A", got)
	}

	want := []byte{
		0x1B, 0x00, 0x00, 0x0A, 0x00, 0x00, 0x00, 0x0E,
		0x05, 0x20, 0x01, 0x00, 0x00, 0x00, 0x00, 0x3F, 0x00, 0x00,
		0xF5, 0x73,
	}
	if len(tr.written) != 1 || !bytes.Equal(tr.written[0], want) {
		t.Fatalf("written = % X, want % X", tr.written, want)
	}
}

func TestEncodeMemoryCommands(t *testing.T) {
	tests := []struct {
		name string
		got  []byte
		want []byte
	}{
		{
			name: "read one sram byte",
			got:  EncodeReadMemory(MemTypeSRAM, 0x3F00, 1),
			want: []byte{0x05, 0x20, 0x01, 0x00, 0x00, 0x00, 0x00, 0x3F, 0x00, 0x00},
		},
		{
			name: "write one sram byte",
			got:  EncodeWriteMemory(MemTypeSRAM, 0x0102, []byte{0xEE}),
			want: []byte{0x04, 0x20, 0x01, 0x00, 0x00, 0x00, 0x02, 0x01, 0x00, 0x00, 0xEE},
		},
		{
			name: "get parameter",
			got:  EncodeGetParam(ParamOCDVTarget),
			want: []byte{0x03, 0x06},
		},
		{
			name: "set parameter",
			got:  EncodeSetParam(ParamBaudRate, []byte{0x07}),
			want: []byte{0x02, 0x05, 0x07},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !bytes.Equal(tt.got, tt.want) {
				t.Errorf("got % X, want % X", tt.got, tt.want)
			}
		})
	}
}

func TestSessionSignOn(t *testing.T) {
	sim := NewSimDevice()
	s := NewSession(sim)

	reply, err := s.SignOn()
	if err != nil {
		t.Fatalf("SignOn() error = %v", err)
	}
	if reply.Code != RspSignOn {
		t.Fatalf("reply code = %s", reply.Code)
	}
	info, err := ParseSignOnInfo(reply.Data)
	if err != nil {
		t.Fatalf("ParseSignOnInfo() error = %v", err)
	}
	if info.DeviceName != "JTAGICEmkII" {
		t.Fatalf("DeviceName = %q", info.DeviceName)
	}
	if s.Seqno() != 0 {
		t.Fatalf("SignOn advanced the seqno to %d", s.Seqno())
	}
}

func TestSessionSignOnRejectsOtherCodes(t *testing.T) {
	sim := NewSimDevice()
	sim.OnCommand = func(cmd Command) (ReplyCode, []byte, bool) {
		return RspOk, nil, true
	}
	s := NewSession(sim)

	_, err := s.SignOn()
	var unexpected *UnexpectedReplyError
	if !errors.As(err, &unexpected) {
		t.Fatalf("SignOn() error = %v, want *UnexpectedReplyError", err)
	}
	if unexpected.Got != RspOk || unexpected.Want != RspSignOn {
		t.Fatalf("UnexpectedReplyError = %+v", unexpected)
	}
	if Classify(err) != ClassProtocol {
		t.Fatalf("Classify() = %s, want protocol", Classify(err))
	}
}

func TestSessionDeviceErrors(t *testing.T) {
	tests := []struct {
		name        string
		code        ReplyCode
		noPower     bool
		wantNoPower bool
	}{
		{"failed", RspFailed, false, false},
		{"illegal mcu state", RspIllegalMCUState, false, false},
		{"no target power", RspNoTargetPower, false, true},
		{"no target power variant", RspNoTargetPower3, false, true},
		{"unpowered simulator", 0, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sim := NewSimDevice()
			if tt.noPower {
				sim.TargetPower = false
			} else {
				sim.OnCommand = func(Command) (ReplyCode, []byte, bool) {
					return tt.code, nil, true
				}
			}
			s := NewSession(sim)

			_, err := s.ReadRAMByte(0x0100)
			var deviceErr *DeviceError
			if !errors.As(err, &deviceErr) {
				t.Fatalf("ReadRAMByte() error = %v, want *DeviceError", err)
			}
			if deviceErr.Op != CmdReadMemory {
				t.Fatalf("DeviceError.Op = %s", deviceErr.Op)
			}
			if IsNoTargetPower(err) != tt.wantNoPower {
				t.Fatalf("IsNoTargetPower() = %v, want %v", IsNoTargetPower(err), tt.wantNoPower)
			}
			if Classify(err) != ClassDevice {
				t.Fatalf("Classify() = %s, want device", Classify(err))
			}
		})
	}
}

func TestSessionFragmentedReplies(t *testing.T) {
	sim := NewSimDevice()
	sim.ChunkSizes = []int{1, 4, 1000}
	sim.SRAM[0x0060] = 0x99
	s := NewSession(sim)

	got, err := s.ReadRAMByte(0x0060)
	if err != nil {
		t.Fatalf("ReadRAMByte() error = %v", err)
	}
	if got != 0x99 {
		t.Fatalf("ReadRAMByte() = 0x%02X, want 0x99", got)
	}
}

func TestSessionSeqMismatch(t *testing.T) {
	sim := NewSimDevice()
	sim.ReplySeqOffset = 1
	s := NewSession(sim)

	_, err := s.SignOn()
	var seqErr *SeqMismatchError
	if !errors.As(err, &seqErr) {
		t.Fatalf("SignOn() error = %v, want *SeqMismatchError", err)
	}
	if seqErr.Expected != 0 || seqErr.Got != 1 {
		t.Fatalf("SeqMismatchError = %+v", seqErr)
	}
}

func TestSessionCorruptReply(t *testing.T) {
	sim := NewSimDevice()
	sim.CorruptReplies = true
	s := NewSession(sim)

	if err := s.GetSync(); !errors.Is(err, ErrCRCMismatch) {
		t.Fatalf("GetSync() error = %v, want ErrCRCMismatch", err)
	}
}

func TestSessionParams(t *testing.T) {
	sim := NewSimDevice()
	s := NewSession(sim)

	if err := s.SetParam(ParamJTAGClock, 0x10); err != nil {
		t.Fatalf("SetParam() error = %v", err)
	}
	s.AdvanceSeqno()

	got, err := s.GetParam(ParamJTAGClock)
	if err != nil {
		t.Fatalf("GetParam() error = %v", err)
	}
	if !bytes.Equal(got, []byte{0x10}) {
		t.Fatalf("GetParam() = % X, want 10", got)
	}
	s.AdvanceSeqno()

	mv, err := s.GetTargetVoltage()
	if err != nil {
		t.Fatalf("GetTargetVoltage() error = %v", err)
	}
	if mv != 3300 {
		t.Fatalf("GetTargetVoltage() = %d, want 3300", mv)
	}

	var deviceErr *DeviceError
	if _, err := s.GetParam(Param(0x7F)); !errors.As(err, &deviceErr) {
		t.Fatalf("GetParam(unknown) error = %v, want *DeviceError", err)
	}
}

func TestSessionTargetVoltageShortReply(t *testing.T) {
	sim := NewSimDevice()
	sim.OnCommand = func(Command) (ReplyCode, []byte, bool) {
		return RspParameter, []byte{0x01}, true
	}
	var unexpected *UnexpectedReplyError
	if _, err := NewSession(sim).GetTargetVoltage(); !errors.As(err, &unexpected) {
		t.Fatalf("GetTargetVoltage() error = %v, want *UnexpectedReplyError", err)
	}
}

func TestSessionSetBaudRate(t *testing.T) {
	sim := NewSimDevice()
	s := NewSession(sim)

	if err := s.SetBaudRate(115200); err != nil {
		t.Fatalf("SetBaudRate() error = %v", err)
	}
	if sim.BaudRate != 115200 {
		t.Fatalf("sim baud = %d, want 115200", sim.BaudRate)
	}
	last, _ := sim.LastCommand()
	if last.Op != CmdSetParameter || !bytes.Equal(last.Args, []byte{byte(ParamBaudRate), 0x07}) {
		t.Fatalf("last command = %+v", last)
	}

	before := len(sim.Commands())
	if err := s.SetBaudRate(1234); err == nil {
		t.Fatalf("SetBaudRate(1234) should fail")
	}
	if len(sim.Commands()) != before {
		t.Fatalf("unsupported baud rate must not reach the probe")
	}
}

func TestSessionSetBaudRateInFlight(t *testing.T) {
	sim := NewSimDevice()
	s := NewSession(sim)

	if err := s.Channel().Send([]byte{byte(CmdGetSync)}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if err := s.SetBaudRate(38400); !errors.Is(err, ErrCommandInFlight) {
		t.Fatalf("SetBaudRate() error = %v, want ErrCommandInFlight", err)
	}
	if _, err := s.Channel().Receive(); err != nil {
		t.Fatalf("Receive() error = %v", err)
	}
	s.AdvanceSeqno()
	if err := s.SetBaudRate(38400); err != nil {
		t.Fatalf("SetBaudRate() after drain error = %v", err)
	}
}

func TestSessionProgrammingCommands(t *testing.T) {
	sim := NewSimDevice()
	s := NewSession(sim)

	if err := s.SetDeviceDescriptor(DefaultDeviceDescriptor()); err != nil {
		t.Fatalf("SetDeviceDescriptor() error = %v", err)
	}
	s.AdvanceSeqno()

	if err := s.EnterProgMode(); err != nil {
		t.Fatalf("EnterProgMode() error = %v", err)
	}
	if !sim.ProgMode {
		t.Fatalf("simulator not in programming mode")
	}
	s.AdvanceSeqno()

	if err := s.LeaveProgMode(); err != nil {
		t.Fatalf("LeaveProgMode() error = %v", err)
	}
	s.AdvanceSeqno()

	if err := s.Reset(ResetLowLevel); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	last, _ := sim.LastCommand()
	if last.Op != CmdReset || !bytes.Equal(last.Args, []byte{ResetLowLevel}) {
		t.Fatalf("last command = %+v", last)
	}
	s.AdvanceSeqno()

	if err := s.SignOff(); err != nil {
		t.Fatalf("SignOff() error = %v", err)
	}

	var deviceErr *DeviceError
	if err := s.SetDeviceDescriptor([]byte{0x00}); !errors.As(err, &deviceErr) {
		t.Fatalf("short descriptor error = %v, want *DeviceError", err)
	}
}

func TestSessionMemoryWrite(t *testing.T) {
	sim := NewSimDevice()
	s := NewSession(sim)

	if err := s.WriteRAMByte(0x0200, 0xC3); err != nil {
		t.Fatalf("WriteRAMByte() error = %v", err)
	}
	if sim.SRAM[0x0200] != 0xC3 {
		t.Fatalf("SRAM[0x200] = 0x%02X, want 0xC3", sim.SRAM[0x0200])
	}
	last, _ := sim.LastCommand()
	if binary.LittleEndian.Uint32(last.Args[5:9]) != 0x0200 {
		t.Fatalf("address field = % X", last.Args[5:9])
	}
}

func TestSessionShortMemoryReply(t *testing.T) {
	sim := NewSimDevice()
	sim.OnCommand = func(Command) (ReplyCode, []byte, bool) {
		return RspMemory, nil, true
	}
	var unexpected *UnexpectedReplyError
	if _, err := NewSession(sim).ReadRAMByte(0); !errors.As(err, &unexpected) {
		t.Fatalf("ReadRAMByte() error = %v, want *UnexpectedReplyError", err)
	}
}

func TestSessionClose(t *testing.T) {
	sim := NewSimDevice()
	s := NewSession(sim)
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	var transportErr *TransportError
	if _, err := s.SignOn(); !errors.As(err, &transportErr) {
		t.Fatalf("SignOn() after close error = %v, want *TransportError", err)
	}
}
