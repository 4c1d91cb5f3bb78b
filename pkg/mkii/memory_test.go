package mkii

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

func TestRAMPokePeek(t *testing.T) {
	sim := NewSimDevice()
	copy(sim.SRAM[0x0101:], []byte{0x11, 0x22})
	s := NewSession(sim)
	var ram MemoryAccess = NewRAM(s)

	if err := ram.Poke(0x0100, 0xAB); err != nil {
		t.Fatalf("Poke() error = %v", err)
	}
	if s.Seqno() != 1 {
		t.Fatalf("Seqno() = %d after Poke, want 1", s.Seqno())
	}

	buf := make([]byte, 3)
	if err := ram.Peek(0x0100, buf); err != nil {
		t.Fatalf("Peek() error = %v", err)
	}
	if !bytes.Equal(buf, []byte{0xAB, 0x11, 0x22}) {
		t.Fatalf("Peek() = % X, want AB 11 22", buf)
	}
	if s.Seqno() != 4 {
		t.Fatalf("Seqno() = %d after Peek, want 4", s.Seqno())
	}

	for i, cmd := range sim.Commands() {
		if cmd.Seqno != uint16(i) {
			t.Fatalf("command %d carried seqno %d", i, cmd.Seqno)
		}
	}
}

func TestRAMPeekStopsOnFailure(t *testing.T) {
	sim := NewSimDevice()
	sim.OnCommand = func(cmd Command) (ReplyCode, []byte, bool) {
		if cmd.Op == CmdReadMemory && binary.LittleEndian.Uint32(cmd.Args[5:9]) == 0x0102 {
			return RspFailed, nil, true
		}
		return 0, nil, false
	}
	s := NewSession(sim)

	err := NewRAM(s).Peek(0x0100, make([]byte, 4))
	var memErr *MemoryError
	if !errors.As(err, &memErr) {
		t.Fatalf("Peek() error = %v, want *MemoryError", err)
	}
	if memErr.Addr != 0x0102 {
		t.Fatalf("MemoryError.Addr = 0x%04X, want 0x0102", memErr.Addr)
	}
	var deviceErr *DeviceError
	if !errors.As(err, &deviceErr) || deviceErr.Code != RspFailed {
		t.Fatalf("Peek() error = %v, want wrapped DeviceError(failed)", err)
	}
	if s.Seqno() != 2 {
		t.Fatalf("Seqno() = %d, want 2: the failed round trip must not advance", s.Seqno())
	}
	if len(sim.Commands()) != 3 {
		t.Fatalf("commands = %d, want 3", len(sim.Commands()))
	}
}

func TestRAMPokeFailureKeepsSeqno(t *testing.T) {
	sim := NewSimDevice()
	sim.TargetPower = false
	s := NewSession(sim)

	err := NewRAM(s).Poke(0x0010, 0x01)
	if !IsNoTargetPower(err) {
		t.Fatalf("Poke() error = %v, want no-target-power", err)
	}
	if s.Seqno() != 0 {
		t.Fatalf("Seqno() = %d, want 0", s.Seqno())
	}
}

func TestRAMPeekRange(t *testing.T) {
	sim := NewSimDevice()
	sim.SRAM[0xFFFF] = 0x7E
	ram := NewRAM(NewSession(sim))

	if err := ram.Peek(0xFFFF, make([]byte, 2)); err == nil {
		t.Fatalf("expected error for range past 0xFFFF")
	}
	if len(sim.Commands()) != 0 {
		t.Fatalf("rejected range must not send commands")
	}

	buf := make([]byte, 1)
	if err := ram.Peek(0xFFFF, buf); err != nil {
		t.Fatalf("Peek(0xFFFF) error = %v", err)
	}
	if buf[0] != 0x7E {
		t.Fatalf("Peek(0xFFFF) = 0x%02X, want 0x7E", buf[0])
	}

	if err := ram.Peek(0x0000, nil); err != nil {
		t.Fatalf("empty Peek() error = %v", err)
	}
}
