package mkii

import "fmt"

// MemoryAccess is the target memory capability higher-level protocols
// build on.
type MemoryAccess interface {
	// Peek fills buf with target memory starting at addr.
	Peek(addr uint16, buf []byte) error
	// Poke writes one byte to addr.
	Poke(addr uint16, value byte) error
}

// MemoryError reports the address at which a Peek or Poke stopped.
type MemoryError struct {
	Addr uint16
	Err  error
}

func (e *MemoryError) Error() string {
	return fmt.Sprintf("mkii: memory access at 0x%04X: %v", e.Addr, e.Err)
}

func (e *MemoryError) Unwrap() error { return e.Err }

// RAM implements MemoryAccess over target SRAM, one byte per round trip.
// It advances the session seqno after every round trip that succeeds and
// leaves it untouched when one fails.
type RAM struct {
	s *Session
}

var _ MemoryAccess = (*RAM)(nil)

// NewRAM wraps a session.
func NewRAM(s *Session) *RAM {
	return &RAM{s: s}
}

// Peek reads len(buf) bytes. Ranges that would run past 0xFFFF are rejected
// before any command is sent.
func (r *RAM) Peek(addr uint16, buf []byte) error {
	if int(addr)+len(buf) > 0x10000 {
		return fmt.Errorf("mkii: range 0x%04X+%d exceeds address space", addr, len(buf))
	}
	for i := range buf {
		a := addr + uint16(i)
		b, err := r.s.ReadRAMByte(a)
		if err != nil {
			return &MemoryError{Addr: a, Err: err}
		}
		r.s.AdvanceSeqno()
		buf[i] = b
	}
	return nil
}

// Poke writes value to addr.
func (r *RAM) Poke(addr uint16, value byte) error {
	if err := r.s.WriteRAMByte(addr, value); err != nil {
		return &MemoryError{Addr: addr, Err: err}
	}
	r.s.AdvanceSeqno()
	return nil
}
