package mkii

import (
	"bytes"
	"errors"
	"testing"
	"time"
)

var errFakeTimeout = errors.New("fake: read timeout")

// scriptedTransport replays canned read results and records writes.
type scriptedTransport struct {
	reads      [][]byte
	readCalls  int
	written    [][]byte
	writeErr   error
	shortWrite bool
}

func (s *scriptedTransport) Read(p []byte) (int, error) {
	s.readCalls++
	if len(s.reads) == 0 {
		return 0, errFakeTimeout
	}
	n := copy(p, s.reads[0])
	if n < len(s.reads[0]) {
		s.reads[0] = s.reads[0][n:]
	} else {
		s.reads = s.reads[1:]
	}
	return n, nil
}

func (s *scriptedTransport) Write(p []byte) (int, error) {
	if s.writeErr != nil {
		return 0, s.writeErr
	}
	s.written = append(s.written, append([]byte(nil), p...))
	if s.shortWrite {
		return len(p) - 1, nil
	}
	return len(p), nil
}

type recordingObserver struct {
	sent, received int
	failures       []ErrorClass
}

func (r *recordingObserver) FrameSent(Opcode, int)                       { r.sent++ }
func (r *recordingObserver) FrameReceived(ReplyCode, int, time.Duration) { r.received++ }
func (r *recordingObserver) ReceiveFailed(c ErrorClass)                  { r.failures = append(r.failures, c) }

func memoryReply(seqno uint16, data ...byte) []byte {
	return DefaultCodec.EncodeReply(seqno, RspMemory, data)
}

func TestChannelSendWritesOneFrame(t *testing.T) {
	tr := &scriptedTransport{}
	ch := NewChannel(tr, WithInitialSeqno(3))

	if err := ch.Send([]byte{byte(CmdGetSync)}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if len(tr.written) != 1 {
		t.Fatalf("writes = %d, want 1", len(tr.written))
	}
	if want := Encode(3, []byte{byte(CmdGetSync)}); !bytes.Equal(tr.written[0], want) {
		t.Fatalf("written = % X, want % X", tr.written[0], want)
	}
	if !ch.InFlight() {
		t.Fatalf("expected command to be in flight after Send")
	}
}

func TestChannelSendErrors(t *testing.T) {
	t.Run("write error", func(t *testing.T) {
		ch := NewChannel(&scriptedTransport{writeErr: errors.New("port gone")})
		err := ch.Send([]byte{byte(CmdGetSignOn)})
		var transportErr *TransportError
		if !errors.As(err, &transportErr) {
			t.Fatalf("Send() error = %v, want *TransportError", err)
		}
		if Classify(err) != ClassTransport {
			t.Fatalf("Classify() = %s, want transport", Classify(err))
		}
		if ch.InFlight() {
			t.Fatalf("failed send must not leave a command in flight")
		}
	})

	t.Run("short write", func(t *testing.T) {
		ch := NewChannel(&scriptedTransport{shortWrite: true})
		var transportErr *TransportError
		if err := ch.Send([]byte{byte(CmdGetSignOn)}); !errors.As(err, &transportErr) {
			t.Fatalf("Send() error = %v, want *TransportError", err)
		}
	})
}

func TestChannelReceiveFragmented(t *testing.T) {
	frame := memoryReply(0, 0xAA, 0xBB, 0xCC)

	whole := NewChannel(&scriptedTransport{reads: [][]byte{frame}})
	want, err := whole.Receive()
	if err != nil {
		t.Fatalf("single read: Receive() error = %v", err)
	}

	tests := []struct {
		name   string
		chunks [][]byte
	}{
		{"1/4/rest", [][]byte{frame[:1], frame[1:5], frame[5:]}},
		{"byte by byte", splitEvery(frame, 1)},
		{"header split at length field", [][]byte{frame[:6], frame[6:7], frame[7:]}},
		{"crc split", [][]byte{frame[:len(frame)-1], frame[len(frame)-1:]}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch := NewChannel(&scriptedTransport{reads: tt.chunks})
			got, err := ch.Receive()
			if err != nil {
				t.Fatalf("Receive() error = %v", err)
			}
			if got.Seqno != want.Seqno || got.Code != want.Code || !bytes.Equal(got.Data, want.Data) {
				t.Fatalf("Receive() = %+v, want %+v", got, want)
			}
		})
	}
}

func TestChannelReceiveTrimsExcess(t *testing.T) {
	raw := append(memoryReply(0, 0x01), memoryReply(1, 0x02)...)
	ch := NewChannel(&scriptedTransport{reads: [][]byte{raw}})

	reply, err := ch.Receive()
	if err != nil {
		t.Fatalf("Receive() error = %v", err)
	}
	if !bytes.Equal(reply.Data, []byte{0x01}) {
		t.Fatalf("reply data = % X, want 01", reply.Data)
	}
}

func TestChannelReceiveSmallReadBuffer(t *testing.T) {
	frame := memoryReply(0, make([]byte, 100)...)
	ch := NewChannel(&scriptedTransport{reads: [][]byte{frame}}, WithReadSize(3))

	reply, err := ch.Receive()
	if err != nil {
		t.Fatalf("Receive() error = %v", err)
	}
	if len(reply.Data) != 100 {
		t.Fatalf("reply data len = %d, want 100", len(reply.Data))
	}
}

func TestChannelReceiveSeqMismatch(t *testing.T) {
	obs := &recordingObserver{}
	ch := NewChannel(&scriptedTransport{reads: [][]byte{memoryReply(11, 0x00)}},
		WithInitialSeqno(10), WithObserver(obs))

	_, err := ch.Receive()
	var seqErr *SeqMismatchError
	if !errors.As(err, &seqErr) {
		t.Fatalf("Receive() error = %v, want *SeqMismatchError", err)
	}
	if seqErr.Expected != 10 || seqErr.Got != 11 {
		t.Fatalf("SeqMismatchError = %+v, want expected=10 got=11", seqErr)
	}
	if Classify(err) != ClassDesync {
		t.Fatalf("Classify() = %s, want desync", Classify(err))
	}
	if len(obs.failures) != 1 || obs.failures[0] != ClassDesync {
		t.Fatalf("observer failures = %v", obs.failures)
	}
}

func TestChannelReceiveNoReply(t *testing.T) {
	frame := memoryReply(0, 0x01)

	tests := []struct {
		name  string
		reads [][]byte
	}{
		{"nothing", nil},
		{"partial header", [][]byte{frame[:3]}},
		{"partial body", [][]byte{frame[:9]}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch := NewChannel(&scriptedTransport{reads: tt.reads})
			_, err := ch.Receive()
			if !errors.Is(err, ErrNoReply) {
				t.Fatalf("Receive() error = %v, want ErrNoReply", err)
			}
			if !errors.Is(err, errFakeTimeout) {
				t.Fatalf("Receive() error = %v, should wrap the transport error", err)
			}
			if Classify(err) != ClassTransport {
				t.Fatalf("Classify() = %s, want transport", Classify(err))
			}
		})
	}
}

func TestChannelReceiveCorrupt(t *testing.T) {
	badCRC := memoryReply(0, 0x01)
	badCRC[len(badCRC)-1] ^= 0x80

	badToken := memoryReply(0, 0x01)
	badToken[7] = 0x00

	tests := []struct {
		name string
		raw  []byte
		want error
	}{
		{"bad start", []byte{0x55, 0x1B, 0x00}, ErrBadStart},
		{"bad token", badToken, ErrBadToken},
		{"bad token with large length", []byte{0x1B, 0x00, 0x00, 0xFF, 0xFF, 0x00, 0x00, 0x00, 0x80, 0x00}, ErrBadToken},
		{"crc", badCRC, ErrCRCMismatch},
		{"empty payload", Encode(0, nil), ErrEmptyPayload},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := &scriptedTransport{reads: [][]byte{tt.raw}}
			_, err := NewChannel(tr).Receive()
			var corrupt *CorruptError
			if !errors.As(err, &corrupt) {
				t.Fatalf("Receive() error = %v, want *CorruptError", err)
			}
			if !errors.Is(err, tt.want) {
				t.Fatalf("Receive() error = %v, want %v", err, tt.want)
			}
			if Classify(err) != ClassFraming {
				t.Fatalf("Classify() = %s, want framing", Classify(err))
			}
		})
	}

	t.Run("unknown reply code", func(t *testing.T) {
		tr := &scriptedTransport{reads: [][]byte{Encode(0, []byte{0x42})}}
		_, err := NewChannel(tr).Receive()
		var unknownErr *UnknownReplyError
		if !errors.As(err, &unknownErr) || unknownErr.Code != 0x42 {
			t.Fatalf("Receive() error = %v, want UnknownReplyError(0x42)", err)
		}
	})
}

func TestChannelBadTokenStopsReading(t *testing.T) {
	// Length field claims ~64 KiB; only the header ever arrives.
	raw := []byte{0x1B, 0x00, 0x00, 0xFF, 0xFF, 0x00, 0x00, 0x00, 0x80, 0x00}
	tests := []struct {
		name   string
		reads  [][]byte
		nReads int
	}{
		{"whole header", [][]byte{raw}, 1},
		{"split header", [][]byte{raw[:5], raw[5:]}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := &scriptedTransport{reads: tt.reads}
			_, err := NewChannel(tr).Receive()
			if !errors.Is(err, ErrBadToken) {
				t.Fatalf("Receive() error = %v, want ErrBadToken", err)
			}
			if errors.Is(err, ErrNoReply) {
				t.Fatalf("Receive() error = %v, reported as missing reply", err)
			}
			if Classify(err) != ClassFraming {
				t.Fatalf("Classify() = %s, want framing", Classify(err))
			}
			if tr.readCalls != tt.nReads {
				t.Fatalf("readCalls = %d, want %d", tr.readCalls, tt.nReads)
			}
		})
	}
}

func TestChannelBadStartStopsReading(t *testing.T) {
	tr := &scriptedTransport{reads: [][]byte{{0x00}, memoryReply(0, 0x01)}}
	if _, err := NewChannel(tr).Receive(); !errors.Is(err, ErrBadStart) {
		t.Fatalf("Receive() error = %v, want ErrBadStart", err)
	}
	if tr.readCalls != 1 {
		t.Fatalf("read calls = %d, want 1", tr.readCalls)
	}
}

func TestChannelSeqnoIsCallerDriven(t *testing.T) {
	tr := &scriptedTransport{reads: [][]byte{memoryReply(0, 0x01), memoryReply(0, 0x02)}}
	ch := NewChannel(tr)

	if _, err := ch.Exchange([]byte{byte(CmdReadMemory)}); err != nil {
		t.Fatalf("Exchange() error = %v", err)
	}
	if ch.Seqno() != 0 {
		t.Fatalf("Seqno() = %d after exchange, want 0", ch.Seqno())
	}

	// Without an explicit advance the next command reuses seqno 0.
	if _, err := ch.Exchange([]byte{byte(CmdReadMemory)}); err != nil {
		t.Fatalf("second Exchange() error = %v", err)
	}
	if tr.written[1][1] != 0 {
		t.Fatalf("second command seqno byte = %d, want 0", tr.written[1][1])
	}

	ch.AdvanceSeqno()
	if ch.Seqno() != 1 {
		t.Fatalf("Seqno() = %d after advance, want 1", ch.Seqno())
	}
}

func TestChannelSeqnoWraps(t *testing.T) {
	ch := NewChannel(&scriptedTransport{})
	ch.ResetSeqno(0xFFFF)
	ch.AdvanceSeqno()
	if ch.Seqno() != 0 {
		t.Fatalf("Seqno() = %d, want 0 after wrap", ch.Seqno())
	}
}

func TestChannelObserver(t *testing.T) {
	obs := &recordingObserver{}
	ch := NewChannel(&scriptedTransport{reads: [][]byte{memoryReply(0, 0x01)}}, WithObserver(obs))

	if _, err := ch.Exchange([]byte{byte(CmdReadMemory)}); err != nil {
		t.Fatalf("Exchange() error = %v", err)
	}
	if obs.sent != 1 || obs.received != 1 || len(obs.failures) != 0 {
		t.Fatalf("observer = %+v", obs)
	}
	if ch.InFlight() {
		t.Fatalf("command still in flight after Receive")
	}
}

func TestNewChannelNilTransportPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic for nil transport")
		}
	}()
	NewChannel(nil)
}

func splitEvery(b []byte, n int) [][]byte {
	var out [][]byte
	for len(b) > n {
		out = append(out, b[:n])
		b = b[n:]
	}
	return append(out, b)
}
