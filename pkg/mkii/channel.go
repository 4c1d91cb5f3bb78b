package mkii

import (
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"
)

// Transport is the byte stream a Channel talks over. Reads may return any
// number of bytes; a read timeout must surface as an error.
type Transport interface {
	io.Reader
	io.Writer
}

// BaudRateSetter is implemented by transports whose line rate can change
// while open.
type BaudRateSetter interface {
	SetBaudRate(baud int) error
}

// Observer receives a callback for every frame the channel moves. It is the
// hook metrics collectors attach to.
type Observer interface {
	FrameSent(op Opcode, size int)
	FrameReceived(code ReplyCode, size int, rtt time.Duration)
	ReceiveFailed(class ErrorClass)
}

type nopObserver struct{}

func (nopObserver) FrameSent(Opcode, int)                       {}
func (nopObserver) FrameReceived(ReplyCode, int, time.Duration) {}
func (nopObserver) ReceiveFailed(ErrorClass)                    {}

// DefaultReadSize is the size of the scratch buffer handed to Transport.Read.
const DefaultReadSize = 2048

// ChannelOption configures a Channel.
type ChannelOption func(*Channel)

// WithLogger sets the logger used for frame tracing.
func WithLogger(l *zap.Logger) ChannelOption {
	return func(c *Channel) {
		if l != nil {
			c.log = l
		}
	}
}

// WithObserver attaches a frame observer.
func WithObserver(o Observer) ChannelOption {
	return func(c *Channel) {
		if o != nil {
			c.obs = o
		}
	}
}

// WithCodec replaces the frame codec, e.g. to try a different CRC variant.
func WithCodec(codec *Codec) ChannelOption {
	return func(c *Channel) {
		if codec != nil {
			c.codec = codec
		}
	}
}

// WithInitialSeqno starts the channel at seqno instead of zero.
func WithInitialSeqno(seqno uint16) ChannelOption {
	return func(c *Channel) {
		c.seqno = seqno
	}
}

// WithReadSize sets the scratch buffer size for transport reads.
func WithReadSize(n int) ChannelOption {
	return func(c *Channel) {
		if n > 0 {
			c.readSize = n
		}
	}
}

// Channel sends command frames and reassembles reply frames over a single
// Transport. It owns the sequence number, which only moves when the caller
// invokes AdvanceSeqno.
//
// A Channel is not safe for concurrent use; the protocol is half-duplex and
// each Send must be followed by a Receive before the next Send.
type Channel struct {
	transport Transport
	codec     *Codec
	seqno     uint16
	readSize  int

	inFlight bool
	lastOp   Opcode
	sentAt   time.Time

	log *zap.Logger
	obs Observer
}

// NewChannel creates a channel over t.
func NewChannel(t Transport, opts ...ChannelOption) *Channel {
	if t == nil {
		panic("mkii: transport cannot be nil")
	}
	c := &Channel{
		transport: t,
		codec:     DefaultCodec,
		readSize:  DefaultReadSize,
		log:       zap.NewNop(),
		obs:       nopObserver{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Seqno returns the sequence number the next command will carry.
func (c *Channel) Seqno() uint16 {
	return c.seqno
}

// AdvanceSeqno moves to the next sequence number. Call it after a round trip
// has been consumed; the probe increments its own counter in step.
func (c *Channel) AdvanceSeqno() {
	c.seqno++
}

// ResetSeqno forces the sequence number, for callers that resynchronize.
func (c *Channel) ResetSeqno(seqno uint16) {
	c.seqno = seqno
}

// InFlight reports whether a command has been sent whose reply has not been
// received yet.
func (c *Channel) InFlight() bool {
	return c.inFlight
}

// Transport returns the underlying transport.
func (c *Channel) Transport() Transport {
	return c.transport
}

// Send frames data with the current seqno and writes it in one call.
func (c *Channel) Send(data []byte) error {
	raw := c.codec.Encode(c.seqno, data)

	var op Opcode
	if len(data) > 0 {
		op = Opcode(data[0])
	}

	n, err := c.transport.Write(raw)
	if err == nil && n != len(raw) {
		err = io.ErrShortWrite
	}
	if err != nil {
		return &TransportError{Op: "write", Err: err}
	}

	c.inFlight = true
	c.lastOp = op
	c.sentAt = time.Now()
	c.obs.FrameSent(op, len(raw))
	c.log.Debug("frame sent",
		zap.Uint16("seqno", c.seqno),
		zap.Stringer("op", op),
		zap.Int("len", len(raw)),
	)
	return nil
}

// Receive reads until one complete reply frame is buffered and decodes it.
// Bytes past the end of the frame are discarded.
func (c *Channel) Receive() (Reply, error) {
	reply, size, err := c.receive()
	c.inFlight = false
	if err != nil {
		c.obs.ReceiveFailed(Classify(err))
		c.log.Debug("receive failed", zap.Uint16("seqno", c.seqno), zap.Error(err))
		return Reply{}, err
	}

	rtt := time.Since(c.sentAt)
	c.obs.FrameReceived(reply.Code, size, rtt)
	c.log.Debug("frame received",
		zap.Uint16("seqno", reply.Seqno),
		zap.Stringer("code", reply.Code),
		zap.Int("len", size),
		zap.Duration("rtt", rtt),
	)
	return reply, nil
}

func (c *Channel) receive() (Reply, int, error) {
	var (
		buf   = make([]byte, 0, c.readSize)
		chunk = make([]byte, c.readSize)
		// The frame length is unknown until the length field has arrived.
		need  = lengthFieldEnd
		known bool
	)

	for len(buf) < need {
		n, err := c.transport.Read(chunk)
		buf = append(buf, chunk[:n]...)

		if !known && len(buf) > 0 {
			total, ferr := FrameLength(buf)
			switch {
			case ferr == nil:
				need, known = total, true
			case !errors.Is(ferr, ErrIncomplete):
				return Reply{}, 0, &CorruptError{Err: ferr}
			}
		}
		// The length field of a frame with a bad token is not trusted.
		if known && len(buf) >= HeaderSize && buf[7] != Token {
			return Reply{}, 0, &CorruptError{Err: ErrBadToken}
		}
		if len(buf) >= need && known {
			break
		}
		if err != nil {
			return Reply{}, 0, fmt.Errorf("%w: %w", ErrNoReply, err)
		}
	}

	raw := buf[:need]
	seqno, reply, err := c.codec.Decode(raw)
	if err != nil {
		return Reply{}, 0, &CorruptError{Err: err}
	}
	if seqno != c.seqno {
		return Reply{}, 0, &SeqMismatchError{Expected: c.seqno, Got: seqno}
	}
	return reply, len(raw), nil
}

// Exchange sends data and waits for its reply. It does not advance the
// seqno.
func (c *Channel) Exchange(data []byte) (Reply, error) {
	if err := c.Send(data); err != nil {
		return Reply{}, err
	}
	return c.Receive()
}
