package mkii

import (
	"encoding/binary"
	"math"
)

// Frame is one wire message with the checksum already verified.
type Frame struct {
	Seqno   uint16
	Payload []byte
}

// Codec encodes and decodes frames. It holds no state besides its CRC
// table and is safe for concurrent use.
type Codec struct {
	crc *CRCTable
}

// NewCodec returns a Codec using the given CRC parameters.
func NewCodec(p CRCParams) *Codec {
	return &Codec{crc: MakeCRCTable(p)}
}

// DefaultCodec uses the mkII frame checksum.
var DefaultCodec = &Codec{crc: frameCRC}

// Encode builds a frame for payload.
func Encode(seqno uint16, payload []byte) []byte { return DefaultCodec.Encode(seqno, payload) }

// Decode parses a reply frame.
func Decode(raw []byte) (uint16, Reply, error) { return DefaultCodec.Decode(raw) }

// DecodeFrame verifies a frame without interpreting its payload.
func DecodeFrame(raw []byte) (Frame, error) { return DefaultCodec.DecodeFrame(raw) }

// Encode builds start | seqno | length | token | payload | crc.
func (c *Codec) Encode(seqno uint16, payload []byte) []byte {
	msg := make([]byte, HeaderSize, HeaderSize+len(payload)+CRCSize)
	msg[0] = MessageStart
	binary.LittleEndian.PutUint16(msg[1:3], seqno)
	binary.LittleEndian.PutUint32(msg[3:7], uint32(len(payload)))
	msg[7] = Token
	msg = append(msg, payload...)
	return binary.LittleEndian.AppendUint16(msg, c.crc.Checksum(msg))
}

// FrameLength returns the total length of the frame whose header starts
// raw. It needs the start byte and the length field, i.e. 7 bytes.
func FrameLength(raw []byte) (int, error) {
	if len(raw) == 0 {
		return 0, ErrIncomplete
	}
	if raw[0] != MessageStart {
		return 0, ErrBadStart
	}
	if len(raw) < lengthFieldEnd {
		return 0, ErrIncomplete
	}
	n := uint64(binary.LittleEndian.Uint32(raw[3:7])) + HeaderSize + CRCSize
	if n > math.MaxInt {
		return 0, ErrIncomplete
	}
	return int(n), nil
}

// DecodeFrame checks start byte, token and CRC and returns the payload.
// Bytes past the computed frame length are ignored.
func (c *Codec) DecodeFrame(raw []byte) (Frame, error) {
	total, err := FrameLength(raw)
	if err != nil {
		return Frame{}, err
	}
	if len(raw) < HeaderSize {
		return Frame{}, ErrIncomplete
	}
	if raw[7] != Token {
		return Frame{}, ErrBadToken
	}
	if len(raw) < total {
		return Frame{}, ErrIncomplete
	}

	body := raw[:total-CRCSize]
	received := binary.LittleEndian.Uint16(raw[total-CRCSize : total])
	if calculated := c.crc.Checksum(body); calculated != received {
		return Frame{}, &CRCError{Received: received, Calculated: calculated}
	}

	return Frame{
		Seqno:   binary.LittleEndian.Uint16(raw[1:3]),
		Payload: append([]byte(nil), body[HeaderSize:]...),
	}, nil
}

// Decode parses a reply frame and splits the reply code from its data.
func (c *Codec) Decode(raw []byte) (uint16, Reply, error) {
	f, err := c.DecodeFrame(raw)
	if err != nil {
		return 0, Reply{}, err
	}
	if len(f.Payload) == 0 {
		return f.Seqno, Reply{}, ErrEmptyPayload
	}
	code, err := ParseReplyCode(f.Payload[0])
	if err != nil {
		return f.Seqno, Reply{}, err
	}
	return f.Seqno, Reply{Seqno: f.Seqno, Code: code, Data: f.Payload[1:]}, nil
}

// EncodeReply builds a reply frame. It is the device-side counterpart of
// Encode and is used by the simulator.
func (c *Codec) EncodeReply(seqno uint16, code ReplyCode, data []byte) []byte {
	payload := make([]byte, 0, 1+len(data))
	payload = append(payload, byte(code))
	payload = append(payload, data...)
	return c.Encode(seqno, payload)
}
