package mkii

import (
	"errors"
	"fmt"
)

// Frame errors. The received bytes are not a trustworthy frame.
var (
	ErrBadStart    = errors.New("mkii: bad message start")
	ErrBadToken    = errors.New("mkii: bad token")
	ErrIncomplete  = errors.New("mkii: incomplete frame")
	ErrCRCMismatch = errors.New("mkii: crc mismatch")
	// ErrEmptyPayload is returned for a well-formed frame that carries no
	// reply code.
	ErrEmptyPayload = errors.New("mkii: frame has no payload")
)

var (
	// ErrNoReply wraps a failed or timed out read while waiting for a reply.
	ErrNoReply = errors.New("mkii: no reply")
	// ErrCommandInFlight is returned when the transport is reconfigured
	// between a Send and its Receive.
	ErrCommandInFlight = errors.New("mkii: command in flight")
)

// UnknownReplyError reports a reply code outside the known set.
type UnknownReplyError struct {
	Code byte
}

func (e *UnknownReplyError) Error() string {
	return fmt.Sprintf("mkii: unknown reply code 0x%02X", e.Code)
}

// CRCError carries both checksums of a rejected frame. It matches
// ErrCRCMismatch with errors.Is.
type CRCError struct {
	Received   uint16
	Calculated uint16
}

func (e *CRCError) Error() string {
	return fmt.Sprintf("%v: received 0x%04X, calculated 0x%04X", ErrCRCMismatch, e.Received, e.Calculated)
}

func (e *CRCError) Is(target error) bool {
	return target == ErrCRCMismatch
}

// TransportError wraps a failed write.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("mkii: transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// CorruptError wraps the frame error raised while decoding a reply.
type CorruptError struct {
	Err error
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("mkii: corrupt reply: %v", e.Err)
}

func (e *CorruptError) Unwrap() error { return e.Err }

// SeqMismatchError is a well-formed reply for a different command.
type SeqMismatchError struct {
	Expected uint16
	Got      uint16
}

func (e *SeqMismatchError) Error() string {
	return fmt.Sprintf("mkii: seqno mismatch: expected %d, got %d", e.Expected, e.Got)
}

// DeviceError is a well-formed reply in which the probe rejected the command.
type DeviceError struct {
	Op   Opcode
	Code ReplyCode
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("mkii: %s rejected by device: %s", e.Op, e.Code)
}

// UnexpectedReplyError is a success-class reply that does not answer the
// command that was sent, or one too short to carry the expected data.
type UnexpectedReplyError struct {
	Op   Opcode
	Want ReplyCode
	Got  ReplyCode
	Msg  string
}

func (e *UnexpectedReplyError) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("mkii: %s: %s", e.Op, e.Msg)
	}
	return fmt.Sprintf("mkii: %s: expected %s, got %s", e.Op, e.Want, e.Got)
}

// ErrorClass is the coarse category of a failure.
type ErrorClass int

const (
	ClassNone ErrorClass = iota
	ClassTransport
	ClassFraming
	ClassDesync
	ClassDevice
	ClassProtocol
)

func (c ErrorClass) String() string {
	switch c {
	case ClassNone:
		return "none"
	case ClassTransport:
		return "transport"
	case ClassFraming:
		return "framing"
	case ClassDesync:
		return "desync"
	case ClassDevice:
		return "device"
	case ClassProtocol:
		return "protocol"
	default:
		return "unknown"
	}
}

// Classify maps an error returned by this package onto its ErrorClass.
// Errors from elsewhere classify as ClassNone.
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassNone
	}

	var (
		transportErr *TransportError
		corruptErr   *CorruptError
		unknownErr   *UnknownReplyError
		seqErr       *SeqMismatchError
		deviceErr    *DeviceError
		unexpected   *UnexpectedReplyError
	)
	switch {
	case errors.As(err, &transportErr), errors.Is(err, ErrNoReply):
		return ClassTransport
	case errors.As(err, &corruptErr), errors.As(err, &unknownErr),
		errors.Is(err, ErrBadStart), errors.Is(err, ErrBadToken),
		errors.Is(err, ErrIncomplete), errors.Is(err, ErrCRCMismatch),
		errors.Is(err, ErrEmptyPayload):
		return ClassFraming
	case errors.As(err, &seqErr):
		return ClassDesync
	case errors.As(err, &deviceErr):
		return ClassDevice
	case errors.As(err, &unexpected):
		return ClassProtocol
	}
	return ClassNone
}

// IsNoTargetPower reports whether err is a device error caused by missing
// target power, a condition a caller may retry after powering the target.
func IsNoTargetPower(err error) bool {
	var deviceErr *DeviceError
	return errors.As(err, &deviceErr) && deviceErr.Code.IsNoTargetPower()
}
