package packet

import (
	"errors"
	"fmt"
)

// Sentinel errors for packet parsing and encoding.
var (
	// ErrTruncatedBuffer indicates fewer bytes are available than a field requires.
	ErrTruncatedBuffer = errors.New("truncated buffer")

	// ErrMalformedVariableLength indicates the remaining length encoding is invalid:
	// a continuation bit on the fourth byte, or a non-minimal encoding.
	ErrMalformedVariableLength = errors.New("malformed variable length integer")

	// ErrReservedBitSet indicates a bit that must be zero is set.
	ErrReservedBitSet = errors.New("reserved bit set")

	// ErrUnknownPacketType indicates the packet type nibble is 0 or 15.
	ErrUnknownPacketType = errors.New("unknown packet type")

	// ErrValueOutOfRange indicates a field value that cannot be represented on the wire.
	ErrValueOutOfRange = errors.New("value out of range")

	// ErrMalformedPacket indicates the packet structure is invalid.
	ErrMalformedPacket = errors.New("malformed packet")

	// ErrPacketTooLarge indicates the packet exceeds the configured maximum size.
	ErrPacketTooLarge = errors.New("packet too large")
)

// DecodeError describes where a decode failed. It unwraps to one of the sentinel errors.
type DecodeError struct {
	Field  string // Field being decoded, e.g. "remaining_length"
	Offset int    // Absolute offset into the caller's buffer
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s at offset %d: %v", e.Field, e.Offset, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Kind returns a short, stable name for the underlying error, suitable as a metric label.
func (e *DecodeError) Kind() string {
	return ErrorKind(e.Err)
}

// ErrorKind maps err to a short, stable name. Unknown errors map to "other".
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTruncatedBuffer):
		return "truncated_buffer"
	case errors.Is(err, ErrMalformedVariableLength):
		return "malformed_variable_length"
	case errors.Is(err, ErrReservedBitSet):
		return "reserved_bit_set"
	case errors.Is(err, ErrUnknownPacketType):
		return "unknown_packet_type"
	case errors.Is(err, ErrValueOutOfRange):
		return "value_out_of_range"
	case errors.Is(err, ErrMalformedPacket):
		return "malformed_packet"
	case errors.Is(err, ErrPacketTooLarge):
		return "packet_too_large"
	default:
		return "other"
	}
}

func decodeErr(field string, off int, err error) error {
	return &DecodeError{Field: field, Offset: off, Err: err}
}
