package packet

import (
	"encoding/binary"
	"fmt"
)

// maxVarIntBytes is the longest legal variable byte integer (28 value bits).
const maxVarIntBytes = 4

// EncodeVarInt encodes a variable byte integer into buf and returns the number of bytes written.
// The encoding is always the minimal one.
// MQTT 3.1.1 Section 2.2.3
func EncodeVarInt(buf []byte, value uint32) (int, error) {
	if value > MaxRemainingLength {
		return 0, fmt.Errorf("variable length %d: %w", value, ErrValueOutOfRange)
	}
	if len(buf) < VarIntSize(value) {
		return 0, fmt.Errorf("variable length %d: %w", value, ErrTruncatedBuffer)
	}

	i := 0
	for {
		encodedByte := byte(value & 0x7F)
		value >>= 7
		if value > 0 {
			encodedByte |= 0x80
		}
		buf[i] = encodedByte
		i++
		if value == 0 {
			return i, nil
		}
	}
}

// DecodeVarInt decodes a variable byte integer starting at buf[off].
// Returns the value and the number of bytes consumed (1 to 4).
// MQTT 3.1.1 Section 2.2.3
func DecodeVarInt(buf []byte, off int) (value uint32, n int, err error) {
	return decodeVarInt(buf, off, "variable_length")
}

func decodeVarInt(buf []byte, off int, field string) (uint32, int, error) {
	if off < 0 {
		return 0, 0, decodeErr(field, off, ErrTruncatedBuffer)
	}

	var value uint32
	for i := 0; i < maxVarIntBytes; i++ {
		pos := off + i
		if pos >= len(buf) {
			return 0, 0, decodeErr(field, pos, ErrTruncatedBuffer)
		}
		encodedByte := buf[pos]
		value |= uint32(encodedByte&0x7F) << (7 * i)

		if encodedByte&0x80 == 0 {
			// A zero final group after the first byte is a longer form of a
			// value that has a shorter encoding.
			if i > 0 && encodedByte == 0 {
				return 0, 0, decodeErr(field, pos, ErrMalformedVariableLength)
			}
			return value, i + 1, nil
		}
	}

	// The fourth byte still announced a continuation.
	return 0, 0, decodeErr(field, off+maxVarIntBytes-1, ErrMalformedVariableLength)
}

// VarIntSize returns the number of bytes needed to encode a value as a variable byte integer.
func VarIntSize(value uint32) int {
	switch {
	case value < 128:
		return 1
	case value < 16384:
		return 2
	case value < 2097152:
		return 3
	default:
		return 4
	}
}

// EncodeUint16 encodes a 16-bit unsigned integer in big-endian order.
func EncodeUint16(buf []byte, value uint16) (int, error) {
	if len(buf) < 2 {
		return 0, ErrTruncatedBuffer
	}
	binary.BigEndian.PutUint16(buf, value)
	return 2, nil
}

// DecodeUint16 decodes a big-endian 16-bit unsigned integer starting at buf[off].
func DecodeUint16(buf []byte, off int) (uint16, int, error) {
	if off < 0 || len(buf)-off < 2 {
		return 0, 0, decodeErr("uint16", off, ErrTruncatedBuffer)
	}
	return binary.BigEndian.Uint16(buf[off:]), 2, nil
}
