package packet

import "fmt"

// ConnackHeaderSize is the size of the CONNACK variable header.
const ConnackHeaderSize = 2

// connackFlagSessionPresent is the only defined bit of the acknowledge flags byte.
const connackFlagSessionPresent = 0x01

// ConnackHeader is the variable header of an MQTT CONNACK packet.
// MQTT 3.1.1 Section 3.2.2
type ConnackHeader struct {
	SessionPresent bool

	// ReturnCode is carried as received; codes above 5 are reserved but not rejected.
	ReturnCode ConnackReturnCode
}

// Type returns TypeConnack.
func (c ConnackHeader) Type() Type {
	return TypeConnack
}

// Size returns ConnackHeaderSize.
func (c ConnackHeader) Size() int {
	return ConnackHeaderSize
}

// Encode encodes the variable header into buf and returns the number of bytes written.
func (c ConnackHeader) Encode(buf []byte) (int, error) {
	if len(buf) < ConnackHeaderSize {
		return 0, fmt.Errorf("connack header: %w", ErrTruncatedBuffer)
	}
	if c.SessionPresent {
		buf[0] = connackFlagSessionPresent
	} else {
		buf[0] = 0x00
	}
	buf[1] = byte(c.ReturnCode)
	return ConnackHeaderSize, nil
}

// DecodeConnackHeader decodes a CONNACK variable header starting at buf[off].
func DecodeConnackHeader(buf []byte, off int) (ConnackHeader, int, error) {
	if off < 0 || len(buf)-off < ConnackHeaderSize {
		return ConnackHeader{}, 0, decodeErr("connack_header", off, ErrTruncatedBuffer)
	}

	// Bits 7-1 must be 0
	ackFlags := buf[off]
	if ackFlags&^connackFlagSessionPresent != 0 {
		return ConnackHeader{}, 0, decodeErr("acknowledge_flags", off, ErrReservedBitSet)
	}

	return ConnackHeader{
		SessionPresent: ackFlags&connackFlagSessionPresent != 0,
		ReturnCode:     ConnackReturnCode(buf[off+1]),
	}, ConnackHeaderSize, nil
}
