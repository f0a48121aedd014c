package packet

import "fmt"

// FixedHeader is the first 2 to 5 bytes of every control packet.
// MQTT 3.1.1 Section 2.2
type FixedHeader struct {
	Type            Type
	Flags           Flags
	RemainingLength uint32
}

// NewFixedHeader returns a header for packet type t with its default flags.
func NewFixedHeader(t Type, remainingLength uint32) FixedHeader {
	return FixedHeader{
		Type:            t,
		Flags:           DefaultFlags(t),
		RemainingLength: remainingLength,
	}
}

// Size returns the encoded size of the header.
func (h FixedHeader) Size() int {
	return 1 + VarIntSize(h.RemainingLength)
}

// Encode encodes the fixed header into buf and returns the number of bytes written.
// A nil Flags encodes as the default flags of the packet type.
func (h FixedHeader) Encode(buf []byte) (int, error) {
	if !h.Type.Valid() {
		return 0, fmt.Errorf("packet type %d: %w", h.Type, ErrUnknownPacketType)
	}
	flags := h.Flags
	if flags == nil {
		flags = DefaultFlags(h.Type)
	}
	if err := checkFlags(h.Type, flags); err != nil {
		return 0, err
	}
	if h.RemainingLength > MaxRemainingLength {
		return 0, fmt.Errorf("remaining length %d: %w", h.RemainingLength, ErrValueOutOfRange)
	}
	if len(buf) < h.Size() {
		return 0, fmt.Errorf("fixed header: %w", ErrTruncatedBuffer)
	}

	buf[0] = byte(h.Type)<<4 | flags.Bits()&0x0F
	n, err := EncodeVarInt(buf[1:], h.RemainingLength)
	if err != nil {
		return 0, err
	}
	return 1 + n, nil
}

// DecodeFixedHeader decodes the fixed header starting at buf[off].
// Returns the header and the number of bytes consumed. It reads at most
// MaxFixedHeaderSize bytes.
func DecodeFixedHeader(buf []byte, off int) (FixedHeader, int, error) {
	if off < 0 || off >= len(buf) {
		return FixedHeader{}, 0, decodeErr("packet_type", off, ErrTruncatedBuffer)
	}

	b0 := buf[off]
	t := Type(b0 >> 4)
	if !t.Valid() {
		return FixedHeader{}, 0, decodeErr("packet_type", off, ErrUnknownPacketType)
	}

	flags, err := decodeFlags(t, b0&0x0F)
	if err != nil {
		return FixedHeader{}, 0, decodeErr("flags", off, err)
	}

	remainingLength, n, err := decodeVarInt(buf, off+1, "remaining_length")
	if err != nil {
		return FixedHeader{}, 0, err
	}

	return FixedHeader{
		Type:            t,
		Flags:           flags,
		RemainingLength: remainingLength,
	}, 1 + n, nil
}
