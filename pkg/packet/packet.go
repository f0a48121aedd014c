package packet

import "fmt"

// VariableHeader is implemented by the variable headers this package can encode.
type VariableHeader interface {
	// Type returns the packet type the header belongs to.
	Type() Type

	// Size returns the encoded size of the header.
	Size() int

	// Encode encodes the header into buf and returns the number of bytes written.
	Encode(buf []byte) (int, error)
}

var (
	_ VariableHeader = ConnectHeader{}
	_ VariableHeader = ConnackHeader{}
)

// Packet is one decoded control packet.
// Variable is a ConnectHeader or ConnackHeader for those packet types and nil for the
// rest. Payload holds the remaining bytes after the variable header, copied and
// uninterpreted; for types without a variable header codec it is the whole body.
type Packet struct {
	Header   FixedHeader
	Variable VariableHeader
	Payload  []byte
}

// remaining returns the remaining length the packet encodes to.
func (p Packet) remaining() int {
	n := len(p.Payload)
	if p.Variable != nil {
		n += p.Variable.Size()
	}
	return n
}

// Size returns the total size of the encoded packet.
func (p Packet) Size() int {
	remaining := p.remaining()
	return 1 + VarIntSize(uint32(remaining)) + remaining
}

// Encode encodes the packet into buf and returns the number of bytes written.
// The remaining length is computed from the variable header and payload; the value in
// Header.RemainingLength is ignored.
func (p Packet) Encode(buf []byte) (int, error) {
	var vh [ConnectHeaderSize]byte
	scratch := vh[:0]

	// Variable header first so the remaining length is known.
	if p.Variable != nil {
		if p.Variable.Type() != p.Header.Type {
			return 0, fmt.Errorf("%s variable header on %s: %w", p.Variable.Type(), p.Header.Type, ErrValueOutOfRange)
		}
		scratch = vh[:]
		if size := p.Variable.Size(); size > len(scratch) {
			scratch = make([]byte, size)
		}
		n, err := p.Variable.Encode(scratch)
		if err != nil {
			return 0, err
		}
		scratch = scratch[:n]
	}

	remaining := len(scratch) + len(p.Payload)
	if remaining > MaxRemainingLength {
		return 0, fmt.Errorf("remaining length %d: %w", remaining, ErrValueOutOfRange)
	}

	h := p.Header
	h.RemainingLength = uint32(remaining)
	if len(buf) < h.Size()+remaining {
		return 0, fmt.Errorf("%s packet: %w", h.Type, ErrTruncatedBuffer)
	}

	pos, err := h.Encode(buf)
	if err != nil {
		return 0, err
	}
	pos += copy(buf[pos:], scratch)
	pos += copy(buf[pos:], p.Payload)
	return pos, nil
}

// EncodePacket encodes a packet made of vh and payload behind a default fixed header.
func EncodePacket(buf []byte, vh VariableHeader, payload []byte) (int, error) {
	return Packet{
		Header:   NewFixedHeader(vh.Type(), 0),
		Variable: vh,
		Payload:  payload,
	}.Encode(buf)
}

// EncodeControl encodes a packet that consists of a fixed header only, such as
// PINGREQ, PINGRESP or DISCONNECT.
func EncodeControl(buf []byte, t Type) (int, error) {
	return NewFixedHeader(t, 0).Encode(buf)
}

// DecodePacket decodes one complete packet from the start of buf.
// Returns the packet and the number of bytes consumed.
func DecodePacket(buf []byte) (Packet, int, error) {
	h, n, err := DecodeFixedHeader(buf, 0)
	if err != nil {
		return Packet{}, 0, err
	}

	end := n + int(h.RemainingLength)
	if len(buf) < end {
		return Packet{}, 0, decodeErr("body", len(buf), ErrTruncatedBuffer)
	}
	// Variable header codecs must not read past the remaining length.
	body := buf[:end]

	p := Packet{Header: h}
	pos := n

	switch h.Type {
	case TypeConnect:
		if h.RemainingLength < ConnectHeaderSize {
			return Packet{}, 0, decodeErr("remaining_length", 1, ErrMalformedPacket)
		}
		vh, m, err := DecodeConnectHeader(body, pos)
		if err != nil {
			return Packet{}, 0, err
		}
		p.Variable = vh
		pos += m

	case TypeConnack:
		if h.RemainingLength != ConnackHeaderSize {
			return Packet{}, 0, decodeErr("remaining_length", 1, ErrMalformedPacket)
		}
		vh, m, err := DecodeConnackHeader(body, pos)
		if err != nil {
			return Packet{}, 0, err
		}
		p.Variable = vh
		pos += m
	}

	if pos < end {
		p.Payload = make([]byte, end-pos)
		copy(p.Payload, body[pos:end])
	}

	return p, end, nil
}
