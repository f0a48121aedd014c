package packet

import "fmt"

// ConnectHeaderSize is the size of the CONNECT variable header.
const ConnectHeaderSize = 10

// ConnectHeader is the variable header of an MQTT CONNECT packet.
// MQTT 3.1.1 Section 3.1.2
type ConnectHeader struct {
	// Protocol identification. The six bytes are carried raw: for MQTT 3.1.1 they are
	// the two-byte length prefix followed by "MQTT" (see ProtocolNameMQTT).
	ProtocolName  [6]byte
	ProtocolLevel byte

	// Connect flags
	UsernameFlag bool
	PasswordFlag bool
	WillRetain   bool
	WillQoS      QoS
	WillFlag     bool
	CleanSession bool

	// Keep alive (seconds)
	KeepAlive uint16
}

// connectFlagBits defines the bit positions in the connect flags byte.
const (
	connectFlagReserved     = 1 << 0
	connectFlagCleanSession = 1 << 1
	connectFlagWill         = 1 << 2
	connectFlagWillQoSShift = 3
	connectFlagWillQoSMask  = 0x03 << connectFlagWillQoSShift
	connectFlagWillRetain   = 1 << 5
	connectFlagPassword     = 1 << 6
	connectFlagUsername     = 1 << 7
)

// Type returns TypeConnect.
func (c ConnectHeader) Type() Type {
	return TypeConnect
}

// Size returns ConnectHeaderSize.
func (c ConnectHeader) Size() int {
	return ConnectHeaderSize
}

// HasProtocolName reports whether the raw protocol name equals name.
func (c ConnectHeader) HasProtocolName(name [6]byte) bool {
	return c.ProtocolName == name
}

func (c ConnectHeader) flagByte() (byte, error) {
	if c.WillQoS > 3 || (c.WillFlag && !c.WillQoS.Valid()) {
		return 0, fmt.Errorf("will %s: %w", c.WillQoS, ErrValueOutOfRange)
	}

	var flags byte
	if c.UsernameFlag {
		flags |= connectFlagUsername
	}
	if c.PasswordFlag {
		flags |= connectFlagPassword
	}
	if c.WillRetain {
		flags |= connectFlagWillRetain
	}
	flags |= byte(c.WillQoS) << connectFlagWillQoSShift
	if c.WillFlag {
		flags |= connectFlagWill
	}
	if c.CleanSession {
		flags |= connectFlagCleanSession
	}
	return flags, nil
}

// Encode encodes the variable header into buf and returns the number of bytes written.
func (c ConnectHeader) Encode(buf []byte) (int, error) {
	flags, err := c.flagByte()
	if err != nil {
		return 0, err
	}
	if len(buf) < ConnectHeaderSize {
		return 0, fmt.Errorf("connect header: %w", ErrTruncatedBuffer)
	}

	pos := copy(buf, c.ProtocolName[:])
	buf[pos] = c.ProtocolLevel
	pos++
	buf[pos] = flags
	pos++
	n, err := EncodeUint16(buf[pos:], c.KeepAlive)
	if err != nil {
		return 0, err
	}
	return pos + n, nil
}

// DecodeConnectHeader decodes a CONNECT variable header starting at buf[off].
// The protocol name is not checked here; see HasProtocolName.
func DecodeConnectHeader(buf []byte, off int) (ConnectHeader, int, error) {
	if off < 0 || len(buf)-off < ConnectHeaderSize {
		return ConnectHeader{}, 0, decodeErr("connect_header", off, ErrTruncatedBuffer)
	}

	var c ConnectHeader
	pos := off

	copy(c.ProtocolName[:], buf[pos:pos+6])
	pos += 6

	c.ProtocolLevel = buf[pos]
	pos++

	flags := buf[pos]
	if flags&connectFlagReserved != 0 {
		return ConnectHeader{}, 0, decodeErr("connect_flags", pos, ErrReservedBitSet)
	}
	c.UsernameFlag = flags&connectFlagUsername != 0
	c.PasswordFlag = flags&connectFlagPassword != 0
	c.WillRetain = flags&connectFlagWillRetain != 0
	c.WillQoS = QoS((flags & connectFlagWillQoSMask) >> connectFlagWillQoSShift)
	c.WillFlag = flags&connectFlagWill != 0
	c.CleanSession = flags&connectFlagCleanSession != 0
	if c.WillFlag && !c.WillQoS.Valid() {
		return ConnectHeader{}, 0, decodeErr("will_qos", pos, ErrValueOutOfRange)
	}
	pos++

	c.KeepAlive, _, _ = DecodeUint16(buf, pos)
	pos += 2

	return c, pos - off, nil
}
