// Package packet provides MQTT 3.1.1 fixed header encoding and decoding together with
// the CONNECT and CONNACK variable headers.
// Every codec is a pure transform over caller-supplied buffers; decoded values never
// reference the source buffer.
package packet

// Type represents an MQTT control packet type.
type Type byte

// MQTT Control Packet types as defined in MQTT 3.1.1 Section 2.2.1
const (
	TypeReserved0   Type = 0  // Reserved
	TypeConnect     Type = 1  // Client request to connect to Server
	TypeConnack     Type = 2  // Connect acknowledgment
	TypePublish     Type = 3  // Publish message
	TypePuback      Type = 4  // Publish acknowledgment (QoS 1)
	TypePubrec      Type = 5  // Publish received (QoS 2 part 1)
	TypePubrel      Type = 6  // Publish release (QoS 2 part 2)
	TypePubcomp     Type = 7  // Publish complete (QoS 2 part 3)
	TypeSubscribe   Type = 8  // Subscribe request
	TypeSuback      Type = 9  // Subscribe acknowledgment
	TypeUnsubscribe Type = 10 // Unsubscribe request
	TypeUnsuback    Type = 11 // Unsubscribe acknowledgment
	TypePingreq     Type = 12 // PING request
	TypePingresp    Type = 13 // PING response
	TypeDisconnect  Type = 14 // Disconnect notification
	TypeReserved15  Type = 15 // Reserved
)

// String returns the string representation of the packet type.
func (t Type) String() string {
	switch t {
	case TypeConnect:
		return "CONNECT"
	case TypeConnack:
		return "CONNACK"
	case TypePublish:
		return "PUBLISH"
	case TypePuback:
		return "PUBACK"
	case TypePubrec:
		return "PUBREC"
	case TypePubrel:
		return "PUBREL"
	case TypePubcomp:
		return "PUBCOMP"
	case TypeSubscribe:
		return "SUBSCRIBE"
	case TypeSuback:
		return "SUBACK"
	case TypeUnsubscribe:
		return "UNSUBSCRIBE"
	case TypeUnsuback:
		return "UNSUBACK"
	case TypePingreq:
		return "PINGREQ"
	case TypePingresp:
		return "PINGRESP"
	case TypeDisconnect:
		return "DISCONNECT"
	default:
		return "RESERVED"
	}
}

// Valid returns true if the packet type is one of the fourteen defined types.
func (t Type) Valid() bool {
	return t >= TypeConnect && t <= TypeDisconnect
}

// QoS represents MQTT Quality of Service level.
type QoS byte

const (
	QoS0 QoS = 0 // At most once delivery
	QoS1 QoS = 1 // At least once delivery
	QoS2 QoS = 2 // Exactly once delivery
)

// Valid returns true if the QoS level is valid.
func (q QoS) Valid() bool {
	return q <= QoS2
}

// String returns the string representation of the QoS level.
func (q QoS) String() string {
	switch q {
	case QoS0:
		return "QoS0"
	case QoS1:
		return "QoS1"
	case QoS2:
		return "QoS2"
	default:
		return "invalid"
	}
}

// ConnackReturnCode is the second byte of the CONNACK variable header.
// MQTT 3.1.1 Section 3.2.2.3
type ConnackReturnCode byte

const (
	ConnackAccepted                    ConnackReturnCode = 0x00
	ConnackUnacceptableProtocolVersion ConnackReturnCode = 0x01
	ConnackIdentifierRejected          ConnackReturnCode = 0x02
	ConnackServerUnavailable           ConnackReturnCode = 0x03
	ConnackBadUsernameOrPassword       ConnackReturnCode = 0x04
	ConnackNotAuthorized               ConnackReturnCode = 0x05
)

// String returns a description of the return code.
// Codes above 5 are reserved and reported as such.
func (c ConnackReturnCode) String() string {
	switch c {
	case ConnackAccepted:
		return "connection accepted"
	case ConnackUnacceptableProtocolVersion:
		return "unacceptable protocol version"
	case ConnackIdentifierRejected:
		return "identifier rejected"
	case ConnackServerUnavailable:
		return "server unavailable"
	case ConnackBadUsernameOrPassword:
		return "bad user name or password"
	case ConnackNotAuthorized:
		return "not authorized"
	default:
		return "reserved"
	}
}

// Defined reports whether the code is one of the six codes MQTT 3.1.1 assigns.
func (c ConnackReturnCode) Defined() bool {
	return c <= ConnackNotAuthorized
}

// ProtocolLevel311 is the protocol level byte sent by MQTT 3.1.1 clients.
const ProtocolLevel311 byte = 4

// ProtocolNameMQTT is the length-prefixed protocol name of MQTT 3.1.1 as it appears in
// the first six bytes of the CONNECT variable header.
var ProtocolNameMQTT = [6]byte{0x00, 0x04, 'M', 'Q', 'T', 'T'}

// MaxRemainingLength is the maximum remaining length value (256MB - 1).
const MaxRemainingLength = 268435455

// MaxFixedHeaderSize is the largest fixed header: one type byte and four length bytes.
const MaxFixedHeaderSize = 5

// MaxPacketSize is the maximum total packet size including fixed header.
const MaxPacketSize = MaxRemainingLength + MaxFixedHeaderSize
