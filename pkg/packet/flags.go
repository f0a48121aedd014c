package packet

import "fmt"

// Flags is the low nibble of the first fixed header byte. Its meaning depends on the
// packet type, so each family of packet types has its own variant:
//
//	NoFlags       CONNECT, CONNACK, PUBACK, PUBREC, PUBCOMP, SUBACK, UNSUBACK,
//	              PINGREQ, PINGRESP, DISCONNECT
//	PublishFlags  PUBLISH
//	RequiredFlags PUBREL, SUBSCRIBE, UNSUBSCRIBE
//
// The set of variants is closed.
type Flags interface {
	// Bits returns the four flag bits as they appear on the wire.
	Bits() byte

	family() flagFamily
}

type flagFamily byte

const (
	familyNone flagFamily = iota
	familyPublish
	familyRequired
)

// Fixed header flag bits for PUBLISH (bits 3-0 of first byte).
const (
	PublishFlagRetain = 1 << 0 // Bit 0: RETAIN flag
	PublishFlagQoS1   = 1 << 1 // Bit 1: QoS LSB
	PublishFlagQoS2   = 1 << 2 // Bit 2: QoS MSB
	PublishFlagDup    = 1 << 3 // Bit 3: DUP flag

	publishQoSShift = 1
	publishQoSMask  = PublishFlagQoS1 | PublishFlagQoS2
)

// requiredFlagBits is the fixed pattern PUBREL, SUBSCRIBE and UNSUBSCRIBE carry.
const requiredFlagBits = 0x02

// NoFlags is the variant for packet types whose four flag bits are reserved and zero.
type NoFlags struct{}

func (NoFlags) Bits() byte         { return 0 }
func (NoFlags) family() flagFamily { return familyNone }

// RequiredFlags is the variant for packet types whose flag bits are fixed at 0010.
type RequiredFlags struct{}

func (RequiredFlags) Bits() byte         { return requiredFlagBits }
func (RequiredFlags) family() flagFamily { return familyRequired }

// PublishFlags carries the DUP, QoS and RETAIN bits of a PUBLISH fixed header.
type PublishFlags struct {
	Dup    bool
	QoS    QoS
	Retain bool
}

func (f PublishFlags) Bits() byte {
	b := byte(f.QoS&0x03) << publishQoSShift
	if f.Dup {
		b |= PublishFlagDup
	}
	if f.Retain {
		b |= PublishFlagRetain
	}
	return b
}

func (PublishFlags) family() flagFamily { return familyPublish }

func familyOf(t Type) flagFamily {
	switch t {
	case TypePublish:
		return familyPublish
	case TypePubrel, TypeSubscribe, TypeUnsubscribe:
		return familyRequired
	default:
		return familyNone
	}
}

// DefaultFlags returns the flag variant a packet of type t carries when it has no
// per-packet flag values set.
func DefaultFlags(t Type) Flags {
	switch familyOf(t) {
	case familyPublish:
		return PublishFlags{}
	case familyRequired:
		return RequiredFlags{}
	default:
		return NoFlags{}
	}
}

// decodeFlags interprets the low nibble of the first byte for packet type t.
func decodeFlags(t Type, nibble byte) (Flags, error) {
	switch familyOf(t) {
	case familyPublish:
		qos := QoS((nibble & publishQoSMask) >> publishQoSShift)
		if !qos.Valid() {
			return nil, ErrValueOutOfRange
		}
		return PublishFlags{
			Dup:    nibble&PublishFlagDup != 0,
			QoS:    qos,
			Retain: nibble&PublishFlagRetain != 0,
		}, nil
	case familyRequired:
		if nibble != requiredFlagBits {
			return nil, ErrReservedBitSet
		}
		return RequiredFlags{}, nil
	default:
		if nibble != 0 {
			return nil, ErrReservedBitSet
		}
		return NoFlags{}, nil
	}
}

// checkFlags validates a flag variant before it is encoded for packet type t.
// Only the value variants are accepted.
func checkFlags(t Type, f Flags) error {
	var qos QoS
	switch v := f.(type) {
	case NoFlags, RequiredFlags:
	case PublishFlags:
		qos = v.QoS
	default:
		return fmt.Errorf("%T flags on %s: %w", f, t, ErrValueOutOfRange)
	}
	if f.family() != familyOf(t) {
		return fmt.Errorf("%T flags on %s: %w", f, t, ErrValueOutOfRange)
	}
	if !qos.Valid() {
		return fmt.Errorf("publish %s: %w", qos, ErrValueOutOfRange)
	}
	return nil
}
