// Package inspect turns raw bytes into a structured report of the MQTT packet they hold,
// locally or over gRPC.
package inspect

import (
	"encoding/hex"
	"strings"

	"github.com/pkg/errors"

	"github.com/bromq-dev/mqttwire/pkg/packet"
)

// Report describes one decoded (or partially decoded) packet.
type Report struct {
	// Length is the number of input bytes.
	Length int `msgpack:"length" json:"length"`

	// Consumed is the size of the decoded packet; input beyond it is Trailing.
	Consumed int `msgpack:"consumed" json:"consumed"`
	Trailing int `msgpack:"trailing" json:"trailing"`

	Header  *HeaderReport  `msgpack:"header,omitempty" json:"header,omitempty"`
	Connect *ConnectReport `msgpack:"connect,omitempty" json:"connect,omitempty"`
	Connack *ConnackReport `msgpack:"connack,omitempty" json:"connack,omitempty"`

	PayloadLength int `msgpack:"payload_length" json:"payload_length"`

	Error *ErrorReport `msgpack:"error,omitempty" json:"error,omitempty"`
}

// Valid reports whether the input decoded without error.
func (r *Report) Valid() bool { return r.Error == nil }

// HeaderReport describes the fixed header.
type HeaderReport struct {
	Type            byte   `msgpack:"type" json:"type"`
	TypeName        string `msgpack:"type_name" json:"type_name"`
	Flags           byte   `msgpack:"flags" json:"flags"`
	Dup             bool   `msgpack:"dup,omitempty" json:"dup,omitempty"`
	QoS             byte   `msgpack:"qos,omitempty" json:"qos,omitempty"`
	Retain          bool   `msgpack:"retain,omitempty" json:"retain,omitempty"`
	RemainingLength uint32 `msgpack:"remaining_length" json:"remaining_length"`
	Size            int    `msgpack:"size" json:"size"`
}

// ConnectReport describes a CONNECT variable header.
type ConnectReport struct {
	ProtocolName  string `msgpack:"protocol_name" json:"protocol_name"`
	ProtocolLevel byte   `msgpack:"protocol_level" json:"protocol_level"`
	UsernameFlag  bool   `msgpack:"username" json:"username"`
	PasswordFlag  bool   `msgpack:"password" json:"password"`
	WillRetain    bool   `msgpack:"will_retain" json:"will_retain"`
	WillQoS       byte   `msgpack:"will_qos" json:"will_qos"`
	WillFlag      bool   `msgpack:"will" json:"will"`
	CleanSession  bool   `msgpack:"clean_session" json:"clean_session"`
	KeepAlive     uint16 `msgpack:"keep_alive" json:"keep_alive"`
}

// ConnackReport describes a CONNACK variable header.
type ConnackReport struct {
	SessionPresent bool   `msgpack:"session_present" json:"session_present"`
	ReturnCode     byte   `msgpack:"return_code" json:"return_code"`
	ReturnCodeName string `msgpack:"return_code_name" json:"return_code_name"`
	// Defined is false for the reserved codes above 5.
	Defined bool `msgpack:"defined" json:"defined"`
}

// ErrorReport describes why decoding stopped.
type ErrorReport struct {
	Kind    string `msgpack:"kind" json:"kind"`
	Field   string `msgpack:"field,omitempty" json:"field,omitempty"`
	Offset  int    `msgpack:"offset" json:"offset"`
	Message string `msgpack:"message" json:"message"`
}

// Inspect decodes the packet at the start of frame. When the packet is invalid the report
// carries the error and whatever header information could still be decoded.
func Inspect(frame []byte) *Report {
	r := &Report{Length: len(frame)}

	pkt, n, err := packet.DecodePacket(frame)
	if err != nil {
		r.Error = errorReport(err)
		if h, hn, herr := packet.DecodeFixedHeader(frame, 0); herr == nil {
			r.Header = headerReport(h, hn)
		}
		return r
	}

	r.Consumed = n
	r.Trailing = len(frame) - n
	r.Header = headerReport(pkt.Header, pkt.Header.Size())
	r.PayloadLength = len(pkt.Payload)

	switch vh := pkt.Variable.(type) {
	case packet.ConnectHeader:
		r.Connect = &ConnectReport{
			ProtocolName:  protocolName(vh.ProtocolName),
			ProtocolLevel: vh.ProtocolLevel,
			UsernameFlag:  vh.UsernameFlag,
			PasswordFlag:  vh.PasswordFlag,
			WillRetain:    vh.WillRetain,
			WillQoS:       byte(vh.WillQoS),
			WillFlag:      vh.WillFlag,
			CleanSession:  vh.CleanSession,
			KeepAlive:     vh.KeepAlive,
		}
	case packet.ConnackHeader:
		r.Connack = &ConnackReport{
			SessionPresent: vh.SessionPresent,
			ReturnCode:     byte(vh.ReturnCode),
			ReturnCodeName: vh.ReturnCode.String(),
			Defined:        vh.ReturnCode.Defined(),
		}
	}
	return r
}

func headerReport(h packet.FixedHeader, size int) *HeaderReport {
	hr := &HeaderReport{
		Type:            byte(h.Type),
		TypeName:        h.Type.String(),
		RemainingLength: h.RemainingLength,
		Size:            size,
	}
	if h.Flags != nil {
		hr.Flags = h.Flags.Bits()
	}
	if pf, ok := h.Flags.(packet.PublishFlags); ok {
		hr.Dup = pf.Dup
		hr.QoS = byte(pf.QoS)
		hr.Retain = pf.Retain
	}
	return hr
}

func errorReport(err error) *ErrorReport {
	er := &ErrorReport{
		Kind:    packet.ErrorKind(err),
		Message: err.Error(),
	}
	var de *packet.DecodeError
	if errors.As(err, &de) {
		er.Field = de.Field
		er.Offset = de.Offset
	}
	return er
}

// protocolName renders the raw 6-byte protocol name field. A well-formed field is a
// 2-byte length followed by the name; anything else is shown as hex.
func protocolName(raw [6]byte) string {
	if raw[0] == 0 && raw[1] == 4 {
		return string(raw[2:])
	}
	return hex.EncodeToString(raw[:])
}

// ParseHex decodes a hex dump. Whitespace, colons and 0x prefixes are ignored, so
// "10 0a", "10:0a" and "0x10 0x0a" all parse.
func ParseHex(s string) ([]byte, error) {
	s = strings.ReplaceAll(s, "0x", "")
	s = strings.ReplaceAll(s, "0X", "")
	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\r', ':', ',':
			return -1
		}
		return r
	}, s)

	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, errors.Wrap(err, "parse hex")
	}
	return b, nil
}
