// Package journal records handshake outcomes for later inspection.
package journal

import (
	"context"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Entry is one recorded handshake attempt.
type Entry struct {
	Time       time.Time `msgpack:"t" json:"time"`
	ListenerID string    `msgpack:"l" json:"listener"`
	RemoteAddr string    `msgpack:"a" json:"remote_addr"`

	// CONNECT variable header fields; zero when no CONNECT was decoded.
	ProtocolLevel byte   `msgpack:"pl" json:"protocol_level"`
	CleanSession  bool   `msgpack:"cs" json:"clean_session"`
	WillFlag      bool   `msgpack:"wf" json:"will"`
	WillQoS       byte   `msgpack:"wq" json:"will_qos"`
	WillRetain    bool   `msgpack:"wr" json:"will_retain"`
	UsernameFlag  bool   `msgpack:"uf" json:"username"`
	PasswordFlag  bool   `msgpack:"pf" json:"password"`
	KeepAlive     uint16 `msgpack:"ka" json:"keep_alive"`

	Replied    bool   `msgpack:"r" json:"replied"`
	ReturnCode byte   `msgpack:"rc" json:"return_code"`
	ErrorKind  string `msgpack:"ek,omitempty" json:"error_kind,omitempty"`
	Error      string `msgpack:"e,omitempty" json:"error,omitempty"`

	Duration time.Duration `msgpack:"d" json:"duration"`
}

// Journal stores entries, newest first.
type Journal interface {
	// Record appends an entry.
	Record(ctx context.Context, e Entry) error

	// Recent returns up to limit entries, newest first.
	Recent(ctx context.Context, limit int) ([]Entry, error)
}

func encodeEntry(e Entry) ([]byte, error) {
	return msgpack.Marshal(&e)
}

func decodeEntry(data []byte) (Entry, error) {
	var e Entry
	err := msgpack.Unmarshal(data, &e)
	return e, err
}
