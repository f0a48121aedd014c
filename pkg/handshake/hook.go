// Package handshake runs the CONNECT/CONNACK exchange on connections handed over by a
// transport listener.
package handshake

import (
	"context"
	"fmt"
	"time"

	"github.com/bromq-dev/mqttwire/pkg/packet"
)

// Hook provides extension points for observing and steering handshakes.
// All methods are called synchronously from the connection's goroutine.
type Hook interface {
	// ID returns a unique identifier for this hook.
	ID() string
}

// ConnectHook may veto an otherwise valid CONNECT.
type ConnectHook interface {
	Hook

	// OnConnect is called after the CONNECT variable header passed validation.
	// Return nil to accept, a *RejectError to reply with its return code, or any
	// other error to reply with ConnackServerUnavailable.
	OnConnect(ctx context.Context, info ConnInfo) error
}

// HandshakeHook receives the outcome of every handshake attempt, successful or not.
type HandshakeHook interface {
	Hook

	OnHandshake(ctx context.Context, outcome Outcome)
}

// ConnectionHook handles connection lifecycle events after a successful handshake.
type ConnectionHook interface {
	Hook

	// OnConnected is called after CONNACK 0 has been written.
	OnConnected(ctx context.Context, info ConnInfo)

	// OnDisconnect is called when an accepted connection ends. err is nil after a
	// DISCONNECT packet or a clean close by the peer.
	OnDisconnect(ctx context.Context, info ConnInfo, err error)
}

// PacketHook observes packets read after the handshake.
type PacketHook interface {
	Hook

	OnPacket(ctx context.Context, info ConnInfo, pkt packet.Packet)
}

// ConnInfo describes one connection.
type ConnInfo struct {
	ListenerID  string
	RemoteAddr  string
	ConnectedAt time.Time

	// Connect is the decoded CONNECT variable header; zero until one was read.
	Connect packet.ConnectHeader
}

// Outcome is the result of one handshake attempt.
type Outcome struct {
	Info ConnInfo

	// Replied is true when a CONNACK was written; ReturnCode is only meaningful then.
	Replied    bool
	ReturnCode packet.ConnackReturnCode

	// Err is the reason the handshake did not complete, if any.
	Err error

	Duration time.Duration
}

// Accepted reports whether the connection was accepted.
func (o Outcome) Accepted() bool {
	return o.Replied && o.ReturnCode == packet.ConnackAccepted && o.Err == nil
}

// RejectError is returned by a ConnectHook to reject a connection with a specific
// CONNACK return code.
type RejectError struct {
	Code    packet.ConnackReturnCode
	Message string
}

func (e *RejectError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("rejected: %s", e.Code)
}

// NewRejectError creates a new reject error.
func NewRejectError(code packet.ConnackReturnCode, msg string) *RejectError {
	return &RejectError{Code: code, Message: msg}
}
