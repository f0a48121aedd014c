// Package listeners provides the transports that deliver MQTT byte streams to a
// connection handler.
package listeners

import (
	"net"
	"time"
)

// ConnectionHandler handles new connections from listeners.
type ConnectionHandler interface {
	// HandleConnection takes ownership of conn. listenerID names the listener that
	// accepted it.
	HandleConnection(listenerID string, conn net.Conn)
}

// ConnectionHandlerFunc adapts a function to ConnectionHandler.
type ConnectionHandlerFunc func(listenerID string, conn net.Conn)

// HandleConnection calls f(listenerID, conn).
func (f ConnectionHandlerFunc) HandleConnection(listenerID string, conn net.Conn) {
	f(listenerID, conn)
}

// Listener is the interface that all transport listeners implement.
type Listener interface {
	// ID returns the unique identifier for this listener.
	ID() string

	// Addr returns the listener's address, or nil before Serve has bound it.
	Addr() net.Addr

	// Serve starts accepting connections and passes them to the handler.
	// This should be called in a goroutine as it blocks until Close is called.
	Serve(handler ConnectionHandler) error

	// Close stops the listener.
	Close() error
}

// acceptBackoff returns the delay before retrying after a temporary accept error.
func acceptBackoff(prev time.Duration) time.Duration {
	if prev == 0 {
		return 5 * time.Millisecond
	}
	prev *= 2
	if prev > time.Second {
		prev = time.Second
	}
	return prev
}
