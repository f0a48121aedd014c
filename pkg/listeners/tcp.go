package listeners

import (
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"
)

// TCPConfig holds configuration for TCP listeners.
type TCPConfig struct {
	// TLSConfig enables TLS if set.
	TLSConfig *tls.Config

	// Listener, if set, is used instead of binding addr.
	Listener net.Listener

	// Logger for accept errors. If nil, uses slog.Default().
	Logger *slog.Logger
}

// TCP is a TCP listener.
type TCP struct {
	id       string
	addr     string
	config   *TCPConfig
	listener net.Listener
	log      *slog.Logger
	wg       sync.WaitGroup
	closed   chan struct{}
	mu       sync.Mutex
}

// NewTCP creates a new TCP listener.
// Use config.TLSConfig to enable TLS.
func NewTCP(id, addr string, config *TCPConfig) *TCP {
	if config == nil {
		config = &TCPConfig{}
	}
	log := config.Logger
	if log == nil {
		log = slog.Default()
	}
	return &TCP{
		id:     id,
		addr:   addr,
		config: config,
		log:    log.With("listener", id),
		closed: make(chan struct{}),
	}
}

// ID returns the listener ID.
func (t *TCP) ID() string {
	return t.id
}

// Addr returns the listener's address.
// Returns nil if the listener hasn't started.
func (t *TCP) Addr() net.Addr {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.listener == nil {
		return nil
	}
	return t.listener.Addr()
}

func (t *TCP) listen() (net.Listener, error) {
	l := t.config.Listener
	if l == nil {
		var err error
		l, err = net.Listen("tcp", t.addr)
		if err != nil {
			return nil, err
		}
	}
	if t.config.TLSConfig != nil {
		l = tls.NewListener(l, t.config.TLSConfig)
	}
	return l, nil
}

// Serve starts the listener and accepts connections.
func (t *TCP) Serve(handler ConnectionHandler) error {
	l, err := t.listen()
	if err != nil {
		return err
	}

	t.mu.Lock()
	select {
	case <-t.closed:
		t.mu.Unlock()
		l.Close()
		return errors.New("listener closed")
	default:
	}
	t.listener = l
	t.wg.Add(1)
	t.mu.Unlock()
	defer t.wg.Done()

	t.log.Info("listening", "addr", l.Addr().String(), "tls", t.config.TLSConfig != nil)

	var delay time.Duration
	for {
		conn, err := l.Accept()
		if err != nil {
			select {
			case <-t.closed:
				return nil
			default:
			}
			delay = acceptBackoff(delay)
			t.log.Warn("accept failed", "error", err, "retry_in", delay)
			time.Sleep(delay)
			continue
		}
		delay = 0
		handler.HandleConnection(t.id, conn)
	}
}

// Close stops the listener.
func (t *TCP) Close() error {
	t.mu.Lock()
	select {
	case <-t.closed:
		t.mu.Unlock()
		return errors.New("listener already closed")
	default:
		close(t.closed)
	}
	if t.listener != nil {
		t.listener.Close()
	}
	t.mu.Unlock()

	t.wg.Wait()
	return nil
}
