package handshake

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bromq-dev/mqttwire/pkg/packet"
)

// Config holds server configuration.
type Config struct {
	// MaxConnections limits the number of concurrent connections (0 = unlimited).
	// Connections over the limit receive CONNACK 3 (server unavailable).
	MaxConnections int

	// ConnectTimeout is the time allowed for a client to send CONNECT after connecting.
	ConnectTimeout time.Duration

	// WriteTimeout bounds each packet write.
	WriteTimeout time.Duration

	// MaxPacketSize limits the maximum packet size (0 = protocol max ~256MB).
	MaxPacketSize int

	// ReadBufferSize is the initial per-connection read buffer.
	ReadBufferSize int

	// MetricsNamespace prefixes metric names (default: "mqttwire").
	MetricsNamespace string

	// Registerer receives the server's metrics. If nil, metrics are not registered.
	Registerer prometheus.Registerer

	// Logger for logging. If nil, uses slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		MaxConnections:   0, // Unlimited
		ConnectTimeout:   10 * time.Second,
		WriteTimeout:     5 * time.Second,
		MaxPacketSize:    0, // Protocol max
		ReadBufferSize:   1024,
		MetricsNamespace: "mqttwire",
	}
}

// Server performs MQTT handshakes on the connections it is handed.
type Server struct {
	config  *Config
	hooks   *Hooks
	metrics *metrics
	log     *slog.Logger

	connsMu sync.Mutex
	conns   map[net.Conn]struct{}

	accepted atomic.Uint64
	rejected atomic.Uint64
	failed   atomic.Uint64

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new server with the given configuration.
func New(config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	if config.MetricsNamespace == "" {
		config.MetricsNamespace = "mqttwire"
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		config:  config,
		hooks:   NewHooks(),
		metrics: newMetrics(config.MetricsNamespace, config.Registerer),
		log:     config.Logger,
		conns:   make(map[net.Conn]struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// AddHook registers a hook for observing and steering handshakes.
func (s *Server) AddHook(hook Hook) {
	s.hooks.Register(hook)
}

// HandleConnection handles a new client connection.
// This should be called by the transport layer when a new connection is accepted.
func (s *Server) HandleConnection(listenerID string, conn net.Conn) {
	if !s.track(conn) {
		conn.Close()
		return
	}

	go func() {
		defer s.wg.Done()
		defer s.untrack(conn)
		s.handleConnection(listenerID, conn)
	}()
}

// track registers conn and its goroutine; it reports false once the server is
// shutting down.
func (s *Server) track(conn net.Conn) bool {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	if s.ctx.Err() != nil {
		return false
	}
	s.wg.Add(1)
	s.conns[conn] = struct{}{}
	s.metrics.connections.Inc()
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	if _, ok := s.conns[conn]; ok {
		delete(s.conns, conn)
		s.metrics.connections.Dec()
	}
	conn.Close()
}

func (s *Server) connectionCount() int {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	return len(s.conns)
}

func (s *Server) handleConnection(listenerID string, conn net.Conn) {
	info := ConnInfo{
		ListenerID:  listenerID,
		RemoteAddr:  conn.RemoteAddr().String(),
		ConnectedAt: time.Now(),
	}

	reader := packet.NewReader(conn, s.config.ReadBufferSize)
	reader.SetMaxPacketSize(s.config.MaxPacketSize)

	outcome := s.handshake(conn, reader, &info)
	s.record(outcome)
	if !outcome.Accepted() {
		return
	}

	s.hooks.OnConnected(s.ctx, info)
	err := s.serve(conn, reader, info)
	s.hooks.OnDisconnect(s.ctx, info, err)
}

func (s *Server) record(o Outcome) {
	switch {
	case o.Accepted():
		s.accepted.Add(1)
	case o.Replied:
		s.rejected.Add(1)
	default:
		s.failed.Add(1)
	}
	s.metrics.handshake(o)
	s.hooks.OnHandshake(s.ctx, o)
}

// Shutdown closes every connection and waits for their goroutines to finish.
func (s *Server) Shutdown(ctx context.Context) error {
	s.connsMu.Lock()
	s.cancel()
	for conn := range s.conns {
		conn.Close()
	}
	s.connsMu.Unlock()

	// Wait for all goroutines
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns server statistics.
func (s *Server) Stats() Stats {
	return Stats{
		Connections: s.connectionCount(),
		Accepted:    s.accepted.Load(),
		Rejected:    s.rejected.Load(),
		Failed:      s.failed.Load(),
	}
}

// Stats holds server statistics.
type Stats struct {
	Connections int    `json:"connections"`
	Accepted    uint64 `json:"accepted"`
	Rejected    uint64 `json:"rejected"`
	Failed      uint64 `json:"failed"`
}
