package listeners

import (
	"crypto/tls"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketConfig holds configuration for WebSocket listeners.
type WebSocketConfig struct {
	// TLSConfig enables TLS if set.
	TLSConfig *tls.Config

	// Path is the URL path to listen on. Default: "/mqtt".
	Path string

	// CheckOrigin is a function to validate the Origin header.
	// If nil, all origins are allowed.
	CheckOrigin func(r *http.Request) bool

	// Listener, if set, is used instead of binding addr.
	Listener net.Listener

	// Logger for upgrade failures. If nil, uses slog.Default().
	Logger *slog.Logger
}

// WebSocket is a WebSocket listener. Each binary message carries a slice of the MQTT
// byte stream; message boundaries need not align with packet boundaries.
type WebSocket struct {
	id       string
	addr     string
	config   *WebSocketConfig
	server   *http.Server
	upgrader websocket.Upgrader
	handler  ConnectionHandler
	listener net.Listener
	log      *slog.Logger
	wg       sync.WaitGroup
	closed   chan struct{}
	mu       sync.Mutex
}

// NewWebSocket creates a new WebSocket listener.
func NewWebSocket(id, addr string, config *WebSocketConfig) *WebSocket {
	if config == nil {
		config = &WebSocketConfig{}
	}
	if config.Path == "" {
		config.Path = "/mqtt"
	}
	checkOrigin := config.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(r *http.Request) bool { return true }
	}
	log := config.Logger
	if log == nil {
		log = slog.Default()
	}

	return &WebSocket{
		id:     id,
		addr:   addr,
		config: config,
		upgrader: websocket.Upgrader{
			Subprotocols: []string{"mqtt"},
			CheckOrigin:  checkOrigin,
		},
		log:    log.With("listener", id),
		closed: make(chan struct{}),
	}
}

// ID returns the listener ID.
func (w *WebSocket) ID() string {
	return w.id
}

// Addr returns the bound address, or nil before Serve.
func (w *WebSocket) Addr() net.Addr {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.listener == nil {
		return nil
	}
	return w.listener.Addr()
}

// Serve starts the WebSocket server.
func (w *WebSocket) Serve(handler ConnectionHandler) error {
	ln := w.config.Listener
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", w.addr)
		if err != nil {
			return err
		}
	}
	if w.config.TLSConfig != nil {
		ln = tls.NewListener(ln, w.config.TLSConfig)
	}

	mux := http.NewServeMux()
	mux.HandleFunc(w.config.Path, w.handleWebSocket)

	w.mu.Lock()
	select {
	case <-w.closed:
		w.mu.Unlock()
		ln.Close()
		return errors.New("listener closed")
	default:
	}
	w.handler = handler
	w.listener = ln
	w.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	server := w.server
	w.wg.Add(1)
	w.mu.Unlock()
	defer w.wg.Done()

	w.log.Info("listening", "addr", ln.Addr().String(), "path", w.config.Path)

	err := server.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (w *WebSocket) handleWebSocket(rw http.ResponseWriter, r *http.Request) {
	select {
	case <-w.closed:
		http.Error(rw, "server closing", http.StatusServiceUnavailable)
		return
	default:
	}

	ws, err := w.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		w.log.Debug("websocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	conn := &wsConn{
		Conn:       ws,
		remoteAddr: r.RemoteAddr,
	}

	w.handler.HandleConnection(w.id, conn)
}

// Close stops the WebSocket server.
func (w *WebSocket) Close() error {
	w.mu.Lock()
	select {
	case <-w.closed:
		w.mu.Unlock()
		return errors.New("listener already closed")
	default:
		close(w.closed)
	}
	if w.server != nil {
		w.server.Close()
	}
	w.mu.Unlock()

	w.wg.Wait()
	return nil
}

// wsConn wraps websocket.Conn to implement net.Conn.
type wsConn struct {
	*websocket.Conn
	reader     io.Reader
	remoteAddr string
	readMu     sync.Mutex
	writeMu    sync.Mutex
}

func (c *wsConn) Read(p []byte) (int, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	for {
		if c.reader == nil {
			messageType, r, err := c.Conn.NextReader()
			if err != nil {
				return 0, err
			}
			// MQTT over WebSocket uses binary messages
			if messageType != websocket.BinaryMessage {
				continue
			}
			c.reader = r
		}

		n, err := c.reader.Read(p)
		if err == io.EOF {
			c.reader = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

// Write sends p as one binary message. gorilla/websocket allows one concurrent writer.
func (c *wsConn) Write(p []byte) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.Conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *wsConn) RemoteAddr() net.Addr {
	return &wsAddr{addr: c.remoteAddr}
}

func (c *wsConn) SetDeadline(t time.Time) error {
	if err := c.SetReadDeadline(t); err != nil {
		return err
	}
	return c.SetWriteDeadline(t)
}

// wsAddr implements net.Addr for WebSocket connections.
type wsAddr struct {
	addr string
}

func (a *wsAddr) Network() string { return "websocket" }
func (a *wsAddr) String() string  { return a.addr }
