package inspect

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/bromq-dev/mqttwire/pkg/packet"
)

// Server serves the Inspector gRPC service.
type Server struct {
	cfg    *ServerConfig
	server *grpc.Server

	mu sync.Mutex
	ln net.Listener

	log *slog.Logger
}

// ServerConfig configures the inspector server.
type ServerConfig struct {
	// ListenAddr is the address to listen on (default: ":7947").
	ListenAddr string

	// Listener optionally provides a pre-bound listener; ListenAddr is then ignored.
	Listener net.Listener

	// MaxFrameSize rejects larger frames with InvalidArgument (default: packet.MaxPacketSize).
	MaxFrameSize int

	// Logger for logging. If nil, uses slog.Default().
	Logger *slog.Logger
}

// NewServer creates a new inspector server.
func NewServer(cfg *ServerConfig) *Server {
	if cfg == nil {
		cfg = &ServerConfig{}
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":7947"
	}
	if cfg.MaxFrameSize <= 0 {
		cfg.MaxFrameSize = packet.MaxPacketSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Server{
		cfg: cfg,
		log: cfg.Logger,
	}
	s.server = grpc.NewServer(grpc.ChainUnaryInterceptor(s.logCalls))
	RegisterInspectorServer(s.server, &inspectorServer{maxFrame: cfg.MaxFrameSize})
	return s
}

// Start binds the listener and serves in the background. The server stops
// gracefully when ctx is done.
func (s *Server) Start(ctx context.Context) error {
	ln := s.cfg.Listener
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", s.cfg.ListenAddr)
		if err != nil {
			return errors.Wrap(err, "inspector: listen")
		}
	}

	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	served := make(chan struct{})
	go func() {
		defer close(served)
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			s.log.Error("inspector server error", "error", err)
		}
	}()

	if ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				s.server.GracefulStop()
			case <-served:
			}
		}()
	}

	s.log.Info("inspector started", "addr", ln.Addr().String())
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Stop gracefully stops the server.
func (s *Server) Stop() {
	s.server.GracefulStop()
}

func (s *Server) logCalls(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	s.log.Debug("inspector call",
		"method", info.FullMethod,
		"code", status.Code(err).String(),
		"duration", time.Since(start),
	)
	return resp, err
}

type inspectorServer struct {
	maxFrame int
}

func (s *inspectorServer) Decode(ctx context.Context, req *DecodeRequest) (*Report, error) {
	if len(req.Frame) == 0 {
		return nil, status.Error(codes.InvalidArgument, "empty frame")
	}
	if len(req.Frame) > s.maxFrame {
		return nil, status.Errorf(codes.InvalidArgument, "frame of %d bytes exceeds %d", len(req.Frame), s.maxFrame)
	}
	return Inspect(req.Frame), nil
}
