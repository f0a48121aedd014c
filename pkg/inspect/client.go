package inspect

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Client calls a remote Inspector.
type Client struct {
	conn    *grpc.ClientConn
	client  InspectorClient
	timeout time.Duration
}

// ClientConfig configures the inspector client.
type ClientConfig struct {
	// Addr is the inspector address (default: "localhost:7947").
	Addr string

	// Timeout bounds each call (default: 5s).
	Timeout time.Duration

	// DialOptions are appended to the defaults (insecure transport).
	DialOptions []grpc.DialOption
}

// NewClient creates a client. The connection is established lazily on the first call.
func NewClient(cfg *ClientConfig) (*Client, error) {
	if cfg == nil {
		cfg = &ClientConfig{}
	}
	if cfg.Addr == "" {
		cfg.Addr = "localhost:7947"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}

	opts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}, cfg.DialOptions...)

	conn, err := grpc.NewClient(cfg.Addr, opts...)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", cfg.Addr)
	}

	return &Client{
		conn:    conn,
		client:  NewInspectorClient(conn),
		timeout: cfg.Timeout,
	}, nil
}

// Decode sends frame to the inspector and returns its report.
func (c *Client) Decode(ctx context.Context, frame []byte) (*Report, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.client.Decode(ctx, &DecodeRequest{Frame: frame})
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
