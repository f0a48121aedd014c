// Package hooks provides composable hook implementations for the handshake server.
package hooks

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bromq-dev/mqttwire/pkg/handshake"
	"github.com/bromq-dev/mqttwire/pkg/packet"
)

// StatsHook keeps running handshake counters and reports a snapshot periodically.
type StatsHook struct {
	reporter StatsReporter
	interval time.Duration

	startTime time.Time
	connected atomic.Int64
	accepted  atomic.Int64
	rejected  atomic.Int64
	failed    atomic.Int64
	packets   atomic.Int64
	bytesRecv atomic.Int64

	mu     sync.Mutex
	cancel context.CancelFunc
}

// StatsReporter is called with each periodic snapshot.
type StatsReporter func(Stats)

// StatsConfig configures the stats hook.
type StatsConfig struct {
	// Reporter receives snapshots. If nil, snapshots are only available via Snapshot.
	Reporter StatsReporter

	// Interval is how often to report (default: 10s).
	Interval time.Duration
}

// NewStatsHook creates a new stats hook.
func NewStatsHook(cfg StatsConfig) *StatsHook {
	if cfg.Interval == 0 {
		cfg.Interval = 10 * time.Second
	}

	return &StatsHook{
		reporter:  cfg.Reporter,
		interval:  cfg.Interval,
		startTime: time.Now(),
	}
}

func (h *StatsHook) ID() string { return "stats" }

// Start begins periodic reporting.
func (h *StatsHook) Start() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.cancel != nil || h.reporter == nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel

	go h.loop(ctx)
}

// Stop stops periodic reporting.
func (h *StatsHook) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
}

func (h *StatsHook) loop(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.reporter(h.Snapshot())
		}
	}
}

// HandshakeHook implementation

func (h *StatsHook) OnHandshake(ctx context.Context, o handshake.Outcome) {
	switch {
	case o.Accepted():
		h.accepted.Add(1)
	case o.Replied:
		h.rejected.Add(1)
	default:
		h.failed.Add(1)
	}
}

// ConnectionHook implementation

func (h *StatsHook) OnConnected(ctx context.Context, info handshake.ConnInfo) {
	h.connected.Add(1)
}

func (h *StatsHook) OnDisconnect(ctx context.Context, info handshake.ConnInfo, err error) {
	h.connected.Add(-1)
}

// PacketHook implementation

func (h *StatsHook) OnPacket(ctx context.Context, info handshake.ConnInfo, pkt packet.Packet) {
	h.packets.Add(1)
	h.bytesRecv.Add(int64(pkt.Size()))
}

// Snapshot returns the current counters.
func (h *StatsHook) Snapshot() Stats {
	return Stats{
		Uptime:            time.Since(h.startTime),
		ClientsConnected:  h.connected.Load(),
		HandshakeAccepted: h.accepted.Load(),
		HandshakeRejected: h.rejected.Load(),
		HandshakeFailed:   h.failed.Load(),
		PacketsReceived:   h.packets.Load(),
		BytesReceived:     h.bytesRecv.Load(),
	}
}

// Stats holds a snapshot of StatsHook counters.
type Stats struct {
	Uptime            time.Duration `json:"uptime"`
	ClientsConnected  int64         `json:"clients_connected"`
	HandshakeAccepted int64         `json:"handshakes_accepted"`
	HandshakeRejected int64         `json:"handshakes_rejected"`
	HandshakeFailed   int64         `json:"handshakes_failed"`
	PacketsReceived   int64         `json:"packets_received"`
	BytesReceived     int64         `json:"bytes_received"`
}
