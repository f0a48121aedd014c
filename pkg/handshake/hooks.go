package handshake

import (
	"context"
	"sync"

	"github.com/bromq-dev/mqttwire/pkg/packet"
)

// Hooks manages registered hooks and dispatches events.
type Hooks struct {
	mu sync.RWMutex

	connect    []ConnectHook
	handshake  []HandshakeHook
	connection []ConnectionHook
	packet     []PacketHook
}

// NewHooks creates a new hook manager.
func NewHooks() *Hooks {
	return &Hooks{}
}

// Register registers a hook. The hook is checked for all supported interfaces.
func (h *Hooks) Register(hook Hook) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if ch, ok := hook.(ConnectHook); ok {
		h.connect = append(h.connect, ch)
	}
	if hh, ok := hook.(HandshakeHook); ok {
		h.handshake = append(h.handshake, hh)
	}
	if ch, ok := hook.(ConnectionHook); ok {
		h.connection = append(h.connection, ch)
	}
	if ph, ok := hook.(PacketHook); ok {
		h.packet = append(h.packet, ph)
	}
}

// OnConnect calls all connect hooks in registration order.
// Returns the first error.
func (h *Hooks) OnConnect(ctx context.Context, info ConnInfo) error {
	h.mu.RLock()
	hooks := h.connect
	h.mu.RUnlock()

	for _, hook := range hooks {
		if err := hook.OnConnect(ctx, info); err != nil {
			return err
		}
	}
	return nil
}

func (h *Hooks) OnHandshake(ctx context.Context, outcome Outcome) {
	h.mu.RLock()
	hooks := h.handshake
	h.mu.RUnlock()

	for _, hook := range hooks {
		hook.OnHandshake(ctx, outcome)
	}
}

func (h *Hooks) OnConnected(ctx context.Context, info ConnInfo) {
	h.mu.RLock()
	hooks := h.connection
	h.mu.RUnlock()

	for _, hook := range hooks {
		hook.OnConnected(ctx, info)
	}
}

func (h *Hooks) OnDisconnect(ctx context.Context, info ConnInfo, err error) {
	h.mu.RLock()
	hooks := h.connection
	h.mu.RUnlock()

	for _, hook := range hooks {
		hook.OnDisconnect(ctx, info, err)
	}
}

func (h *Hooks) OnPacket(ctx context.Context, info ConnInfo, pkt packet.Packet) {
	h.mu.RLock()
	hooks := h.packet
	h.mu.RUnlock()

	for _, hook := range hooks {
		hook.OnPacket(ctx, info, pkt)
	}
}
