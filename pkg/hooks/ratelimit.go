package hooks

import (
	"context"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/bromq-dev/mqttwire/pkg/handshake"
	"github.com/bromq-dev/mqttwire/pkg/packet"
)

// RateLimitHook limits accepted handshakes per remote host.
type RateLimitHook struct {
	limit     rate.Limit
	burstSize int
	now       func() time.Time

	mu       sync.Mutex
	limiters map[string]*hostLimiter

	stop chan struct{}
	once sync.Once
}

type hostLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimitConfig configures the rate limiter.
type RateLimitConfig struct {
	// Rate is the number of handshakes allowed per interval per remote host.
	// Zero disables limiting.
	Rate int

	// Interval is the rate limit window (default: 1s).
	Interval time.Duration

	// BurstSize is the max burst allowed (default: Rate * 2).
	BurstSize int
}

// NewRateLimitHook creates a new rate limiting hook. Call Stop to end its
// cleanup goroutine.
func NewRateLimitHook(cfg RateLimitConfig) *RateLimitHook {
	if cfg.Interval == 0 {
		cfg.Interval = time.Second
	}
	if cfg.BurstSize == 0 {
		cfg.BurstSize = cfg.Rate * 2
	}

	var limit rate.Limit
	if cfg.Rate > 0 {
		limit = rate.Every(cfg.Interval / time.Duration(cfg.Rate))
	}

	h := &RateLimitHook{
		limit:     limit,
		burstSize: cfg.BurstSize,
		now:       time.Now,
		limiters:  make(map[string]*hostLimiter),
		stop:      make(chan struct{}),
	}

	go h.cleanup()

	return h
}

func (h *RateLimitHook) ID() string { return "ratelimit" }

// OnConnect rejects the handshake with ConnackServerUnavailable once the remote
// host has used up its burst.
func (h *RateLimitHook) OnConnect(ctx context.Context, info handshake.ConnInfo) error {
	if h.limit == 0 {
		return nil
	}
	if !h.allow(remoteHost(info.RemoteAddr)) {
		return handshake.NewRejectError(packet.ConnackServerUnavailable, "handshake rate limit exceeded")
	}
	return nil
}

// Stop ends the cleanup goroutine.
func (h *RateLimitHook) Stop() {
	h.once.Do(func() { close(h.stop) })
}

func (h *RateLimitHook) allow(host string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.now()
	l, ok := h.limiters[host]
	if !ok {
		l = &hostLimiter{limiter: rate.NewLimiter(h.limit, h.burstSize)}
		h.limiters[host] = l
	}
	l.lastSeen = now
	return l.limiter.AllowN(now, 1)
}

func (h *RateLimitHook) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-h.stop:
			return
		case <-ticker.C:
			h.sweep(5 * time.Minute)
		}
	}
}

// sweep removes limiters idle for longer than idle.
func (h *RateLimitHook) sweep(idle time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.now()
	for host, l := range h.limiters {
		if now.Sub(l.lastSeen) > idle {
			delete(h.limiters, host)
		}
	}
}

func remoteHost(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
