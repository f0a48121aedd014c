package hooks

import (
	"context"

	"github.com/bromq-dev/mqttwire/pkg/handshake"
	"github.com/bromq-dev/mqttwire/pkg/packet"
)

// PolicyHook rejects CONNECT headers that do not meet a static policy. Only the
// variable header is decoded, so the checks work on flags rather than credentials.
type PolicyHook struct {
	cfg PolicyConfig
}

// PolicyConfig configures the policy hook. The zero value accepts everything.
type PolicyConfig struct {
	// RequireCredentials rejects with ConnackBadUsernameOrPassword unless both
	// the username and password flags are set.
	RequireCredentials bool

	// DenyWill rejects with ConnackNotAuthorized when a will message is announced.
	DenyWill bool

	// MaxWillQoS caps the announced will QoS (ConnackNotAuthorized above it).
	MaxWillQoS *packet.QoS

	// MaxKeepAlive rejects with ConnackServerUnavailable when the keep-alive is
	// zero or exceeds it. Zero disables the check.
	MaxKeepAlive uint16

	// RequireCleanSession rejects persistent sessions with ConnackIdentifierRejected,
	// since no session state is kept.
	RequireCleanSession bool
}

// NewPolicyHook creates a new policy hook.
func NewPolicyHook(cfg PolicyConfig) *PolicyHook {
	return &PolicyHook{cfg: cfg}
}

func (h *PolicyHook) ID() string { return "policy" }

// OnConnect applies the policy to the decoded CONNECT header.
func (h *PolicyHook) OnConnect(ctx context.Context, info handshake.ConnInfo) error {
	c := info.Connect

	if h.cfg.RequireCredentials && !(c.UsernameFlag && c.PasswordFlag) {
		return handshake.NewRejectError(packet.ConnackBadUsernameOrPassword, "credentials required")
	}

	if c.WillFlag {
		if h.cfg.DenyWill {
			return handshake.NewRejectError(packet.ConnackNotAuthorized, "will messages not allowed")
		}
		if h.cfg.MaxWillQoS != nil && c.WillQoS > *h.cfg.MaxWillQoS {
			return handshake.NewRejectError(packet.ConnackNotAuthorized, "will qos not allowed")
		}
	}

	if h.cfg.MaxKeepAlive > 0 && (c.KeepAlive == 0 || c.KeepAlive > h.cfg.MaxKeepAlive) {
		return handshake.NewRejectError(packet.ConnackServerUnavailable, "keep alive too long")
	}

	if h.cfg.RequireCleanSession && !c.CleanSession {
		return handshake.NewRejectError(packet.ConnackIdentifierRejected, "persistent sessions not supported")
	}

	return nil
}
