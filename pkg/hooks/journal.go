package hooks

import (
	"context"
	"log/slog"
	"time"

	"github.com/bromq-dev/mqttwire/pkg/handshake"
	"github.com/bromq-dev/mqttwire/pkg/journal"
	"github.com/bromq-dev/mqttwire/pkg/packet"
)

// JournalHook records every handshake outcome into a journal.
type JournalHook struct {
	journal journal.Journal
	timeout time.Duration
	log     *slog.Logger
}

// JournalConfig configures the journal hook.
type JournalConfig struct {
	// Journal receives the entries (required).
	Journal journal.Journal

	// Timeout bounds each Record call (default: 2s).
	Timeout time.Duration

	// Logger for record failures. If nil, uses slog.Default().
	Logger *slog.Logger
}

// NewJournalHook creates a hook writing to cfg.Journal.
func NewJournalHook(cfg JournalConfig) *JournalHook {
	if cfg.Timeout == 0 {
		cfg.Timeout = 2 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &JournalHook{
		journal: cfg.Journal,
		timeout: cfg.Timeout,
		log:     cfg.Logger,
	}
}

func (h *JournalHook) ID() string { return "journal" }

func (h *JournalHook) OnHandshake(ctx context.Context, o handshake.Outcome) {
	// The server context is cancelled on shutdown; entries for in-flight
	// handshakes are still written.
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.timeout)
	defer cancel()

	if err := h.journal.Record(recordCtx, EntryFromOutcome(o, time.Now())); err != nil {
		h.log.Error("failed to record handshake",
			"remote_addr", o.Info.RemoteAddr,
			"error", err,
		)
	}
}

// EntryFromOutcome converts a handshake outcome into a journal entry.
func EntryFromOutcome(o handshake.Outcome, now time.Time) journal.Entry {
	c := o.Info.Connect
	e := journal.Entry{
		Time:          now,
		ListenerID:    o.Info.ListenerID,
		RemoteAddr:    o.Info.RemoteAddr,
		ProtocolLevel: c.ProtocolLevel,
		CleanSession:  c.CleanSession,
		WillFlag:      c.WillFlag,
		WillQoS:       byte(c.WillQoS),
		WillRetain:    c.WillRetain,
		UsernameFlag:  c.UsernameFlag,
		PasswordFlag:  c.PasswordFlag,
		KeepAlive:     c.KeepAlive,
		Replied:       o.Replied,
		ReturnCode:    byte(o.ReturnCode),
		Duration:      o.Duration,
	}
	if o.Err != nil {
		e.Error = o.Err.Error()
		e.ErrorKind = packet.ErrorKind(o.Err)
	}
	return e
}
