package hooks

import (
	"context"
	"log/slog"

	"github.com/bromq-dev/mqttwire/pkg/handshake"
	"github.com/bromq-dev/mqttwire/pkg/packet"
)

// LoggerHook logs server events using slog.
type LoggerHook struct {
	logger *slog.Logger
	level  LogLevel
}

// LogLevel controls which events are logged.
type LogLevel int

const (
	// LogLevelHandshake logs every CONNECT/CONNACK exchange.
	LogLevelHandshake LogLevel = 1 << iota
	// LogLevelConnection logs connected/disconnected events.
	LogLevelConnection
	// LogLevelPacket logs packets received after the handshake.
	LogLevelPacket
	// LogLevelAll logs all events.
	LogLevelAll = LogLevelHandshake | LogLevelConnection | LogLevelPacket
)

// LoggerConfig configures the logger hook.
type LoggerConfig struct {
	// Logger is the slog.Logger to use (default: slog.Default()).
	Logger *slog.Logger

	// Level controls which events are logged (default: LogLevelAll).
	Level LogLevel
}

// NewLoggerHook creates a new logging hook.
func NewLoggerHook(cfg LoggerConfig) *LoggerHook {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Level == 0 {
		cfg.Level = LogLevelAll
	}
	return &LoggerHook{
		logger: cfg.Logger,
		level:  cfg.Level,
	}
}

func (h *LoggerHook) ID() string { return "logger" }

// HandshakeHook implementation

func (h *LoggerHook) OnHandshake(ctx context.Context, o handshake.Outcome) {
	if h.level&LogLevelHandshake == 0 {
		return
	}
	attrs := []any{
		"listener", o.Info.ListenerID,
		"remote_addr", o.Info.RemoteAddr,
		"replied", o.Replied,
		"return_code", o.ReturnCode.String(),
		"duration", o.Duration,
	}

	switch {
	case o.Accepted():
		h.logger.Info("handshake accepted", append(attrs,
			"protocol_level", o.Info.Connect.ProtocolLevel,
			"clean_session", o.Info.Connect.CleanSession,
			"keep_alive", o.Info.Connect.KeepAlive,
		)...)
	case o.Replied:
		h.logger.Info("handshake rejected", append(attrs, "error", errString(o.Err))...)
	default:
		h.logger.Warn("handshake failed", append(attrs,
			"error", errString(o.Err),
			"error_kind", packet.ErrorKind(o.Err),
		)...)
	}
}

// ConnectionHook implementation

func (h *LoggerHook) OnConnected(ctx context.Context, info handshake.ConnInfo) {
	if h.level&LogLevelConnection == 0 {
		return
	}
	h.logger.Info("client connected",
		"listener", info.ListenerID,
		"remote_addr", info.RemoteAddr,
		"will", info.Connect.WillFlag,
	)
}

func (h *LoggerHook) OnDisconnect(ctx context.Context, info handshake.ConnInfo, err error) {
	if h.level&LogLevelConnection == 0 {
		return
	}
	if err != nil {
		h.logger.Info("client disconnected",
			"remote_addr", info.RemoteAddr,
			"error", err.Error(),
		)
	} else {
		h.logger.Info("client disconnected",
			"remote_addr", info.RemoteAddr,
		)
	}
}

// PacketHook implementation

func (h *LoggerHook) OnPacket(ctx context.Context, info handshake.ConnInfo, pkt packet.Packet) {
	if h.level&LogLevelPacket == 0 {
		return
	}
	h.logger.Debug("packet received",
		"remote_addr", info.RemoteAddr,
		"type", pkt.Header.Type.String(),
		"flags", pkt.Header.Flags.Bits(),
		"remaining_length", pkt.Header.RemainingLength,
	)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
