package hooks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bromq-dev/mqttwire/pkg/handshake"
	"github.com/bromq-dev/mqttwire/pkg/journal"
	"github.com/bromq-dev/mqttwire/pkg/packet"
)

func connInfo(addr string) handshake.ConnInfo {
	return handshake.ConnInfo{
		ListenerID: "tcp",
		RemoteAddr: addr,
		Connect: packet.ConnectHeader{
			ProtocolName:  packet.ProtocolNameMQTT,
			ProtocolLevel: packet.ProtocolLevel311,
			CleanSession:  true,
			KeepAlive:     30,
		},
	}
}

func logLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestLoggerHookHandshake(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	h := NewLoggerHook(LoggerConfig{Logger: logger})
	ctx := context.Background()

	h.OnHandshake(ctx, handshake.Outcome{Info: connInfo("10.0.0.1:5000"), Replied: true})
	h.OnHandshake(ctx, handshake.Outcome{
		Info:       connInfo("10.0.0.2:5000"),
		Replied:    true,
		ReturnCode: packet.ConnackNotAuthorized,
		Err:        handshake.NewRejectError(packet.ConnackNotAuthorized, "denied"),
	})
	h.OnHandshake(ctx, handshake.Outcome{
		Info: connInfo("10.0.0.3:5000"),
		Err:  fmt.Errorf("read connect: %w", packet.ErrReservedBitSet),
	})

	lines := logLines(t, &buf)
	require.Len(t, lines, 3)
	assert.Equal(t, "handshake accepted", lines[0]["msg"])
	assert.Equal(t, float64(30), lines[0]["keep_alive"])
	assert.Equal(t, "handshake rejected", lines[1]["msg"])
	assert.Equal(t, "denied", lines[1]["error"])
	assert.Equal(t, "handshake failed", lines[2]["msg"])
	assert.Equal(t, "WARN", lines[2]["level"])
	assert.Equal(t, "reserved_bit_set", lines[2]["error_kind"])
}

func TestLoggerHookLevelMask(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	h := NewLoggerHook(LoggerConfig{Logger: logger, Level: LogLevelPacket})
	ctx := context.Background()
	info := connInfo("10.0.0.1:5000")

	h.OnHandshake(ctx, handshake.Outcome{Info: info, Replied: true})
	h.OnConnected(ctx, info)
	h.OnDisconnect(ctx, info, nil)
	assert.Zero(t, buf.Len())

	h.OnPacket(ctx, info, packet.Packet{Header: packet.NewFixedHeader(packet.TypePingreq, 0)})
	lines := logLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "PINGREQ", lines[0]["type"])
}

func TestEntryFromOutcome(t *testing.T) {
	now := time.Unix(1700000000, 0)
	info := connInfo("10.0.0.1:5000")
	info.Connect.WillFlag = true
	info.Connect.WillQoS = packet.QoS2

	e := EntryFromOutcome(handshake.Outcome{
		Info:       info,
		Replied:    true,
		ReturnCode: packet.ConnackIdentifierRejected,
		Err:        errors.New("nope"),
		Duration:   time.Millisecond,
	}, now)

	assert.Equal(t, now, e.Time)
	assert.Equal(t, "tcp", e.ListenerID)
	assert.Equal(t, byte(4), e.ProtocolLevel)
	assert.True(t, e.WillFlag)
	assert.Equal(t, byte(2), e.WillQoS)
	assert.Equal(t, byte(2), e.ReturnCode)
	assert.Equal(t, "nope", e.Error)
	assert.Equal(t, "other", e.ErrorKind)

	e = EntryFromOutcome(handshake.Outcome{Info: info, Replied: true}, now)
	assert.Empty(t, e.Error)
	assert.Empty(t, e.ErrorKind)
}

type failingJournal struct{}

func (failingJournal) Record(ctx context.Context, e journal.Entry) error {
	return errors.New("unavailable")
}

func (failingJournal) Recent(ctx context.Context, limit int) ([]journal.Entry, error) {
	return nil, nil
}

func TestJournalHookRecordFailureIsLogged(t *testing.T) {
	var buf bytes.Buffer
	h := NewJournalHook(JournalConfig{
		Journal: failingJournal{},
		Logger:  slog.New(slog.NewJSONHandler(&buf, nil)),
	})
	h.OnHandshake(context.Background(), handshake.Outcome{Info: connInfo("10.0.0.1:5000")})

	lines := logLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "unavailable", lines[0]["error"])
}

func TestJournalHookThroughServer(t *testing.T) {
	cfg := handshake.DefaultConfig()
	cfg.Registerer = prometheus.NewRegistry()
	s := handshake.New(cfg)
	defer s.Shutdown(context.Background())

	mem := journal.NewMemory(10)
	s.AddHook(NewJournalHook(JournalConfig{Journal: mem}))

	client, server := net.Pipe()
	defer client.Close()
	s.HandleConnection("pipe", server)

	vh := connInfo("").Connect
	vh.ProtocolLevel = 3
	require.NoError(t, packet.WritePacket(client, vh, nil))

	reply := make([]byte, 4)
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err := client.Read(reply)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x20, 0x02, 0x00, 0x01}, reply)

	require.Eventually(t, func() bool { return mem.Len() == 1 }, 2*time.Second, 10*time.Millisecond)
	entries, err := mem.Recent(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "pipe", entries[0].ListenerID)
	assert.Equal(t, byte(3), entries[0].ProtocolLevel)
	assert.Equal(t, byte(packet.ConnackUnacceptableProtocolVersion), entries[0].ReturnCode)
	assert.True(t, entries[0].Replied)
}

func TestRateLimitHook(t *testing.T) {
	h := NewRateLimitHook(RateLimitConfig{Rate: 1, Interval: time.Second, BurstSize: 2})
	defer h.Stop()

	now := time.Unix(1700000000, 0)
	h.now = func() time.Time { return now }
	ctx := context.Background()

	assert.NoError(t, h.OnConnect(ctx, connInfo("10.0.0.1:1000")))
	assert.NoError(t, h.OnConnect(ctx, connInfo("10.0.0.1:1001")))

	err := h.OnConnect(ctx, connInfo("10.0.0.1:1002"))
	var rejectErr *handshake.RejectError
	require.ErrorAs(t, err, &rejectErr)
	assert.Equal(t, packet.ConnackServerUnavailable, rejectErr.Code)

	// Other hosts have their own bucket.
	assert.NoError(t, h.OnConnect(ctx, connInfo("10.0.0.2:1000")))

	now = now.Add(time.Second)
	assert.NoError(t, h.OnConnect(ctx, connInfo("10.0.0.1:1003")))
	assert.Error(t, h.OnConnect(ctx, connInfo("10.0.0.1:1004")))

	now = now.Add(10 * time.Minute)
	h.sweep(5 * time.Minute)
	h.mu.Lock()
	assert.Empty(t, h.limiters)
	h.mu.Unlock()
}

func TestRateLimitHookDisabled(t *testing.T) {
	h := NewRateLimitHook(RateLimitConfig{})
	defer h.Stop()
	for i := 0; i < 10; i++ {
		assert.NoError(t, h.OnConnect(context.Background(), connInfo("10.0.0.1:1000")))
	}
	h.Stop()
}

func TestRemoteHost(t *testing.T) {
	assert.Equal(t, "10.0.0.1", remoteHost("10.0.0.1:1883"))
	assert.Equal(t, "::1", remoteHost("[::1]:1883"))
	assert.Equal(t, "pipe", remoteHost("pipe"))
}

func TestPolicyHook(t *testing.T) {
	qos1 := packet.QoS1

	tests := []struct {
		name   string
		cfg    PolicyConfig
		modify func(*packet.ConnectHeader)
		code   packet.ConnackReturnCode
		reject bool
	}{
		{name: "zero config accepts", cfg: PolicyConfig{}, modify: func(c *packet.ConnectHeader) { c.WillFlag = true }},
		{
			name:   "credentials missing",
			cfg:    PolicyConfig{RequireCredentials: true},
			modify: func(c *packet.ConnectHeader) { c.UsernameFlag = true },
			code:   packet.ConnackBadUsernameOrPassword,
			reject: true,
		},
		{
			name: "credentials present",
			cfg:  PolicyConfig{RequireCredentials: true},
			modify: func(c *packet.ConnectHeader) {
				c.UsernameFlag = true
				c.PasswordFlag = true
			},
		},
		{
			name:   "will denied",
			cfg:    PolicyConfig{DenyWill: true},
			modify: func(c *packet.ConnectHeader) { c.WillFlag = true },
			code:   packet.ConnackNotAuthorized,
			reject: true,
		},
		{
			name: "will qos above cap",
			cfg:  PolicyConfig{MaxWillQoS: &qos1},
			modify: func(c *packet.ConnectHeader) {
				c.WillFlag = true
				c.WillQoS = packet.QoS2
			},
			code:   packet.ConnackNotAuthorized,
			reject: true,
		},
		{
			name:   "keep alive too long",
			cfg:    PolicyConfig{MaxKeepAlive: 20},
			modify: func(c *packet.ConnectHeader) {},
			code:   packet.ConnackServerUnavailable,
			reject: true,
		},
		{
			name:   "keep alive disabled by client",
			cfg:    PolicyConfig{MaxKeepAlive: 60},
			modify: func(c *packet.ConnectHeader) { c.KeepAlive = 0 },
			code:   packet.ConnackServerUnavailable,
			reject: true,
		},
		{
			name:   "persistent session",
			cfg:    PolicyConfig{RequireCleanSession: true},
			modify: func(c *packet.ConnectHeader) { c.CleanSession = false },
			code:   packet.ConnackIdentifierRejected,
			reject: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := connInfo("10.0.0.1:1000")
			tt.modify(&info.Connect)

			err := NewPolicyHook(tt.cfg).OnConnect(context.Background(), info)
			if !tt.reject {
				assert.NoError(t, err)
				return
			}
			var rejectErr *handshake.RejectError
			require.ErrorAs(t, err, &rejectErr)
			assert.Equal(t, tt.code, rejectErr.Code)
		})
	}
}

func TestStatsHook(t *testing.T) {
	reports := make(chan Stats, 1)
	h := NewStatsHook(StatsConfig{
		Interval: 10 * time.Millisecond,
		Reporter: func(s Stats) {
			select {
			case reports <- s:
			default:
			}
		},
	})
	ctx := context.Background()
	info := connInfo("10.0.0.1:1000")

	h.OnHandshake(ctx, handshake.Outcome{Info: info, Replied: true})
	h.OnHandshake(ctx, handshake.Outcome{Info: info, Replied: true, ReturnCode: packet.ConnackNotAuthorized})
	h.OnHandshake(ctx, handshake.Outcome{Info: info, Err: packet.ErrTruncatedBuffer})
	h.OnConnected(ctx, info)
	h.OnPacket(ctx, info, packet.Packet{Header: packet.NewFixedHeader(packet.TypePingreq, 0)})

	snap := h.Snapshot()
	assert.Equal(t, int64(1), snap.HandshakeAccepted)
	assert.Equal(t, int64(1), snap.HandshakeRejected)
	assert.Equal(t, int64(1), snap.HandshakeFailed)
	assert.Equal(t, int64(1), snap.ClientsConnected)
	assert.Equal(t, int64(1), snap.PacketsReceived)
	assert.Equal(t, int64(2), snap.BytesReceived)

	h.Start()
	defer h.Stop()
	select {
	case s := <-reports:
		assert.Equal(t, int64(1), s.HandshakeAccepted)
	case <-time.After(2 * time.Second):
		t.Fatal("no stats report")
	}

	h.OnDisconnect(ctx, info, nil)
	assert.Equal(t, int64(0), h.Snapshot().ClientsConnected)
}
