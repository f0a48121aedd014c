package handshake

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bromq-dev/mqttwire/pkg/packet"
)

type recorder struct {
	onConnect   func(ConnInfo) error
	outcomes    chan Outcome
	connected   chan ConnInfo
	disconnects chan error
	packets     chan packet.Packet
}

func newRecorder() *recorder {
	return &recorder{
		outcomes:    make(chan Outcome, 4),
		connected:   make(chan ConnInfo, 4),
		disconnects: make(chan error, 4),
		packets:     make(chan packet.Packet, 16),
	}
}

func (r *recorder) ID() string { return "recorder" }

func (r *recorder) OnConnect(ctx context.Context, info ConnInfo) error {
	if r.onConnect != nil {
		return r.onConnect(info)
	}
	return nil
}

func (r *recorder) OnHandshake(ctx context.Context, o Outcome) { r.outcomes <- o }

func (r *recorder) OnConnected(ctx context.Context, info ConnInfo) { r.connected <- info }

func (r *recorder) OnDisconnect(ctx context.Context, info ConnInfo, err error) {
	r.disconnects <- err
}

func (r *recorder) OnPacket(ctx context.Context, info ConnInfo, pkt packet.Packet) {
	r.packets <- pkt
}

func recv[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		var zero T
		t.Fatal("timed out waiting for event")
		return zero
	}
}

func newTestServer(t *testing.T, cfg *Config) (*Server, *recorder, *prometheus.Registry) {
	t.Helper()
	if cfg == nil {
		cfg = DefaultConfig()
	}
	reg := prometheus.NewRegistry()
	cfg.Registerer = reg

	s := New(cfg)
	rec := newRecorder()
	s.AddHook(rec)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Shutdown(ctx)
	})
	return s, rec, reg
}

func dial(s *Server) net.Conn {
	client, server := net.Pipe()
	s.HandleConnection("pipe", server)
	return client
}

func validConnect() packet.ConnectHeader {
	return packet.ConnectHeader{
		ProtocolName:  packet.ProtocolNameMQTT,
		ProtocolLevel: packet.ProtocolLevel311,
		CleanSession:  true,
		KeepAlive:     60,
	}
}

func readN(t *testing.T, conn net.Conn, n int) []byte {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, n)
	_, err := io.ReadFull(conn, buf)
	require.NoError(t, err)
	return buf
}

func TestHandshakeAccepted(t *testing.T) {
	s, rec, reg := newTestServer(t, nil)
	client := dial(s)
	defer client.Close()

	require.NoError(t, packet.WritePacket(client, validConnect(), []byte{0x00, 0x00}))
	assert.Equal(t, []byte{0x20, 0x02, 0x00, 0x00}, readN(t, client, 4))

	o := recv(t, rec.outcomes)
	assert.True(t, o.Accepted())
	assert.Equal(t, "pipe", o.Info.ListenerID)
	assert.Equal(t, uint16(60), o.Info.Connect.KeepAlive)

	info := recv(t, rec.connected)
	assert.True(t, info.Connect.CleanSession)

	require.NoError(t, packet.WriteControl(client, packet.TypePingreq))
	assert.Equal(t, []byte{0xD0, 0x00}, readN(t, client, 2))
	assert.Equal(t, packet.TypePingreq, recv(t, rec.packets).Header.Type)

	require.NoError(t, packet.WriteControl(client, packet.TypeDisconnect))
	assert.NoError(t, recv(t, rec.disconnects))

	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.handshakes.WithLabelValues("accepted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.packets.WithLabelValues("CONNECT")))
	assert.Equal(t, uint64(1), s.Stats().Accepted)

	n, err := testutil.GatherAndCount(reg, "mqttwire_handshakes_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestHandshakeUnacceptableProtocolLevel(t *testing.T) {
	s, rec, _ := newTestServer(t, nil)
	client := dial(s)
	defer client.Close()

	vh := validConnect()
	vh.ProtocolLevel = 3
	require.NoError(t, packet.WritePacket(client, vh, nil))
	assert.Equal(t, []byte{0x20, 0x02, 0x00, 0x01}, readN(t, client, 4))

	o := recv(t, rec.outcomes)
	assert.False(t, o.Accepted())
	assert.True(t, o.Replied)
	assert.Equal(t, packet.ConnackUnacceptableProtocolVersion, o.ReturnCode)

	var rejectErr *RejectError
	assert.ErrorAs(t, o.Err, &rejectErr)
	assert.Equal(t, uint64(1), s.Stats().Rejected)
}

func TestHandshakeProtocolNameClosesWithoutConnack(t *testing.T) {
	s, rec, _ := newTestServer(t, nil)
	client := dial(s)
	defer client.Close()

	vh := validConnect()
	vh.ProtocolName = [6]byte{0x00, 0x04, 'M', 'Q', 'T', 'X'}
	require.NoError(t, packet.WritePacket(client, vh, nil))

	o := recv(t, rec.outcomes)
	assert.False(t, o.Replied)
	assert.ErrorIs(t, o.Err, ErrProtocolName)

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err := client.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)
}

func TestHandshakeFirstPacketNotConnect(t *testing.T) {
	s, rec, _ := newTestServer(t, nil)
	client := dial(s)
	defer client.Close()

	require.NoError(t, packet.WriteControl(client, packet.TypePingreq))

	o := recv(t, rec.outcomes)
	assert.ErrorIs(t, o.Err, ErrNotConnect)
	assert.Equal(t, uint64(1), s.Stats().Failed)
}

func TestHandshakeMalformedConnect(t *testing.T) {
	s, rec, _ := newTestServer(t, nil)
	client := dial(s)
	defer client.Close()

	raw := []byte{0x10, 0x0A, 0x00, 0x04, 'M', 'Q', 'T', 'T', 0x04, 0x03, 0x00, 0x3C}
	_, err := client.Write(raw)
	require.NoError(t, err)

	o := recv(t, rec.outcomes)
	assert.ErrorIs(t, o.Err, packet.ErrReservedBitSet)
	assert.False(t, o.Replied)
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.decodeErrors.WithLabelValues("reserved_bit_set")))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.handshakes.WithLabelValues("failed")))
}

func TestHandshakeHookReject(t *testing.T) {
	s, rec, _ := newTestServer(t, nil)
	rec.onConnect = func(info ConnInfo) error {
		return NewRejectError(packet.ConnackNotAuthorized, "denied")
	}
	client := dial(s)
	defer client.Close()

	require.NoError(t, packet.WritePacket(client, validConnect(), nil))
	assert.Equal(t, []byte{0x20, 0x02, 0x00, 0x05}, readN(t, client, 4))

	o := recv(t, rec.outcomes)
	assert.Equal(t, packet.ConnackNotAuthorized, o.ReturnCode)
	assert.EqualError(t, o.Err, "denied")
}

func TestHandshakeConnectTimeout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ConnectTimeout = 50 * time.Millisecond
	s, rec, _ := newTestServer(t, cfg)
	client := dial(s)
	defer client.Close()

	o := recv(t, rec.outcomes)
	assert.False(t, o.Replied)
	var netErr net.Error
	require.ErrorAs(t, o.Err, &netErr)
	assert.True(t, netErr.Timeout())
}

func TestHandshakeConnectionLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConnections = 1
	s, rec, _ := newTestServer(t, cfg)

	first := dial(s)
	defer first.Close()
	require.NoError(t, packet.WritePacket(first, validConnect(), nil))
	assert.Equal(t, []byte{0x20, 0x02, 0x00, 0x00}, readN(t, first, 4))
	recv(t, rec.outcomes)

	second := dial(s)
	defer second.Close()
	require.NoError(t, packet.WritePacket(second, validConnect(), nil))
	assert.Equal(t, []byte{0x20, 0x02, 0x00, 0x03}, readN(t, second, 4))
	assert.Equal(t, packet.ConnackServerUnavailable, recv(t, rec.outcomes).ReturnCode)
}

func TestUnsupportedPacketAfterHandshake(t *testing.T) {
	s, rec, _ := newTestServer(t, nil)
	client := dial(s)
	defer client.Close()

	require.NoError(t, packet.WritePacket(client, validConnect(), nil))
	readN(t, client, 4)
	recv(t, rec.connected)

	_, err := client.Write([]byte{0x82, 0x00})
	require.NoError(t, err)
	assert.ErrorIs(t, recv(t, rec.disconnects), ErrUnsupportedPacket)
}

func TestShutdownClosesConnections(t *testing.T) {
	s, rec, _ := newTestServer(t, nil)
	client := dial(s)
	defer client.Close()

	require.NoError(t, packet.WritePacket(client, validConnect(), nil))
	readN(t, client, 4)
	recv(t, rec.connected)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
	assert.NoError(t, recv(t, rec.disconnects))
	assert.Equal(t, 0, s.Stats().Connections)

	// New connections are refused after shutdown.
	late, server := net.Pipe()
	defer late.Close()
	s.HandleConnection("pipe", server)
	_, err := late.Write([]byte{0x10})
	assert.Error(t, err)
}
