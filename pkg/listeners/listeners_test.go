package listeners

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type accepted struct {
	listenerID string
	conn       net.Conn
}

func collect(ch chan<- accepted) ConnectionHandler {
	return ConnectionHandlerFunc(func(listenerID string, conn net.Conn) {
		ch <- accepted{listenerID: listenerID, conn: conn}
	})
}

func waitAccepted(t *testing.T, ch <-chan accepted) accepted {
	t.Helper()
	select {
	case a := <-ch:
		return a
	case <-time.After(2 * time.Second):
		t.Fatal("no connection accepted")
		return accepted{}
	}
}

func TestTCPAcceptsConnections(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	l := NewTCP("tcp", "", &TCPConfig{Listener: ln})
	ch := make(chan accepted, 1)
	done := make(chan error, 1)
	go func() { done <- l.Serve(collect(ch)) }()

	client, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer client.Close()

	a := waitAccepted(t, ch)
	defer a.conn.Close()
	assert.Equal(t, "tcp", a.listenerID)
	assert.Equal(t, ln.Addr().String(), l.Addr().String())

	_, err = client.Write([]byte{0xC0, 0x00})
	require.NoError(t, err)
	buf := make([]byte, 2)
	_, err = io.ReadFull(a.conn, buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xC0, 0x00}, buf)

	require.NoError(t, l.Close())
	assert.NoError(t, <-done)
	assert.Error(t, l.Close())
}

func TestWebSocketBridgesBinaryMessages(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	l := NewWebSocket("ws", "", &WebSocketConfig{Listener: ln})
	ch := make(chan accepted, 1)
	done := make(chan error, 1)
	go func() { done <- l.Serve(collect(ch)) }()

	dialer := websocket.Dialer{Subprotocols: []string{"mqtt"}, HandshakeTimeout: 2 * time.Second}
	var client *websocket.Conn
	require.Eventually(t, func() bool {
		c, _, err := dialer.Dial("ws://"+ln.Addr().String()+"/mqtt", nil)
		if err != nil {
			return false
		}
		client = c
		return true
	}, 2*time.Second, 20*time.Millisecond)
	defer client.Close()
	assert.Equal(t, "mqtt", client.Subprotocol())

	a := waitAccepted(t, ch)
	defer a.conn.Close()
	assert.Equal(t, "ws", a.listenerID)
	assert.Equal(t, "websocket", a.conn.RemoteAddr().Network())

	// A text frame is skipped; a packet split over two binary frames is reassembled.
	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte("ignored")))
	require.NoError(t, client.WriteMessage(websocket.BinaryMessage, []byte{0x20}))
	require.NoError(t, client.WriteMessage(websocket.BinaryMessage, []byte{0x02, 0x00, 0x00}))

	buf := make([]byte, 4)
	_, err = io.ReadFull(a.conn, buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x20, 0x02, 0x00, 0x00}, buf)

	_, err = a.conn.Write([]byte{0xD0, 0x00})
	require.NoError(t, err)
	mt, msg, err := client.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, mt)
	assert.Equal(t, []byte{0xD0, 0x00}, msg)

	require.NoError(t, l.Close())
	assert.NoError(t, <-done)
}

func TestAcceptBackoff(t *testing.T) {
	d := acceptBackoff(0)
	assert.Equal(t, 5*time.Millisecond, d)
	assert.Equal(t, 10*time.Millisecond, acceptBackoff(d))
	assert.Equal(t, time.Second, acceptBackoff(900*time.Millisecond))
}
