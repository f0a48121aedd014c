package main

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bromq-dev/mqttwire/pkg/inspect"
	"github.com/bromq-dev/mqttwire/pkg/packet"
)

func TestConfigurePrecedence(t *testing.T) {
	cfgFile := filepath.Join(t.TempDir(), "mqttwire.yaml")
	require.NoError(t, os.WriteFile(cfgFile, []byte(`
addr: ":11883"
maxConnections: 10
connectTimeout: 3s
redis:
  addr: "file:6379"
policy:
  denyWill: true
  maxKeepAlive: 120
log:
  format: json
`), 0o600))
	t.Setenv("MQTTWIRE_REDIS_ADDR", "env:6379")

	opts := newOptions()
	fs := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	opts.addFlags(fs)
	require.NoError(t, fs.Parse([]string{"--max-connections", "5"}))

	vp, err := newViper(cfgFile)
	require.NoError(t, err)
	bindFlags(vp, fs)
	opts.configureWithViper(vp)

	assert.Equal(t, ":11883", opts.Addr)
	assert.Equal(t, 5, opts.MaxConnections)
	assert.Equal(t, 3*time.Second, opts.ConnectTimeout)
	assert.Equal(t, "env:6379", opts.RedisAddr)
	assert.True(t, opts.DenyWill)
	assert.Equal(t, uint16(120), opts.MaxKeepAlive)
	assert.Equal(t, "json", opts.LogFormat)
	assert.True(t, opts.policyEnabled())

	// Untouched values keep their defaults.
	assert.Equal(t, "/mqtt", opts.WSPath)
	assert.Equal(t, packet.MaxPacketSize, opts.MaxPacketSize)
}

func TestConfigMissingFile(t *testing.T) {
	_, err := newViper(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func runRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestDecodeCommand(t *testing.T) {
	out, err := runRoot(t, "decode", "10 0C 00 04 4D 51 54 54 04 C2 00 3C", "00 00")
	require.NoError(t, err)
	assert.Contains(t, out, "CONNECT (1)")
	assert.Contains(t, out, "MQTT level 4")
	assert.Contains(t, out, "keep alive:       60s")
	assert.Contains(t, out, "payload:          2 bytes")

	out, err = runRoot(t, "decode", "--json", "20020005")
	require.NoError(t, err)
	assert.Contains(t, out, `"return_code": 5`)

	_, err = runRoot(t, "decode", "c1 00")
	assert.ErrorContains(t, err, "reserved_bit_set")

	_, err = runRoot(t, "decode", "zz")
	assert.Error(t, err)
}

func TestVersionCommand(t *testing.T) {
	out, err := runRoot(t, "version", "--short")
	require.NoError(t, err)
	assert.Equal(t, "dev\n", out)
}

func TestInspectCommand(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s := inspect.NewServer(&inspect.ServerConfig{Listener: ln})
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	out, err := runRoot(t, "inspect", "--addr", ln.Addr().String(), "d0 00")
	require.NoError(t, err)
	assert.Contains(t, out, "PINGRESP (13)")
}

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

func TestRunServe(t *testing.T) {
	logOutput = io.Discard
	t.Cleanup(func() { logOutput = os.Stderr })

	opts := newOptions()
	opts.Addr = freeAddr(t)
	opts.WSAddr = ""
	opts.InspectAddr = ""
	opts.AdminAddr = freeAddr(t)
	opts.StatsInterval = 0

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runServe(ctx, opts) }()

	var conn net.Conn
	require.Eventually(t, func() bool {
		c, err := net.Dial("tcp", opts.Addr)
		if err != nil {
			return false
		}
		conn = c
		return true
	}, 2*time.Second, 20*time.Millisecond)
	defer conn.Close()

	vh := packet.ConnectHeader{
		ProtocolName:  packet.ProtocolNameMQTT,
		ProtocolLevel: packet.ProtocolLevel311,
		CleanSession:  true,
	}
	require.NoError(t, packet.WritePacket(conn, vh, nil))
	reply := make([]byte, 4)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err := io.ReadFull(conn, reply)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x20, 0x02, 0x00, 0x00}, reply)

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + opts.AdminAddr + "/journal")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return bytes.Contains(body, []byte(`"replied":true`))
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop")
	}
}

func TestRunServeNoListeners(t *testing.T) {
	logOutput = io.Discard
	t.Cleanup(func() { logOutput = os.Stderr })

	opts := newOptions()
	opts.Addr = ""
	opts.WSAddr = ""
	opts.InspectAddr = ""
	opts.AdminAddr = ""
	err := runServe(context.Background(), opts)
	assert.ErrorContains(t, err, "no listeners configured")
}
