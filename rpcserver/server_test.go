package rpcserver

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	alar "github.com/hyurl/alar"
	"github.com/hyurl/alar/config"
	"github.com/hyurl/alar/wire"
)

type greeter struct{}

func (greeter) Greet(name string) (string, error) { return "hello " + name, nil }

type greeterLoader struct{}

func (greeterLoader) Extensions() []string { return []string{".go"} }
func (greeterLoader) Resolve(path string) (alar.Descriptor, error) {
	return alar.Descriptor{GetInstance: func() (interface{}, error) { return greeter{}, nil }}, nil
}
func (greeterLoader) Unload(path string) error { return nil }

func newTestServer(t *testing.T) (*Server, config.Config) {
	t.Helper()
	cfg := config.Default()
	cfg.Host = "127.0.0.1"
	cfg.Port = 0
	cfg.ID = "test-server"

	srv, err := New(cfg, nil)
	require.NoError(t, err)

	proxy := alar.New("service.greeter", "/services/greeter", greeterLoader{})
	srv.RegisterModule(proxy)

	require.NoError(t, srv.Listen(context.Background()))
	t.Cleanup(func() { _ = srv.Close(context.Background(), time.Millisecond) })

	addr := srv.Addr().(*net.TCPAddr)
	cfg.Port = addr.Port
	return srv, cfg
}

// rawClient is a minimal hand-rolled client used only to drive the
// server's wire protocol directly, independent of the rpcclient
// package this test suite doesn't depend on.
type rawClient struct {
	conn   net.Conn
	framer *wire.Framer
	carry  []byte
}

func dialRaw(t *testing.T, cfg config.Config) *rawClient {
	t.Helper()
	conn, err := net.Dial("tcp", cfg.Host+":"+itoa(cfg.Port))
	require.NoError(t, err)
	framer, err := wire.NewFramer(cfg.Codec)
	require.NoError(t, err)
	return &rawClient{conn: conn, framer: framer}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func (c *rawClient) send(tag wire.Tag, payload ...interface{}) {
	frame, err := c.framer.Encode(tag, payload...)
	if err != nil {
		panic(err)
	}
	if _, err := c.conn.Write(frame); err != nil {
		panic(err)
	}
}

func (c *rawClient) recv(t *testing.T) wire.Message {
	t.Helper()
	for {
		msgs, carry, err := c.framer.Decode(nil, c.carry)
		require.NoError(t, err)
		c.carry = carry
		if len(msgs) > 0 {
			return msgs[0]
		}
		buf := make([]byte, 4096)
		_ = c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		n, err := c.conn.Read(buf)
		require.NoError(t, err)
		msgs, carry, err = c.framer.Decode(buf[:n], c.carry)
		require.NoError(t, err)
		c.carry = carry
		if len(msgs) > 0 {
			return msgs[0]
		}
	}
}

func (c *rawClient) handshake(t *testing.T, id string) string {
	t.Helper()
	c.send(wire.HANDSHAKE, id)
	msg := c.recv(t)
	require.Equal(t, wire.CONNECT, msg.Tag)
	serverID, _ := msg.Payload[0].(string)
	return serverID
}

func TestHandshakeReturnsServerID(t *testing.T) {
	_, cfg := newTestServer(t)
	c := dialRaw(t, cfg)
	defer c.conn.Close()

	serverID := c.handshake(t, "client-1")
	require.Equal(t, "test-server", serverID)
}

func TestInvokeReturnsValue(t *testing.T) {
	_, cfg := newTestServer(t)
	c := dialRaw(t, cfg)
	defer c.conn.Close()
	c.handshake(t, "client-1")

	c.send(wire.INVOKE, "task-1", "service.greeter", "Greet", "World")
	msg := c.recv(t)
	require.Equal(t, wire.RETURN, msg.Tag)
	require.Equal(t, "task-1", msg.Payload[0])
	require.Equal(t, "hello World", msg.Payload[1])
}

func TestInvokeUnknownModuleThrows(t *testing.T) {
	_, cfg := newTestServer(t)
	c := dialRaw(t, cfg)
	defer c.conn.Close()
	c.handshake(t, "client-1")

	c.send(wire.INVOKE, "task-1", "service.nope", "Greet", "World")
	msg := c.recv(t)
	require.Equal(t, wire.THROW, msg.Tag)
}

func TestPingReceivesPong(t *testing.T) {
	_, cfg := newTestServer(t)
	c := dialRaw(t, cfg)
	defer c.conn.Close()
	c.handshake(t, "client-1")

	c.send(wire.PING, "client-1")
	msg := c.recv(t)
	require.Equal(t, wire.PONG, msg.Tag)
}

func TestPublishReachesConnectedClient(t *testing.T) {
	srv, cfg := newTestServer(t)
	c := dialRaw(t, cfg)
	defer c.conn.Close()
	c.handshake(t, "client-1")

	time.Sleep(20 * time.Millisecond) // allow handshake to register in s.clients
	reached := srv.Publish("news", "hello")
	require.True(t, reached)

	msg := c.recv(t)
	require.Equal(t, wire.BROADCAST, msg.Tag)
	require.Equal(t, "news", msg.Payload[0])
}

func TestBadSecretRejected(t *testing.T) {
	cfg := config.Default()
	cfg.Host = "127.0.0.1"
	cfg.Port = 0
	cfg.Secret = "s3cr3t"

	srv, err := New(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, srv.Listen(context.Background()))
	t.Cleanup(func() { _ = srv.Close(context.Background(), time.Millisecond) })

	cfg.Port = srv.Addr().(*net.TCPAddr).Port
	conn, err := net.Dial("tcp", cfg.Host+":"+itoa(cfg.Port))
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("wrong-secret!!"))
	require.NoError(t, err)

	buf := make([]byte, 64)
	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	_, err = conn.Read(buf)
	require.Error(t, err) // connection destroyed, not a valid CONNECT reply
}

func TestStatsTracksConnections(t *testing.T) {
	srv, cfg := newTestServer(t)
	c := dialRaw(t, cfg)
	c.handshake(t, "client-1")
	time.Sleep(20 * time.Millisecond)

	require.EqualValues(t, 1, srv.Stats().ConnectedClients)
	c.conn.Close()
	time.Sleep(20 * time.Millisecond)
	require.EqualValues(t, 0, srv.Stats().ConnectedClients)
}
