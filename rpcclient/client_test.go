package rpcclient

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	alar "github.com/hyurl/alar"
	"github.com/hyurl/alar/config"
	"github.com/hyurl/alar/rpcserver"
)

type echoer struct{}

func (echoer) Echo(s string) (string, error) { return s, nil }

// counter streams 1..3 then stops, exercising the iterator path.
type counter struct{}

func (counter) Count() (alar.Iterator, error) { return &countIterator{}, nil }

type countIterator struct{ n int }

func (it *countIterator) Next(ctx context.Context, input interface{}) (interface{}, bool, error) {
	it.n++
	if it.n > 3 {
		return nil, true, nil
	}
	return it.n, false, nil
}
func (it *countIterator) Return(ctx context.Context, input interface{}) (interface{}, bool, error) {
	return input, true, nil
}
func (it *countIterator) Throw(ctx context.Context, input interface{}) (interface{}, bool, error) {
	return nil, true, fmt.Errorf("thrown: %v", input)
}

type echoLoader struct{}

func (echoLoader) Extensions() []string { return []string{".go"} }
func (echoLoader) Resolve(path string) (alar.Descriptor, error) {
	switch path {
	case "/services/echo":
		return alar.Descriptor{GetInstance: func() (interface{}, error) { return echoer{}, nil }}, nil
	case "/services/counter":
		return alar.Descriptor{GetInstance: func() (interface{}, error) { return counter{}, nil }}, nil
	}
	return alar.Descriptor{}, fmt.Errorf("no such module %s", path)
}
func (echoLoader) Unload(path string) error { return nil }

func startTestServer(t *testing.T) (config.Config, *rpcserver.Server) {
	t.Helper()
	cfg := config.Default()
	cfg.Host = "127.0.0.1"
	cfg.Port = 0
	cfg.ID = "echo-server"

	srv, err := rpcserver.New(cfg, nil)
	require.NoError(t, err)

	srv.RegisterModule(alar.New("service.echo", "/services/echo", echoLoader{}))
	srv.RegisterModule(alar.New("service.counter", "/services/counter", echoLoader{}))

	require.NoError(t, srv.Listen(context.Background()))
	t.Cleanup(func() { _ = srv.Close(context.Background(), time.Millisecond) })

	cfg.Port = srv.Addr().(*net.TCPAddr).Port
	return cfg, srv
}

func TestCallAwaitsRemoteValue(t *testing.T) {
	cfg, _ := startTestServer(t)
	c, err := New(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, c.Open(context.Background()))
	t.Cleanup(func() { _ = c.Close() })

	task, err := c.callRemote("service.echo", "Echo", []interface{}{"hi"})
	require.NoError(t, err)
	val, err := task.Await(context.Background())
	require.NoError(t, err)
	require.Equal(t, "hi", val)
}

func TestCallIteratesRemoteStream(t *testing.T) {
	cfg, _ := startTestServer(t)
	c, err := New(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, c.Open(context.Background()))
	t.Cleanup(func() { _ = c.Close() })

	task, err := c.callRemote("service.counter", "Count", nil)
	require.NoError(t, err)

	for i := 1; i <= 3; i++ {
		step, err := task.Next(context.Background(), nil)
		require.NoError(t, err)
		require.False(t, step.Done)
		require.Equal(t, int64(i), toInt64(step.Value))
	}
	step, err := task.Next(context.Background(), nil)
	require.NoError(t, err)
	require.True(t, step.Done)
}

func TestAwaitOnIteratorReturnsErrIsIterator(t *testing.T) {
	cfg, _ := startTestServer(t)
	c, err := New(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, c.Open(context.Background()))
	t.Cleanup(func() { _ = c.Close() })

	task, err := c.callRemote("service.counter", "Count", nil)
	require.NoError(t, err)
	_, err = task.Await(context.Background())
	require.ErrorIs(t, err, alar.ErrIsIterator)
}

func TestRoundTripThroughModuleProxy(t *testing.T) {
	cfg, _ := startTestServer(t)
	c, err := New(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, c.Open(context.Background()))
	t.Cleanup(func() { _ = c.Close() })

	proxy := alar.New("service.echo", "/services/echo", nil)
	c.Register(proxy)

	standIn, err := proxy.Route("any")
	require.NoError(t, err)
	task, err := standIn.Call(context.Background(), "Echo", "routed")
	require.NoError(t, err)
	val, err := task.Await(context.Background())
	require.NoError(t, err)
	require.Equal(t, "routed", val)
}

func TestSubscribeReceivesBroadcast(t *testing.T) {
	cfg, srv := startTestServer(t)
	c, err := New(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, c.Open(context.Background()))
	t.Cleanup(func() { _ = c.Close() })

	received := make(chan interface{}, 1)
	c.Subscribe("news", func(data interface{}) error {
		received <- data
		return nil
	})

	require.Eventually(t, func() bool {
		return srv.Publish("news", "hello")
	}, time.Second, 5*time.Millisecond)

	select {
	case data := <-received:
		require.Equal(t, "hello", data)
	case <-time.After(time.Second):
		t.Fatal("broadcast not received")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	cfg, srv := startTestServer(t)
	c, err := New(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, c.Open(context.Background()))
	t.Cleanup(func() { _ = c.Close() })

	received := make(chan interface{}, 1)
	id := c.Subscribe("news", func(data interface{}) error {
		received <- data
		return nil
	})
	c.Unsubscribe("news", id)

	require.Eventually(t, func() bool {
		return srv.Publish("news", "hello")
	}, time.Second, 5*time.Millisecond)

	select {
	case <-received:
		t.Fatal("unexpected delivery after unsubscribe")
	case <-time.After(50 * time.Millisecond):
	}
}

func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case uint64:
		return int64(n)
	case int32:
		return int64(n)
	case int:
		return int64(n)
	case float64:
		return int64(n)
	}
	return -1
}
