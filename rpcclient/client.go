// Package rpcclient implements the RPC client half of the channel
// pair: dial/handshake, the per-call Task proxy, liveness ping and
// self-destruction, backoff reconnect, pub/sub subscriptions, and the
// RemoteStandIn this package installs into a module's registered
// servers.
package rpcclient

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	alar "github.com/hyurl/alar"
	"github.com/hyurl/alar/config"
	"github.com/hyurl/alar/wire"
)

// state is the client channel's own lifecycle, distinct from (but
// driving) the alar.Readiness each registered stand-in reports.
type state int32

const (
	stateConnecting state = iota
	stateConnected
	stateClosing
	stateClosed
)

// Client is the RPC client. The zero value is not usable; construct
// with New.
type Client struct {
	id  string
	cfg config.Config
	log hclog.Logger

	framer *wire.Framer

	mu          sync.Mutex
	conn        net.Conn
	carry       []byte
	st          state
	serverID    string
	readiness   *alar.ReadinessHolder
	modules     map[string]*alar.ModuleProxy
	tasks       map[string]*clientTask
	taskCounter int64
	closeCh     chan struct{}

	subs *subscriptions

	liveness *livenessDriver
}

// New builds a Client from cfg but does not dial; call Open.
func New(cfg config.Config, log hclog.Logger) (*Client, error) {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	framer, err := wire.NewFramer(cfg.Codec)
	if err != nil {
		return nil, err
	}
	c := &Client{
		id:        cfg.EffectiveID(),
		cfg:       cfg,
		log:       log.Named("rpc.client"),
		framer:    framer,
		serverID:  cfg.DSN(), // placeholder id until CONNECT supplies the real one
		readiness: alar.NewReadinessHolder(),
		modules:   map[string]*alar.ModuleProxy{},
		tasks:     map[string]*clientTask{},
		closeCh:   make(chan struct{}),
		subs:      newSubscriptions(),
	}
	c.liveness = newLivenessDriver(c)
	return c, nil
}

// ID is this client's self-assigned id, sent in HANDSHAKE.
func (c *Client) ID() string { return c.id }

// ServerID is the current server id: the endpoint DSN until CONNECT
// replaces it with the server's real announced id.
func (c *Client) ServerID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serverID
}

// Readiness reports this channel's current readiness, which every
// moduleStandIn installed by this channel reports as its own.
func (c *Client) Readiness() alar.Readiness { return c.readiness.Get() }

// Register installs a module proxy so its remote calls route through
// this channel: the proxy gets a RemoteStandIn bound to this Client
// and the module's name, keyed by the placeholder (and later real)
// server id.
func (c *Client) Register(proxy *alar.ModuleProxy) {
	c.mu.Lock()
	c.modules[proxy.Name()] = proxy
	c.mu.Unlock()
	proxy.AddRemote(&moduleStandIn{client: c, module: proxy.Name()})
}

// Open dials the configured endpoint, performs the secret+HANDSHAKE
// exchange, and waits for CONNECT, all bounded by cfg.Timeout.
func (c *Client) Open(ctx context.Context) error {
	c.readiness.Set(alar.Initiating)

	deadline := time.Now().Add(c.cfg.Timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}

	if err := c.dialAndHandshake(deadline); err != nil {
		c.readiness.Set(alar.NotReady)
		return err
	}

	c.afterConnect()
	return nil
}

// afterConnect starts the background machinery that depends on having
// a live socket: the receive loop and the liveness driver. Shared by
// the initial Open and every successful reconnect.
func (c *Client) afterConnect() {
	c.readiness.Set(alar.Ready)
	go c.receiveLoop()
	c.liveness.start()
}

func (c *Client) dialAndHandshake(deadline time.Time) error {
	dialer := net.Dialer{Deadline: deadline}
	network, addr := "tcp", fmt.Sprintf("%s:%d", c.cfg.Host, c.cfg.Port)
	if c.cfg.IsLocal() {
		network, addr = "unix", c.cfg.Path
	}
	conn, err := dialer.DialContext(context.Background(), network, addr)
	if err != nil {
		return fmt.Errorf("rpcclient: dial: %w", err)
	}
	_ = conn.SetDeadline(deadline)

	if c.cfg.Secret != "" {
		if _, err := conn.Write([]byte(c.cfg.Secret)); err != nil {
			_ = conn.Close()
			return fmt.Errorf("rpcclient: write secret: %w", err)
		}
	}

	frame, err := c.framer.Encode(wire.HANDSHAKE, c.id)
	if err != nil {
		_ = conn.Close()
		return err
	}
	if _, err := conn.Write(frame); err != nil {
		_ = conn.Close()
		return fmt.Errorf("rpcclient: write handshake: %w", err)
	}

	serverID, carry, err := c.awaitConnect(conn)
	if err != nil {
		_ = conn.Close()
		return err
	}
	_ = conn.SetDeadline(time.Time{})

	oldID := c.serverID
	c.mu.Lock()
	c.conn = conn
	c.carry = carry
	c.serverID = serverID
	c.st = stateConnected
	c.mu.Unlock()

	c.rewriteRemoteIDs(oldID, serverID)
	return nil
}

func (c *Client) awaitConnect(conn net.Conn) (string, []byte, error) {
	var carry []byte
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			return "", nil, fmt.Errorf("rpcclient: awaiting connect: %w", err)
		}
		msgs, next, err := c.framer.Decode(buf[:n], carry)
		if err != nil {
			return "", nil, err
		}
		carry = next
		for _, m := range msgs {
			if m.Tag != wire.CONNECT || len(m.Payload) != 1 {
				return "", nil, fmt.Errorf("rpcclient: expected CONNECT, got %s", m.Tag)
			}
			serverID, _ := m.Payload[0].(string)
			return serverID, carry, nil
		}
	}
}

// rewriteRemoteIDs replaces oldID with newID across every registered
// module's stand-in map: if this is a fresh id replacing the
// placeholder DSN key, every remote-stand-in map needs the new key.
func (c *Client) rewriteRemoteIDs(oldID, newID string) {
	if oldID == newID {
		return
	}
	c.mu.Lock()
	modules := make([]*alar.ModuleProxy, 0, len(c.modules))
	for _, m := range c.modules {
		modules = append(modules, m)
	}
	c.mu.Unlock()
	for _, m := range modules {
		m.RenameRemote(oldID, newID)
	}
}

// Pause removes this channel's stand-in from every registered module,
// so routing stops selecting it without dropping the socket.
func (c *Client) Pause() {
	c.mu.Lock()
	modules := make(map[string]*alar.ModuleProxy, len(c.modules))
	for k, m := range c.modules {
		modules[k] = m
	}
	id := c.serverID
	c.mu.Unlock()
	for _, m := range modules {
		m.RemoveRemote(id)
	}
}

// Resume re-installs this channel's stand-in on every registered
// module after a Pause.
func (c *Client) Resume() {
	c.mu.Lock()
	modules := make(map[string]*alar.ModuleProxy, len(c.modules))
	for k, m := range c.modules {
		modules[k] = m
	}
	c.mu.Unlock()
	for name, m := range modules {
		m.AddRemote(&moduleStandIn{client: c, module: name})
	}
}

// Close terminates the channel: every pending task fails with
// ErrClosed, every subscription and suspended iterator is dropped, and
// the liveness timer stops.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.st == stateClosed {
		c.mu.Unlock()
		return nil
	}
	c.st = stateClosed
	conn := c.conn
	tasks := c.tasks
	c.tasks = map[string]*clientTask{}
	c.mu.Unlock()

	c.readiness.Set(alar.Destroying)
	c.liveness.stop()
	close(c.closeCh)

	for _, t := range tasks {
		t.closeWithErr(rpcClosedErr())
	}
	c.subs.clear()

	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (c *Client) nextTaskID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.taskCounter++
	return fmt.Sprintf("%s-%d", c.id, c.taskCounter)
}

func (c *Client) registerTask(t *clientTask) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tasks[t.id] = t
}

func (c *Client) takeTask(id string) (*clientTask, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tasks[id]
	return t, ok
}

func (c *Client) dropTask(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.tasks, id)
}

func (c *Client) writeMessage(tag wire.Tag, payload ...interface{}) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return rpcTransportErr()
	}
	frame, err := c.framer.Encode(tag, payload...)
	if err != nil {
		return err
	}
	_, err = conn.Write(frame)
	return err
}

// callRemote invokes method on module's remote singleton over this
// channel, returning a Task the caller may Await or iterate.
func (c *Client) callRemote(module, method string, args []interface{}) (alar.Task, error) {
	return newClientTask(c, module, method, args), nil
}
