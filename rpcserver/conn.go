package rpcserver

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	alar "github.com/hyurl/alar"
	"github.com/hyurl/alar/rpcerr"
	"github.com/hyurl/alar/wire"
)

// connectedClient is the server's view of one accepted socket: its
// framer state, a write lock (frames may be written concurrently from
// the dispatch goroutine and from Publish), and the suspended
// iterators keyed by taskId.
type connectedClient struct {
	id   string
	conn net.Conn

	writeMu sync.Mutex
	carry   []byte

	mu        sync.Mutex
	iterators map[string]alar.Iterator
	destroyed bool
}

func newConnectedClient(conn net.Conn) *connectedClient {
	return &connectedClient{conn: conn, iterators: map[string]alar.Iterator{}}
}

func (c *connectedClient) write(framer *wire.Framer, tag wire.Tag, payload ...interface{}) error {
	frame, err := framer.Encode(tag, payload...)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err = c.conn.Write(frame)
	return err
}

// destroy closes the underlying socket and returns every suspended
// iterator this socket was holding, reporting how many it cleaned up
// so the caller can keep an active-iterator counter accurate. destroy
// is idempotent; later calls report zero.
func (c *connectedClient) destroy(ctx context.Context) (closed int) {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return 0
	}
	c.destroyed = true
	its := c.iterators
	c.iterators = map[string]alar.Iterator{}
	c.mu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}
	for _, it := range its {
		_, _, _ = it.Return(ctx, nil)
	}
	_ = c.conn.Close()
	return len(its)
}

// storeIterator records it under taskID, reporting whether this is a
// newly-suspended iterator (as opposed to re-storing one between steps)
// so the caller can keep an active-iterator counter accurate.
func (c *connectedClient) storeIterator(taskID string, it alar.Iterator) (isNew bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, existed := c.iterators[taskID]
	c.iterators[taskID] = it
	return !existed
}

func (c *connectedClient) takeIterator(taskID string) (alar.Iterator, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	it, ok := c.iterators[taskID]
	return it, ok
}

// dropIterator removes taskID's suspended iterator, reporting whether
// it was actually present so a caller that may hit this on two code
// paths for the same terminal transition (done, then also erroring)
// does not decrement an active-iterator counter twice.
func (c *connectedClient) dropIterator(taskID string) (existed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, existed = c.iterators[taskID]
	delete(c.iterators, taskID)
	return existed
}

// handleConn owns one accepted socket end to end: secret check,
// HANDSHAKE/CONNECT, then the read-dispatch loop until the socket
// closes.
func (s *Server) handleConn(conn net.Conn) {
	if !s.checkSecret(conn) {
		s.log.Warn("rejected connection: bad secret", "remote", conn.RemoteAddr())
		_ = conn.Close()
		return
	}

	client, err := s.awaitHandshake(conn)
	if err != nil {
		s.log.Warn("handshake failed", "remote", conn.RemoteAddr(), "error", err)
		_ = conn.Close()
		return
	}

	s.mu.Lock()
	s.clients[client.id] = client
	s.stats.ClientConnected()
	s.mu.Unlock()
	s.log.Info("client connected", "id", client.id)

	defer func() {
		s.mu.Lock()
		delete(s.clients, client.id)
		s.stats.ClientDisconnected()
		s.mu.Unlock()
		closed := client.destroy(context.Background())
		for i := 0; i < closed; i++ {
			s.stats.IteratorClosed()
		}
		s.log.Info("client disconnected", "id", client.id)
	}()

	s.readLoop(client)
}

func (s *Server) awaitHandshake(conn net.Conn) (*connectedClient, error) {
	client := newConnectedClient(conn)
	_ = conn.SetReadDeadline(time.Now().Add(handshakeGrace))

	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", rpcerr.ErrHandshakeMissing, err)
		}
		msgs, carry, err := s.framer.Decode(buf[:n], client.carry)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", rpcerr.ErrDecode, err)
		}
		client.carry = carry
		for _, m := range msgs {
			if m.Tag != wire.HANDSHAKE {
				return nil, fmt.Errorf("%w: first frame was %s", rpcerr.ErrHandshakeMissing, m.Tag)
			}
			if len(m.Payload) != 1 {
				return nil, fmt.Errorf("%w: malformed handshake payload", rpcerr.ErrHandshakeMissing)
			}
			id, _ := m.Payload[0].(string)
			client.id = id
			_ = conn.SetReadDeadline(time.Time{})
			if err := client.write(s.framer, wire.CONNECT, s.id); err != nil {
				return nil, err
			}
			return client, nil
		}
	}
}

func (s *Server) readLoop(client *connectedClient) {
	buf := make([]byte, 64*1024)
	for {
		n, err := client.conn.Read(buf)
		if err != nil {
			return
		}
		msgs, carry, err := s.framer.Decode(buf[:n], client.carry)
		client.carry = carry
		if err != nil {
			s.log.Error("frame decode error", "client", client.id, "error", err)
			return
		}
		for _, m := range msgs {
			s.dispatch(client, m)
		}
	}
}

// dispatch implements the server-side state machine for every frame a
// client may send.
func (s *Server) dispatch(client *connectedClient, m wire.Message) {
	switch m.Tag {
	case wire.PING:
		_ = client.write(s.framer, wire.PONG)
	case wire.INVOKE:
		s.dispatchInvoke(client, m)
	case wire.YIELD, wire.RETURN, wire.THROW:
		s.dispatchStep(client, m)
	default:
		s.log.Warn("unexpected frame from client", "client", client.id, "tag", m.Tag)
	}
}

func (s *Server) dispatchInvoke(client *connectedClient, m wire.Message) {
	if len(m.Payload) < 3 {
		return
	}
	taskID, _ := m.Payload[0].(string)
	modName, _ := m.Payload[1].(string)
	method, _ := m.Payload[2].(string)
	args := m.Payload[3:]
	s.stats.InvocationServed()

	entry, ok := s.moduleEntry(modName)
	if !ok {
		s.reply(client, wire.THROW, taskID, rpcerr.Marshal(fmt.Errorf("%w: %s", rpcerr.ErrNoSuchModule, modName)))
		return
	}
	if entry.readiness.Get() != alar.Ready {
		s.reply(client, wire.THROW, taskID, rpcerr.Marshal(fmt.Errorf("%w: %s", rpcerr.ErrUnavailable, modName)))
		return
	}
	local, err := entry.proxy.Local()
	if err != nil {
		s.reply(client, wire.THROW, taskID, rpcerr.Marshal(err))
		return
	}

	future, err := local.Call(context.Background(), method, args...)
	if err != nil {
		s.reply(client, wire.THROW, taskID, rpcerr.Marshal(err))
		return
	}

	if it, ok := future.Iterator(); ok {
		if client.storeIterator(taskID, it) {
			s.stats.IteratorOpened()
		}
		s.reply(client, wire.INVOKE, taskID, nil)
		return
	}
	value, err := future.Await(context.Background())
	if err != nil {
		s.reply(client, wire.THROW, taskID, rpcerr.Marshal(err))
		return
	}
	s.reply(client, wire.RETURN, taskID, value)
}

func (s *Server) dispatchStep(client *connectedClient, m wire.Message) {
	if len(m.Payload) < 1 {
		return
	}
	taskID, _ := m.Payload[0].(string)
	var input interface{}
	if len(m.Payload) > 1 {
		input = m.Payload[1]
	}

	it, ok := client.takeIterator(taskID)
	if !ok {
		s.reply(client, wire.THROW, taskID, rpcerr.Marshal(fmt.Errorf("%w: %s", rpcerr.ErrTaskNotFound, taskID)))
		return
	}

	var value interface{}
	var done bool
	var err error
	switch m.Tag {
	case wire.YIELD:
		value, done, err = it.Next(context.Background(), input)
	case wire.RETURN:
		value, done, err = it.Return(context.Background(), input)
	case wire.THROW:
		value, done, err = it.Throw(context.Background(), input)
	}

	if done {
		if client.dropIterator(taskID) {
			s.stats.IteratorClosed()
		}
	} else {
		client.storeIterator(taskID, it)
	}

	if err != nil {
		if client.dropIterator(taskID) {
			s.stats.IteratorClosed()
		}
		s.reply(client, wire.THROW, taskID, rpcerr.Marshal(err))
		return
	}
	// The reply tag signals done-ness: RETURN is terminal, YIELD is not.
	replyTag := wire.YIELD
	if done {
		replyTag = wire.RETURN
	}
	s.reply(client, replyTag, taskID, value)
}

func (s *Server) reply(client *connectedClient, tag wire.Tag, taskID string, value interface{}) {
	if tag == wire.THROW {
		s.stats.ThrowSent()
	}
	if err := client.write(s.framer, tag, taskID, value); err != nil {
		s.log.Error("write failed", "client", client.id, "tag", tag, "error", err)
	}
}
