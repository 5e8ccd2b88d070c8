package rpcclient

import (
	"fmt"

	alar "github.com/hyurl/alar"
	"github.com/hyurl/alar/rpcerr"
	"github.com/hyurl/alar/wire"
)

// receiveLoop reads frames off the current connection until it errors
// or is replaced by a reconnect, dispatching each to the right task,
// subscription set, or liveness handler.
func (c *Client) receiveLoop() {
	buf := make([]byte, 64*1024)
	for {
		c.mu.Lock()
		conn := c.conn
		carry := c.carry
		c.mu.Unlock()
		if conn == nil {
			return
		}

		n, err := conn.Read(buf)
		if err != nil {
			c.onTransportLost(err)
			return
		}
		c.liveness.noteActivity()

		msgs, next, err := c.framer.Decode(buf[:n], carry)
		c.mu.Lock()
		c.carry = next
		c.mu.Unlock()
		if err != nil {
			c.log.Error("frame decode error", "error", err)
			continue
		}
		for _, m := range msgs {
			c.dispatch(m)
		}
	}
}

func (c *Client) dispatch(m wire.Message) {
	switch m.Tag {
	case wire.BROADCAST:
		c.dispatchBroadcast(m)
	case wire.PONG:
		c.liveness.cancelSelfDestruct()
	case wire.INVOKE, wire.YIELD, wire.RETURN:
		c.dispatchStep(m, nil)
	case wire.THROW:
		c.dispatchStep(m, reconstructErr)
	default:
		c.log.Warn("unexpected frame from server", "tag", m.Tag)
	}
}

func (c *Client) dispatchBroadcast(m wire.Message) {
	if len(m.Payload) < 2 {
		return
	}
	topic, _ := m.Payload[0].(string)
	c.subs.fire(topic, m.Payload[1], func(err error) {
		c.log.Error("subscription handler error", "topic", topic, "error", err)
	})
}

func (c *Client) dispatchStep(m wire.Message, errFn func(interface{}) error) {
	if len(m.Payload) < 1 {
		return
	}
	taskID, _ := m.Payload[0].(string)
	var value interface{}
	if len(m.Payload) > 1 {
		value = m.Payload[1]
	}

	t, ok := c.takeTask(taskID)
	if !ok {
		return
	}

	var err error
	if errFn != nil {
		err = errFn(value)
	}

	done := m.Tag == wire.RETURN || m.Tag == wire.THROW
	t.deliver(m.Tag, value, done, err)
}

// reconstructErr turns a decoded THROW payload (a generic
// map-of-fields, as decoded off the wire) into a Go error via the
// rpcerr marshaller.
func reconstructErr(raw interface{}) error {
	rec, ok := asRecord(raw)
	if !ok {
		return fmt.Errorf("rpc: remote threw %v", raw)
	}
	v := rpcerr.Unmarshal(rec)
	if err, ok := v.(error); ok {
		return err
	}
	return fmt.Errorf("rpc: remote threw %v", v)
}

// asRecord normalizes a decoded THROW payload, which may arrive as a
// map[string]interface{} or map[interface{}]interface{} depending on
// the configured codec, into an rpcerr.Record.
func asRecord(raw interface{}) (rpcerr.Record, bool) {
	switch m := raw.(type) {
	case map[string]interface{}:
		return recordFromMap(func(k string) (interface{}, bool) { v, ok := m[k]; return v, ok }), true
	case map[interface{}]interface{}:
		return recordFromMap(func(k string) (interface{}, bool) { v, ok := m[k]; return v, ok }), true
	default:
		return rpcerr.Record{}, false
	}
}

func recordFromMap(get func(string) (interface{}, bool)) rpcerr.Record {
	var rec rpcerr.Record
	if v, ok := get("name"); ok {
		rec.Name, _ = v.(string)
	}
	if v, ok := get("message"); ok {
		rec.Message, _ = v.(string)
	}
	if v, ok := get("stack"); ok {
		rec.Stack, _ = v.(string)
	}
	if v, ok := get("fields"); ok {
		switch f := v.(type) {
		case map[string]interface{}:
			rec.Fields = f
		case map[interface{}]interface{}:
			rec.Fields = map[string]interface{}{}
			for k, val := range f {
				rec.Fields[fmt.Sprint(k)] = val
			}
		}
	}
	return rec
}

func (c *Client) onTransportLost(err error) {
	c.mu.Lock()
	if c.st == stateClosed || c.st == stateClosing {
		c.mu.Unlock()
		return
	}
	c.st = stateConnecting
	c.mu.Unlock()

	c.readiness.Set(alar.NotReady)
	c.log.Warn("transport lost, reconnecting", "error", err)
	c.failAllTasks(rpcTransportErr())
	c.liveness.stop()
	go c.reconnectLoop()
}

func (c *Client) failAllTasks(err error) {
	c.mu.Lock()
	tasks := c.tasks
	c.tasks = map[string]*clientTask{}
	c.mu.Unlock()
	for _, t := range tasks {
		t.closeWithErr(err)
	}
}
