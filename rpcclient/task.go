package rpcclient

import (
	"context"
	"sync"
	"time"

	alar "github.com/hyurl/alar"
	"github.com/hyurl/alar/rpcerr"
	"github.com/hyurl/alar/wire"
)

type taskStatus int

const (
	taskInitiating taskStatus = iota
	taskPending
	taskClosed
)

// stepReply is one frame's worth of resolution delivered to a
// clientTask by the receive loop.
type stepReply struct {
	tag   wire.Tag
	value interface{}
	done  bool
	err   error
}

// clientTask implements alar.Task over a live Client channel: it is
// simultaneously awaitable and iterable, lazily sending the initial
// INVOKE on whichever of Await/Next/Return/Throw is used first.
type clientTask struct {
	client *Client
	id     string
	module string
	method string
	args   []interface{}

	mu       sync.Mutex
	status   taskStatus
	replyCh  chan stepReply
	terminal *stepReply // cached terminal result, once closed
}

func newClientTask(c *Client, module, method string, args []interface{}) *clientTask {
	return &clientTask{
		client:  c,
		id:      c.nextTaskID(),
		module:  module,
		method:  method,
		args:    args,
		replyCh: make(chan stepReply, 1),
	}
}

// closeWithErr resolves the task terminally with err, used when the
// channel closes out from under an in-flight call.
func (t *clientTask) closeWithErr(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status == taskClosed {
		return
	}
	t.status = taskClosed
	t.terminal = &stepReply{err: err, done: true}
	t.client.dropTask(t.id)
	select {
	case t.replyCh <- *t.terminal:
	default:
	}
}

// deliver is called by the receive loop with a reply frame for this
// task's id.
func (t *clientTask) deliver(tag wire.Tag, value interface{}, done bool, err error) {
	t.mu.Lock()
	if t.status == taskClosed {
		t.mu.Unlock()
		return
	}
	if done || err != nil {
		t.status = taskClosed
		t.terminal = &stepReply{tag: tag, value: value, done: true, err: err}
		t.client.dropTask(t.id)
	}
	t.mu.Unlock()
	t.replyCh <- stepReply{tag: tag, value: value, done: done, err: err}
}

func (t *clientTask) sendInitialInvoke() error {
	t.mu.Lock()
	if t.status != taskInitiating {
		t.mu.Unlock()
		return nil
	}
	t.status = taskPending
	t.client.registerTask(t)
	t.mu.Unlock()

	payload := make([]interface{}, 0, len(t.args)+3)
	payload = append(payload, t.id, t.module, t.method)
	payload = append(payload, t.args...)
	return t.client.writeMessage(wire.INVOKE, payload...)
}

func (t *clientTask) awaitReply(ctx context.Context) (stepReply, error) {
	t.mu.Lock()
	if t.terminal != nil {
		r := *t.terminal
		t.mu.Unlock()
		return r, nil
	}
	t.mu.Unlock()

	var timeout <-chan time.Time
	if d := t.client.cfg.Timeout; d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case r := <-t.replyCh:
		return r, nil
	case <-ctx.Done():
		return stepReply{}, ctx.Err()
	case <-t.client.closeCh:
		return stepReply{}, rpcClosedErr()
	case <-timeout:
		err := &rpcerr.Timeout{Module: t.module, Method: t.method, Duration: t.client.cfg.Timeout}
		t.closeWithErr(err)
		return stepReply{}, err
	}
}

// Await resolves the task as a single value, satisfying alar.Task.
// If the remote call produced a streaming iterator instead, Await
// returns alar.ErrIsIterator.
func (t *clientTask) Await(ctx context.Context) (interface{}, error) {
	if err := t.sendInitialInvoke(); err != nil {
		return nil, err
	}
	r, err := t.awaitReply(ctx)
	if err != nil {
		return nil, err
	}
	if r.tag == wire.INVOKE {
		return nil, alar.ErrIsIterator
	}
	return r.value, r.err
}

func (t *clientTask) step(ctx context.Context, tag wire.Tag, input interface{}) (alar.Step, error) {
	t.mu.Lock()
	wasInitiating := t.status == taskInitiating
	t.mu.Unlock()

	if wasInitiating {
		if err := t.sendInitialInvoke(); err != nil {
			return alar.Step{}, err
		}
		r, err := t.awaitReply(ctx)
		if err != nil {
			return alar.Step{}, err
		}
		if err := r.err; err != nil {
			return alar.Step{}, err
		}
		if r.tag != wire.INVOKE {
			// Not iterator-like after all: the single RETURN value is the
			// terminal step.
			return alar.Step{Value: r.value, Done: true}, nil
		}
		// Acknowledged as an iterator; fall through and send the
		// requested step now that the server has a suspended generator.
	}

	t.mu.Lock()
	if t.terminal != nil {
		term := *t.terminal
		t.mu.Unlock()
		return alar.Step{Value: term.value, Done: true}, term.err
	}
	t.mu.Unlock()

	if err := t.client.writeMessage(tag, t.id, input); err != nil {
		return alar.Step{}, err
	}
	r, err := t.awaitReply(ctx)
	if err != nil {
		return alar.Step{}, err
	}
	return alar.Step{Value: r.value, Done: r.done}, r.err
}

// Next sends a YIELD step (or the lazy initial INVOKE), satisfying
// alar.Task.
func (t *clientTask) Next(ctx context.Context, input interface{}) (alar.Step, error) {
	return t.step(ctx, wire.YIELD, input)
}

// Return sends a RETURN step (or the lazy initial INVOKE), satisfying
// alar.Task.
func (t *clientTask) Return(ctx context.Context, input interface{}) (alar.Step, error) {
	return t.step(ctx, wire.RETURN, input)
}

// Throw sends a THROW step (or the lazy initial INVOKE), satisfying
// alar.Task.
func (t *clientTask) Throw(ctx context.Context, input interface{}) (alar.Step, error) {
	return t.step(ctx, wire.THROW, input)
}
