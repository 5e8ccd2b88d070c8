package alar

import "context"

// Step is one {value, done} result from an iterable Task.
type Step struct {
	Value interface{}
	Done  bool
}

// Task is the handle a RemoteStandIn method call returns: it is
// simultaneously awaitable (single-shot) and iterable (multi-shot).
// Once terminal in either mode, further calls return the cached
// terminal value without going back over the wire.
type Task interface {
	// Await resolves the task as a single value, sending INVOKE on
	// first use.
	Await(ctx context.Context) (interface{}, error)
	// Next, Return, and Throw drive the task as an iterator, sending
	// the initial INVOKE (lazily, on first use) followed by YIELD/
	// RETURN/THROW steps thereafter.
	Next(ctx context.Context, input interface{}) (Step, error)
	Return(ctx context.Context, input interface{}) (Step, error)
	Throw(ctx context.Context, input interface{}) (Step, error)
}

// RemoteStandIn is a method-only proxy for a module on one specific
// connected server. The rpcclient package
// implements this over a live channel; the module proxy only depends
// on this interface, so routing and dispatch stay decoupled from
// transport.
type RemoteStandIn interface {
	// ServerID is the id of the server this stand-in targets.
	ServerID() string
	// Readiness reports the current live readiness of the underlying
	// channel to this server: the router only prefers stand-ins with
	// Ready among the "ready subset."
	Readiness() Readiness
	// SameProcess reports whether this stand-in's server runs in the
	// current process, enabling the same-process shortcut.
	SameProcess() bool
	// Call invokes method on the module this stand-in targets,
	// returning a Task for the caller to Await or iterate.
	Call(ctx context.Context, method string, args ...interface{}) (Task, error)
}
