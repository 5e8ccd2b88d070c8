package alar

import "sync/atomic"

// Readiness is the readyState marker carried by every ServiceSingleton
// and RemoteStandIn.
type Readiness int32

const (
	// NotReady: the singleton has not been constructed, or the remote
	// stand-in's channel is not yet connected.
	NotReady Readiness = iota
	// Initiating: Init() is running (server side) or the channel is
	// dialing (client side).
	Initiating
	// Ready: the singleton accepts traffic.
	Ready
	// Destroying: Destroy() is running or the channel is closing.
	Destroying
)

func (r Readiness) String() string {
	switch r {
	case NotReady:
		return "not-ready"
	case Initiating:
		return "initiating"
	case Ready:
		return "ready"
	case Destroying:
		return "destroying"
	default:
		return "unknown"
	}
}

// readinessCell is an atomically-readable/writable Readiness, shared by
// the server-side singleton holder and the client-side stand-in so
// both the router (reads) and the lifecycle driver (writes) can touch
// it without a lock of their own.
type readinessCell struct {
	v int32
}

func (c *readinessCell) get() Readiness  { return Readiness(atomic.LoadInt32(&c.v)) }
func (c *readinessCell) set(r Readiness) { atomic.StoreInt32(&c.v, int32(r)) }
func (c *readinessCell) compareAndSwap(old, new Readiness) bool {
	return atomic.CompareAndSwapInt32(&c.v, int32(old), int32(new))
}

// ReadinessHolder is a concurrency-safe Readiness cell. The server uses
// one per registered module to gate dispatch; the client uses one per
// channel, shared by all of that channel's remote stand-ins, to gate
// routing.
type ReadinessHolder struct {
	cell readinessCell
}

// NewReadinessHolder returns a holder initialized to NotReady.
func NewReadinessHolder() *ReadinessHolder { return &ReadinessHolder{} }

func (h *ReadinessHolder) Get() Readiness  { return h.cell.get() }
func (h *ReadinessHolder) Set(r Readiness) { h.cell.set(r) }
