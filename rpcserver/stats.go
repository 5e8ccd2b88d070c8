package rpcserver

import "sync/atomic"

// Stats is a snapshot of a Server's connection and dispatch counters,
// useful to an embedding application for health checks and dashboards.
type Stats struct {
	connected       int64
	totalAccepts    int64
	invocations     int64
	throws          int64
	activeIterators int64
}

// ClientConnected records a newly accepted, handshaked client.
func (st *Stats) ClientConnected() {
	atomic.AddInt64(&st.connected, 1)
	atomic.AddInt64(&st.totalAccepts, 1)
}

// ClientDisconnected records a client socket going away.
func (st *Stats) ClientDisconnected() {
	atomic.AddInt64(&st.connected, -1)
}

// InvocationServed records one INVOKE frame dispatched to a module,
// regardless of whether it ultimately returns or throws.
func (st *Stats) InvocationServed() {
	atomic.AddInt64(&st.invocations, 1)
}

// ThrowSent records one THROW frame sent back to a client, from either
// an invocation or a suspended iterator step.
func (st *Stats) ThrowSent() {
	atomic.AddInt64(&st.throws, 1)
}

// IteratorOpened records an invocation suspending into a streaming
// iterator rather than returning immediately.
func (st *Stats) IteratorOpened() {
	atomic.AddInt64(&st.activeIterators, 1)
}

// IteratorClosed records a suspended iterator reaching a terminal
// state (RETURN, exhausted THROW, or cleanup on disconnect).
func (st *Stats) IteratorClosed() {
	atomic.AddInt64(&st.activeIterators, -1)
}

// Snapshot is the point-in-time counters returned by Server.Stats.
type Snapshot struct {
	ConnectedClients int64
	TotalAccepts     int64
	Invocations      int64
	Throws           int64
	ActiveIterators  int64
}

// Stats returns a point-in-time snapshot of this server's connection
// and dispatch counters.
func (s *Server) Stats() Snapshot {
	return Snapshot{
		ConnectedClients: atomic.LoadInt64(&s.stats.connected),
		TotalAccepts:     atomic.LoadInt64(&s.stats.totalAccepts),
		Invocations:      atomic.LoadInt64(&s.stats.invocations),
		Throws:           atomic.LoadInt64(&s.stats.throws),
		ActiveIterators:  atomic.LoadInt64(&s.stats.activeIterators),
	}
}
