package rpcserver

import "github.com/hyurl/alar/wire"

// Publish dispatches a BROADCAST(topic, data) frame to every connected
// client, or (if clientIDs is non-empty) only to those whose ids
// appear in clientIDs. Delivery is best-effort: a write failure on one
// socket does not stop delivery to the rest.
// The return value reports whether at least one peer was reached.
func (s *Server) Publish(topic string, data interface{}, clientIDs ...string) bool {
	targets := s.publishTargets(clientIDs)

	reached := false
	for _, c := range targets {
		if err := c.write(s.framer, wire.BROADCAST, topic, data); err == nil {
			reached = true
		}
	}
	return reached
}

func (s *Server) publishTargets(clientIDs []string) []*connectedClient {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(clientIDs) == 0 {
		out := make([]*connectedClient, 0, len(s.clients))
		for _, c := range s.clients {
			out = append(out, c)
		}
		return out
	}

	out := make([]*connectedClient, 0, len(clientIDs))
	for _, id := range clientIDs {
		if c, ok := s.clients[id]; ok {
			out = append(out, c)
		}
	}
	return out
}
