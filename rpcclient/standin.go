package rpcclient

import (
	"context"

	alar "github.com/hyurl/alar"
)

// moduleStandIn is the alar.RemoteStandIn installed into one module
// proxy's remote map for a given Client connection: it is the module
// name plus a back-reference, since one Client channel serves every
// module Registered on it.
type moduleStandIn struct {
	client *Client
	module string
}

func (s *moduleStandIn) ServerID() string          { return s.client.ServerID() }
func (s *moduleStandIn) Readiness() alar.Readiness { return s.client.Readiness() }

// SameProcess reports whether the server this stand-in targets is
// actually running in this process (e.g. a client dialing
// 127.0.0.1 back into its own server), letting ModuleProxy.Route take
// the same-process shortcut instead of going over the socket.
func (s *moduleStandIn) SameProcess() bool { return alar.IsLocalServer(s.client.ServerID()) }

func (s *moduleStandIn) Call(ctx context.Context, method string, args ...interface{}) (alar.Task, error) {
	return s.client.callRemote(s.module, method, args)
}
