// Package alar implements the module-proxy routing layer: a namespaced
// handle over a service class that exposes local-singleton access,
// remote-instance access, route-based selection across a client's
// connected servers, and optional local fallback.
package alar

import (
	"fmt"
	"sort"
	"sync"

	"github.com/hyurl/alar/router"
	"github.com/hyurl/alar/rpcerr"
)

// ModuleProxy is created lazily on first attribute traversal and never
// destroyed. The root proxy is built with New; every
// subsequent Child call returns (and, on first use, creates) a proxy
// one namespace segment deeper.
type ModuleProxy struct {
	name string
	path string

	loader Loader
	parent *ModuleProxy

	mu              sync.Mutex
	children        map[string]*ModuleProxy
	singleton       *LocalWrapper
	singletonErr    error
	fallbackToLocal bool
	remotes         map[string]RemoteStandIn
}

// New creates a root module proxy over the given dot-path namespace
// name and filesystem path. loader may be nil if this proxy tree will
// only ever be used for remote access (no local singleton construction).
func New(name, path string, loader Loader) *ModuleProxy {
	return &ModuleProxy{
		name:     name,
		path:     path,
		loader:   loader,
		children: map[string]*ModuleProxy{},
		remotes:  map[string]RemoteStandIn{},
	}
}

// Name is the proxy's dot-path namespace name.
func (p *ModuleProxy) Name() string { return p.name }

// Path is the proxy's filesystem path.
func (p *ModuleProxy) Path() string { return p.path }

// SetFallbackToLocal enables or disables falling back to the local
// singleton, wrapped so every method is asynchronous, when no server is
// known for a route at all.
func (p *ModuleProxy) SetFallbackToLocal(v bool) { p.fallbackToLocal = v }

// Child returns the child proxy for the given attribute segment,
// creating it on first access: its name is parent.name + "." +
// segment, its path is parent.path + "/" + segment.
func (p *ModuleProxy) Child(segment string) *ModuleProxy {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.children[segment]; ok {
		return c
	}
	c := &ModuleProxy{
		name:     p.name + "." + segment,
		path:     p.path + "/" + segment,
		loader:   p.loader,
		parent:   p,
		children: map[string]*ModuleProxy{},
		remotes:  map[string]RemoteStandIn{},
	}
	p.children[segment] = c
	return c
}

// Local returns the local singleton, constructing it at most once per
// process lifetime, wrapped so every method call normalizes to a
// Future.
func (p *ModuleProxy) Local() (*LocalWrapper, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.singleton != nil || p.singletonErr != nil {
		return p.singleton, p.singletonErr
	}
	if p.loader == nil {
		p.singletonErr = fmt.Errorf("alar: %s has no module loader configured", p.name)
		return nil, p.singletonErr
	}
	desc, err := p.loader.Resolve(p.path)
	if err != nil {
		p.singletonErr = err
		return nil, err
	}
	instance, err := desc.instantiate()
	if err != nil {
		p.singletonErr = err
		return nil, err
	}
	p.singleton = WrapLocal(instance)
	return p.singleton, nil
}

// InvalidateLocal clears the cached local singleton, e.g. in response
// to a hot-reload directory-watcher notification; the next Local call
// reconstructs it.
func (p *ModuleProxy) InvalidateLocal() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.singleton = nil
	p.singletonErr = nil
	if p.loader != nil {
		_ = p.loader.Unload(p.path)
	}
}

// New constructs a fresh instance via the module's Construct strategy,
// used when a module is invoked as a constructor with arguments.
func (p *ModuleProxy) New(args ...interface{}) (interface{}, error) {
	if p.loader == nil {
		return nil, fmt.Errorf("alar: %s has no module loader configured", p.name)
	}
	desc, err := p.loader.Resolve(p.path)
	if err != nil {
		return nil, err
	}
	if desc.Construct == nil {
		return nil, fmt.Errorf("alar: %s does not support constructing new instances", p.name)
	}
	return desc.Construct(args...)
}

// AddRemote registers (or replaces) the stand-in for a server, making
// it visible to routing. The entry stays until RemoveRemote, whatever
// the stand-in's readiness; Route reads each stand-in's Readiness to
// prefer the ready ones.
func (p *ModuleProxy) AddRemote(standIn RemoteStandIn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.remotes[standIn.ServerID()] = standIn
}

// RemoveRemote drops a server's stand-in, e.g. on Client.Pause or
// channel loss.
func (p *ModuleProxy) RemoveRemote(serverID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.remotes, serverID)
}

// RenameRemote rewrites the map key for a server id, used when a
// placeholder DSN-derived id is replaced by the real id the server
// announces in its CONNECT reply.
func (p *ModuleProxy) RenameRemote(oldID, newID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.remotes[oldID]; ok {
		delete(p.remotes, oldID)
		p.remotes[newID] = s
	}
}

func (p *ModuleProxy) snapshotRemotes() map[string]RemoteStandIn {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]RemoteStandIn, len(p.remotes))
	for k, v := range p.remotes {
		out[k] = v
	}
	return out
}

// Route selects the best remote stand-in for route and returns it.
// If no server is known at all and fallback-to-local is enabled, Route
// instead returns a stand-in that
// forwards calls to the local singleton, wrapped so every method call
// is asynchronous, rather than erroring.
func (p *ModuleProxy) Route(route interface{}) (RemoteStandIn, error) {
	remotes := p.snapshotRemotes()
	ids := make([]string, 0, len(remotes))
	ready := make(map[string]bool, len(remotes))
	for id, s := range remotes {
		ids = append(ids, id)
		ready[id] = s.Readiness() == Ready
	}
	sort.Strings(ids)

	selected, err := router.Select(route, ids, ready)
	if err != nil {
		if p.fallbackToLocal {
			local, lerr := p.Local()
			if lerr != nil {
				return nil, lerr
			}
			return newLocalStandIn(p.name, local), nil
		}
		return nil, fmt.Errorf("%s: %w", p.name, rpcerr.ErrUnavailable)
	}

	standIn := remotes[selected]
	if standIn.SameProcess() && p.loader != nil {
		if local, lerr := p.Local(); lerr == nil {
			return newLocalStandIn(p.name, local), nil
		}
	}
	return standIn, nil
}
