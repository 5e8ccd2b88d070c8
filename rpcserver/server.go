// Package rpcserver implements the RPC server half of the channel
// pair: listening, handshake, lifecycle-aware dispatch, streaming
// iterators, pub/sub broadcast, and inactive-socket cleanup on close.
package rpcserver

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"

	alar "github.com/hyurl/alar"
	"github.com/hyurl/alar/config"
	"github.com/hyurl/alar/wire"
)

// handshakeGrace is how long a newly-accepted connection has to send
// its HANDSHAKE frame before the server destroys it.
const handshakeGrace = time.Second

// moduleEntry is a registered module plus the readiness marker the
// dispatcher gates INVOKE on.
type moduleEntry struct {
	proxy     *alar.ModuleProxy
	readiness *alar.ReadinessHolder
}

// Server is the RPC server. The zero value is not usable; construct
// with New.
type Server struct {
	id     string
	cfg    config.Config
	log    hclog.Logger
	framer *wire.Framer

	mu       sync.Mutex
	modules  map[string]moduleEntry
	clients  map[string]*connectedClient
	listener net.Listener
	closed   bool

	stats Stats
}

// New builds a Server from cfg. Call RegisterModule for every module
// to expose, then Listen.
func New(cfg config.Config, log hclog.Logger) (*Server, error) {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	framer, err := wire.NewFramer(cfg.Codec)
	if err != nil {
		return nil, err
	}
	id := cfg.ID
	if id == "" {
		id = cfg.DSN()
	}
	return &Server{
		id:      id,
		cfg:     cfg,
		log:     log.Named("rpc.server"),
		framer:  framer,
		modules: map[string]moduleEntry{},
		clients: map[string]*connectedClient{},
	}, nil
}

// ID is this server's published id, used by clients as the default
// remote-stand-in key.
func (s *Server) ID() string { return s.id }

// Addr is the bound listener's address, useful for tests and for
// logging the effective port when Config.Port is 0.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// RegisterModule exposes proxy's module under its Name() for remote
// INVOKE dispatch.
func (s *Server) RegisterModule(proxy *alar.ModuleProxy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.modules[proxy.Name()] = moduleEntry{proxy: proxy, readiness: alar.NewReadinessHolder()}
}

func (s *Server) moduleEntry(name string) (moduleEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.modules[name]
	return e, ok
}

func (s *Server) moduleEntries() []moduleEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]moduleEntry, 0, len(s.modules))
	for _, e := range s.modules {
		out = append(out, e)
	}
	return out
}

// Listen binds the configured endpoint and starts serving connections
// in the background. It blocks only long enough to bind and run
// module Init hooks; Accept loops run in their own goroutine.
func (s *Server) Listen(ctx context.Context) error {
	if err := s.runInitHooks(ctx); err != nil {
		return fmt.Errorf("rpcserver: init hooks: %w", err)
	}

	var l net.Listener
	var err error
	if s.cfg.IsLocal() {
		l, err = s.listenLocal()
	} else {
		l, err = net.Listen("tcp", fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port))
	}
	if err != nil {
		return fmt.Errorf("rpcserver: listen: %w", err)
	}

	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()

	alar.RegisterLocalServer(s.id)
	s.log.Info("listening", "endpoint", s.cfg.DSN(), "id", s.id)
	go s.acceptLoop(l)
	return nil
}

// listenLocal ensures the parent directory exists and removes any
// stale socket file before binding.
func (s *Server) listenLocal() (net.Listener, error) {
	dir := filepath.Dir(s.cfg.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create socket directory: %w", err)
	}
	if _, err := os.Stat(s.cfg.Path); err == nil {
		if err := os.Remove(s.cfg.Path); err != nil {
			return nil, fmt.Errorf("remove stale socket file: %w", err)
		}
	}
	return net.Listen("unix", s.cfg.Path)
}

func (s *Server) acceptLoop(l net.Listener) {
	for {
		conn, err := l.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if !closed {
				s.log.Error("accept failed", "error", err)
			}
			return
		}
		go s.handleConn(conn)
	}
}

// runInitHooks runs Init sequentially across every registered module
// exposing one, marking Initiating then Ready around each call.
func (s *Server) runInitHooks(ctx context.Context) error {
	for _, e := range s.moduleEntries() {
		local, err := e.proxy.Local()
		if err != nil {
			return fmt.Errorf("construct %s: %w", e.proxy.Name(), err)
		}
		init, ok := localInstance(local).(alar.Initializer)
		if !ok {
			e.readiness.Set(alar.Ready)
			continue
		}
		e.readiness.Set(alar.Initiating)
		if err := init.Init(ctx); err != nil {
			return fmt.Errorf("init %s: %w", e.proxy.Name(), err)
		}
		e.readiness.Set(alar.Ready)
	}
	return nil
}

// Close stops accepting connections, runs Destroy concurrently across
// modules, and force-destroys any client socket still open after
// grace. A zero grace uses the configured Timeout.
func (s *Server) Close(ctx context.Context, grace time.Duration) error {
	if grace <= 0 {
		grace = s.cfg.Timeout
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	l := s.listener
	s.mu.Unlock()

	alar.UnregisterLocalServer(s.id)
	if l != nil {
		_ = l.Close()
	}

	destroyErr := s.runDestroyHooks(ctx)

	time.AfterFunc(grace, func() {
		s.mu.Lock()
		clients := make([]*connectedClient, 0, len(s.clients))
		for _, c := range s.clients {
			clients = append(clients, c)
		}
		s.mu.Unlock()
		for _, c := range clients {
			closed := c.destroy(nil)
			for i := 0; i < closed; i++ {
				s.stats.IteratorClosed()
			}
		}
	})

	return destroyErr
}

// runDestroyHooks runs Destroy concurrently across every registered
// module exposing one; failures are aggregated, not fatal to sibling
// destructors.
func (s *Server) runDestroyHooks(ctx context.Context) error {
	var wg sync.WaitGroup
	var mu sync.Mutex
	var merr *multierror.Error

	for _, e := range s.moduleEntries() {
		e := e
		local, err := e.proxy.Local()
		if err != nil {
			continue
		}
		destroyer, ok := localInstance(local).(alar.Destroyer)
		if !ok {
			continue
		}
		e.readiness.Set(alar.Destroying)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := destroyer.Destroy(ctx); err != nil {
				mu.Lock()
				merr = multierror.Append(merr, fmt.Errorf("destroy %s: %w", e.proxy.Name(), err))
				mu.Unlock()
				s.log.Error("destroy hook failed", "module", e.proxy.Name(), "error", err)
			}
		}()
	}
	wg.Wait()
	return merr.ErrorOrNil()
}

// checkSecret validates the raw pre-shared secret bytes that must
// precede the framed protocol when Secret is configured.
func (s *Server) checkSecret(conn net.Conn) bool {
	if s.cfg.Secret == "" {
		return true
	}
	want := []byte(s.cfg.Secret)
	got := make([]byte, len(want))
	_ = conn.SetReadDeadline(time.Now().Add(handshakeGrace))
	if _, err := readFull(conn, got); err != nil {
		return false
	}
	_ = conn.SetReadDeadline(time.Time{})
	return subtle.ConstantTimeCompare(got, want) == 1
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// localInstance unwraps the underlying user object a *LocalWrapper
// holds so the server can type-assert it against Initializer/Destroyer.
// This relies only on alar's exported LocalWrapper.Instance accessor.
func localInstance(l *alar.LocalWrapper) interface{} {
	return l.Instance()
}
