// Package server provides the listener/acceptor around packetnet sessions:
// it binds an address, accepts connections, applies the connection throttle
// and session cap, and hands each accepted socket to a freshly constructed
// session whose read pump it starts exactly once.
package server

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/cyberinferno/packetnet/logger"
	"github.com/cyberinferno/packetnet/presence"
	"github.com/cyberinferno/packetnet/throttle"
)

// presencePublishTimeout bounds how long a lifecycle event publish may block
// a per-connection goroutine.
const presencePublishTimeout = 5 * time.Second

// Session is the per-connection object the server manages. The server starts
// Handle exactly once per accepted connection and closes the session on Stop.
type Session interface {
	// ID returns the session's unique identifier assigned by the server.
	//
	// Returns:
	//   - The session ID (uint32)
	ID() uint32

	// Handle runs the session's read pump until the connection ends. The
	// server runs it in a goroutine; nothing else may call it.
	Handle()

	// Close shuts the session down in both directions. It must be safe to
	// call multiple times.
	//
	// Returns:
	//   - An error if closing failed
	Close() error

	// RemoteAddr returns the peer's address, used for logging and presence.
	//
	// Returns:
	//   - The remote net.Addr
	RemoteAddr() net.Addr
}

// NewSessionFunc constructs the session for an accepted connection. It
// receives the assigned session ID and the connected socket and returns the
// session that will own the socket.
type NewSessionFunc func(id uint32, conn net.Conn) Session

// Config holds server wiring. Name, Addr, and NewSession are required.
type Config struct {
	// Name identifies the server in logs.
	Name string
	// Addr is the "host:port" to listen on.
	Addr string
	// Logger receives server lifecycle and accept-loop logs. Defaults to a
	// no-op logger.
	Logger logger.Logger
	// NewSession constructs the session for each accepted connection.
	NewSession NewSessionFunc
	// MaxSessions caps concurrently live sessions; 0 means unlimited.
	// Connections over the cap are closed immediately after accept.
	MaxSessions int
	// Throttle, when non-nil, is consulted per accepted connection; rejected
	// connections are closed immediately.
	Throttle *throttle.Limiter
	// Presence, when non-nil, receives a connected/disconnected event per
	// session. Publish failures are logged and otherwise ignored.
	Presence presence.Sink
}

// Server accepts connections and delegates each one to a session created by
// NewSession. Sessions are stored by ID and can be looked up while live. The
// accept loop runs in a goroutine; Stop closes the listener and every live
// session and waits for their goroutines to finish.
type Server struct {
	log        logger.Logger
	name       string
	addr       string
	listener   net.Listener
	sessions   *SessionRegistry
	running    atomic.Bool
	newSession NewSessionFunc
	limiter    *throttle.Limiter
	sink       presence.Sink
	sem        *semaphore.Weighted
	nextID     atomic.Uint32

	accepted atomic.Uint64
	rejected atomic.Uint64

	wg sync.WaitGroup
}

// New creates a Server from cfg.
//
// Parameters:
//   - cfg: Server wiring; Name, Addr, and NewSession must be set
//
// Returns:
//   - A new Server, or an error if required fields are missing
func New(cfg Config) (*Server, error) {
	if cfg.Name == "" || cfg.Addr == "" {
		return nil, fmt.Errorf("server requires a name and listen address")
	}

	if cfg.NewSession == nil {
		return nil, fmt.Errorf("server %s requires a NewSession constructor", cfg.Name)
	}

	log := cfg.Logger
	if log == nil {
		log = logger.NewNopLogger()
	}

	s := &Server{
		log:        log.With(logger.Field{Key: "server", Value: cfg.Name}),
		name:       cfg.Name,
		addr:       cfg.Addr,
		sessions:   NewSessionRegistry(),
		newSession: cfg.NewSession,
		limiter:    cfg.Throttle,
		sink:       cfg.Presence,
	}

	if cfg.MaxSessions > 0 {
		s.sem = semaphore.NewWeighted(int64(cfg.MaxSessions))
	}

	return s, nil
}

// Start binds the listen address and begins the accept loop in a goroutine.
// It is safe to call only when the server is not already running.
//
// Returns:
//   - An error if the server is already running or if listening fails
func (s *Server) Start() error {
	if s.running.Load() {
		s.log.Error("server already running")
		return fmt.Errorf("server %s already running", s.name)
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.log.Error("server failed to start", logger.Field{Key: "error", Value: err})
		return fmt.Errorf("server %s failed to start: %w", s.name, err)
	}

	s.listener = ln
	s.running.Store(true)

	s.log.Info("server started", logger.Field{Key: "addr", Value: ln.Addr().String()})
	go s.AcceptLoop()

	return nil
}

// Stop stops the server: it closes the listener, closes all live sessions,
// and waits for their goroutines to finish. Safe to call when the server is
// not running.
func (s *Server) Stop() {
	if !s.running.CompareAndSwap(true, false) {
		s.log.Info("server not running")
		return
	}

	if s.listener != nil {
		_ = s.listener.Close()
	}

	s.sessions.Range(func(_ uint32, sess Session) bool {
		_ = sess.Close()
		return true
	})

	s.wg.Wait()
	s.log.Info("server stopped")
}

// Addr returns the listener's bound address, useful when Addr was configured
// with port 0.
//
// Returns:
//   - The bound net.Addr, or nil if the server never started
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}

	return s.listener.Addr()
}

// GetSession returns the live session for the given id, if present.
//
// Parameters:
//   - id: The session ID to look up
//
// Returns:
//   - The session and true if found, or nil and false otherwise
func (s *Server) GetSession(id uint32) (Session, bool) {
	return s.sessions.Get(id)
}

// SessionCount returns the number of currently live sessions.
//
// Returns:
//   - The live session count
func (s *Server) SessionCount() int {
	return s.sessions.Len()
}

// Accepted returns the number of connections accepted into sessions since
// the server started.
//
// Returns:
//   - The accepted-connection count
func (s *Server) Accepted() uint64 {
	return s.accepted.Load()
}

// Rejected returns the number of connections refused by the throttle or the
// session cap since the server started.
//
// Returns:
//   - The rejected-connection count
func (s *Server) Rejected() uint64 {
	return s.rejected.Load()
}

// AcceptLoop runs in a goroutine and accepts incoming connections. Each
// accepted connection passes the throttle and the session cap, gets an ID,
// becomes a session stored in the registry, and has its read pump started in
// its own goroutine. The loop exits when the server is stopped.
func (s *Server) AcceptLoop() {
	for s.running.Load() {
		conn, err := s.listener.Accept()
		if err != nil {
			if !s.running.Load() {
				return
			}

			s.log.Error("server accept error", logger.Field{Key: "error", Value: err})
			continue
		}

		remote := conn.RemoteAddr().String()

		if s.limiter != nil && !s.limiter.Allow(remote) {
			s.log.Warn("connection throttled", logger.Field{Key: "address", Value: remote})
			_ = conn.Close()
			s.rejected.Add(1)
			continue
		}

		if s.sem != nil && !s.sem.TryAcquire(1) {
			s.log.Warn("session limit reached", logger.Field{Key: "address", Value: remote})
			_ = conn.Close()
			s.rejected.Add(1)
			continue
		}

		id := s.nextID.Add(1)
		sess := s.newSession(id, conn)
		s.sessions.Store(id, sess)
		s.accepted.Add(1)
		s.publishPresence(sess, true)

		s.wg.Add(1)
		go s.runSession(id, sess)
	}
}

// runSession drives one session to completion and releases everything tied
// to it: the registry entry, the cap slot, and the presence record.
func (s *Server) runSession(id uint32, sess Session) {
	defer s.wg.Done()

	sess.Handle()

	s.sessions.Delete(id)
	if s.sem != nil {
		s.sem.Release(1)
	}

	s.publishPresence(sess, false)
}

// publishPresence emits one lifecycle event when a presence sink is wired.
func (s *Server) publishPresence(sess Session, connected bool) {
	if s.sink == nil {
		return
	}

	remote := ""
	if addr := sess.RemoteAddr(); addr != nil {
		remote = addr.String()
	}

	ctx, cancel := context.WithTimeout(context.Background(), presencePublishTimeout)
	defer cancel()

	err := s.sink.Publish(ctx, presence.Event{
		Server:     s.name,
		SessionID:  sess.ID(),
		RemoteAddr: remote,
		Connected:  connected,
		Timestamp:  time.Now(),
	})
	if err != nil {
		s.log.Error("failed to publish presence event",
			logger.Field{Key: "session_id", Value: sess.ID()},
			logger.Field{Key: "error", Value: err})
	}
}
