// Package session implements the per-connection transport core: a Session
// owns one socket, pumps bytes in both directions through a pair of
// packet buffers, reassembles the inbound stream into framed packets for a
// dispatcher, and serializes concurrent outbound appends against the write
// pump so sending is safe from any number of goroutines.
package session

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"

	"github.com/cyberinferno/packetnet/logger"
	"github.com/cyberinferno/packetnet/packet"
	"github.com/cyberinferno/packetnet/packetbuffer"
)

// Dispatcher consumes ready packets on behalf of a session. Given a buffer
// for which HasReadyPacket is true, Handle must consume exactly one packet
// (advance the buffer past it) and return nil on success. It must not retain
// the buffer beyond the call and must not start the session's pumps itself.
// A non-nil error ends the session's receive path.
type Dispatcher interface {
	Handle(s *Session, buf *packetbuffer.PacketBuffer) error
}

// DispatcherFunc adapts a plain function to the Dispatcher interface.
type DispatcherFunc func(s *Session, buf *packetbuffer.PacketBuffer) error

// Handle implements Dispatcher.
func (f DispatcherFunc) Handle(s *Session, buf *packetbuffer.PacketBuffer) error {
	return f(s, buf)
}

// Config holds per-session tuning. The zero value is usable; unset fields
// fall back to package defaults.
type Config struct {
	// BufferCapacity is the storage size of each direction's packet buffer.
	// Defaults to packetbuffer.DefaultCapacity.
	BufferCapacity int
	// ChunkFloor is the minimum receive-tail size below which the receive
	// buffer is compacted before the next read. Defaults to
	// packetbuffer.DefaultChunkFloor.
	ChunkFloor int
	// Logger receives the session's lifecycle and error logs. Defaults to a
	// no-op logger.
	Logger logger.Logger
}

// Session drives one connected socket. The read pump (Handle) and the write
// pump run as independent goroutines over disjoint buffers; the send buffer
// is the only state touched by more than one goroutine and is always accessed
// under mu. The socket's open/closed state is an atomic flag read by both
// pumps; shutdown is idempotent so a stale read costs at most one extra I/O
// attempt that fails safely.
type Session struct {
	id         uint32
	conn       net.Conn
	dispatcher Dispatcher
	log        logger.Logger

	recvBuffer *packetbuffer.PacketBuffer

	mu         sync.Mutex // guards sendBuffer and writing
	sendBuffer *packetbuffer.PacketBuffer
	writing    bool

	started atomic.Bool
	closed  atomic.Bool
}

// New creates a Session around an already-connected socket. The session does
// nothing until Handle is called (exactly once, by the acceptor).
//
// Parameters:
//   - id: Identifier assigned by the acceptor, used in logs and lookups
//   - conn: The connected socket; the session becomes its sole owner
//   - dispatcher: Receiver of ready packets; nil installs a dispatcher that
//     consumes and discards every packet
//   - cfg: Tuning options; zero value uses package defaults
//
// Returns:
//   - A new Session ready to be started with Handle
func New(id uint32, conn net.Conn, dispatcher Dispatcher, cfg Config) *Session {
	if dispatcher == nil {
		dispatcher = DispatcherFunc(discardPacket)
	}

	log := cfg.Logger
	if log == nil {
		log = logger.NewNopLogger()
	}

	capacity := cfg.BufferCapacity
	if capacity < 1 {
		capacity = packetbuffer.DefaultCapacity
	}

	floor := cfg.ChunkFloor
	if floor < 1 {
		floor = packetbuffer.DefaultChunkFloor
	}

	return &Session{
		id:         id,
		conn:       conn,
		dispatcher: dispatcher,
		log:        log.With(logger.Field{Key: "session_id", Value: id}),
		recvBuffer: packetbuffer.NewWithChunkFloor(capacity, floor),
		sendBuffer: packetbuffer.NewWithChunkFloor(capacity, floor),
	}
}

// ID returns the session's identifier assigned at construction.
//
// Returns:
//   - The session ID (uint32)
func (s *Session) ID() uint32 {
	return s.id
}

// RemoteAddr returns the peer's address.
//
// Returns:
//   - The remote net.Addr of the underlying socket
func (s *Session) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}

// IsClosed reports whether the session's socket has been shut down.
//
// Returns:
//   - true once Shutdown has run in any mode
func (s *Session) IsClosed() bool {
	return s.closed.Load()
}

// Handle runs the session's read pump until the connection ends: read into
// the receive buffer's free tail, compacting first when space is low, then
// drain every complete packet through the dispatcher, then re-arm. All
// lifecycle-ending transitions (peer close, transport error, buffer overrun,
// dispatch failure) are resolved here into a shutdown.
//
// Handle must be called exactly once; subsequent calls log and return. The
// caller's goroutine holds the session reference for the lifetime of the
// pump, so the session cannot be collected while reads are outstanding.
func (s *Session) Handle() {
	if !s.started.CompareAndSwap(false, true) {
		s.log.Error("session read pump already started")
		return
	}

	for {
		if s.closed.Load() {
			return
		}

		if s.recvBuffer.IsLowOnSpace() {
			s.recvBuffer.Compact()
		}

		n, err := s.conn.Read(s.recvBuffer.WritableTail())
		if s.closed.Load() || errors.Is(err, net.ErrClosed) {
			return
		}

		if n > 0 {
			if recErr := s.recvBuffer.RecordBytesWritten(n); recErr != nil {
				s.log.Error("receive buffer overrun",
					logger.Field{Key: "bytes_transferred", Value: n},
					logger.Field{Key: "remaining_capacity", Value: s.recvBuffer.RemainingCapacity()})
				s.Shutdown(ShutdownReceive)
				return
			}

			if !s.drainReceived() {
				return
			}
		}

		if err != nil || n == 0 {
			s.failTransfer(err, n, ShutdownReceive)
			return
		}
	}
}

// drainReceived dispatches every complete packet in the receive buffer.
// It returns false when dispatch failed and the session has been shut down;
// remaining packets are abandoned in that case.
func (s *Session) drainReceived() bool {
	for s.recvBuffer.HasReadyPacket() {
		opcode, _ := s.recvBuffer.PeekOpcode()
		if err := s.dispatcher.Handle(s, s.recvBuffer); err != nil {
			s.log.Error("packet dispatch failed",
				logger.Field{Key: "opcode", Value: opcode},
				logger.Field{Key: "error", Value: err})
			s.Shutdown(ShutdownReceive)
			return false
		}
	}

	return true
}

// SendPacket queues one packet for transmission and wakes the write pump.
// It is the only externally invoked mutator and is safe for concurrent use:
// appends are serialized by the session lock and each append succeeds or
// fails independently. The caller never waits for prior data to drain.
//
// An ErrEncodeOverflow from the send buffer is returned to the caller and
// does not close the connection; the caller may retry later or drop the
// packet. Actual transmission completes asynchronously.
//
// Parameters:
//   - p: The packet to transmit
//
// Returns:
//   - nil once the packet is queued; ErrSessionClosed if the socket is shut
//     down; packetbuffer.ErrEncodeOverflow if the send buffer cannot hold it
func (s *Session) SendPacket(p *packet.Packet) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}

	s.mu.Lock()
	if err := s.sendBuffer.SetPacket(p); err != nil {
		s.mu.Unlock()
		s.log.Error("failed to queue outbound packet",
			logger.Field{Key: "opcode", Value: p.Opcode},
			logger.Field{Key: "error", Value: err})
		return err
	}
	s.mu.Unlock()

	s.postWrite()
	return nil
}

// postWrite starts the write pump if there is pending data and no pump is
// already in flight. It is idempotent and safe to call opportunistically:
// with nothing queued, with a write already running, or on a closed socket
// it is a no-op.
func (s *Session) postWrite() {
	s.mu.Lock()
	if s.closed.Load() || s.writing || !s.sendBuffer.HasPendingData() {
		s.mu.Unlock()
		return
	}

	s.writing = true
	s.mu.Unlock()

	go s.writePump()
}

// writePump drains the send buffer: each iteration snapshots the pending
// region under the lock, writes it with the lock released so producers can
// keep appending, then records the sent bytes. The region stays valid while
// unlocked because only this goroutine ever compacts the send buffer. The
// pump exits when the buffer empties (write-on-demand, no polling) or on a
// classified transport error.
func (s *Session) writePump() {
	for {
		s.mu.Lock()
		if s.closed.Load() || !s.sendBuffer.HasPendingData() {
			s.writing = false
			s.mu.Unlock()
			return
		}
		pending := s.sendBuffer.PendingBytes()
		s.mu.Unlock()

		n, err := s.conn.Write(pending)

		s.mu.Lock()
		if s.closed.Load() {
			s.writing = false
			s.mu.Unlock()
			return
		}

		if n > 0 {
			if recErr := s.sendBuffer.RecordBytesSent(n); recErr != nil {
				s.writing = false
				s.mu.Unlock()
				s.log.Error("send buffer accounting error",
					logger.Field{Key: "bytes_transferred", Value: n},
					logger.Field{Key: "error", Value: recErr})
				s.Shutdown(ShutdownSend)
				return
			}
		}

		if err != nil || n == 0 {
			s.writing = false
			s.mu.Unlock()
			if errors.Is(err, net.ErrClosed) {
				return
			}

			s.failTransfer(err, n, ShutdownSend)
			return
		}

		s.mu.Unlock()
	}
}

// failTransfer classifies a failed read or write and performs the matching
// shutdown: peer disconnects and aborts close both directions at info level,
// zero-byte transfers close the failing direction at info level, and any
// other transport error closes the failing direction at error level.
func (s *Session) failTransfer(err error, n int, direction ShutdownMode) {
	fields := s.remoteFields()

	switch {
	case err != nil && isPeerDisconnect(err):
		s.log.Info("session disconnected by peer", fields...)
		s.Shutdown(ShutdownBoth)
	case err != nil && isPeerAbort(err):
		s.log.Info("connection aborted", fields...)
		s.Shutdown(ShutdownBoth)
	case err == nil && n == 0:
		s.log.Info("disconnected with zero bytes transferred", fields...)
		s.Shutdown(direction)
	default:
		s.log.Error("connection transfer error",
			append(fields, logger.Field{Key: "error", Value: err})...)
		s.Shutdown(direction)
	}
}

// Shutdown half-shuts the socket in the given mode and then closes it.
// It is idempotent: only the first call transitions the session to closed,
// later calls are no-ops. Errors during shutdown or close are logged and
// swallowed; closing a session never fails upward.
//
// Parameters:
//   - mode: Which direction to disable before the close
func (s *Session) Shutdown(mode ShutdownMode) {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}

	s.log.Info("session closed",
		append(s.remoteFields(), logger.Field{Key: "mode", Value: mode.String()})...)

	if tcp, ok := s.conn.(*net.TCPConn); ok {
		var err error
		switch mode {
		case ShutdownReceive:
			err = tcp.CloseRead()
		case ShutdownSend:
			err = tcp.CloseWrite()
		}

		if err != nil && !errors.Is(err, net.ErrClosed) {
			s.log.Error("session failed to shut down socket",
				logger.Field{Key: "error", Value: err})
		}
	}

	if err := s.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		s.log.Error("session failed to close socket",
			logger.Field{Key: "error", Value: err})
	}
}

// Close shuts the session down in both directions. It is safe to call
// multiple times.
//
// Returns:
//   - Always nil; shutdown errors are logged, not propagated
func (s *Session) Close() error {
	s.Shutdown(ShutdownBoth)
	return nil
}

// remoteFields returns the peer address and port as log fields.
func (s *Session) remoteFields() []logger.Field {
	addr := s.conn.RemoteAddr()
	if addr == nil {
		return nil
	}

	host, port, err := net.SplitHostPort(addr.String())
	if err != nil {
		return []logger.Field{{Key: "address", Value: addr.String()}}
	}

	return []logger.Field{
		{Key: "address", Value: host},
		{Key: "port", Value: port},
	}
}

// discardPacket is the fallback dispatcher: it consumes one packet and drops
// it so a misconfigured session cannot spin on a ready packet.
func discardPacket(s *Session, buf *packetbuffer.PacketBuffer) error {
	_, err := buf.ReadPacket()
	return err
}
