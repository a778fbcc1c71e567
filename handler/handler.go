// Package handler provides the opcode-keyed packet dispatch registry. A
// Manager implements session.Dispatcher: handed a buffer with a ready packet,
// it consumes exactly one packet and routes it to the registered handler for
// its opcode.
package handler

import (
	"fmt"
	"sync"

	"github.com/cyberinferno/packetnet/packet"
	"github.com/cyberinferno/packetnet/packetbuffer"
	"github.com/cyberinferno/packetnet/session"
)

// HandlerFunc processes one completed packet for a session. Returning an
// error ends the session's receive path; there is no retry.
type HandlerFunc func(s *session.Session, p packet.Packet) error

// Manager maps opcodes to handlers. Registration is expected at startup but
// is safe at any time; dispatch may run concurrently across sessions.
type Manager struct {
	mu       sync.RWMutex
	handlers map[uint16]HandlerFunc
}

// NewManager creates an empty dispatch registry.
//
// Returns:
//   - A new Manager with no handlers registered
func NewManager() *Manager {
	return &Manager{handlers: make(map[uint16]HandlerFunc)}
}

// Register associates a handler with an opcode, replacing any previous
// handler for that opcode.
//
// Parameters:
//   - opcode: The packet opcode to route
//   - fn: The handler invoked for packets carrying opcode
func (m *Manager) Register(opcode uint16, fn HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[opcode] = fn
}

// Handle implements session.Dispatcher. It consumes exactly one packet from
// buf — even when no handler is registered for its opcode, so the buffer
// never stalls on an unroutable packet — and invokes the matching handler.
// The buffer is never retained beyond the call.
//
// Parameters:
//   - s: The session the packet arrived on
//   - buf: The session's receive buffer; HasReadyPacket must be true
//
// Returns:
//   - The handler's error, an unknown-opcode error, or a buffer error when
//     no complete packet was actually ready
func (m *Manager) Handle(s *session.Session, buf *packetbuffer.PacketBuffer) error {
	p, err := buf.ReadPacket()
	if err != nil {
		return err
	}

	m.mu.RLock()
	fn, ok := m.handlers[p.Opcode]
	m.mu.RUnlock()

	if !ok {
		return fmt.Errorf("no handler registered for opcode %d", p.Opcode)
	}

	return fn(s, p)
}
