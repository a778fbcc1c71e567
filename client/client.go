// Package client provides an event-driven TCP client speaking the packetnet
// wire format. Callers register handlers for connection state changes,
// completed packets, and errors, then call Connect; the read loop reassembles
// the inbound stream with a packet buffer and emits one event per packet.
package client

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cyberinferno/packetnet/packet"
	"github.com/cyberinferno/packetnet/packetbuffer"
)

// ConnectionState represents the current state of the client connection.
type ConnectionState int

const (
	Disconnected ConnectionState = iota // Not connected
	Connecting                          // Connection attempt in progress
	Connected                           // Successfully connected
	Closed                              // Client has been closed and cannot reconnect
)

// String returns a human-readable name for the connection state.
func (cs ConnectionState) String() string {
	switch cs {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// StateEvent is emitted when the connection state changes.
type StateEvent struct {
	State     ConnectionState // The new connection state
	Address   string          // The remote address (e.g. "host:port")
	Timestamp time.Time       // When the state change occurred
	Error     error           // Non-nil if the change was caused by an error
}

// PacketEvent is emitted for each completed inbound packet.
type PacketEvent struct {
	Packet    packet.Packet // The completed packet; the payload is owned by the handler
	Timestamp time.Time     // When the packet completed
}

// StateHandler is called on connection state changes. Handlers run on their
// own goroutines and must be safe for concurrent use.
type StateHandler func(event StateEvent)

// PacketHandler is called for each completed inbound packet. Handlers run on
// their own goroutines and must be safe for concurrent use.
type PacketHandler func(event PacketEvent)

// ErrorHandler is called when a read, write, or connection error occurs.
// Handlers run on their own goroutines and must be safe for concurrent use.
type ErrorHandler func(err error)

// Config holds configuration for the packet client.
type Config struct {
	// Address is the "host:port" to connect to.
	Address string
	// ConnectTimeout is the max duration for establishing a connection.
	ConnectTimeout time.Duration
	// WriteTimeout is the max duration for a single packet write; 0 means no
	// timeout.
	WriteTimeout time.Duration
	// BufferCapacity is the receive buffer's storage size. Defaults to
	// packetbuffer.DefaultCapacity.
	BufferCapacity int
}

// DefaultConfig returns a Config with default values for the given address.
//
// Parameters:
//   - address: The "host:port" to connect to
//
// Returns:
//   - A Config with defaults: ConnectTimeout 10s, WriteTimeout 10s, and the
//     default buffer capacity
func DefaultConfig(address string) Config {
	return Config{
		Address:        address,
		ConnectTimeout: 10 * time.Second,
		WriteTimeout:   10 * time.Second,
	}
}

// Client is an event-driven TCP client for the packetnet protocol. Register
// handlers with OnState, OnPacket, and OnError, then call Connect. It is
// safe for concurrent use.
type Client struct {
	config Config

	mu    sync.RWMutex
	conn  net.Conn
	state ConnectionState

	onState  StateHandler
	onPacket PacketHandler
	onError  ErrorHandler

	writeMu sync.Mutex
	wg      sync.WaitGroup
}

// New creates a packet client with the given config. The client starts in
// Disconnected state; call Connect to establish a connection.
//
// Parameters:
//   - config: Connection settings (e.g. from DefaultConfig)
//
// Returns:
//   - A new *Client; call Close when done to release resources
func New(config Config) *Client {
	return &Client{
		config: config,
		state:  Disconnected,
	}
}

// OnState registers the handler for connection state changes. Only one
// handler is active; repeated calls replace the previous handler. Pass nil
// to clear it.
//
// Parameters:
//   - handler: Function called on state changes
func (c *Client) OnState(handler StateHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onState = handler
}

// OnPacket registers the handler for completed inbound packets. Only one
// handler is active; repeated calls replace the previous handler. Pass nil
// to clear it.
//
// Parameters:
//   - handler: Function called with each completed packet
func (c *Client) OnPacket(handler PacketHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onPacket = handler
}

// OnError registers the handler for read, write, and connection errors. Only
// one handler is active; repeated calls replace the previous handler. Pass
// nil to clear it.
//
// Parameters:
//   - handler: Function called when an error occurs
func (c *Client) OnError(handler ErrorHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = handler
}

// Connect establishes a TCP connection to the configured address and starts
// the read loop.
//
// Returns:
//   - nil on success; an error if the client is closed, already connected or
//     connecting, or if the dial fails
func (c *Client) Connect() error {
	c.mu.Lock()
	switch c.state {
	case Closed:
		c.mu.Unlock()
		return fmt.Errorf("client is closed")
	case Connected, Connecting:
		c.mu.Unlock()
		return fmt.Errorf("already connected or connecting")
	}
	c.state = Connecting
	c.mu.Unlock()

	c.emitState(Connecting, nil)

	dialer := net.Dialer{Timeout: c.config.ConnectTimeout}
	conn, err := dialer.Dial("tcp", c.config.Address)
	if err != nil {
		c.setState(Disconnected, err)
		c.emitError(err)
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.state = Connected
	c.mu.Unlock()

	c.emitState(Connected, nil)

	c.wg.Add(1)
	go c.readLoop(conn)

	return nil
}

// SendPacket encodes and writes one packet to the connection. Writes are
// serialized so packets from concurrent callers never interleave on the wire.
//
// Parameters:
//   - p: The packet to send
//
// Returns:
//   - nil on success; an error if not connected, encoding fails, or the
//     write fails
func (c *Client) SendPacket(p *packet.Packet) error {
	c.mu.RLock()
	conn := c.conn
	state := c.state
	c.mu.RUnlock()

	if state != Connected || conn == nil {
		return fmt.Errorf("not connected")
	}

	encoded, err := p.Encode()
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.config.WriteTimeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout)); err != nil {
			return err
		}

		defer func() {
			_ = conn.SetWriteDeadline(time.Time{}) // Best effort to clear deadline
		}()
	}

	if _, err := conn.Write(encoded); err != nil {
		c.emitError(err)
		return err
	}

	return nil
}

// State returns the current connection state.
//
// Returns:
//   - The current ConnectionState
func (c *Client) State() ConnectionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// IsConnected returns true if the client is in Connected state.
func (c *Client) IsConnected() bool {
	return c.State() == Connected
}

// Close shuts down the client and closes the connection. After Close the
// client is in Closed state and cannot reconnect. Idempotent.
//
// Returns:
//   - Always nil
func (c *Client) Close() error {
	c.mu.Lock()
	if c.state == Closed {
		c.mu.Unlock()
		return nil
	}

	c.state = Closed
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()

	c.wg.Wait()
	c.emitState(Closed, nil)

	return nil
}

// readLoop reads from conn into a packet buffer and emits every completed
// packet until the connection ends.
func (c *Client) readLoop(conn net.Conn) {
	defer c.wg.Done()

	buf := packetbuffer.New(c.config.BufferCapacity)
	for {
		if buf.IsLowOnSpace() {
			buf.Compact()
		}

		n, err := conn.Read(buf.WritableTail())
		if n > 0 {
			if recErr := buf.RecordBytesWritten(n); recErr != nil {
				c.dropConnection(recErr)
				return
			}

			for buf.HasReadyPacket() {
				p, readErr := buf.ReadPacket()
				if readErr != nil {
					c.dropConnection(readErr)
					return
				}

				c.emitPacket(p)
			}
		}

		if err != nil {
			if !errors.Is(err, net.ErrClosed) && c.State() != Closed {
				c.dropConnection(err)
			}

			return
		}
	}
}

// dropConnection closes the connection after a read-side failure and moves
// the client back to Disconnected, unless the client was explicitly closed.
func (c *Client) dropConnection(err error) {
	c.emitError(err)

	c.mu.Lock()
	if c.state == Closed {
		c.mu.Unlock()
		return
	}

	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.state = Disconnected
	c.mu.Unlock()

	c.emitState(Disconnected, err)
}

func (c *Client) setState(state ConnectionState, err error) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()

	c.emitState(state, err)
}

func (c *Client) emitState(state ConnectionState, err error) {
	c.mu.RLock()
	handler := c.onState
	c.mu.RUnlock()

	if handler != nil {
		event := StateEvent{
			State:     state,
			Address:   c.config.Address,
			Timestamp: time.Now(),
			Error:     err,
		}

		go handler(event)
	}
}

func (c *Client) emitPacket(p packet.Packet) {
	c.mu.RLock()
	handler := c.onPacket
	c.mu.RUnlock()

	if handler != nil {
		event := PacketEvent{
			Packet:    p,
			Timestamp: time.Now(),
		}

		go handler(event)
	}
}

func (c *Client) emitError(err error) {
	c.mu.RLock()
	handler := c.onError
	c.mu.RUnlock()

	if handler != nil {
		go handler(err)
	}
}
