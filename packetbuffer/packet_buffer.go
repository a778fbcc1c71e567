// Package packetbuffer provides the cursor-pair byte buffer that backs one
// direction of a packet session. The buffer tracks partially received or
// partially sent data, answers framing questions via the packet header, and
// compacts lazily so appends stay amortized O(1). It has no I/O or locking of
// its own; the owning session provides both.
package packetbuffer

import (
	"errors"

	"github.com/cyberinferno/packetnet/packet"
)

const (
	// DefaultCapacity is the default storage size for one buffer direction.
	// It is at least packet.MaxPacketSize so that any legal packet can become
	// ready after compaction.
	DefaultCapacity = 65536

	// DefaultChunkFloor is the default minimum tail space below which the
	// buffer reports it is low on space and should be compacted before the
	// next receive.
	DefaultChunkFloor = 1024
)

var (
	// ErrBufferOverrun is returned when recorded writes would advance past the
	// buffer's capacity. It signals a fatal stream error for the connection.
	ErrBufferOverrun = errors.New("packetbuffer: write past buffer capacity")

	// ErrEncodeOverflow is returned by SetPacket when the encoded packet does
	// not fit in the remaining capacity. The buffer is left unchanged.
	ErrEncodeOverflow = errors.New("packetbuffer: packet does not fit in buffer")

	// ErrNoReadyPacket is returned by ReadPacket when no complete packet is
	// present. Callers must check HasReadyPacket first.
	ErrNoReadyPacket = errors.New("packetbuffer: no complete packet in buffer")

	// ErrMalformedPacket is returned when a header declares a total length
	// smaller than the header itself, which means the stream is desynced.
	ErrMalformedPacket = errors.New("packetbuffer: header declares length smaller than header")

	// ErrShortBuffer is returned when recorded sends would advance the read
	// cursor past the bytes actually pending.
	ErrShortBuffer = errors.New("packetbuffer: sent more bytes than pending")
)

// PacketBuffer tracks bytes for one direction of a connection. The region
// [readCursor, writeCursor) holds pending bytes: received-but-unconsumed on
// the receive side, queued-but-untransmitted on the send side. Bytes before
// readCursor are consumed and reclaimable by Compact.
//
// PacketBuffer is not safe for concurrent use; the owning session serializes
// access. On a send buffer, Compact must only be called by the goroutine that
// drains the buffer, since pending bytes may be referenced by an in-flight
// write while the session's lock is released.
type PacketBuffer struct {
	storage     []byte
	readCursor  int
	writeCursor int
	chunkFloor  int
}

// New creates a PacketBuffer with the given storage capacity and
// DefaultChunkFloor as its low-space threshold. Capacities below
// packet.MaxPacketSize will stall on packets larger than the capacity.
//
// Parameters:
//   - capacity: Total storage size in bytes; values < 1 use DefaultCapacity
//
// Returns:
//   - A new empty PacketBuffer
func New(capacity int) *PacketBuffer {
	return NewWithChunkFloor(capacity, DefaultChunkFloor)
}

// NewWithChunkFloor creates a PacketBuffer with an explicit low-space
// threshold, used to decide when the tail is too small for a useful receive.
//
// Parameters:
//   - capacity: Total storage size in bytes; values < 1 use DefaultCapacity
//   - chunkFloor: Minimum tail size before IsLowOnSpace reports true
//
// Returns:
//   - A new empty PacketBuffer
func NewWithChunkFloor(capacity int, chunkFloor int) *PacketBuffer {
	if capacity < 1 {
		capacity = DefaultCapacity
	}

	if chunkFloor < 1 {
		chunkFloor = DefaultChunkFloor
	}

	return &PacketBuffer{
		storage:    make([]byte, capacity),
		chunkFloor: chunkFloor,
	}
}

// RemainingCapacity returns the free bytes at the tail of storage, i.e. how
// much a single receive may append without overrunning.
//
// Returns:
//   - Free bytes between the write cursor and capacity
func (b *PacketBuffer) RemainingCapacity() int {
	return len(b.storage) - b.writeCursor
}

// IsLowOnSpace reports whether the tail has shrunk below the chunk floor and
// the buffer should be compacted before issuing the next receive.
//
// Returns:
//   - true if RemainingCapacity is below the configured chunk floor
func (b *PacketBuffer) IsLowOnSpace() bool {
	return b.RemainingCapacity() < b.chunkFloor
}

// Compact shifts the pending region [readCursor, writeCursor) to the start of
// storage and rebases both cursors. Pending byte order and content are
// preserved exactly. When the buffer is empty this only resets the cursors.
func (b *PacketBuffer) Compact() {
	if b.readCursor == 0 {
		return
	}

	pending := b.writeCursor - b.readCursor
	if pending > 0 {
		copy(b.storage, b.storage[b.readCursor:b.writeCursor])
	}

	b.readCursor = 0
	b.writeCursor = pending
}

// WritableTail returns the free tail region a receive may fill. Bytes written
// into it only become pending once RecordBytesWritten is called.
//
// Returns:
//   - The slice of storage from the write cursor to capacity
func (b *PacketBuffer) WritableTail() []byte {
	return b.storage[b.writeCursor:]
}

// RecordBytesWritten advances the write cursor by n after bytes have been
// placed in the writable tail.
//
// Parameters:
//   - n: Number of bytes appended; must not exceed RemainingCapacity
//
// Returns:
//   - ErrBufferOverrun if n is negative or exceeds the remaining capacity;
//     the buffer is unchanged in that case
func (b *PacketBuffer) RecordBytesWritten(n int) error {
	if n < 0 || n > b.RemainingCapacity() {
		return ErrBufferOverrun
	}

	b.writeCursor += n
	return nil
}

// HasReadyPacket reports whether the pending region holds at least one
// complete packet: a full header whose declared total length is fully
// present. A header declaring a length smaller than itself also reports
// ready, so that ReadPacket can surface ErrMalformedPacket instead of the
// stream stalling forever.
//
// Returns:
//   - true if ReadPacket will not return ErrNoReadyPacket
func (b *PacketBuffer) HasReadyPacket() bool {
	header, ok := packet.ParseHeader(b.storage[b.readCursor:b.writeCursor])
	if !ok {
		return false
	}

	if int(header.Length) < packet.HeaderSize {
		return true
	}

	return b.Pending() >= int(header.Length)
}

// PeekOpcode returns the opcode of the next packet without consuming
// anything. It only requires a full header, not a full packet, so it can be
// used for diagnostics when dispatch fails.
//
// Returns:
//   - The opcode and true if a full header is pending, 0 and false otherwise
func (b *PacketBuffer) PeekOpcode() (uint16, bool) {
	header, ok := packet.ParseHeader(b.storage[b.readCursor:b.writeCursor])
	if !ok {
		return 0, false
	}

	return header.Opcode, true
}

// ReadPacket consumes exactly one complete packet from the pending region and
// returns it. The payload is copied out of storage, so the returned packet
// remains valid after later buffer operations.
//
// Returns:
//   - The next packet, or ErrNoReadyPacket when no complete packet is pending,
//     or ErrMalformedPacket when the header's declared length is impossible
func (b *PacketBuffer) ReadPacket() (packet.Packet, error) {
	header, ok := packet.ParseHeader(b.storage[b.readCursor:b.writeCursor])
	if !ok {
		return packet.Packet{}, ErrNoReadyPacket
	}

	total := int(header.Length)
	if total < packet.HeaderSize {
		return packet.Packet{}, ErrMalformedPacket
	}

	if b.Pending() < total {
		return packet.Packet{}, ErrNoReadyPacket
	}

	payload := make([]byte, total-packet.HeaderSize)
	copy(payload, b.storage[b.readCursor+packet.HeaderSize:b.readCursor+total])
	b.readCursor += total

	return packet.Packet{Opcode: header.Opcode, Payload: payload}, nil
}

// SetPacket appends one fully-serialized packet at the write cursor. The
// append is atomic: on any error the buffer is left exactly as it was.
// SetPacket never compacts, so pending bytes referenced by an in-flight
// write stay valid.
//
// Parameters:
//   - p: The packet to encode into the buffer
//
// Returns:
//   - ErrEncodeOverflow if the encoded packet does not fit in the remaining
//     capacity, or an encoding error if the packet exceeds the wire format's
//     maximum size
func (b *PacketBuffer) SetPacket(p *packet.Packet) error {
	size := p.EncodedSize()
	if size > packet.MaxPacketSize {
		return ErrEncodeOverflow
	}

	if size > b.RemainingCapacity() {
		return ErrEncodeOverflow
	}

	n, err := p.EncodeTo(b.WritableTail())
	if err != nil {
		return err
	}

	b.writeCursor += n
	return nil
}

// HasPendingData reports whether any bytes remain in the pending region.
//
// Returns:
//   - true if at least one byte is pending
func (b *PacketBuffer) HasPendingData() bool {
	return b.readCursor < b.writeCursor
}

// Pending returns the number of pending bytes.
//
// Returns:
//   - The size of the region [readCursor, writeCursor)
func (b *PacketBuffer) Pending() int {
	return b.writeCursor - b.readCursor
}

// PendingBytes returns the pending region itself, typically handed to a
// socket write. The slice aliases storage and is invalidated by Compact.
//
// Returns:
//   - The slice of storage holding pending bytes
func (b *PacketBuffer) PendingBytes() []byte {
	return b.storage[b.readCursor:b.writeCursor]
}

// RecordBytesSent advances the read cursor by n after bytes have been
// physically transmitted. When this empties the buffer both cursors are reset
// to the start of storage.
//
// Parameters:
//   - n: Number of pending bytes transmitted
//
// Returns:
//   - ErrShortBuffer if n is negative or exceeds the pending byte count; the
//     buffer is unchanged in that case
func (b *PacketBuffer) RecordBytesSent(n int) error {
	if n < 0 || n > b.Pending() {
		return ErrShortBuffer
	}

	b.readCursor += n
	if b.readCursor == b.writeCursor {
		b.Compact()
	}

	return nil
}
