// Package packet defines the wire format shared by every packetnet transport:
// a fixed little-endian header carrying the total packet length and an opcode,
// followed by an opaque payload. Framing detection in the buffers and the
// client is driven entirely by this header.
package packet

import (
	"encoding/binary"
	"fmt"
)

const (
	// HeaderSize is the number of bytes occupied by the packet header:
	// a uint16 total length followed by a uint16 opcode, both little-endian.
	HeaderSize = 4

	// MaxPacketSize is the largest encodable packet (header plus payload),
	// bounded by the range of the header's length field.
	MaxPacketSize = 65535
)

// Packet is a single framed protocol unit. Payload is owned by the holder of
// the Packet; the transport copies it out of its buffers on extraction, so a
// handler may retain it after dispatch returns.
type Packet struct {
	Opcode  uint16
	Payload []byte
}

// EncodedSize returns the number of bytes the packet occupies on the wire,
// including the header.
//
// Returns:
//   - The encoded size in bytes (HeaderSize + payload length)
func (p *Packet) EncodedSize() int {
	return HeaderSize + len(p.Payload)
}

// Encode serializes the packet into a newly allocated byte slice using the
// wire layout: total length, opcode, payload.
//
// Returns:
//   - The encoded bytes, or an error if the payload exceeds MaxPacketSize
func (p *Packet) Encode() ([]byte, error) {
	size := p.EncodedSize()
	if size > MaxPacketSize {
		return nil, fmt.Errorf("packet opcode %d exceeds max size: %d > %d", p.Opcode, size, MaxPacketSize)
	}

	buf := make([]byte, size)
	p.encodeTo(buf, size)
	return buf, nil
}

// EncodeTo serializes the packet into dst, which must be at least
// EncodedSize() bytes long. No allocation is performed.
//
// Parameters:
//   - dst: Destination slice; the first EncodedSize() bytes are overwritten
//
// Returns:
//   - The number of bytes written, or an error if the packet exceeds
//     MaxPacketSize or dst is too short
func (p *Packet) EncodeTo(dst []byte) (int, error) {
	size := p.EncodedSize()
	if size > MaxPacketSize {
		return 0, fmt.Errorf("packet opcode %d exceeds max size: %d > %d", p.Opcode, size, MaxPacketSize)
	}

	if len(dst) < size {
		return 0, fmt.Errorf("destination too short for packet: %d < %d", len(dst), size)
	}

	p.encodeTo(dst, size)
	return size, nil
}

func (p *Packet) encodeTo(dst []byte, size int) {
	binary.LittleEndian.PutUint16(dst[0:2], uint16(size))
	binary.LittleEndian.PutUint16(dst[2:4], p.Opcode)
	copy(dst[HeaderSize:], p.Payload)
}

// Header is the decoded fixed header of a packet. Length is the total packet
// size on the wire, header included.
type Header struct {
	Length uint16
	Opcode uint16
}

// ParseHeader decodes a packet header from the first HeaderSize bytes of b.
// It does not validate that the declared length is sane; callers decide how
// to treat a malformed declaration.
//
// Parameters:
//   - b: Raw bytes; must be at least HeaderSize long
//
// Returns:
//   - The decoded header and true, or a zero header and false if b is too short
func ParseHeader(b []byte) (Header, bool) {
	if len(b) < HeaderSize {
		return Header{}, false
	}

	return Header{
		Length: binary.LittleEndian.Uint16(b[0:2]),
		Opcode: binary.LittleEndian.Uint16(b[2:4]),
	}, true
}
