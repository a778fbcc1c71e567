package packet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode(t *testing.T) {
	t.Run("layout is length, opcode, payload in little endian", func(t *testing.T) {
		p := Packet{Opcode: 0x0102, Payload: []byte{0xAA, 0xBB}}
		encoded, err := p.Encode()
		require.NoError(t, err)

		assert.Equal(t, []byte{6, 0, 0x02, 0x01, 0xAA, 0xBB}, encoded)
	})

	t.Run("empty payload encodes header only", func(t *testing.T) {
		p := Packet{Opcode: 9}
		encoded, err := p.Encode()
		require.NoError(t, err)

		assert.Len(t, encoded, HeaderSize)
	})

	t.Run("oversized payload is rejected", func(t *testing.T) {
		p := Packet{Opcode: 1, Payload: make([]byte, MaxPacketSize)}
		_, err := p.Encode()
		assert.Error(t, err)
	})
}

func TestEncodeTo(t *testing.T) {
	t.Run("writes into destination without allocating", func(t *testing.T) {
		p := Packet{Opcode: 3, Payload: []byte("xy")}
		dst := make([]byte, 16)

		n, err := p.EncodeTo(dst)
		require.NoError(t, err)
		assert.Equal(t, p.EncodedSize(), n)
		assert.Equal(t, []byte{6, 0, 3, 0, 'x', 'y'}, dst[:n])
	})

	t.Run("short destination is rejected", func(t *testing.T) {
		p := Packet{Opcode: 3, Payload: []byte("xyz")}
		_, err := p.EncodeTo(make([]byte, 4))
		assert.Error(t, err)
	})
}

func TestParseHeader(t *testing.T) {
	t.Run("round trips an encoded packet", func(t *testing.T) {
		p := Packet{Opcode: 1234, Payload: []byte("hello")}
		encoded, err := p.Encode()
		require.NoError(t, err)

		header, ok := ParseHeader(encoded)
		require.True(t, ok)
		assert.Equal(t, uint16(p.EncodedSize()), header.Length)
		assert.Equal(t, uint16(1234), header.Opcode)
	})

	t.Run("short input reports absence", func(t *testing.T) {
		_, ok := ParseHeader([]byte{1, 2, 3})
		assert.False(t, ok)
	})
}
