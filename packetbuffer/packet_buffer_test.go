package packetbuffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyberinferno/packetnet/packet"
)

// assertCursorInvariant checks 0 <= readCursor <= writeCursor <= capacity.
func assertCursorInvariant(t *testing.T, b *PacketBuffer) {
	t.Helper()
	assert.GreaterOrEqual(t, b.readCursor, 0)
	assert.LessOrEqual(t, b.readCursor, b.writeCursor)
	assert.LessOrEqual(t, b.writeCursor, len(b.storage))
}

// appendRaw copies raw bytes into the writable tail and records them.
func appendRaw(t *testing.T, b *PacketBuffer, data []byte) {
	t.Helper()
	n := copy(b.WritableTail(), data)
	require.Equal(t, len(data), n)
	require.NoError(t, b.RecordBytesWritten(n))
}

func encodePacket(t *testing.T, opcode uint16, payload []byte) []byte {
	t.Helper()
	p := packet.Packet{Opcode: opcode, Payload: payload}
	encoded, err := p.Encode()
	require.NoError(t, err)
	return encoded
}

func TestCursorInvariant(t *testing.T) {
	t.Run("holds across writes, consumes, and compactions", func(t *testing.T) {
		b := New(256)
		assertCursorInvariant(t, b)

		for i := 0; i < 10; i++ {
			appendRaw(t, b, encodePacket(t, uint16(i), []byte{1, 2, 3}))
			assertCursorInvariant(t, b)

			if i%2 == 0 {
				_, err := b.ReadPacket()
				require.NoError(t, err)
				assertCursorInvariant(t, b)
			}

			b.Compact()
			assertCursorInvariant(t, b)
		}
	})

	t.Run("failed operations leave cursors valid", func(t *testing.T) {
		b := New(16)
		assert.Error(t, b.RecordBytesWritten(32))
		assertCursorInvariant(t, b)
		assert.Error(t, b.RecordBytesSent(1))
		assertCursorInvariant(t, b)
	})
}

func TestCompact(t *testing.T) {
	t.Run("preserves pending bytes exactly", func(t *testing.T) {
		b := New(64)
		first := encodePacket(t, 1, []byte("abc"))
		second := encodePacket(t, 2, []byte("defgh"))
		appendRaw(t, b, first)
		appendRaw(t, b, second)

		_, err := b.ReadPacket()
		require.NoError(t, err)

		pendingBefore := append([]byte(nil), b.PendingBytes()...)
		b.Compact()

		assert.Equal(t, 0, b.readCursor)
		assert.Equal(t, pendingBefore, b.PendingBytes())
	})

	t.Run("empty buffer resets cursors only", func(t *testing.T) {
		b := New(64)
		appendRaw(t, b, encodePacket(t, 1, []byte("abc")))
		_, err := b.ReadPacket()
		require.NoError(t, err)

		b.Compact()

		assert.Equal(t, 0, b.readCursor)
		assert.Equal(t, 0, b.writeCursor)
		assert.False(t, b.HasPendingData())
	})

	t.Run("noop when read cursor is already zero", func(t *testing.T) {
		b := New(64)
		appendRaw(t, b, []byte("xyz"))
		b.Compact()
		assert.Equal(t, []byte("xyz"), b.PendingBytes())
	})
}

func TestHasReadyPacket(t *testing.T) {
	t.Run("false on empty buffer", func(t *testing.T) {
		b := New(64)
		assert.False(t, b.HasReadyPacket())
	})

	t.Run("false with partial header", func(t *testing.T) {
		b := New(64)
		appendRaw(t, b, []byte{10, 0, 1})
		assert.False(t, b.HasReadyPacket())
	})

	t.Run("false with full header but partial payload", func(t *testing.T) {
		b := New(64)
		encoded := encodePacket(t, 7, []byte("payload"))
		appendRaw(t, b, encoded[:len(encoded)-1])
		assert.False(t, b.HasReadyPacket())
	})

	t.Run("ready exactly when the last byte arrives", func(t *testing.T) {
		// A 10-byte packet delivered as 3 bytes then 7 bytes.
		b := New(64)
		encoded := encodePacket(t, 42, []byte("abcdef"))
		require.Len(t, encoded, 10)

		appendRaw(t, b, encoded[:3])
		assert.False(t, b.HasReadyPacket())

		appendRaw(t, b, encoded[3:])
		assert.True(t, b.HasReadyPacket())

		p, err := b.ReadPacket()
		require.NoError(t, err)
		assert.Equal(t, uint16(42), p.Opcode)
		assert.Equal(t, []byte("abcdef"), p.Payload)
		assert.Equal(t, 10, b.readCursor)
		assert.False(t, b.HasPendingData())
	})

	t.Run("extra trailing bytes do not affect readiness", func(t *testing.T) {
		b := New(64)
		appendRaw(t, b, encodePacket(t, 1, []byte("ab")))
		appendRaw(t, b, []byte{9, 0})
		assert.True(t, b.HasReadyPacket())

		_, err := b.ReadPacket()
		require.NoError(t, err)
		assert.False(t, b.HasReadyPacket())
	})
}

func TestPeekOpcode(t *testing.T) {
	t.Run("returns opcode without consuming", func(t *testing.T) {
		b := New(64)
		appendRaw(t, b, encodePacket(t, 77, []byte("hi")))

		opcode, ok := b.PeekOpcode()
		assert.True(t, ok)
		assert.Equal(t, uint16(77), opcode)
		assert.True(t, b.HasReadyPacket())
	})

	t.Run("reports absence with partial header", func(t *testing.T) {
		b := New(64)
		appendRaw(t, b, []byte{10, 0})
		_, ok := b.PeekOpcode()
		assert.False(t, ok)
	})
}

func TestReadPacket(t *testing.T) {
	t.Run("errors when nothing is ready", func(t *testing.T) {
		b := New(64)
		_, err := b.ReadPacket()
		assert.ErrorIs(t, err, ErrNoReadyPacket)
	})

	t.Run("errors on impossible declared length", func(t *testing.T) {
		b := New(64)
		appendRaw(t, b, []byte{2, 0, 1, 0})
		assert.True(t, b.HasReadyPacket())

		_, err := b.ReadPacket()
		assert.ErrorIs(t, err, ErrMalformedPacket)
	})

	t.Run("payload survives later buffer operations", func(t *testing.T) {
		b := New(64)
		appendRaw(t, b, encodePacket(t, 1, []byte("keep")))

		p, err := b.ReadPacket()
		require.NoError(t, err)

		appendRaw(t, b, encodePacket(t, 2, []byte("overwrite")))
		b.Compact()

		assert.Equal(t, []byte("keep"), p.Payload)
	})
}

func TestSetPacket(t *testing.T) {
	t.Run("round trip preserves order and bytes", func(t *testing.T) {
		b := New(1024)
		payloads := [][]byte{[]byte("first"), []byte("second"), {}, []byte("fourth")}

		for i, payload := range payloads {
			p := packet.Packet{Opcode: uint16(i), Payload: payload}
			require.NoError(t, b.SetPacket(&p))
		}

		for i, payload := range payloads {
			require.True(t, b.HasReadyPacket())
			p, err := b.ReadPacket()
			require.NoError(t, err)
			assert.Equal(t, uint16(i), p.Opcode)
			assert.Equal(t, len(payload), len(p.Payload))
			assert.Equal(t, append([]byte(nil), payload...), append([]byte(nil), p.Payload...))
		}

		assert.False(t, b.HasReadyPacket())
	})

	t.Run("overflow leaves buffer unchanged", func(t *testing.T) {
		b := New(16)
		p := packet.Packet{Opcode: 1, Payload: []byte("12345678")}
		require.NoError(t, b.SetPacket(&p))

		readBefore, writeBefore := b.readCursor, b.writeCursor
		big := packet.Packet{Opcode: 2, Payload: []byte("too large to fit")}
		assert.ErrorIs(t, b.SetPacket(&big), ErrEncodeOverflow)

		assert.Equal(t, readBefore, b.readCursor)
		assert.Equal(t, writeBefore, b.writeCursor)
		assert.True(t, b.HasPendingData())
	})
}

func TestRecordBytesSent(t *testing.T) {
	t.Run("partial sends advance the read cursor", func(t *testing.T) {
		b := New(64)
		p := packet.Packet{Opcode: 1, Payload: []byte("abcdef")}
		require.NoError(t, b.SetPacket(&p))
		total := b.Pending()

		require.NoError(t, b.RecordBytesSent(4))
		assert.Equal(t, total-4, b.Pending())
		assert.True(t, b.HasPendingData())
	})

	t.Run("draining fully resets the cursors", func(t *testing.T) {
		b := New(64)
		p := packet.Packet{Opcode: 1, Payload: []byte("abcdef")}
		require.NoError(t, b.SetPacket(&p))

		require.NoError(t, b.RecordBytesSent(b.Pending()))
		assert.False(t, b.HasPendingData())
		assert.Equal(t, 0, b.readCursor)
		assert.Equal(t, 0, b.writeCursor)
	})

	t.Run("overshoot is rejected without state change", func(t *testing.T) {
		b := New(64)
		appendRaw(t, b, []byte("abc"))
		assert.ErrorIs(t, b.RecordBytesSent(4), ErrShortBuffer)
		assert.Equal(t, 3, b.Pending())
	})
}

func TestIsLowOnSpace(t *testing.T) {
	t.Run("triggers below the chunk floor and compaction recovers", func(t *testing.T) {
		b := NewWithChunkFloor(32, 8)
		appendRaw(t, b, make([]byte, 28))
		assert.True(t, b.IsLowOnSpace())

		b.readCursor = 26 // consume most of the pending region
		b.Compact()
		assert.False(t, b.IsLowOnSpace())
		assert.Equal(t, 2, b.Pending())
	})
}
