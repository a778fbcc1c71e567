package client

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyberinferno/packetnet/handler"
	"github.com/cyberinferno/packetnet/packet"
	"github.com/cyberinferno/packetnet/server"
	"github.com/cyberinferno/packetnet/session"
)

const opcodeEcho = 1

// startEchoServer runs a server echoing opcode 1 packets back to the sender.
func startEchoServer(t *testing.T) *server.Server {
	t.Helper()

	manager := handler.NewManager()
	manager.Register(opcodeEcho, func(s *session.Session, p packet.Packet) error {
		return s.SendPacket(&packet.Packet{Opcode: opcodeEcho, Payload: p.Payload})
	})

	srv, err := server.New(server.Config{
		Name: "echo",
		Addr: "127.0.0.1:0",
		NewSession: func(id uint32, conn net.Conn) server.Session {
			return session.New(id, conn, manager, session.Config{})
		},
	})
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	t.Cleanup(srv.Stop)

	return srv
}

func TestConnect(t *testing.T) {
	t.Run("round trips a packet through an echo server", func(t *testing.T) {
		srv := startEchoServer(t)

		c := New(DefaultConfig(srv.Addr().String()))
		received := make(chan packet.Packet, 1)
		c.OnPacket(func(event PacketEvent) {
			received <- event.Packet
		})

		require.NoError(t, c.Connect())
		t.Cleanup(func() { _ = c.Close() })
		assert.True(t, c.IsConnected())

		p := packet.Packet{Opcode: opcodeEcho, Payload: []byte("ping")}
		require.NoError(t, c.SendPacket(&p))

		select {
		case echoed := <-received:
			assert.Equal(t, uint16(opcodeEcho), echoed.Opcode)
			assert.Equal(t, []byte("ping"), echoed.Payload)
		case <-time.After(2 * time.Second):
			t.Fatal("echo was not received")
		}
	})

	t.Run("dial failure reports an error and stays disconnected", func(t *testing.T) {
		cfg := DefaultConfig("127.0.0.1:1")
		cfg.ConnectTimeout = 200 * time.Millisecond

		c := New(cfg)
		assert.Error(t, c.Connect())
		assert.Equal(t, Disconnected, c.State())
	})

	t.Run("connect while connected is refused", func(t *testing.T) {
		srv := startEchoServer(t)

		c := New(DefaultConfig(srv.Addr().String()))
		require.NoError(t, c.Connect())
		t.Cleanup(func() { _ = c.Close() })

		assert.Error(t, c.Connect())
	})
}

func TestSendPacketDisconnected(t *testing.T) {
	t.Run("send before connect fails", func(t *testing.T) {
		c := New(DefaultConfig("127.0.0.1:1"))
		p := packet.Packet{Opcode: 1}
		assert.Error(t, c.SendPacket(&p))
	})
}

func TestClose(t *testing.T) {
	t.Run("idempotent and terminal", func(t *testing.T) {
		srv := startEchoServer(t)

		c := New(DefaultConfig(srv.Addr().String()))
		require.NoError(t, c.Connect())

		require.NoError(t, c.Close())
		require.NoError(t, c.Close())
		assert.Equal(t, Closed, c.State())

		assert.Error(t, c.Connect())
	})
}

func TestConnectionStateString(t *testing.T) {
	assert.Equal(t, "Disconnected", Disconnected.String())
	assert.Equal(t, "Connecting", Connecting.String())
	assert.Equal(t, "Connected", Connected.String())
	assert.Equal(t, "Closed", Closed.String())
	assert.Equal(t, "Unknown", ConnectionState(99).String())
}
