package session

import (
	"errors"
	"io"
	"syscall"
)

// ErrSessionClosed is returned by SendPacket once the session's socket has
// been shut down. No further I/O is posted after it is returned.
var ErrSessionClosed = errors.New("session: socket is closed")

// ShutdownMode selects which direction of the socket is half-shut before the
// socket is closed, mirroring the OS-level shutdown modes.
type ShutdownMode int

const (
	ShutdownReceive ShutdownMode = iota // Disable further receives, then close
	ShutdownSend                        // Disable further sends, then close
	ShutdownBoth                        // Disable both directions, then close
)

// String returns a human-readable name for the shutdown mode.
func (m ShutdownMode) String() string {
	switch m {
	case ShutdownReceive:
		return "shutdown_receive"
	case ShutdownSend:
		return "shutdown_send"
	case ShutdownBoth:
		return "shutdown_both"
	default:
		return "shutdown_unknown"
	}
}

// isPeerDisconnect reports whether err indicates the peer ended the stream
// (end-of-file or connection reset). Both sides of the socket are dead, so
// the session shuts down fully at informational severity.
func isPeerDisconnect(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE)
}

// isPeerAbort reports whether err indicates the connection was aborted before
// completing, also treated as a full disconnect at informational severity.
func isPeerAbort(err error) bool {
	return errors.Is(err, syscall.ECONNABORTED)
}
