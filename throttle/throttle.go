// Package throttle limits how often a remote host may open new connections.
// Attempt counts live in a TTL cache so the window slides for free; a
// separate ban set rejects hosts outright until they are unbanned.
package throttle

import (
	"net"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

const (
	// DefaultMaxAttempts is the default number of connections a single host
	// may open inside one window.
	DefaultMaxAttempts = 20

	// DefaultWindow is the default length of the counting window.
	DefaultWindow = time.Minute
)

// Limiter counts connection attempts per remote host inside a rolling TTL
// window and tracks permanently banned hosts. It is safe for concurrent use
// by the accept loop and any administrative caller.
type Limiter struct {
	attempts *cache.Cache
	max      int

	mu     sync.RWMutex
	banned map[string]struct{}
}

// NewLimiter creates a Limiter allowing up to max attempts per host within
// each window.
//
// Parameters:
//   - max: Attempts allowed per host per window; values < 1 use DefaultMaxAttempts
//   - window: Length of the counting window; values <= 0 use DefaultWindow
//
// Returns:
//   - A new Limiter with an empty ban set
func NewLimiter(max int, window time.Duration) *Limiter {
	if max < 1 {
		max = DefaultMaxAttempts
	}

	if window <= 0 {
		window = DefaultWindow
	}

	return &Limiter{
		attempts: cache.New(window, 2*window),
		max:      max,
		banned:   make(map[string]struct{}),
	}
}

// Allow records one connection attempt from addr and reports whether the
// connection should be accepted. Banned hosts are always rejected; other
// hosts are rejected once they exceed the per-window attempt limit.
//
// Parameters:
//   - addr: The remote address, either "host:port" or a bare host
//
// Returns:
//   - true if the connection may proceed
func (l *Limiter) Allow(addr string) bool {
	host := hostOnly(addr)

	l.mu.RLock()
	_, isBanned := l.banned[host]
	l.mu.RUnlock()

	if isBanned {
		return false
	}

	if _, found := l.attempts.Get(host); !found {
		l.attempts.SetDefault(host, 1)
		return true
	}

	n, err := l.attempts.IncrementInt(host, 1)
	if err != nil {
		// Entry expired between Get and Increment; start a fresh window.
		l.attempts.SetDefault(host, 1)
		return true
	}

	return n <= l.max
}

// Ban rejects all future connections from addr's host until Unban is called.
//
// Parameters:
//   - addr: The remote address, either "host:port" or a bare host
func (l *Limiter) Ban(addr string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.banned[hostOnly(addr)] = struct{}{}
}

// Unban removes addr's host from the ban set. It is a no-op for hosts that
// are not banned.
//
// Parameters:
//   - addr: The remote address, either "host:port" or a bare host
func (l *Limiter) Unban(addr string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.banned, hostOnly(addr))
}

// IsBanned reports whether addr's host is currently banned.
//
// Parameters:
//   - addr: The remote address, either "host:port" or a bare host
//
// Returns:
//   - true if the host is in the ban set
func (l *Limiter) IsBanned(addr string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.banned[hostOnly(addr)]
	return ok
}

// hostOnly strips the port from "host:port" addresses; bare hosts pass
// through unchanged.
func hostOnly(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}

	return host
}
