package server

import "sync"

// SessionRegistry is a concurrent map of live sessions keyed by session ID.
// It is safe for use by the accept loop, per-session goroutines, and any
// caller looking sessions up.
type SessionRegistry struct {
	m sync.Map
}

// NewSessionRegistry creates an empty registry.
//
// Returns:
//   - A new SessionRegistry
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{}
}

// Store adds or replaces the session for the given ID.
//
// Parameters:
//   - id: The session ID
//   - s: The session to store
func (r *SessionRegistry) Store(id uint32, s Session) {
	r.m.Store(id, s)
}

// Get returns the session for the given ID, if present.
//
// Parameters:
//   - id: The session ID to look up
//
// Returns:
//   - The session and true if found, or nil and false otherwise
func (r *SessionRegistry) Get(id uint32) (Session, bool) {
	v, ok := r.m.Load(id)
	if !ok {
		return nil, false
	}

	return v.(Session), true
}

// Delete removes the session for the given ID. It is a no-op if the ID is
// not present.
//
// Parameters:
//   - id: The session ID to remove
func (r *SessionRegistry) Delete(id uint32) {
	r.m.Delete(id)
}

// Range calls f for each registered session until f returns false.
//
// Parameters:
//   - f: Callback invoked per (id, session); return false to stop iteration
func (r *SessionRegistry) Range(f func(id uint32, s Session) bool) {
	r.m.Range(func(k, v any) bool {
		return f(k.(uint32), v.(Session))
	})
}

// Len returns the number of registered sessions. It is O(n).
//
// Returns:
//   - The current session count
func (r *SessionRegistry) Len() int {
	count := 0
	r.m.Range(func(_, _ any) bool {
		count++
		return true
	})

	return count
}
