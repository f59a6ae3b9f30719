package hub

import (
	"sync"
	"time"
)

// Connection is a registry entry
type Connection struct {
	UserID      int64
	Handle      Conn
	ConnectedAt time.Time
}

// Registry maps each online user to exactly one connection handle.
// The newest Register for a user wins; Unregister only removes the handle it is given.
type Registry struct {
	mu    sync.RWMutex
	conns map[int64]Connection
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{conns: make(map[int64]Connection)}
}

// Register records conn as the user's live connection and returns the handle it replaced, if any
func (r *Registry) Register(conn Conn) Conn {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, ok := r.conns[conn.UserID()]
	r.conns[conn.UserID()] = Connection{
		UserID:      conn.UserID(),
		Handle:      conn,
		ConnectedAt: time.Now(),
	}
	if ok && prev.Handle.ID() != conn.ID() {
		return prev.Handle
	}
	return nil
}

// Unregister removes the user's mapping only if it still points at conn.
// It reports whether a mapping was removed.
func (r *Registry) Unregister(conn Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.conns[conn.UserID()]
	if !ok || cur.Handle.ID() != conn.ID() {
		return false
	}
	delete(r.conns, conn.UserID())
	return true
}

// Lookup returns the user's live connection
func (r *Registry) Lookup(userID int64) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.conns[userID]
	if !ok {
		return nil, false
	}
	return c.Handle, true
}

// Status returns the registry entry for a user
func (r *Registry) Status(userID int64) (Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.conns[userID]
	return c, ok
}

// Snapshot returns the live handles of the given users in one consistent read.
// Offline users are absent from the result.
func (r *Registry) Snapshot(userIDs []int64) map[int64]Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[int64]Conn, len(userIDs))
	for _, id := range userIDs {
		if c, ok := r.conns[id]; ok {
			out[id] = c.Handle
		}
	}
	return out
}

// All returns every live handle
func (r *Registry) All() []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Conn, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c.Handle)
	}
	return out
}

// Len returns the number of online users
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
