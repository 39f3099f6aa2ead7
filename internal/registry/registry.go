package registry

import "sync"

// Channel is the live connection handle stored per user. Implemented by
// the server's websocket client wrapper; narrowed here so the registry
// and the delivery router can be exercised without a real socket.
type Channel interface {
	Push(v any) error
	Close() error
}

// ConnectionRegistry maps an authenticated user id to its single live
// channel. Entries are created on handshake and removed on close; the
// registry is never persisted and is rebuilt empty on restart.
type ConnectionRegistry struct {
	mu    sync.RWMutex
	conns map[int64]Channel
}

func New() *ConnectionRegistry {
	return &ConnectionRegistry{
		conns: make(map[int64]Channel),
	}
}

// Register stores the channel for userID and returns any channel it
// replaced. Last-connected-wins: a second device displaces the first,
// there is no multi-device fan-out.
func (r *ConnectionRegistry) Register(userID int64, ch Channel) (replaced Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.conns[userID]
	r.conns[userID] = ch
	return prev
}

// Deregister removes the entry for userID, but only if it still refers
// to ch. A stale close from a displaced connection must not evict the
// replacement.
func (r *ConnectionRegistry) Deregister(userID int64, ch Channel) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conns[userID] != ch {
		return false
	}
	delete(r.conns, userID)
	return true
}

// Lookup returns the live channel for userID, if any.
func (r *ConnectionRegistry) Lookup(userID int64) (Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ch, ok := r.conns[userID]
	return ch, ok
}

// Len reports the number of live connections.
func (r *ConnectionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
