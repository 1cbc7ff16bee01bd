// Package presence tracks which users currently hold a live WebSocket
// connection. The registry is process-wide state with process lifetime:
// entries are added on connect, removed on disconnect, and the map is
// rebuilt empty on restart (everyone is offline until they reconnect).
// It only informs the delivery-receipt optimization, never durability.
package presence

import (
	"sync"

	"github.com/veil/chat-core/internal/metrics"
)

// Registry maps user IDs to their current connection ID.
type Registry struct {
	mu     sync.RWMutex
	online map[string]string // userID -> connection ID
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		online: make(map[string]string),
	}
}

// MarkOnline records that userID is reachable via connID. A reconnect
// simply overwrites the previous connection ID.
func (r *Registry) MarkOnline(userID, connID string) {
	r.mu.Lock()
	r.online[userID] = connID
	r.mu.Unlock()

	r.updateGauge()
}

// MarkOffline removes the user's entry, but only if it still belongs to
// connID. This keeps a slow disconnect cleanup from a stale connection
// from clobbering the entry of a newer one.
func (r *Registry) MarkOffline(userID, connID string) {
	r.mu.Lock()
	if cur, ok := r.online[userID]; ok && cur == connID {
		delete(r.online, userID)
	}
	r.mu.Unlock()

	r.updateGauge()
}

// IsOnline reports whether the user holds a live connection.
func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	_, ok := r.online[userID]
	r.mu.RUnlock()
	return ok
}

// ConnectionID returns the user's current connection ID, or "" if offline.
func (r *Registry) ConnectionID(userID string) string {
	r.mu.RLock()
	id := r.online[userID]
	r.mu.RUnlock()
	return id
}

// ListOnline returns a snapshot of all currently online user IDs.
func (r *Registry) ListOnline() []string {
	r.mu.RLock()
	users := make([]string, 0, len(r.online))
	for u := range r.online {
		users = append(users, u)
	}
	r.mu.RUnlock()
	return users
}

// Count returns the number of online users.
func (r *Registry) Count() int {
	r.mu.RLock()
	n := len(r.online)
	r.mu.RUnlock()
	return n
}

func (r *Registry) updateGauge() {
	metrics.OnlineUsers.Set(float64(r.Count()))
}
