package session

import (
	"sync"

	"codesync/internal/metrics"
)

// Hub manages all active collaboration sessions. Sessions are created
// lazily on first reference and deleted by the gateway once their last
// connection detaches; there is no state shared between sessions.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewHub() *Hub { return &Hub{sessions: make(map[string]*Session)} }

func (h *Hub) GetOrCreate(id string) *Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.getOrCreateLocked(id)
}

func (h *Hub) getOrCreateLocked(id string) *Session {
	if s, ok := h.sessions[id]; ok {
		return s
	}
	s := NewSession(id)
	h.sessions[id] = s
	metrics.ActiveSessions.Inc()
	return s
}

// Attach resolves the session for id, creating it if needed, and
// attaches the client before releasing the hub lock. Holding the lock
// across both steps means a concurrent last-connection teardown can
// never hand the newcomer an entry that Delete is about to drop.
func (h *Hub) Attach(id string, c *Client) *Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := h.getOrCreateLocked(id)
	s.Attach(c)
	return s
}

func (h *Hub) Get(id string) (*Session, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.sessions[id]
	return s, ok
}

// Delete drops the session only if it is still empty and reports
// whether it did. A connection that attached after the caller observed
// the session drain keeps it alive.
func (h *Hub) Delete(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.sessions[id]
	if !ok || s.ClientCount() > 0 {
		return false
	}
	delete(h.sessions, id)
	metrics.ActiveSessions.Dec()
	return true
}

// GetDoc returns the stored document text for a session, if it exists.
func (h *Hub) GetDoc(sessionID string) (string, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.sessions[sessionID]
	if !ok {
		return "", false
	}
	content, _ := s.Snapshot()
	return content, true
}
