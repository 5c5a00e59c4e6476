package session

import (
	"sort"
	"sync"

	"codesync/internal/metrics"
	"codesync/internal/protocol"
)

// DefaultLanguage is what a fresh session's document starts with; it
// mirrors the editor's initial language tab.
const DefaultLanguage = "javascript"

type presenceEntry struct {
	priority int
	conns    int
}

// Session owns the authoritative state for one collaboration session:
// the document, the roster, the chat history, and the set of attached
// connections. Every mutation runs under one mutex so inbound messages
// for a session are applied and broadcast in a single total order.
type Session struct {
	ID string

	mu           sync.Mutex
	clients      map[*Client]struct{}
	roster       map[string]*presenceEntry
	nextPriority int
	content      string
	language     string
	chat         []protocol.ChatMessage
}

func NewSession(id string) *Session {
	return &Session{
		ID:           id,
		clients:      make(map[*Client]struct{}),
		roster:       make(map[string]*presenceEntry),
		nextPriority: 1,
		language:     DefaultLanguage,
	}
}

// Attach registers the connection, creates the identity's roster entry
// on its first connection, sends the newcomer the current document
// snapshot, and broadcasts the updated roster to everyone including
// the newcomer.
func (s *Session) Attach(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.clients[c] = struct{}{}
	entry, ok := s.roster[c.Identity]
	if !ok {
		entry = &presenceEntry{priority: s.nextPriority}
		s.nextPriority++
		s.roster[c.Identity] = entry
	}
	entry.conns++

	c.Send(&protocol.InitialCodeState{
		Content:  s.content,
		Language: s.language,
		Sender:   protocol.SenderServer,
	})
	s.broadcastRosterLocked()
	metrics.ConnectionsAttached.Inc()
}

// Detach removes the connection and, when it was the identity's last
// one, drops the roster entry and broadcasts the shrunken roster. It is
// idempotent and returns the number of connections left so the caller
// can dispose of an empty session.
func (s *Session) Detach(c *Client) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.clients[c]; !ok {
		return len(s.clients)
	}
	delete(s.clients, c)

	if entry, ok := s.roster[c.Identity]; ok {
		entry.conns--
		if entry.conns <= 0 {
			delete(s.roster, c.Identity)
		}
	}
	if len(s.clients) > 0 {
		s.broadcastRosterLocked()
	}
	metrics.ConnectionsDetached.Inc()
	return len(s.clients)
}

// Handle applies one inbound message from the given connection. Code
// and language changes are last-writer-wins and go to every other
// connection; chat is appended to history and echoed to everyone,
// including the sender, whose own client drops the echo. Hub-originated
// kinds arriving from a client are ignored.
func (s *Session) Handle(c *Client, msg protocol.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch m := msg.(type) {
	case *protocol.CodeChange:
		s.content = m.Content
		if m.Language != "" {
			s.language = m.Language
		}
		s.broadcastLocked(c, m)
	case *protocol.LanguageChange:
		if m.Language == "" {
			return
		}
		s.language = m.Language
		s.broadcastLocked(c, m)
	case *protocol.ChatMessage:
		s.chat = append(s.chat, *m)
		s.broadcastLocked(nil, m)
	}
}

// broadcastLocked delivers to every attached connection except skip;
// a nil skip reaches everyone. Caller holds s.mu. Send never blocks,
// so holding the lock across the fanout keeps delivery order identical
// to apply order for all recipients.
func (s *Session) broadcastLocked(skip *Client, msg protocol.Message) {
	for c := range s.clients {
		if c == skip {
			continue
		}
		c.Send(msg)
	}
	metrics.MessagesBroadcast.WithLabelValues(string(msg.Kind())).Inc()
}

func (s *Session) broadcastRosterLocked() {
	s.broadcastLocked(nil, s.userListLocked())
}

func (s *Session) userListLocked() *protocol.UserListUpdate {
	users := make([]string, 0, len(s.roster))
	priorities := make(map[string]int, len(s.roster))
	for identity, entry := range s.roster {
		users = append(users, identity)
		priorities[identity] = entry.priority
	}
	sort.Strings(users)
	return &protocol.UserListUpdate{Users: users, Priorities: priorities}
}

// UserList returns the current roster as it would be broadcast.
func (s *Session) UserList() *protocol.UserListUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userListLocked()
}

// Snapshot returns the current document content and language.
func (s *Session) Snapshot() (content, language string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.content, s.language
}

// ChatHistory returns a copy of the append-only chat log.
func (s *Session) ChatHistory() []protocol.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]protocol.ChatMessage, len(s.chat))
	copy(out, s.chat)
	return out
}

func (s *Session) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}
