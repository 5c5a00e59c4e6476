package clientsync

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"codesync/internal/protocol"
)

// State is the connection lifecycle of one synchronizer instance.
// Disconnected is terminal; resuming a session means dialing a fresh
// connection with a fresh synchronizer.
type State string

const (
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
)

type NoticeKind string

const (
	NoticeInitialized     NoticeKind = "initialized"
	NoticeCodeUpdated     NoticeKind = "code_updated"
	NoticeLanguageUpdated NoticeKind = "language_updated"
	NoticeUserJoined      NoticeKind = "user_joined"
	NoticeUserLeft        NoticeKind = "user_left"
	NoticeChat            NoticeKind = "chat"
	NoticeDisconnected    NoticeKind = "disconnected"
)

// Notice is what the synchronizer surfaces to the UI layer: join/leave
// toasts, rendered chat entries, applied remote updates, and the final
// disconnect with its graceful flag.
type Notice struct {
	Kind     NoticeKind
	User     string
	Chat     *protocol.ChatMessage
	Graceful bool
}

// Synchronizer mirrors one session on the client side: local document,
// presence roster, and chat log. It applies inbound broadcasts, diffs
// roster updates against the previously seen list, suppresses the
// editor's reaction to programmatic updates, and drops the hub's echo
// of its own chat messages.
type Synchronizer struct {
	Identity  string
	SessionID string

	mu         sync.Mutex
	state      State
	content    string
	language   string
	users      []string
	priorities map[string]int
	myPriority int
	chat       []protocol.ChatMessage

	// suppressNext arms after every applied inbound code/language
	// update: the next local-edit event is the editor widget reporting
	// that programmatic update, not a user edit.
	suppressNext bool

	// lastSentChatID remembers the single outstanding chat send whose
	// echo should be swallowed. A second send before the first echo
	// arrives overwrites it, so the first echo renders twice; that is
	// a deliberate property of the protocol, not a bug here.
	lastSentChatID string
	chatSeq        int
}

func New(sessionID, identity string) *Synchronizer {
	return &Synchronizer{
		Identity:   identity,
		SessionID:  sessionID,
		state:      StateConnecting,
		priorities: map[string]int{},
	}
}

func (s *Synchronizer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// HandleOpen moves connecting → connected once the handshake succeeds.
func (s *Synchronizer) HandleOpen() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateConnecting {
		s.state = StateConnected
	}
}

// HandleClose moves to the terminal disconnected state and reports
// whether the close was a user-initiated leave (normal closure) or an
// unexpected drop.
func (s *Synchronizer) HandleClose(code int) Notice {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateDisconnected
	return Notice{Kind: NoticeDisconnected, Graceful: code == websocket.CloseNormalClosure}
}

// Apply folds one inbound broadcast into local state and returns the
// notices the UI should show for it.
func (s *Synchronizer) Apply(msg protocol.Message) []Notice {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch m := msg.(type) {
	case *protocol.InitialCodeState:
		s.content = m.Content
		s.language = m.Language
		s.suppressNext = true
		return []Notice{{Kind: NoticeInitialized}}

	case *protocol.CodeChange:
		if m.Sender == s.Identity {
			// A duplicate tab of this identity can surface our own
			// change; applying it is a no-op since we already have it.
			return nil
		}
		s.content = m.Content
		if m.Language != "" {
			s.language = m.Language
		}
		s.suppressNext = true
		return []Notice{{Kind: NoticeCodeUpdated, User: m.Sender}}

	case *protocol.LanguageChange:
		if m.Sender == s.Identity {
			return nil
		}
		s.language = m.Language
		s.suppressNext = true
		return []Notice{{Kind: NoticeLanguageUpdated, User: m.Sender}}

	case *protocol.UserListUpdate:
		return s.applyRosterLocked(m)

	case *protocol.ChatMessage:
		if m.ClientMessageID != "" && m.ClientMessageID == s.lastSentChatID {
			// Our own message echoed back; already rendered optimistically.
			s.lastSentChatID = ""
			return nil
		}
		s.chat = append(s.chat, *m)
		return []Notice{{Kind: NoticeChat, User: m.Sender, Chat: m}}
	}
	return nil
}

// applyRosterLocked replaces the roster and derives join/leave notices
// by set difference against the previously seen list. The hub always
// sends the full roster; the diffing is entirely client-side, and self
// transitions never produce a notice.
func (s *Synchronizer) applyRosterLocked(m *protocol.UserListUpdate) []Notice {
	prev := make(map[string]bool, len(s.users))
	for _, u := range s.users {
		prev[u] = true
	}
	next := make(map[string]bool, len(m.Users))
	for _, u := range m.Users {
		next[u] = true
	}

	var notices []Notice
	for _, u := range m.Users {
		if !prev[u] && u != s.Identity {
			notices = append(notices, Notice{Kind: NoticeUserJoined, User: u})
		}
	}
	for _, u := range s.users {
		if !next[u] && u != s.Identity {
			notices = append(notices, Notice{Kind: NoticeUserLeft, User: u})
		}
	}

	s.users = append([]string(nil), m.Users...)
	s.priorities = m.Priorities
	if s.priorities == nil {
		s.priorities = map[string]int{}
	}
	s.myPriority = s.priorities[s.Identity]
	return notices
}

// LocalEdit converts an editor change event into an outbound code
// change. It returns false when the event is the suppressed reaction to
// a just-applied programmatic update, or when not connected.
func (s *Synchronizer) LocalEdit(content string) (*protocol.CodeChange, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.suppressNext {
		s.suppressNext = false
		return nil, false
	}
	if s.state != StateConnected {
		return nil, false
	}
	s.content = content
	return &protocol.CodeChange{
		Content:   content,
		Language:  s.language,
		Sender:    s.Identity,
		SessionID: s.SessionID,
		Priority:  s.myPriority,
	}, true
}

// ChangeLanguage records a user-driven language switch and returns the
// outbound message for it.
func (s *Synchronizer) ChangeLanguage(language string) (*protocol.LanguageChange, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateConnected || language == "" {
		return nil, false
	}
	s.language = language
	return &protocol.LanguageChange{
		Language:  language,
		Sender:    s.Identity,
		SessionID: s.SessionID,
	}, true
}

// ComposeChat builds an outbound chat message, appends it to the local
// log immediately (optimistic render), and remembers its id so the
// hub's echo is dropped.
func (s *Synchronizer) ComposeChat(text string) (*protocol.ChatMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateConnected || text == "" {
		return nil, false
	}

	s.chatSeq++
	msg := &protocol.ChatMessage{
		Content:         text,
		Sender:          s.Identity,
		SessionID:       s.SessionID,
		Timestamp:       time.Now().Format("15:04:05"),
		ClientMessageID: fmt.Sprintf("%d-%s", s.chatSeq, uuid.NewString()[:8]),
	}
	s.lastSentChatID = msg.ClientMessageID
	s.chat = append(s.chat, *msg)
	return msg, true
}

// Document returns the local document mirror.
func (s *Synchronizer) Document() (content, language string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.content, s.language
}

// Users returns the last roster received from the hub.
func (s *Synchronizer) Users() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.users...)
}

// Priority returns this identity's advisory priority.
func (s *Synchronizer) Priority() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.myPriority
}

// ChatLog returns the rendered chat entries in order.
func (s *Synchronizer) ChatLog() []protocol.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]protocol.ChatMessage, len(s.chat))
	copy(out, s.chat)
	return out
}
