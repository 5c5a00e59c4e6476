package protocol

// Wire messages exchanged over the editor websocket. Every frame is a
// JSON object tagged by a "type" field; field names match what the
// browser client sends and expects.

type Kind string

const (
	KindInitialCodeState Kind = "INITIAL_CODE_STATE"
	KindCodeChange       Kind = "CODE_CHANGE"
	KindLanguageChange   Kind = "LANGUAGE_CHANGE"
	KindUserListUpdate   Kind = "USER_LIST_UPDATE"
	KindChatMessage      Kind = "CHAT_MESSAGE"
)

// SenderServer marks frames originated by the hub rather than a user.
const SenderServer = "SERVER"

// Message is the closed set of frames the codec understands.
type Message interface {
	Kind() Kind
}

// InitialCodeState is sent once to a connection right after it attaches,
// carrying the authoritative document snapshot. Hub to client only.
type InitialCodeState struct {
	Type     Kind   `json:"type"`
	Content  string `json:"content"`
	Language string `json:"selectedLanguage"`
	Sender   string `json:"user"`
}

func (*InitialCodeState) Kind() Kind { return KindInitialCodeState }

// CodeChange replaces the whole document. Last writer wins; the carried
// priority is advisory only and never drives a merge.
type CodeChange struct {
	Type      Kind   `json:"type"`
	Content   string `json:"content"`
	Language  string `json:"selectedLanguage,omitempty"`
	Sender    string `json:"user"`
	SessionID string `json:"sessionId"`
	Priority  int    `json:"priority"`
}

func (*CodeChange) Kind() Kind { return KindCodeChange }

// LanguageChange switches the editing language without touching content.
type LanguageChange struct {
	Type      Kind   `json:"type"`
	Language  string `json:"selectedLanguage"`
	Sender    string `json:"user"`
	SessionID string `json:"sessionId"`
}

func (*LanguageChange) Kind() Kind { return KindLanguageChange }

// UserListUpdate carries the full current roster, never a delta. Clients
// diff it against their previous copy to derive join/leave notices.
type UserListUpdate struct {
	Type       Kind           `json:"type"`
	Users      []string       `json:"users"`
	Priorities map[string]int `json:"priorities"`
}

func (*UserListUpdate) Kind() Kind { return KindUserListUpdate }

// ChatMessage is echoed to every connection in the session, including
// the sender; ClientMessageID lets the sender drop its own echo.
type ChatMessage struct {
	Type            Kind   `json:"type"`
	Content         string `json:"content"`
	Sender          string `json:"user"`
	SessionID       string `json:"sessionId"`
	Timestamp       string `json:"timestamp"`
	ClientMessageID string `json:"clientMessageId"`
}

func (*ChatMessage) Kind() Kind { return KindChatMessage }
