package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnknownKind is returned for frames whose type tag is outside the
// closed message set. Callers drop the frame and keep the connection.
var ErrUnknownKind = errors.New("unknown message kind")

type header struct {
	Type Kind `json:"type"`
}

// Decode parses one wire frame into its concrete message. A malformed
// frame or an unrecognized kind is an error; neither is fatal to the
// connection that produced it.
func Decode(data []byte) (Message, error) {
	var h header
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("decode frame header: %w", err)
	}

	var msg Message
	switch h.Type {
	case KindInitialCodeState:
		msg = &InitialCodeState{}
	case KindCodeChange:
		msg = &CodeChange{}
	case KindLanguageChange:
		msg = &LanguageChange{}
	case KindUserListUpdate:
		msg = &UserListUpdate{}
	case KindChatMessage:
		msg = &ChatMessage{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, h.Type)
	}

	if err := json.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", h.Type, err)
	}
	return msg, nil
}

// Encode serializes a message, stamping the type tag so callers cannot
// ship a frame whose tag disagrees with its Go type.
func Encode(msg Message) ([]byte, error) {
	switch m := msg.(type) {
	case *InitialCodeState:
		m.Type = KindInitialCodeState
	case *CodeChange:
		m.Type = KindCodeChange
	case *LanguageChange:
		m.Type = KindLanguageChange
	case *UserListUpdate:
		m.Type = KindUserListUpdate
	case *ChatMessage:
		m.Type = KindChatMessage
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownKind, msg)
	}
	return json.Marshal(msg)
}
