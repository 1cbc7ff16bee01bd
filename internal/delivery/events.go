package delivery

import (
	"encoding/json"

	"github.com/veil/chat-core/internal/message"
)

// Event types published on user.<id> subjects. The WebSocket layer relays
// them to the client verbatim, so the names match the outbound protocol.
const (
	EventNewMessage       = "new_message"
	EventMessageDelivered = "message_delivered"
	EventMessagesRead     = "messages_read"
	EventMatchMovedToChat = "match_moved_to_chat"
	EventUserStatus       = "user_status"
	EventUserTyping       = "user_typing"
)

// Event is the payload carried on a user's private channel.
type Event struct {
	Type           string           `json:"type"`
	ConversationID string           `json:"conversation_id,omitempty"`
	Message        *message.Message `json:"message,omitempty"`
	MessageIDs     []int64          `json:"message_ids,omitempty"`
	ReadBy         string           `json:"read_by,omitempty"`
	UserID         string           `json:"user_id,omitempty"`
	Online         bool             `json:"online,omitempty"`
}

// Encode marshals the event for publishing.
func (e Event) Encode() []byte {
	data, _ := json.Marshal(e)
	return data
}

// TypingEvent is the payload carried on a conversation's typing subject.
// It is a distinct shape because is_typing=false is meaningful and must
// not be omitted.
type TypingEvent struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	IsTyping       bool   `json:"is_typing"`
}

// Encode marshals the typing event for publishing.
func (e TypingEvent) Encode() []byte {
	data, _ := json.Marshal(e)
	return data
}
