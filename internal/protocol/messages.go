// Package protocol defines the WebSocket message types and structures used
// for communication between the client and server. All messages are
// serialized as JSON and follow a consistent envelope format with a type
// discriminator.
//
// Events originating in the delivery pipeline (new_message,
// message_delivered, messages_read, match_moved_to_chat, user_status) are
// relayed to the client as published: their payloads already carry the
// type discriminator, so only connection-scoped messages are defined here.
package protocol

import (
	"encoding/json"
	"fmt"
)

// ---------------------------------------------------------------------------
// Message type constants
// ---------------------------------------------------------------------------

// Client -> Server message types.
const (
	TypeJoinConversation  = "join_conversation"
	TypeLeaveConversation = "leave_conversation"
	TypeTypingStart       = "typing_start"
	TypeTypingStop        = "typing_stop"
	TypeSendMessage       = "send_message"
	TypeMessageRead       = "message_read"
	TypeRequestUserStatus = "request_user_status"
	TypePing              = "ping"
)

// Server -> Client message types (connection-scoped; see package comment
// for the relayed pipeline events).
const (
	TypeConnected    = "connected"
	TypeMessageSent  = "message_sent"
	TypeUserTyping   = "user_typing"
	TypeUserStatus   = "user_status"
	TypeMessageError = "message_error"
	TypeRateLimited  = "rate_limited"
	TypePong         = "pong"
)

// ---------------------------------------------------------------------------
// Envelope — used for initial JSON parsing to extract the type discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the message type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON implements the json.Unmarshaler interface. It captures the
// full raw bytes and extracts only the "type" field so that the rest of
// the payload can be decoded later into the appropriate concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server message structs
// ---------------------------------------------------------------------------

// JoinConversationMsg subscribes the connection to a conversation's
// typing relay.
type JoinConversationMsg struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
}

// LeaveConversationMsg unsubscribes the connection from a conversation's
// typing relay.
type LeaveConversationMsg struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
}

// TypingMsg is sent for both typing_start and typing_stop.
type TypingMsg struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
}

// SendMessageMsg is the real-time entry to the send pipeline.
type SendMessageMsg struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
	MessageType    string `json:"message_type"` // "text" or "voice"
	Content        string `json:"content"`
	VoiceDuration  int    `json:"voice_duration,omitempty"` // seconds
}

// MessageReadMsg is the real-time entry to the read-receipt operation.
type MessageReadMsg struct {
	Type           string  `json:"type"`
	ConversationID string  `json:"conversation_id"`
	MessageIDs     []int64 `json:"message_ids"`
}

// RequestUserStatusMsg asks whether another user is currently online.
type RequestUserStatusMsg struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
}

// PingMsg is a client-initiated keepalive ping.
type PingMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Client message structs
// ---------------------------------------------------------------------------

// ConnectedMsg is sent by the server once the connection is authenticated
// and registered.
type ConnectedMsg struct {
	Type         string `json:"type"`
	UserID       string `json:"user_id"`
	ConnectionID string `json:"connection_id"`
}

// MessageSentMsg acknowledges a send to its initiator, carrying the
// persisted message with its final status.
type MessageSentMsg struct {
	Type    string      `json:"type"`
	Message interface{} `json:"message"`
}

// UserTypingMsg relays a participant's typing indicator.
type UserTypingMsg struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	IsTyping       bool   `json:"is_typing"`
}

// UserStatusMsg answers request_user_status.
type UserStatusMsg struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
	Online bool   `json:"online"`
}

// MessageErrorMsg reports a failed operation to the initiating connection
// without terminating it.
type MessageErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// RateLimitedMsg is sent when the client has been rate-limited.
type RateLimitedMsg struct {
	Type       string `json:"type"`
	RetryAfter int    `json:"retry_after"`
}

// PongMsg is the server's response to a client ping.
type PongMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientMessage parses raw WebSocket bytes into a typed client
// message. It returns the message type string, the decoded struct, and any
// error encountered during parsing. An error is returned for unknown or
// server-only message types.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeJoinConversation:
		var m JoinConversationMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeLeaveConversation:
		var m LeaveConversationMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeTypingStart, TypeTypingStop:
		var m TypingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeSendMessage:
		var m SendMessageMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeMessageRead:
		var m MessageReadMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeRequestUserStatus:
		var m RequestUserStatusMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePing:
		var m PingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client message type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// NewServerMessage creates a JSON-encoded byte slice for a server message.
// The msgType is injected into the payload under the "type" key.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["type"] = msgType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}
