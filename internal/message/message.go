// Package message owns chat message rows and their delivery state machine.
// Status only ever advances sent -> delivered -> read; every transition is
// a conditional UPDATE so a late delivery receipt can never regress a
// message that was already read.
package message

import (
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/veil/chat-core/internal/apperr"
)

// Message types.
const (
	TypeText  = "text"
	TypeVoice = "voice"
)

// Status is the delivery state of a message.
type Status string

const (
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
)

// rank orders statuses for monotonicity checks.
func (s Status) rank() int {
	switch s {
	case StatusSent:
		return 0
	case StatusDelivered:
		return 1
	case StatusRead:
		return 2
	}
	return -1
}

// CanAdvanceTo reports whether moving from s to next is a forward
// transition in the sent -> delivered -> read machine.
func (s Status) CanAdvanceTo(next Status) bool {
	return s.rank() >= 0 && next.rank() > s.rank()
}

// Content limits, matching what the clients enforce.
const (
	MaxContentBytes = 4096
	MaxContentChars = 2000
)

// Message is one persisted chat message.
type Message struct {
	ID                int64      `json:"id"`
	ConversationID    string     `json:"conversation_id"`
	SenderID          string     `json:"sender_id"`
	Type              string     `json:"type"`
	Content           string     `json:"content"`
	VoiceDurationSecs int        `json:"voice_duration_secs,omitempty"`
	Status            Status     `json:"status"`
	CreatedAt         time.Time  `json:"created_at"`
	ReadAt            *time.Time `json:"read_at,omitempty"`
}

// Validate checks type and content before persistence.
func Validate(msgType, content string, voiceDuration int) error {
	if msgType != TypeText && msgType != TypeVoice {
		return apperr.Validation(fmt.Sprintf("unsupported message type %q", msgType))
	}
	if len(content) == 0 {
		return apperr.Validation("message content is empty")
	}
	if len(content) > MaxContentBytes {
		return apperr.Validation(fmt.Sprintf("message exceeds %d byte limit", MaxContentBytes))
	}
	if utf8.RuneCountInString(content) > MaxContentChars {
		return apperr.Validation(fmt.Sprintf("message exceeds %d character limit", MaxContentChars))
	}
	if !utf8.ValidString(content) {
		return apperr.Validation("message contains invalid UTF-8")
	}
	if msgType == TypeVoice && voiceDuration <= 0 {
		return apperr.Validation("voice message requires a positive duration")
	}
	return nil
}
