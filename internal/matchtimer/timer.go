// Package matchtimer implements the per-conversation expiry clock and the
// first-message/reply bookkeeping behind the "new matches" surface. It is
// purely advisory: expiry hides a match from that surface but never
// revokes chat access.
package matchtimer

import (
	"context"

	"github.com/veil/chat-core/internal/conversation"
)

// ConversationStore is the slice of the conversation store the timer
// needs. The production implementation is *conversation.Store; tests
// substitute a fake.
type ConversationStore interface {
	Get(ctx context.Context, id string) (*conversation.Conversation, error)
	RecordFirstMessage(ctx context.Context, convID, senderID string) (bool, error)
	RecordReply(ctx context.Context, convID, senderID string) (bool, error)
	SweepExpired(ctx context.Context, batch int) (int, error)
}

// Timer coordinates match lifecycle transitions on top of the
// conversation store's conditional writes.
type Timer struct {
	store ConversationStore
}

// NewTimer creates a Timer over the given store.
func NewTimer(store ConversationStore) *Timer {
	return &Timer{store: store}
}

// RecordFirstMessage records senderID as the first-message sender if no
// first message exists yet. A false return means the transition already
// happened; that is an expected silent outcome, not an error.
func (t *Timer) RecordFirstMessage(ctx context.Context, convID, senderID string) (bool, error) {
	return t.store.RecordFirstMessage(ctx, convID, senderID)
}

// RecordReply records the reply timestamp if a first message exists, the
// sender differs from the first-message sender, and no reply is recorded
// yet. False means no transition, silently.
func (t *Timer) RecordReply(ctx context.Context, convID, senderID string) (bool, error) {
	return t.store.RecordReply(ctx, convID, senderID)
}

// VisibleAsNew reports whether the conversation should still appear on
// userID's "new matches" surface:
//
//   - never once the match expired or a reply landed (the conversation has
//     moved into the ordinary chat list),
//   - always while no message has been sent (both sides see a brand-new
//     match),
//   - with a first message and no reply, only for the user who owes the
//     reply.
func VisibleAsNew(conv *conversation.Conversation, userID string) bool {
	if conv.MatchExpired {
		return false
	}
	if conv.ReplyAt != nil {
		return false
	}
	if conv.FirstMessageAt == nil {
		return true
	}
	return conv.FirstMessageSenderID != userID
}

// VisibleAsNew is the method form, loading the conversation first.
func (t *Timer) VisibleAsNew(ctx context.Context, convID, userID string) (bool, error) {
	conv, err := t.store.Get(ctx, convID)
	if err != nil {
		return false, err
	}
	return VisibleAsNew(conv, userID), nil
}
