// Package delivery implements the message delivery pipeline: the single
// send-message use case both transports delegate to, and the read-receipt
// operation. The pipeline persists the message, consults presence for the
// delivered transition, triggers the match timer and disclosure engine as
// side effects of the same send, and fans out real-time events.
//
// Real-time fan-out is fire-and-forget and at-most-once; durability comes
// solely from the persisted row.
package delivery

import (
	"context"
	"log"
	"time"

	"github.com/veil/chat-core/internal/apperr"
	"github.com/veil/chat-core/internal/conversation"
	"github.com/veil/chat-core/internal/message"
	"github.com/veil/chat-core/internal/metrics"
	"github.com/veil/chat-core/internal/store"
)

// ConversationStore is the conversation access the pipeline needs.
type ConversationStore interface {
	Get(ctx context.Context, id string) (*conversation.Conversation, error)
	Touch(ctx context.Context, convID string) error
}

// MessageStore is the message persistence the pipeline needs.
type MessageStore interface {
	Insert(ctx context.Context, m *message.Message) error
	MarkDelivered(ctx context.Context, id int64) (bool, error)
	MarkRead(ctx context.Context, convID, readerID string, ids []int64) ([]message.ReadReceipt, error)
}

// MatchRecorder is the match timer's bookkeeping surface.
type MatchRecorder interface {
	RecordFirstMessage(ctx context.Context, convID, senderID string) (bool, error)
	RecordReply(ctx context.Context, convID, senderID string) (bool, error)
}

// DisclosureRecorder counts messages toward disclosure thresholds.
type DisclosureRecorder interface {
	RecordMessage(ctx context.Context, conv *conversation.Conversation, senderID string) error
}

// Presence answers whether a user holds a live connection right now.
type Presence interface {
	IsOnline(userID string) bool
}

// Notifier publishes events to a user's private channel and typing
// indicators to a conversation's typing subject.
type Notifier interface {
	PublishToUser(userID string, data []byte) error
	PublishTyping(convID string, data []byte) error
}

// Pipeline is the shared send/read use case.
type Pipeline struct {
	convs      ConversationStore
	messages   MessageStore
	timer      MatchRecorder
	disclosure DisclosureRecorder
	presence   Presence
	notifier   Notifier
}

// NewPipeline wires the pipeline's collaborators.
func NewPipeline(convs ConversationStore, messages MessageStore, timer MatchRecorder, disclosure DisclosureRecorder, presence Presence, notifier Notifier) *Pipeline {
	return &Pipeline{
		convs:      convs,
		messages:   messages,
		timer:      timer,
		disclosure: disclosure,
		presence:   presence,
		notifier:   notifier,
	}
}

// SendInput is the transport-independent send request.
type SendInput struct {
	ConversationID string
	SenderID       string
	Type           string
	Content        string
	VoiceDuration  int // seconds, voice messages only
}

// Send runs the whole pipeline and returns the persisted message with its
// final status. Both the HTTP route and the WebSocket handler call this
// and nothing else, so the two transports cannot diverge.
func (p *Pipeline) Send(ctx context.Context, in SendInput) (*message.Message, error) {
	start := time.Now()

	if err := message.Validate(in.Type, in.Content, in.VoiceDuration); err != nil {
		metrics.MessagesTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}

	conv, err := p.convs.Get(ctx, in.ConversationID)
	if err != nil {
		metrics.MessagesTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}
	// Authorization is validated upstream, but membership is re-verified
	// here before any write.
	if !conv.IsParticipant(in.SenderID) {
		metrics.MessagesTotal.WithLabelValues("rejected").Inc()
		return nil, apperr.Authorization("sender is not a participant of this conversation")
	}

	msg := &message.Message{
		ConversationID:    conv.ID,
		SenderID:          in.SenderID,
		Type:              in.Type,
		Content:           in.Content,
		VoiceDurationSecs: in.VoiceDuration,
	}

	// A transient storage fault on the insert is retried once.
	err = store.RetryOnce(ctx, func(ctx context.Context) error {
		return p.messages.Insert(ctx, msg)
	})
	if err != nil {
		if store.IsTransient(err) {
			return nil, apperr.Transient("message could not be stored", err)
		}
		return nil, err
	}
	metrics.MessagesTotal.WithLabelValues("sent").Inc()

	if err := p.convs.Touch(ctx, conv.ID); err != nil {
		log.Printf("[delivery] touch conversation %s: %v", conv.ID, err)
	}

	// Delivered transition before the ack, when the recipient is online.
	recipient := conv.Partner(in.SenderID)
	if p.presence.IsOnline(recipient) {
		flipped, err := p.messages.MarkDelivered(ctx, msg.ID)
		if err != nil {
			log.Printf("[delivery] mark delivered message=%d: %v", msg.ID, err)
		} else if flipped {
			msg.Status = message.StatusDelivered
			metrics.MessagesTotal.WithLabelValues("delivered").Inc()
		}
	}

	p.recordSendEffects(ctx, conv, in.SenderID)

	// Fan out. The sender's ack is the return value; the recipient gets
	// new_message; the sender additionally gets a delivery receipt.
	p.publish(recipient, Event{
		Type:           EventNewMessage,
		ConversationID: conv.ID,
		Message:        msg,
	})
	if msg.Status == message.StatusDelivered {
		p.publish(in.SenderID, Event{
			Type:           EventMessageDelivered,
			ConversationID: conv.ID,
			MessageIDs:     []int64{msg.ID},
		})
	}

	metrics.SendLatency.Observe(time.Since(start).Seconds())
	return msg, nil
}

// recordSendEffects runs the match-timer and disclosure side effects of a
// send. The message is already durable at this point, so effect failures
// are logged rather than failing the send. A false return from the timer
// transitions is the expected "already happened" outcome and is silent.
func (p *Pipeline) recordSendEffects(ctx context.Context, conv *conversation.Conversation, senderID string) {
	first, err := p.timer.RecordFirstMessage(ctx, conv.ID, senderID)
	if err != nil {
		log.Printf("[delivery] record first message conv=%s: %v", conv.ID, err)
	}

	moved := first
	if !first {
		replied, err := p.timer.RecordReply(ctx, conv.ID, senderID)
		if err != nil {
			log.Printf("[delivery] record reply conv=%s: %v", conv.ID, err)
		}
		moved = replied
	}

	// A first message moves the match off the sender's "new matches"
	// surface; a reply moves it off both. Both clients get told so they
	// can refresh that view.
	if moved {
		ev := Event{Type: EventMatchMovedToChat, ConversationID: conv.ID}
		p.publish(conv.ParticipantA, ev)
		p.publish(conv.ParticipantB, ev)
	}

	if err := p.disclosure.RecordMessage(ctx, conv, senderID); err != nil {
		log.Printf("[delivery] record disclosure conv=%s: %v", conv.ID, err)
	}
}

// MarkRead flips the given messages to read for readerID and notifies the
// original senders. Messages the reader sent themselves are skipped. An
// empty id list is a no-op.
func (p *Pipeline) MarkRead(ctx context.Context, convID, readerID string, ids []int64) ([]int64, error) {
	conv, err := p.convs.Get(ctx, convID)
	if err != nil {
		return nil, err
	}
	if !conv.IsParticipant(readerID) {
		return nil, apperr.Authorization("reader is not a participant of this conversation")
	}

	receipts, err := p.messages.MarkRead(ctx, convID, readerID, ids)
	if err != nil {
		return nil, err
	}
	if len(receipts) == 0 {
		return nil, nil
	}

	bySender := make(map[string][]int64)
	updated := make([]int64, 0, len(receipts))
	for _, r := range receipts {
		bySender[r.SenderID] = append(bySender[r.SenderID], r.MessageID)
		updated = append(updated, r.MessageID)
	}
	for sender, msgIDs := range bySender {
		p.publish(sender, Event{
			Type:           EventMessagesRead,
			ConversationID: convID,
			MessageIDs:     msgIDs,
			ReadBy:         readerID,
		})
	}

	metrics.MessagesRead.Add(float64(len(updated)))
	return updated, nil
}

// Typing relays a typing indicator on the conversation's typing subject.
// Membership is verified here, the same as for sends: a typing event is a
// write into the conversation and must not be forgeable by outsiders who
// know the conversation ID. Publish failures are logged, not returned; the
// indicator is fire-and-forget like every other real-time emit.
func (p *Pipeline) Typing(ctx context.Context, convID, userID string, isTyping bool) error {
	conv, err := p.convs.Get(ctx, convID)
	if err != nil {
		return err
	}
	if !conv.IsParticipant(userID) {
		return apperr.Authorization("user is not a participant of this conversation")
	}

	ev := TypingEvent{
		Type:           EventUserTyping,
		ConversationID: conv.ID,
		UserID:         userID,
		IsTyping:       isTyping,
	}
	if err := p.notifier.PublishTyping(conv.ID, ev.Encode()); err != nil {
		log.Printf("[delivery] publish typing conv=%s: %v", conv.ID, err)
	}
	return nil
}

// publish is fire-and-forget: an emit that cannot reach the subscriber is
// never retried or queued.
func (p *Pipeline) publish(userID string, ev Event) {
	if err := p.notifier.PublishToUser(userID, ev.Encode()); err != nil {
		log.Printf("[delivery] publish %s to user=%s: %v", ev.Type, userID, err)
	}
}
