package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/veil/chat-core/internal/apperr"
	"github.com/veil/chat-core/internal/conversation"
	"github.com/veil/chat-core/internal/message"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type fakeConvStore struct {
	conv *conversation.Conversation
}

func (f *fakeConvStore) Get(_ context.Context, id string) (*conversation.Conversation, error) {
	if f.conv == nil || f.conv.ID != id {
		return nil, apperr.NotFound("conversation not found")
	}
	return f.conv, nil
}

func (f *fakeConvStore) Touch(context.Context, string) error { return nil }

type fakeMsgStore struct {
	nextID    int64
	insertErr error
	delivered []int64
	receipts  []message.ReadReceipt
	readErr   error
}

func (f *fakeMsgStore) Insert(_ context.Context, m *message.Message) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.nextID++
	m.ID = f.nextID
	m.Status = message.StatusSent
	m.CreatedAt = time.Now()
	return nil
}

func (f *fakeMsgStore) MarkDelivered(_ context.Context, id int64) (bool, error) {
	f.delivered = append(f.delivered, id)
	return true, nil
}

func (f *fakeMsgStore) MarkRead(context.Context, string, string, []int64) ([]message.ReadReceipt, error) {
	return f.receipts, f.readErr
}

type fakeTimer struct {
	firstWins bool
	replyWins bool
	firstErr  error
}

func (f *fakeTimer) RecordFirstMessage(context.Context, string, string) (bool, error) {
	return f.firstWins, f.firstErr
}

func (f *fakeTimer) RecordReply(context.Context, string, string) (bool, error) {
	return f.replyWins, nil
}

type fakeDisclosure struct {
	calls int
}

func (f *fakeDisclosure) RecordMessage(context.Context, *conversation.Conversation, string) error {
	f.calls++
	return nil
}

type fakePresence struct {
	online map[string]bool
}

func (f *fakePresence) IsOnline(userID string) bool { return f.online[userID] }

type fakeNotifier struct {
	events map[string][]Event       // userID -> decoded events
	typing map[string][]TypingEvent // convID -> decoded typing events
}

func (f *fakeNotifier) PublishToUser(userID string, data []byte) error {
	if f.events == nil {
		f.events = make(map[string][]Event)
	}
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return err
	}
	f.events[userID] = append(f.events[userID], ev)
	return nil
}

func (f *fakeNotifier) PublishTyping(convID string, data []byte) error {
	if f.typing == nil {
		f.typing = make(map[string][]TypingEvent)
	}
	var ev TypingEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return err
	}
	f.typing[convID] = append(f.typing[convID], ev)
	return nil
}

func (f *fakeNotifier) eventTypes(userID string) []string {
	var types []string
	for _, ev := range f.events[userID] {
		types = append(types, ev.Type)
	}
	return types
}

func testConv() *conversation.Conversation {
	return &conversation.Conversation{
		ID:           "conv-1",
		ParticipantA: "alice",
		ParticipantB: "bob",
	}
}

func newTestPipeline(conv *conversation.Conversation, online ...string) (*Pipeline, *fakeMsgStore, *fakeTimer, *fakeDisclosure, *fakeNotifier) {
	presence := &fakePresence{online: make(map[string]bool)}
	for _, u := range online {
		presence.online[u] = true
	}
	msgs := &fakeMsgStore{}
	timer := &fakeTimer{}
	disc := &fakeDisclosure{}
	notifier := &fakeNotifier{}
	p := NewPipeline(&fakeConvStore{conv: conv}, msgs, timer, disc, presence, notifier)
	return p, msgs, timer, disc, notifier
}

// ---------------------------------------------------------------------------
// Send
// ---------------------------------------------------------------------------

func TestSend_RecipientOnlineDeliversBeforeAck(t *testing.T) {
	p, msgs, _, _, notifier := newTestPipeline(testConv(), "bob")

	msg, err := p.Send(context.Background(), SendInput{
		ConversationID: "conv-1",
		SenderID:       "alice",
		Type:           message.TypeText,
		Content:        "hey",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// The returned ack already carries the delivered status.
	if msg.Status != message.StatusDelivered {
		t.Errorf("expected delivered status in the ack, got %s", msg.Status)
	}
	if len(msgs.delivered) != 1 || msgs.delivered[0] != msg.ID {
		t.Errorf("expected delivered transition for message %d, got %v", msg.ID, msgs.delivered)
	}

	// Recipient gets new_message; sender gets the delivery receipt.
	if got := notifier.eventTypes("bob"); len(got) != 1 || got[0] != EventNewMessage {
		t.Errorf("bob events: %v", got)
	}
	if got := notifier.eventTypes("alice"); len(got) != 1 || got[0] != EventMessageDelivered {
		t.Errorf("alice events: %v", got)
	}
}

func TestSend_RecipientOfflineStaysSent(t *testing.T) {
	p, msgs, _, _, notifier := newTestPipeline(testConv())

	msg, err := p.Send(context.Background(), SendInput{
		ConversationID: "conv-1",
		SenderID:       "alice",
		Type:           message.TypeText,
		Content:        "hey",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if msg.Status != message.StatusSent {
		t.Errorf("expected sent status for offline recipient, got %s", msg.Status)
	}
	if len(msgs.delivered) != 0 {
		t.Errorf("no delivered transition expected, got %v", msgs.delivered)
	}
	// new_message still goes to the recipient's channel for when they return
	// mid-publish; the sender gets no delivery receipt.
	if got := notifier.eventTypes("bob"); len(got) != 1 || got[0] != EventNewMessage {
		t.Errorf("bob should still receive new_message, got %v", got)
	}
	if got := notifier.eventTypes("alice"); len(got) != 0 {
		t.Errorf("alice should receive no events, got %v", got)
	}
}

func TestSend_InvalidContentRejected(t *testing.T) {
	p, msgs, _, _, _ := newTestPipeline(testConv())

	_, err := p.Send(context.Background(), SendInput{
		ConversationID: "conv-1",
		SenderID:       "alice",
		Type:           message.TypeText,
		Content:        "",
	})
	if err == nil {
		t.Fatal("expected validation error")
	}
	if apperr.CodeOf(err) != apperr.CodeValidation {
		t.Errorf("expected validation code, got %s", apperr.CodeOf(err))
	}
	if msgs.nextID != 0 {
		t.Error("rejected message must not be persisted")
	}
}

func TestSend_NonParticipantRejected(t *testing.T) {
	p, msgs, _, _, _ := newTestPipeline(testConv())

	_, err := p.Send(context.Background(), SendInput{
		ConversationID: "conv-1",
		SenderID:       "mallory",
		Type:           message.TypeText,
		Content:        "hi",
	})
	if err == nil {
		t.Fatal("expected authorization error")
	}
	if apperr.CodeOf(err) != apperr.CodeAuthorization {
		t.Errorf("expected authorization code, got %s", apperr.CodeOf(err))
	}
	if msgs.nextID != 0 {
		t.Error("unauthorized message must not be persisted")
	}
}

func TestSend_UnknownConversation(t *testing.T) {
	p, _, _, _, _ := newTestPipeline(testConv())

	_, err := p.Send(context.Background(), SendInput{
		ConversationID: "missing",
		SenderID:       "alice",
		Type:           message.TypeText,
		Content:        "hi",
	})
	if apperr.CodeOf(err) != apperr.CodeNotFound {
		t.Errorf("expected not_found, got %v", err)
	}
}

func TestSend_InsertFailureFailsSend(t *testing.T) {
	p, msgs, _, disc, notifier := newTestPipeline(testConv(), "bob")
	msgs.insertErr = errors.New("unique constraint blown")

	_, err := p.Send(context.Background(), SendInput{
		ConversationID: "conv-1",
		SenderID:       "alice",
		Type:           message.TypeText,
		Content:        "hi",
	})
	if err == nil {
		t.Fatal("expected error when persistence fails")
	}
	if disc.calls != 0 {
		t.Error("side effects must not run for an unpersisted message")
	}
	if len(notifier.events) != 0 {
		t.Errorf("no events expected, got %v", notifier.events)
	}
}

func TestSend_FirstMessageNotifiesBothOfMove(t *testing.T) {
	p, _, timer, _, notifier := newTestPipeline(testConv())
	timer.firstWins = true

	if _, err := p.Send(context.Background(), SendInput{
		ConversationID: "conv-1",
		SenderID:       "alice",
		Type:           message.TypeText,
		Content:        "hi",
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, user := range []string{"alice", "bob"} {
		found := false
		for _, typ := range notifier.eventTypes(user) {
			if typ == EventMatchMovedToChat {
				found = true
			}
		}
		if !found {
			t.Errorf("%s did not receive match_moved_to_chat: %v", user, notifier.eventTypes(user))
		}
	}
}

func TestSend_ReplyNotifiesBothOfMove(t *testing.T) {
	p, _, timer, _, notifier := newTestPipeline(testConv())
	timer.replyWins = true // first message already recorded earlier

	if _, err := p.Send(context.Background(), SendInput{
		ConversationID: "conv-1",
		SenderID:       "bob",
		Type:           message.TypeText,
		Content:        "hi back",
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := notifier.eventTypes("alice"); len(got) == 0 || got[0] != EventMatchMovedToChat {
		t.Errorf("alice events: %v", got)
	}
}

func TestSend_OrdinaryMessageNoMoveEvent(t *testing.T) {
	p, _, _, disc, notifier := newTestPipeline(testConv())

	if _, err := p.Send(context.Background(), SendInput{
		ConversationID: "conv-1",
		SenderID:       "alice",
		Type:           message.TypeText,
		Content:        "third message",
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, ev := range notifier.events["alice"] {
		if ev.Type == EventMatchMovedToChat {
			t.Error("no move event expected when neither transition won")
		}
	}
	if disc.calls != 1 {
		t.Errorf("disclosure should be recorded once, got %d", disc.calls)
	}
}

func TestSend_TimerFailureDoesNotFailSend(t *testing.T) {
	p, _, timer, _, _ := newTestPipeline(testConv())
	timer.firstErr = errors.New("timer table locked")

	msg, err := p.Send(context.Background(), SendInput{
		ConversationID: "conv-1",
		SenderID:       "alice",
		Type:           message.TypeText,
		Content:        "hi",
	})
	if err != nil {
		t.Fatalf("a side-effect failure must not fail a durable send: %v", err)
	}
	if msg.ID == 0 {
		t.Error("message should have been persisted")
	}
}

// ---------------------------------------------------------------------------
// MarkRead
// ---------------------------------------------------------------------------

func TestMarkRead_NotifiesSendersGrouped(t *testing.T) {
	p, msgs, _, _, notifier := newTestPipeline(testConv())
	msgs.receipts = []message.ReadReceipt{
		{MessageID: 1, SenderID: "alice"},
		{MessageID: 2, SenderID: "alice"},
	}

	updated, err := p.MarkRead(context.Background(), "conv-1", "bob", []int64{1, 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(updated) != 2 {
		t.Errorf("expected 2 updated ids, got %v", updated)
	}

	events := notifier.events["alice"]
	if len(events) != 1 {
		t.Fatalf("expected one grouped messages_read event, got %d", len(events))
	}
	ev := events[0]
	if ev.Type != EventMessagesRead || ev.ReadBy != "bob" || len(ev.MessageIDs) != 2 {
		t.Errorf("unexpected event: %+v", ev)
	}
}

func TestMarkRead_NothingFlippedIsQuiet(t *testing.T) {
	p, _, _, _, notifier := newTestPipeline(testConv())

	updated, err := p.MarkRead(context.Background(), "conv-1", "bob", []int64{9})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated != nil {
		t.Errorf("expected no updates, got %v", updated)
	}
	if len(notifier.events) != 0 {
		t.Errorf("no events expected, got %v", notifier.events)
	}
}

func TestMarkRead_NonParticipantRejected(t *testing.T) {
	p, _, _, _, _ := newTestPipeline(testConv())

	_, err := p.MarkRead(context.Background(), "conv-1", "mallory", []int64{1})
	if apperr.CodeOf(err) != apperr.CodeAuthorization {
		t.Errorf("expected authorization error, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// Typing
// ---------------------------------------------------------------------------

func TestTyping_ParticipantRelayed(t *testing.T) {
	p, _, _, _, notifier := newTestPipeline(testConv())

	if err := p.Typing(context.Background(), "conv-1", "alice", true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := p.Typing(context.Background(), "conv-1", "alice", false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	events := notifier.typing["conv-1"]
	if len(events) != 2 {
		t.Fatalf("expected 2 typing events, got %d", len(events))
	}
	start, stop := events[0], events[1]
	if start.Type != EventUserTyping || start.UserID != "alice" || !start.IsTyping {
		t.Errorf("unexpected start event: %+v", start)
	}
	if stop.Type != EventUserTyping || stop.UserID != "alice" || stop.IsTyping {
		t.Errorf("unexpected stop event: %+v", stop)
	}
}

func TestTyping_NonParticipantRejected(t *testing.T) {
	p, _, _, _, notifier := newTestPipeline(testConv())

	err := p.Typing(context.Background(), "conv-1", "mallory", true)
	if apperr.CodeOf(err) != apperr.CodeAuthorization {
		t.Errorf("expected authorization error, got %v", err)
	}
	if len(notifier.typing) != 0 {
		t.Errorf("nothing should be published for an outsider, got %v", notifier.typing)
	}
}

func TestTyping_UnknownConversation(t *testing.T) {
	p, _, _, _, notifier := newTestPipeline(testConv())

	err := p.Typing(context.Background(), "missing", "alice", true)
	if apperr.CodeOf(err) != apperr.CodeNotFound {
		t.Errorf("expected not_found, got %v", err)
	}
	if len(notifier.typing) != 0 {
		t.Errorf("nothing should be published, got %v", notifier.typing)
	}
}
