package disclosure

import (
	"context"
	"strconv"

	"github.com/veil/chat-core/internal/apperr"
	"github.com/veil/chat-core/internal/conversation"
	"github.com/veil/chat-core/internal/metrics"
	"github.com/veil/chat-core/internal/profile"
)

// StateStore is the persistence surface the engine needs; the production
// implementation is *Store, tests substitute a fake.
type StateStore interface {
	EnsureState(ctx context.Context, convID string) error
	RecordMessage(ctx context.Context, convID, senderID, participantA, participantB string) (before, after Level, err error)
	SetConsent(ctx context.Context, convID, userID string, level Level, state ConsentState, participantA, participantB string) error
	LoadState(ctx context.Context, convID string) (*State, error)
}

// ConversationGetter loads conversations for membership checks.
type ConversationGetter interface {
	Get(ctx context.Context, id string) (*conversation.Conversation, error)
}

// FlagReader reads the global questionnaire-completion flags owned by the
// profile subsystem.
type FlagReader interface {
	Flags(ctx context.Context, userID string) (profile.Flags, error)
}

// Engine is the disclosure decision point for both transports.
type Engine struct {
	states StateStore
	convs  ConversationGetter
	flags  FlagReader
}

// NewEngine creates an Engine.
func NewEngine(states StateStore, convs ConversationGetter, flags FlagReader) *Engine {
	return &Engine{states: states, convs: convs, flags: flags}
}

// Init creates the disclosure row for a new conversation.
func (e *Engine) Init(ctx context.Context, convID string) error {
	return e.states.EnsureState(ctx, convID)
}

// RecordMessage counts a sent message against the conversation total and
// the sender's counter. The caller has already verified membership.
func (e *Engine) RecordMessage(ctx context.Context, conv *conversation.Conversation, senderID string) error {
	before, after, err := e.states.RecordMessage(ctx, conv.ID, senderID, conv.ParticipantA, conv.ParticipantB)
	if err != nil {
		return err
	}
	if after > before {
		metrics.DisclosureUnlocks.WithLabelValues(strconv.Itoa(int(after))).Inc()
	}
	return nil
}

// VisibleLevel returns the profile level viewerID may see of ownerID in
// this conversation. Both must be participants. The result is symmetric:
// swapping viewer and owner yields the same level, because the computation
// only depends on the pair.
func (e *Engine) VisibleLevel(ctx context.Context, convID, viewerID, ownerID string) (Level, error) {
	conv, err := e.convs.Get(ctx, convID)
	if err != nil {
		return 0, err
	}
	if !conv.IsParticipant(viewerID) || !conv.IsParticipant(ownerID) {
		return 0, apperr.Authorization("user is not a participant of this conversation")
	}

	state, err := e.states.LoadState(ctx, convID)
	if err != nil {
		return 0, err
	}
	return ComputeLevel(state, conv.ParticipantA, conv.ParticipantB), nil
}

// ActionFor computes, on demand, what the UI should prompt userID with for
// a level in this conversation. Nothing is latched; a declined consent
// keeps producing ASK_CONSENT until accepted. A level whose count
// threshold is not yet met (or where one side has not spoken) needs no
// prompt at all.
func (e *Engine) ActionFor(ctx context.Context, convID, userID string, level Level) (Action, error) {
	conv, err := e.convs.Get(ctx, convID)
	if err != nil {
		return "", err
	}
	if !conv.IsParticipant(userID) {
		return "", apperr.Authorization("user is not a participant of this conversation")
	}

	state, err := e.states.LoadState(ctx, convID)
	if err != nil {
		return "", err
	}
	if !Eligible(state, level, conv.ParticipantA, conv.ParticipantB) {
		return ActionNoAction, nil
	}
	// Level 3 prompts only once level 2 is actually visible.
	if level == Level3 && ComputeLevel(state, conv.ParticipantA, conv.ParticipantB) < Level2 {
		return ActionNoAction, nil
	}

	flags, err := e.flags.Flags(ctx, userID)
	if err != nil {
		return "", err
	}
	return ComputeAction(flags.Completed(int(level)), state.Consent(userID, level)), nil
}

// SetConsent records userID's decision for a level. Accepting stores
// ACCEPTED; declining stores DECLINED_TEMPORARY, never a permanent
// rejection.
func (e *Engine) SetConsent(ctx context.Context, convID, userID string, level Level, accepted bool) error {
	conv, err := e.convs.Get(ctx, convID)
	if err != nil {
		return err
	}
	if !conv.IsParticipant(userID) {
		return apperr.Authorization("user is not a participant of this conversation")
	}

	state := ConsentDeclinedTemporary
	if accepted {
		state = ConsentAccepted
	}
	return e.states.SetConsent(ctx, convID, userID, level, state, conv.ParticipantA, conv.ParticipantB)
}
