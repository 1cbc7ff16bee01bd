// Package disclosure implements the progressive profile-disclosure engine:
// message-count thresholds plus per-user, per-level consent, combined into
// a bilateral visibility level. A level above 1 is visible to either party
// only when the conversation is deep enough AND both parties have accepted
// it; declining is never terminal, only re-askable.
package disclosure

import (
	"fmt"

	"github.com/veil/chat-core/internal/apperr"
)

// Level is a tier of profile field visibility unlocked per conversation.
type Level int

const (
	Level1 Level = 1
	Level2 Level = 2
	Level3 Level = 3
)

// Message-count thresholds for unlock consideration.
const (
	Level2Threshold = 5
	Level3Threshold = 10
)

// Threshold returns the total message count required for a level.
func Threshold(l Level) int {
	switch l {
	case Level2:
		return Level2Threshold
	case Level3:
		return Level3Threshold
	}
	return 0
}

// ConsentState is a user's per-level decision for one conversation.
type ConsentState string

const (
	ConsentNone     ConsentState = "none"
	ConsentAccepted ConsentState = "accepted"
	// ConsentDeclinedTemporary differs from none only in that the UI keeps
	// re-prompting instead of silently waiting.
	ConsentDeclinedTemporary ConsentState = "declined_temporary"
)

// Action tells the UI what to show a user for a given level.
type Action string

const (
	ActionFillInformation Action = "FILL_INFORMATION"
	ActionAskConsent      Action = "ASK_CONSENT"
	ActionNoAction        Action = "NO_ACTION"
)

// ConsentKey addresses one consent record. Keying by (user, level) keeps
// the model uniform for any number of participants instead of positional
// user1/user2 fields.
type ConsentKey struct {
	UserID string
	Level  Level
}

// State is the disclosure state of one conversation.
type State struct {
	ConversationID    string
	TotalMessageCount int
	CurrentLevel      Level
	MessageCounts     map[string]int // per-participant sent counts
	Consents          map[ConsentKey]ConsentState
}

// Consent returns the recorded consent state, defaulting to none.
func (s *State) Consent(userID string, level Level) ConsentState {
	if c, ok := s.Consents[ConsentKey{UserID: userID, Level: level}]; ok {
		return c
	}
	return ConsentNone
}

// bothActive reports whether every participant has sent at least one
// message. This keeps a one-sided flood from unlocking levels early.
func bothActive(s *State, participantA, participantB string) bool {
	return s.MessageCounts[participantA] >= 1 && s.MessageCounts[participantB] >= 1
}

// ComputeLevel derives the bilateral visibility level from counts and
// consents. It takes both participants (not a viewer/owner pair), so it is
// symmetric by construction.
func ComputeLevel(s *State, participantA, participantB string) Level {
	if s.TotalMessageCount < Level2Threshold || !bothActive(s, participantA, participantB) {
		return Level1
	}
	if s.Consent(participantA, Level2) != ConsentAccepted ||
		s.Consent(participantB, Level2) != ConsentAccepted {
		return Level1
	}
	if s.TotalMessageCount < Level3Threshold {
		return Level2
	}
	if s.Consent(participantA, Level3) != ConsentAccepted ||
		s.Consent(participantB, Level3) != ConsentAccepted {
		return Level2
	}
	return Level3
}

// Eligible reports whether a level is unlocked for consideration (count
// threshold met and both sides active), regardless of consent.
func Eligible(s *State, level Level, participantA, participantB string) bool {
	return s.TotalMessageCount >= Threshold(level) && bothActive(s, participantA, participantB)
}

// ComputeAction decides, on demand, what the UI should prompt a user with
// for a level. Nothing is latched: the answer is recomputed from the
// global questionnaire flag and the live consent record every call, so a
// temporary decline yields ASK_CONSENT again on the next load.
func ComputeAction(questionsCompleted bool, consent ConsentState) Action {
	if !questionsCompleted {
		return ActionFillInformation
	}
	if consent != ConsentAccepted {
		return ActionAskConsent
	}
	return ActionNoAction
}

// ParseLevel validates a consentable level from transport input.
func ParseLevel(n int) (Level, error) {
	switch n {
	case 2:
		return Level2, nil
	case 3:
		return Level3, nil
	}
	return 0, apperr.Validation(fmt.Sprintf("level %d is not consentable", n))
}
