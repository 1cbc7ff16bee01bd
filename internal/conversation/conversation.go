// Package conversation owns the conversation rows: the normalized
// participant pair, the match-expiry clock, and the first-message/reply
// bookkeeping. All "first one wins" transitions are single conditional
// UPDATEs so concurrent callers cannot both observe success.
package conversation

import (
	"time"
)

// MatchWindow is how long a new match stays visible on the "new matches"
// surface without a reply before the sweep hides it.
const MatchWindow = 7 * 24 * time.Hour

// Conversation is one matched pair and its lifecycle state.
type Conversation struct {
	ID                   string
	ParticipantA         string // always the lexically lower user ID
	ParticipantB         string
	MatchCreatedAt       time.Time
	MatchExpiresAt       time.Time
	MatchExpired         bool
	FirstMessageAt       *time.Time
	FirstMessageSenderID string // empty until a first message exists
	ReplyAt              *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// NormalizePair orders two user IDs so the lower one comes first. Lookups
// by pair are deterministic regardless of which side initiated.
func NormalizePair(u1, u2 string) (string, string) {
	if u2 < u1 {
		return u2, u1
	}
	return u1, u2
}

// IsParticipant reports whether userID is one of the two participants.
func (c *Conversation) IsParticipant(userID string) bool {
	return userID == c.ParticipantA || userID == c.ParticipantB
}

// Partner returns the other participant's ID, or "" if userID is not a
// participant.
func (c *Conversation) Partner(userID string) string {
	switch userID {
	case c.ParticipantA:
		return c.ParticipantB
	case c.ParticipantB:
		return c.ParticipantA
	}
	return ""
}
