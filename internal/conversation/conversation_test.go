package conversation

import (
	"testing"
	"time"
)

func TestNormalizePair(t *testing.T) {
	a, b := NormalizePair("bob", "alice")
	if a != "alice" || b != "bob" {
		t.Errorf("expected (alice, bob), got (%s, %s)", a, b)
	}

	// Already ordered input stays put.
	a, b = NormalizePair("alice", "bob")
	if a != "alice" || b != "bob" {
		t.Errorf("expected (alice, bob), got (%s, %s)", a, b)
	}
}

func TestNormalizePair_Deterministic(t *testing.T) {
	a1, b1 := NormalizePair("user-9", "user-10")
	a2, b2 := NormalizePair("user-10", "user-9")
	if a1 != a2 || b1 != b2 {
		t.Errorf("pair order depends on argument order: (%s,%s) vs (%s,%s)", a1, b1, a2, b2)
	}
}

func TestIsParticipant(t *testing.T) {
	c := &Conversation{ParticipantA: "alice", ParticipantB: "bob"}

	if !c.IsParticipant("alice") || !c.IsParticipant("bob") {
		t.Error("both participants should be recognized")
	}
	if c.IsParticipant("mallory") {
		t.Error("outsider should not be a participant")
	}
	if c.IsParticipant("") {
		t.Error("empty user id should not be a participant")
	}
}

func TestPartner(t *testing.T) {
	c := &Conversation{ParticipantA: "alice", ParticipantB: "bob"}

	if got := c.Partner("alice"); got != "bob" {
		t.Errorf("expected bob, got %q", got)
	}
	if got := c.Partner("bob"); got != "alice" {
		t.Errorf("expected alice, got %q", got)
	}
	if got := c.Partner("mallory"); got != "" {
		t.Errorf("expected empty for outsider, got %q", got)
	}
}

func TestMatchWindow(t *testing.T) {
	if MatchWindow != 7*24*time.Hour {
		t.Errorf("match window should be 7 days, got %v", MatchWindow)
	}
}
