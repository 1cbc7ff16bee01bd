package disclosure

import (
	"testing"
)

// newState builds a State with the given totals and per-user counts.
func newState(total int, counts map[string]int) *State {
	return &State{
		ConversationID:    "conv-1",
		TotalMessageCount: total,
		MessageCounts:     counts,
		Consents:          make(map[ConsentKey]ConsentState),
	}
}

func setConsent(s *State, userID string, level Level, c ConsentState) {
	s.Consents[ConsentKey{UserID: userID, Level: level}] = c
}

// ---------------------------------------------------------------------------
// ComputeLevel: thresholds and the both-active guard
// ---------------------------------------------------------------------------

func TestComputeLevel_NewConversationIsLevel1(t *testing.T) {
	s := newState(0, map[string]int{})
	if got := ComputeLevel(s, "alice", "bob"); got != Level1 {
		t.Errorf("expected Level1 for empty conversation, got %d", got)
	}
}

func TestComputeLevel_BelowThresholdStaysLevel1(t *testing.T) {
	s := newState(Level2Threshold-1, map[string]int{"alice": 2, "bob": 2})
	setConsent(s, "alice", Level2, ConsentAccepted)
	setConsent(s, "bob", Level2, ConsentAccepted)

	if got := ComputeLevel(s, "alice", "bob"); got != Level1 {
		t.Errorf("expected Level1 below the count threshold, got %d", got)
	}
}

func TestComputeLevel_OneSidedFloodStaysLevel1(t *testing.T) {
	// 20 messages, all from alice. Count alone would unlock level 3, but
	// bob has never spoken.
	s := newState(20, map[string]int{"alice": 20})
	setConsent(s, "alice", Level2, ConsentAccepted)
	setConsent(s, "bob", Level2, ConsentAccepted)

	if got := ComputeLevel(s, "alice", "bob"); got != Level1 {
		t.Errorf("expected Level1 when one side never sent, got %d", got)
	}
}

func TestComputeLevel_ThresholdWithoutConsentStaysLevel1(t *testing.T) {
	s := newState(Level2Threshold, map[string]int{"alice": 3, "bob": 2})

	if got := ComputeLevel(s, "alice", "bob"); got != Level1 {
		t.Errorf("expected Level1 without consent, got %d", got)
	}
}

func TestComputeLevel_UnilateralConsentIsNotEnough(t *testing.T) {
	s := newState(Level2Threshold, map[string]int{"alice": 3, "bob": 2})
	setConsent(s, "alice", Level2, ConsentAccepted)

	if got := ComputeLevel(s, "alice", "bob"); got != Level1 {
		t.Errorf("expected Level1 with only one consent, got %d", got)
	}
}

func TestComputeLevel_BilateralConsentUnlocksLevel2(t *testing.T) {
	s := newState(Level2Threshold, map[string]int{"alice": 3, "bob": 2})
	setConsent(s, "alice", Level2, ConsentAccepted)
	setConsent(s, "bob", Level2, ConsentAccepted)

	if got := ComputeLevel(s, "alice", "bob"); got != Level2 {
		t.Errorf("expected Level2, got %d", got)
	}
}

func TestComputeLevel_Level3NeedsItsOwnConsent(t *testing.T) {
	s := newState(Level3Threshold, map[string]int{"alice": 5, "bob": 5})
	setConsent(s, "alice", Level2, ConsentAccepted)
	setConsent(s, "bob", Level2, ConsentAccepted)

	// Count is past the level 3 threshold but neither accepted level 3.
	if got := ComputeLevel(s, "alice", "bob"); got != Level2 {
		t.Errorf("expected Level2 without level-3 consent, got %d", got)
	}

	setConsent(s, "alice", Level3, ConsentAccepted)
	setConsent(s, "bob", Level3, ConsentAccepted)
	if got := ComputeLevel(s, "alice", "bob"); got != Level3 {
		t.Errorf("expected Level3 after bilateral consent, got %d", got)
	}
}

func TestComputeLevel_DeclineBehavesLikeNoConsent(t *testing.T) {
	s := newState(Level3Threshold, map[string]int{"alice": 5, "bob": 5})
	setConsent(s, "alice", Level2, ConsentAccepted)
	setConsent(s, "bob", Level2, ConsentDeclinedTemporary)

	if got := ComputeLevel(s, "alice", "bob"); got != Level1 {
		t.Errorf("expected Level1 after a decline, got %d", got)
	}

	// Declining is never terminal: a later accept unlocks the level.
	setConsent(s, "bob", Level2, ConsentAccepted)
	if got := ComputeLevel(s, "alice", "bob"); got != Level2 {
		t.Errorf("expected Level2 after the decline was reversed, got %d", got)
	}
}

// ---------------------------------------------------------------------------
// ComputeLevel: symmetry
// ---------------------------------------------------------------------------

func TestComputeLevel_SymmetricAcrossAllConsentCombinations(t *testing.T) {
	states := []ConsentState{ConsentNone, ConsentAccepted, ConsentDeclinedTemporary}
	totals := []int{0, Level2Threshold - 1, Level2Threshold, Level3Threshold, Level3Threshold + 5}

	for _, total := range totals {
		for _, a2 := range states {
			for _, b2 := range states {
				for _, a3 := range states {
					for _, b3 := range states {
						s := newState(total, map[string]int{"alice": total / 2, "bob": total - total/2})
						setConsent(s, "alice", Level2, a2)
						setConsent(s, "bob", Level2, b2)
						setConsent(s, "alice", Level3, a3)
						setConsent(s, "bob", Level3, b3)

						forward := ComputeLevel(s, "alice", "bob")
						reverse := ComputeLevel(s, "bob", "alice")
						if forward != reverse {
							t.Fatalf("asymmetric level: total=%d a2=%s b2=%s a3=%s b3=%s: %d vs %d",
								total, a2, b2, a3, b3, forward, reverse)
						}
					}
				}
			}
		}
	}
}

func TestComputeLevel_NeverExceedsCountUnlock(t *testing.T) {
	// Even with every consent accepted, the level cannot outrun the count.
	s := newState(Level2Threshold, map[string]int{"alice": 3, "bob": 2})
	setConsent(s, "alice", Level2, ConsentAccepted)
	setConsent(s, "bob", Level2, ConsentAccepted)
	setConsent(s, "alice", Level3, ConsentAccepted)
	setConsent(s, "bob", Level3, ConsentAccepted)

	if got := ComputeLevel(s, "alice", "bob"); got != Level2 {
		t.Errorf("expected Level2 below the level-3 threshold, got %d", got)
	}
}

// ---------------------------------------------------------------------------
// Eligible
// ---------------------------------------------------------------------------

func TestEligible(t *testing.T) {
	s := newState(Level2Threshold, map[string]int{"alice": 3, "bob": 2})
	if !Eligible(s, Level2, "alice", "bob") {
		t.Error("expected level 2 eligible at threshold with both active")
	}
	if Eligible(s, Level3, "alice", "bob") {
		t.Error("expected level 3 not eligible below its threshold")
	}

	oneSided := newState(Level3Threshold, map[string]int{"alice": Level3Threshold})
	if Eligible(oneSided, Level2, "alice", "bob") {
		t.Error("expected not eligible when one side never sent")
	}
}

// ---------------------------------------------------------------------------
// ComputeAction
// ---------------------------------------------------------------------------

func TestComputeAction_QuestionnairePending(t *testing.T) {
	if got := ComputeAction(false, ConsentNone); got != ActionFillInformation {
		t.Errorf("expected FILL_INFORMATION, got %s", got)
	}
	// The questionnaire gate comes first even when consent was already given.
	if got := ComputeAction(false, ConsentAccepted); got != ActionFillInformation {
		t.Errorf("expected FILL_INFORMATION regardless of consent, got %s", got)
	}
}

func TestComputeAction_ConsentPrompt(t *testing.T) {
	if got := ComputeAction(true, ConsentNone); got != ActionAskConsent {
		t.Errorf("expected ASK_CONSENT for undecided consent, got %s", got)
	}
	// A temporary decline is re-askable, not final.
	if got := ComputeAction(true, ConsentDeclinedTemporary); got != ActionAskConsent {
		t.Errorf("expected ASK_CONSENT after temporary decline, got %s", got)
	}
}

func TestComputeAction_Settled(t *testing.T) {
	if got := ComputeAction(true, ConsentAccepted); got != ActionNoAction {
		t.Errorf("expected NO_ACTION once accepted, got %s", got)
	}
}

// ---------------------------------------------------------------------------
// ParseLevel / Threshold / Consent default
// ---------------------------------------------------------------------------

func TestParseLevel(t *testing.T) {
	if l, err := ParseLevel(2); err != nil || l != Level2 {
		t.Errorf("ParseLevel(2) = %d, %v", l, err)
	}
	if l, err := ParseLevel(3); err != nil || l != Level3 {
		t.Errorf("ParseLevel(3) = %d, %v", l, err)
	}
	for _, n := range []int{0, 1, 4, -2} {
		if _, err := ParseLevel(n); err == nil {
			t.Errorf("ParseLevel(%d) should fail", n)
		}
	}
}

func TestThreshold(t *testing.T) {
	if Threshold(Level2) != Level2Threshold {
		t.Errorf("Threshold(Level2) = %d", Threshold(Level2))
	}
	if Threshold(Level3) != Level3Threshold {
		t.Errorf("Threshold(Level3) = %d", Threshold(Level3))
	}
	if Threshold(Level1) != 0 {
		t.Errorf("Threshold(Level1) = %d", Threshold(Level1))
	}
}

func TestConsentDefaultsToNone(t *testing.T) {
	s := newState(0, map[string]int{})
	if got := s.Consent("alice", Level2); got != ConsentNone {
		t.Errorf("expected none for unrecorded consent, got %s", got)
	}
}
