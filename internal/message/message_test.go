package message

import (
	"strings"
	"testing"

	"github.com/veil/chat-core/internal/apperr"
)

// ---------------------------------------------------------------------------
// Validate
// ---------------------------------------------------------------------------

func TestValidate_TextMessage(t *testing.T) {
	if err := Validate(TypeText, "hello there", 0); err != nil {
		t.Errorf("valid text message rejected: %v", err)
	}
}

func TestValidate_VoiceMessage(t *testing.T) {
	if err := Validate(TypeVoice, "https://cdn.example.com/clip.ogg", 12); err != nil {
		t.Errorf("valid voice message rejected: %v", err)
	}
}

func TestValidate_UnknownType(t *testing.T) {
	err := Validate("video", "clip", 0)
	if err == nil {
		t.Fatal("expected error for unsupported type")
	}
	if apperr.CodeOf(err) != apperr.CodeValidation {
		t.Errorf("expected validation code, got %s", apperr.CodeOf(err))
	}
}

func TestValidate_EmptyContent(t *testing.T) {
	if err := Validate(TypeText, "", 0); err == nil {
		t.Error("expected error for empty content")
	}
}

func TestValidate_ByteLimit(t *testing.T) {
	// 2000 four-byte runes: within the character limit but over the byte one.
	content := strings.Repeat("\U0001F600", MaxContentChars)
	if err := Validate(TypeText, content, 0); err == nil {
		t.Error("expected error when byte limit exceeded")
	}

	// At the limit is fine.
	if err := Validate(TypeText, strings.Repeat("a", MaxContentChars), 0); err != nil {
		t.Errorf("content at the character limit rejected: %v", err)
	}
}

func TestValidate_CharacterLimit(t *testing.T) {
	if err := Validate(TypeText, strings.Repeat("a", MaxContentChars+1), 0); err == nil {
		t.Error("expected error when character limit exceeded")
	}
}

func TestValidate_InvalidUTF8(t *testing.T) {
	if err := Validate(TypeText, string([]byte{0xff, 0xfe}), 0); err == nil {
		t.Error("expected error for invalid UTF-8")
	}
}

func TestValidate_VoiceNeedsDuration(t *testing.T) {
	if err := Validate(TypeVoice, "https://cdn.example.com/clip.ogg", 0); err == nil {
		t.Error("expected error for voice message without duration")
	}
	if err := Validate(TypeVoice, "https://cdn.example.com/clip.ogg", -3); err == nil {
		t.Error("expected error for negative duration")
	}
}

// ---------------------------------------------------------------------------
// Status state machine
// ---------------------------------------------------------------------------

func TestStatusCanAdvanceTo_ForwardOnly(t *testing.T) {
	if !StatusSent.CanAdvanceTo(StatusDelivered) {
		t.Error("sent -> delivered should be allowed")
	}
	if !StatusSent.CanAdvanceTo(StatusRead) {
		t.Error("sent -> read should be allowed (delivered can be skipped)")
	}
	if !StatusDelivered.CanAdvanceTo(StatusRead) {
		t.Error("delivered -> read should be allowed")
	}
}

func TestStatusCanAdvanceTo_NoRegression(t *testing.T) {
	if StatusRead.CanAdvanceTo(StatusDelivered) {
		t.Error("read -> delivered must never be allowed")
	}
	if StatusRead.CanAdvanceTo(StatusSent) {
		t.Error("read -> sent must never be allowed")
	}
	if StatusDelivered.CanAdvanceTo(StatusSent) {
		t.Error("delivered -> sent must never be allowed")
	}
}

func TestStatusCanAdvanceTo_SelfAndUnknown(t *testing.T) {
	for _, s := range []Status{StatusSent, StatusDelivered, StatusRead} {
		if s.CanAdvanceTo(s) {
			t.Errorf("%s -> %s should not count as an advance", s, s)
		}
	}
	if Status("bogus").CanAdvanceTo(StatusRead) {
		t.Error("unknown status should never advance")
	}
}
