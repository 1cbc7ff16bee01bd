package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/veil/chat-core/internal/delivery"
	"github.com/veil/chat-core/internal/disclosure"
	"github.com/veil/chat-core/internal/matchtimer"
	"github.com/veil/chat-core/internal/profile"
	"github.com/veil/chat-core/internal/ratelimit"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// handleCreateConversation is called by the discovery subsystem when a
// match forms. It fixes the expiry clock at creation time; there is no way
// to move it afterwards.
func (a *API) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Participants   []string  `json:"participants"`
		MatchCreatedAt time.Time `json:"match_created_at"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation", "invalid request body")
		return
	}
	if len(req.Participants) != 2 || req.Participants[0] == "" || req.Participants[1] == "" {
		writeError(w, http.StatusBadRequest, "validation", "exactly two participants required")
		return
	}
	if req.MatchCreatedAt.IsZero() {
		req.MatchCreatedAt = time.Now()
	}

	conv, err := a.convs.Create(r.Context(), req.Participants[0], req.Participants[1], req.MatchCreatedAt)
	if err != nil {
		writeAppError(w, err)
		return
	}
	if err := a.engine.Init(r.Context(), conv.ID); err != nil {
		writeAppError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"id":               conv.ID,
		"participants":     []string{conv.ParticipantA, conv.ParticipantB},
		"match_created_at": conv.MatchCreatedAt,
		"match_expires_at": conv.MatchExpiresAt,
	})
}

func (a *API) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := a.user(w, r)
	if !ok {
		return
	}
	if !a.limiter.Allow(r.Context(), ratelimit.RuleMessage, userID) {
		w.Header().Set("Retry-After", strconv.Itoa(a.limiter.RetryAfter(r.Context(), ratelimit.RuleMessage, userID)))
		writeError(w, http.StatusTooManyRequests, "rate_limited", "too many messages")
		return
	}

	var req struct {
		Type          string `json:"type"`
		Content       string `json:"content"`
		VoiceDuration int    `json:"voice_duration,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation", "invalid request body")
		return
	}

	msg, err := a.pipeline.Send(r.Context(), delivery.SendInput{
		ConversationID: chi.URLParam(r, "conversationID"),
		SenderID:       userID,
		Type:           req.Type,
		Content:        req.Content,
		VoiceDuration:  req.VoiceDuration,
	})
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (a *API) handleListMessages(w http.ResponseWriter, r *http.Request) {
	userID, ok := a.user(w, r)
	if !ok {
		return
	}
	convID := chi.URLParam(r, "conversationID")

	conv, err := a.convs.Get(r.Context(), convID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	if !conv.IsParticipant(userID) {
		writeError(w, http.StatusForbidden, "authorization", "not a participant")
		return
	}

	var beforeID int64
	if v := r.URL.Query().Get("before"); v != "" {
		beforeID, err = strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "validation", "before must be a message id")
			return
		}
	}
	limit := defaultPageSize
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= maxPageSize {
			limit = n
		}
	}

	msgs, err := a.messages.ListBefore(r.Context(), convID, beforeID, limit)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"messages": msgs})
}

func (a *API) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := a.user(w, r)
	if !ok {
		return
	}
	if !a.limiter.Allow(r.Context(), ratelimit.RuleRead, userID) {
		writeError(w, http.StatusTooManyRequests, "rate_limited", "too many read receipts")
		return
	}

	var req struct {
		MessageIDs []int64 `json:"message_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation", "invalid request body")
		return
	}

	updated, err := a.pipeline.MarkRead(r.Context(), chi.URLParam(r, "conversationID"), userID, req.MessageIDs)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"updated": updated})
}

func (a *API) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := a.user(w, r)
	if !ok {
		return
	}
	msgID, err := strconv.ParseInt(chi.URLParam(r, "messageID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation", "invalid message id")
		return
	}
	if err := a.messages.SoftDelete(r.Context(), msgID, userID); err != nil {
		writeAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleVisibility reports whether the conversation still belongs on the
// caller's "new matches" surface.
func (a *API) handleVisibility(w http.ResponseWriter, r *http.Request) {
	userID, ok := a.user(w, r)
	if !ok {
		return
	}
	convID := chi.URLParam(r, "conversationID")

	conv, err := a.convs.Get(r.Context(), convID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	if !conv.IsParticipant(userID) {
		writeError(w, http.StatusForbidden, "authorization", "not a participant")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"is_new":           matchtimer.VisibleAsNew(conv, userID),
		"match_expired":    conv.MatchExpired,
		"match_expires_at": conv.MatchExpiresAt,
	})
}

// handleDisclosure returns the caller's bilateral level and, per
// consentable level, the action the UI should take. Actions are
// recomputed on every call, never latched.
func (a *API) handleDisclosure(w http.ResponseWriter, r *http.Request) {
	userID, ok := a.user(w, r)
	if !ok {
		return
	}
	convID := chi.URLParam(r, "conversationID")

	conv, err := a.convs.Get(r.Context(), convID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	partner := conv.Partner(userID)
	if partner == "" {
		writeError(w, http.StatusForbidden, "authorization", "not a participant")
		return
	}

	level, err := a.engine.VisibleLevel(r.Context(), convID, userID, partner)
	if err != nil {
		writeAppError(w, err)
		return
	}

	actions := make(map[string]disclosure.Action, 2)
	for _, l := range []disclosure.Level{disclosure.Level2, disclosure.Level3} {
		action, err := a.engine.ActionFor(r.Context(), convID, userID, l)
		if err != nil {
			writeAppError(w, err)
			return
		}
		actions[strconv.Itoa(int(l))] = action
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"level":   level,
		"actions": actions,
	})
}

func (a *API) handleSetConsent(w http.ResponseWriter, r *http.Request) {
	userID, ok := a.user(w, r)
	if !ok {
		return
	}

	var req struct {
		Level    int  `json:"level"`
		Accepted bool `json:"accepted"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation", "invalid request body")
		return
	}
	level, err := disclosure.ParseLevel(req.Level)
	if err != nil {
		writeAppError(w, err)
		return
	}

	convID := chi.URLParam(r, "conversationID")
	if err := a.engine.SetConsent(r.Context(), convID, userID, level, req.Accepted); err != nil {
		writeAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handlePartnerProfile returns the partner's profile filtered to the
// bilateral visible level. Unshared fields come back null, not omitted.
func (a *API) handlePartnerProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := a.user(w, r)
	if !ok {
		return
	}
	convID := chi.URLParam(r, "conversationID")

	conv, err := a.convs.Get(r.Context(), convID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	partner := conv.Partner(userID)
	if partner == "" {
		writeError(w, http.StatusForbidden, "authorization", "not a participant")
		return
	}

	level, err := a.engine.VisibleLevel(r.Context(), convID, userID, partner)
	if err != nil {
		writeAppError(w, err)
		return
	}
	p, err := a.profiles.Get(r.Context(), partner)
	if err != nil {
		writeAppError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"level":   level,
		"profile": profile.Filter(p, int(level)),
	})
}

// handleSweep is the manual trigger for the expiry sweep. Overlap with the
// scheduled sweep is safe; the predicate excludes already flipped rows.
func (a *API) handleSweep(w http.ResponseWriter, r *http.Request) {
	n, err := a.sweeper.SweepOnce(r.Context())
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"expired": n})
}
