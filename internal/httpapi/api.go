// Package httpapi is the request/response adapter over the core use
// cases. It is deliberately thin: every business rule lives in the
// delivery pipeline, match timer, and disclosure engine, shared with the
// WebSocket transport.
package httpapi

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/veil/chat-core/internal/apperr"
	"github.com/veil/chat-core/internal/conversation"
	"github.com/veil/chat-core/internal/delivery"
	"github.com/veil/chat-core/internal/disclosure"
	"github.com/veil/chat-core/internal/matchtimer"
	"github.com/veil/chat-core/internal/message"
	"github.com/veil/chat-core/internal/profile"
	"github.com/veil/chat-core/internal/ratelimit"
)

// Authenticator resolves a request to a user ID. Token validation is an
// external concern; the adapter only needs the identity.
type Authenticator func(r *http.Request) (userID string, err error)

// API holds the handlers' collaborators.
type API struct {
	pipeline     *delivery.Pipeline
	convs        *conversation.Store
	messages     *message.Store
	sweeper      *matchtimer.Sweeper
	engine       *disclosure.Engine
	profiles     *profile.Store
	limiter      *ratelimit.Limiter
	authenticate Authenticator
}

// New creates the API.
func New(pipeline *delivery.Pipeline, convs *conversation.Store, messages *message.Store,
	sweeper *matchtimer.Sweeper, engine *disclosure.Engine,
	profiles *profile.Store, limiter *ratelimit.Limiter, authenticate Authenticator) *API {
	return &API{
		pipeline:     pipeline,
		convs:        convs,
		messages:     messages,
		sweeper:      sweeper,
		engine:       engine,
		profiles:     profiles,
		limiter:      limiter,
		authenticate: authenticate,
	}
}

// Router builds the public chi router: every route here acts on behalf of
// an authenticated end user.
func (a *API) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Route("/conversations/{conversationID}", func(r chi.Router) {
		r.Get("/messages", a.handleListMessages)
		r.Post("/messages", a.handleSendMessage)
		r.Put("/read", a.handleMarkRead)
		r.Get("/visibility", a.handleVisibility)
		r.Get("/disclosure", a.handleDisclosure)
		r.Put("/consent", a.handleSetConsent)
		r.Get("/partner-profile", a.handlePartnerProfile)
	})
	r.Delete("/messages/{messageID}", a.handleDeleteMessage)

	return r
}

// InternalRouter builds the service-to-service router: conversation
// creation (called by the discovery service on a match) and the manual
// sweep trigger. It is served on a separate listener that is never
// exposed through the public gateway, so no end-user identity applies.
func (a *API) InternalRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Post("/conversations", a.handleCreateConversation)
	r.Post("/sweep", a.handleSweep)

	return r
}

// user resolves the caller, writing a 401 on failure. The bool reports
// whether the handler may proceed.
func (a *API) user(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, err := a.authenticate(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid or missing credentials")
		return "", false
	}
	return userID, true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[api] write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]string{"error": code, "message": msg})
}

// writeAppError maps a core error onto the HTTP taxonomy.
func writeAppError(w http.ResponseWriter, err error) {
	status := apperr.HTTPStatus(err)
	if status == http.StatusInternalServerError {
		log.Printf("[api] internal error: %v", err)
	}
	writeError(w, status, string(apperr.CodeOf(err)), apperr.MessageOf(err))
}
