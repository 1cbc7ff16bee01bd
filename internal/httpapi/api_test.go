package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

// Route-surface tests: chi resolves routing before any handler runs, so a
// zero-dependency API is enough to assert which router owns which route.

func emptyAPI() *API { return &API{} }

func routeStatus(t *testing.T, h http.Handler, method, path string) int {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec.Code
}

func TestPublicRouter_HasNoServiceRoutes(t *testing.T) {
	r := emptyAPI().Router()

	// Conversation creation and the sweep trigger are service-to-service
	// operations and must not resolve on the gateway-exposed router.
	if code := routeStatus(t, r, http.MethodPost, "/conversations"); code != http.StatusNotFound {
		t.Errorf("POST /conversations on public router: got %d, want 404", code)
	}
	if code := routeStatus(t, r, http.MethodPost, "/internal/sweep"); code != http.StatusNotFound {
		t.Errorf("POST /internal/sweep on public router: got %d, want 404", code)
	}
	if code := routeStatus(t, r, http.MethodPost, "/sweep"); code != http.StatusNotFound {
		t.Errorf("POST /sweep on public router: got %d, want 404", code)
	}
}

func TestPublicRouter_UserRoutesResolve(t *testing.T) {
	r := emptyAPI().Router()

	// A known path with the wrong method yields 405, proving the route is
	// registered without invoking its handler.
	paths := []string{
		"/conversations/c1/messages",
		"/conversations/c1/read",
		"/conversations/c1/visibility",
		"/conversations/c1/disclosure",
		"/conversations/c1/consent",
		"/conversations/c1/partner-profile",
		"/messages/42",
	}
	for _, path := range paths {
		if code := routeStatus(t, r, http.MethodPatch, path); code != http.StatusMethodNotAllowed {
			t.Errorf("PATCH %s: got %d, want 405", path, code)
		}
	}
}

func TestInternalRouter_ServiceRoutesResolve(t *testing.T) {
	r := emptyAPI().InternalRouter()

	if code := routeStatus(t, r, http.MethodGet, "/conversations"); code != http.StatusMethodNotAllowed {
		t.Errorf("GET /conversations on internal router: got %d, want 405", code)
	}
	if code := routeStatus(t, r, http.MethodGet, "/sweep"); code != http.StatusMethodNotAllowed {
		t.Errorf("GET /sweep on internal router: got %d, want 405", code)
	}
}

func TestInternalRouter_HasNoUserRoutes(t *testing.T) {
	r := emptyAPI().InternalRouter()

	if code := routeStatus(t, r, http.MethodPost, "/conversations/c1/messages"); code != http.StatusNotFound {
		t.Errorf("POST /conversations/c1/messages on internal router: got %d, want 404", code)
	}
}
