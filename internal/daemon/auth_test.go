package daemon

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"flowops/internal/types"
)

func principalEcho() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := PrincipalFrom(r.Context())
		if !ok {
			w.WriteHeader(http.StatusTeapot)
			return
		}
		writeJSON(w, http.StatusOK, p)
	})
}

func TestAuthenticatorWithoutSecretActsAsLocalAdmin(t *testing.T) {
	h := NewAuthenticator("", "flowops", nil).Middleware(principalEcho())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/runs", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if p := decodeBody[types.Principal](t, rec); p.Role != types.RoleAdmin || p.ID != "local" {
		t.Fatalf("unexpected principal %#v", p)
	}
}

func TestAuthenticatorSkipsNonAPIPaths(t *testing.T) {
	h := NewAuthenticator("secret", "flowops", nil).Middleware(principalEcho())
	for _, path := range []string{"/health", "/metrics", "/webhooks/hubspot"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusTeapot {
			t.Fatalf("%s: expected pass-through without principal, got %d", path, rec.Code)
		}
	}
}

func TestAuthenticatorResolvesBearerToken(t *testing.T) {
	h := NewAuthenticator("secret", "flowops", nil).Middleware(principalEcho())
	token, err := IssueToken([]byte("secret"), "flowops", types.Principal{ID: "ana", Role: types.RoleViewer}, 0)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/api/runs", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if p := decodeBody[types.Principal](t, rec); p.ID != "ana" || p.Role != types.RoleViewer {
		t.Fatalf("unexpected principal %#v", p)
	}
}
