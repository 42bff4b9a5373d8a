package daemon

import (
	"context"
	"net/http"
	"strings"

	"flowops/internal/logging"
	"flowops/internal/types"
)

type principalKey struct{}

// localPrincipal acts for every request when no signing secret is set.
var localPrincipal = types.Principal{ID: "local", Role: types.RoleAdmin}

// Authenticator derives the caller's principal from a bearer JWT.
type Authenticator struct {
	secret []byte
	issuer string
}

func NewAuthenticator(secret, issuer string, logger logging.Logger) *Authenticator {
	if logger == nil {
		logger = logging.Nop()
	}
	if strings.TrimSpace(secret) == "" {
		logger.Warn("api_auth_disabled", logging.F("principal", localPrincipal.ID))
	}
	return &Authenticator{secret: []byte(strings.TrimSpace(secret)), issuer: issuer}
}

// Middleware guards /api/ routes. Everything else passes through untouched.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/api/") || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		if len(a.secret) == 0 {
			next.ServeHTTP(w, r.WithContext(withPrincipal(r.Context(), localPrincipal)))
			return
		}

		auth := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(auth, prefix) {
			writeServiceError(w, unauthorizedError("unauthorized", nil))
			return
		}
		principal, err := ParseToken(a.secret, a.issuer, strings.TrimSpace(auth[len(prefix):]))
		if err != nil {
			writeServiceError(w, unauthorizedError("unauthorized", err))
			return
		}
		next.ServeHTTP(w, r.WithContext(withPrincipal(r.Context(), principal)))
	})
}

func withPrincipal(ctx context.Context, p types.Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func PrincipalFrom(ctx context.Context) (types.Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(types.Principal)
	return p, ok
}

// authorize answers 403 unless the caller holds capability.
func authorize(w http.ResponseWriter, r *http.Request, capability types.Capability) (types.Principal, bool) {
	principal, ok := PrincipalFrom(r.Context())
	if !ok || !principal.Can(capability) {
		writeServiceError(w, forbiddenError("missing capability "+string(capability)))
		return types.Principal{}, false
	}
	return principal, true
}
