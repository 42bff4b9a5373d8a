package daemon

import (
	"net/http"
	"os"
)

func (a *API) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"version": a.Version,
		"pid":     os.Getpid(),
	})
}

func (a *API) Me(w http.ResponseWriter, r *http.Request) {
	principal, ok := PrincipalFrom(r.Context())
	if !ok {
		writeServiceError(w, unauthorizedError("unauthorized", nil))
		return
	}
	writeJSON(w, http.StatusOK, PrincipalResponse{Principal: principal, Capabilities: principal.Capabilities()})
}
