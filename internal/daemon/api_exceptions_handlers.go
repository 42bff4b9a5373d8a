package daemon

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"flowops/internal/types"
	"flowops/internal/workflows"
)

func (a *API) OpenExceptions(w http.ResponseWriter, r *http.Request) {
	if _, ok := authorize(w, r, types.CapRunsRead); !ok {
		return
	}
	limit, offset := pageParams(r)
	page, err := a.Service.ListOpenExceptions(r.Context(), limit, offset)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (a *API) GetException(w http.ResponseWriter, r *http.Request) {
	if _, ok := authorize(w, r, types.CapRunsRead); !ok {
		return
	}
	exception, err := a.Service.GetException(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exception)
}

func (a *API) ResolveException(w http.ResponseWriter, r *http.Request) {
	principal, ok := authorize(w, r, types.CapExceptionsResolve)
	if !ok {
		return
	}
	var req workflows.ExceptionResolution
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, err)
		return
	}
	req.ResolutionType = types.ResolutionType(strings.ToUpper(strings.TrimSpace(string(req.ResolutionType))))
	exception, run, err := a.Service.ResolveException(r.Context(), mux.Vars(r)["id"], req, principal.ID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if run != nil && run.Status == types.RunStatusRunning {
		a.dispatch(run.ID, "exception")
	}
	writeJSON(w, http.StatusOK, ExceptionResolutionResponse{Exception: exception, Run: run})
}

// TriageException assigns the exception, defaulting to the caller.
func (a *API) TriageException(w http.ResponseWriter, r *http.Request) {
	principal, ok := authorize(w, r, types.CapExceptionsResolve)
	if !ok {
		return
	}
	var req TriageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, err)
		return
	}
	assignee := strings.TrimSpace(req.AssigneeID)
	if assignee == "" {
		assignee = principal.ID
	}
	exception, err := a.Service.TriageException(r.Context(), mux.Vars(r)["id"], assignee)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exception)
}
