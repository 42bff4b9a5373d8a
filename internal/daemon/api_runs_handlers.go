package daemon

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"flowops/internal/types"
	"flowops/internal/workflows"
)

func (a *API) ListRuns(w http.ResponseWriter, r *http.Request) {
	if _, ok := authorize(w, r, types.CapRunsRead); !ok {
		return
	}
	limit, offset := pageParams(r)
	q := r.URL.Query()
	page, err := a.Service.ListRuns(r.Context(), workflows.RunQuery{
		Status:     types.RunStatus(strings.ToUpper(strings.TrimSpace(q.Get("status")))),
		WorkflowID: strings.TrimSpace(q.Get("workflowId")),
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// CreateRun accepts an event envelope. Replaying a correlation id answers
// 200 with the existing run.
func (a *API) CreateRun(w http.ResponseWriter, r *http.Request) {
	principal, ok := authorize(w, r, types.CapRunsWrite)
	if !ok {
		return
	}
	var env types.EventEnvelope
	if err := decodeJSON(r, &env); err != nil {
		writeServiceError(w, err)
		return
	}
	run, created, err := a.Service.CreateRun(r.Context(), env, principal.ID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
		if !queryBool(r.URL.Query().Get("hold")) {
			a.dispatch(run.ID, "api")
		}
	}
	writeJSON(w, status, CreateRunResponse{Run: run, Created: created})
}

func (a *API) GetRun(w http.ResponseWriter, r *http.Request) {
	if _, ok := authorize(w, r, types.CapRunsRead); !ok {
		return
	}
	detail, err := a.Service.GetRunDetail(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// AdvanceRun executes exactly one step synchronously.
func (a *API) AdvanceRun(w http.ResponseWriter, r *http.Request) {
	if _, ok := authorize(w, r, types.CapRunsWrite); !ok {
		return
	}
	result, err := a.Service.Advance(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) CancelRun(w http.ResponseWriter, r *http.Request) {
	principal, ok := authorize(w, r, types.CapRunsWrite)
	if !ok {
		return
	}
	var req CancelRunRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, err)
		return
	}
	run, applied, err := a.Service.Cancel(r.Context(), mux.Vars(r)["id"], strings.TrimSpace(req.Reason), principal.ID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	status := http.StatusOK
	if !applied {
		status = http.StatusAccepted
	}
	writeJSON(w, status, CancelRunResponse{Run: run, Applied: applied})
}
