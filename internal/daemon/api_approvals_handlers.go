package daemon

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"flowops/internal/types"
)

func (a *API) PendingApprovals(w http.ResponseWriter, r *http.Request) {
	a.listApprovals(w, r, types.ApprovalStatusPending)
}

func (a *API) ListApprovals(w http.ResponseWriter, r *http.Request) {
	a.listApprovals(w, r, types.ApprovalStatus(strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("status")))))
}

func (a *API) listApprovals(w http.ResponseWriter, r *http.Request, status types.ApprovalStatus) {
	if _, ok := authorize(w, r, types.CapRunsRead); !ok {
		return
	}
	limit, offset := pageParams(r)
	page, err := a.Service.ListApprovals(r.Context(), status, limit, offset)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (a *API) GetApproval(w http.ResponseWriter, r *http.Request) {
	if _, ok := authorize(w, r, types.CapRunsRead); !ok {
		return
	}
	approval, err := a.Service.GetApproval(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, approval)
}

// DecideApproval records a decision and, on approval, hands the run back to
// the background workers.
func (a *API) DecideApproval(w http.ResponseWriter, r *http.Request) {
	principal, ok := authorize(w, r, types.CapApprovalsDecide)
	if !ok {
		return
	}
	var req ApprovalDecisionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, err)
		return
	}
	decision, err := req.toDecision()
	if err != nil {
		writeServiceError(w, err)
		return
	}
	approval, run, err := a.Service.ResolveApproval(r.Context(), mux.Vars(r)["id"], decision, principal.ID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if run != nil && run.Status == types.RunStatusRunning {
		a.dispatch(run.ID, "approval")
	}
	writeJSON(w, http.StatusOK, ApprovalDecisionResponse{Approval: approval, Run: run})
}
