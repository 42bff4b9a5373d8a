package daemon

import (
	"net/http"

	"github.com/gorilla/mux"

	"flowops/internal/types"
	"flowops/internal/workflows"
)

func (a *API) ListPolicies(w http.ResponseWriter, r *http.Request) {
	if _, ok := authorize(w, r, types.CapRunsRead); !ok {
		return
	}
	policies, err := a.Service.ListPolicies(r.Context(), queryBool(r.URL.Query().Get("active")))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": policies})
}

func (a *API) GetPolicy(w http.ResponseWriter, r *http.Request) {
	if _, ok := authorize(w, r, types.CapRunsRead); !ok {
		return
	}
	policy, err := a.Service.GetPolicy(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, policy)
}

func (a *API) PublishPolicy(w http.ResponseWriter, r *http.Request) {
	principal, ok := authorize(w, r, types.CapPoliciesWrite)
	if !ok {
		return
	}
	var draft workflows.PolicyDraft
	if err := decodeJSON(r, &draft); err != nil {
		writeServiceError(w, err)
		return
	}
	policy, err := a.Service.PublishPolicy(r.Context(), draft, principal.ID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, policy)
}

func (a *API) DeactivatePolicy(w http.ResponseWriter, r *http.Request) {
	principal, ok := authorize(w, r, types.CapPoliciesWrite)
	if !ok {
		return
	}
	policy, err := a.Service.DeactivatePolicy(r.Context(), mux.Vars(r)["id"], principal.ID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, policy)
}

func (a *API) SeedPolicies(w http.ResponseWriter, r *http.Request) {
	principal, ok := authorize(w, r, types.CapPoliciesWrite)
	if !ok {
		return
	}
	policies, err := a.Service.SeedPolicies(r.Context(), principal.ID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": policies})
}
