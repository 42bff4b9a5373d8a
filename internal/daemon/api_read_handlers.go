package daemon

import (
	"net/http"
	"strings"

	"flowops/internal/types"
)

func (a *API) ListWorkflows(w http.ResponseWriter, r *http.Request) {
	if _, ok := authorize(w, r, types.CapRunsRead); !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": a.Service.Registry().List()})
}

func (a *API) DashboardKPIs(w http.ResponseWriter, r *http.Request) {
	if _, ok := authorize(w, r, types.CapRunsRead); !ok {
		return
	}
	kpis, err := a.Service.DashboardKPIs(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, kpis)
}

func (a *API) ListAccounts(w http.ResponseWriter, r *http.Request) {
	if _, ok := authorize(w, r, types.CapRunsRead); !ok {
		return
	}
	limit, offset := pageParams(r)
	page, err := a.Service.ListAccounts(r.Context(), limit, offset)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (a *API) ListContacts(w http.ResponseWriter, r *http.Request) {
	if _, ok := authorize(w, r, types.CapRunsRead); !ok {
		return
	}
	limit, offset := pageParams(r)
	page, err := a.Service.ListContacts(r.Context(), limit, offset)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (a *API) ListDeals(w http.ResponseWriter, r *http.Request) {
	if _, ok := authorize(w, r, types.CapRunsRead); !ok {
		return
	}
	limit, offset := pageParams(r)
	page, err := a.Service.ListDeals(r.Context(), limit, offset)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (a *API) ListWebhookEvents(w http.ResponseWriter, r *http.Request) {
	if _, ok := authorize(w, r, types.CapRunsRead); !ok {
		return
	}
	limit, offset := pageParams(r)
	status := types.WebhookEventStatus(strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("status"))))
	page, err := a.Service.ListWebhookEvents(r.Context(), status, limit, offset)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}
