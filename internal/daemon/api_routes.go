package daemon

import (
	"net/http"

	"github.com/gorilla/mux"
)

func (a *API) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/health", a.Health).Methods(http.MethodGet)
	if a.Metrics != nil {
		router.Handle("/metrics", a.Metrics).Methods(http.MethodGet)
	}
	if a.Webhooks != nil {
		router.Handle("/webhooks/hubspot", a.Webhooks).Methods(http.MethodPost)
	}

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/me", a.Me).Methods(http.MethodGet)

	api.HandleFunc("/runs", a.ListRuns).Methods(http.MethodGet)
	api.HandleFunc("/runs", a.CreateRun).Methods(http.MethodPost)
	api.HandleFunc("/runs/{id}", a.GetRun).Methods(http.MethodGet)
	api.HandleFunc("/runs/{id}/advance", a.AdvanceRun).Methods(http.MethodPost)
	api.HandleFunc("/runs/{id}/cancel", a.CancelRun).Methods(http.MethodPost)

	api.HandleFunc("/approvals", a.ListApprovals).Methods(http.MethodGet)
	api.HandleFunc("/approvals/pending", a.PendingApprovals).Methods(http.MethodGet)
	api.HandleFunc("/approvals/{id}", a.GetApproval).Methods(http.MethodGet)
	api.HandleFunc("/approvals/{id}/decision", a.DecideApproval).Methods(http.MethodPatch, http.MethodPost)

	api.HandleFunc("/exceptions/open", a.OpenExceptions).Methods(http.MethodGet)
	api.HandleFunc("/exceptions/{id}", a.GetException).Methods(http.MethodGet)
	api.HandleFunc("/exceptions/{id}/resolve", a.ResolveException).Methods(http.MethodPatch, http.MethodPost)
	api.HandleFunc("/exceptions/{id}/triage", a.TriageException).Methods(http.MethodPost)

	api.HandleFunc("/policies", a.ListPolicies).Methods(http.MethodGet)
	api.HandleFunc("/policies", a.PublishPolicy).Methods(http.MethodPost)
	api.HandleFunc("/policies/seed", a.SeedPolicies).Methods(http.MethodPost)
	api.HandleFunc("/policies/{id}", a.GetPolicy).Methods(http.MethodGet)
	api.HandleFunc("/policies/{id}/deactivate", a.DeactivatePolicy).Methods(http.MethodPost)

	api.HandleFunc("/workflows", a.ListWorkflows).Methods(http.MethodGet)
	api.HandleFunc("/dashboard/kpis", a.DashboardKPIs).Methods(http.MethodGet)
	api.HandleFunc("/accounts", a.ListAccounts).Methods(http.MethodGet)
	api.HandleFunc("/contacts", a.ListContacts).Methods(http.MethodGet)
	api.HandleFunc("/deals", a.ListDeals).Methods(http.MethodGet)
	api.HandleFunc("/webhook-events", a.ListWebhookEvents).Methods(http.MethodGet)
}

// Router returns a router with every API route registered.
func (a *API) Router() *mux.Router {
	router := mux.NewRouter()
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "route not found", Kind: "not_found"})
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed", Kind: "validation"})
	})
	a.RegisterRoutes(router)
	return router
}
