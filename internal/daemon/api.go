package daemon

import (
	"net/http"
	"strings"

	"flowops/internal/logging"
	"flowops/internal/types"
	"flowops/internal/workflows"
)

// RunDispatcher hands a run to background processing.
type RunDispatcher interface {
	Dispatch(runID, reason string) bool
}

type API struct {
	Version    string
	Service    *workflows.Service
	Dispatcher RunDispatcher
	Webhooks   http.Handler
	Metrics    http.Handler
	Logger     logging.Logger
}

type CreateRunResponse struct {
	Run     *types.Run `json:"run"`
	Created bool       `json:"created"`
}

type CancelRunRequest struct {
	Reason string `json:"reason"`
}

type CancelRunResponse struct {
	Run *types.Run `json:"run"`
	// Applied is false when the cancellation was only requested because
	// the run is being advanced right now.
	Applied bool `json:"applied"`
}

// ApprovalDecisionRequest accepts either decision ("APPROVED"/"REJECTED")
// or the approved flag.
type ApprovalDecisionRequest struct {
	Decision      string `json:"decision,omitempty"`
	Approved      *bool  `json:"approved,omitempty"`
	Justification string `json:"justification,omitempty"`
}

func (r ApprovalDecisionRequest) toDecision() (workflows.ApprovalDecision, error) {
	decision := workflows.ApprovalDecision{Justification: strings.TrimSpace(r.Justification)}
	switch strings.ToUpper(strings.TrimSpace(r.Decision)) {
	case string(types.ApprovalStatusApproved), "APPROVE":
		decision.Approved = true
	case string(types.ApprovalStatusRejected), "REJECT":
		decision.Approved = false
	case "":
		if r.Approved == nil {
			return decision, invalidError("decision is required", nil)
		}
		decision.Approved = *r.Approved
	default:
		return decision, invalidError("decision must be APPROVED or REJECTED", nil)
	}
	return decision, nil
}

type ApprovalDecisionResponse struct {
	Approval *types.Approval `json:"approval"`
	Run      *types.Run      `json:"run"`
}

type ExceptionResolutionResponse struct {
	Exception *types.Exception `json:"exception"`
	Run       *types.Run       `json:"run"`
}

type TriageRequest struct {
	AssigneeID string `json:"assigneeId,omitempty"`
}

type PrincipalResponse struct {
	Principal    types.Principal    `json:"principal"`
	Capabilities []types.Capability `json:"capabilities"`
}

func (a *API) dispatch(runID, reason string) {
	if a.Dispatcher == nil {
		return
	}
	if !a.Dispatcher.Dispatch(runID, reason) && a.Logger != nil {
		a.Logger.Warn("run_dispatch_rejected", logging.F("run_id", runID), logging.F("reason", reason))
	}
}
