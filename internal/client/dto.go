package client

import (
	"flowops/internal/types"
	"flowops/internal/workflows"
)

type HealthResponse struct {
	OK      bool   `json:"ok"`
	Version string `json:"version"`
	PID     int    `json:"pid"`
}

type MeResponse struct {
	Principal    types.Principal    `json:"principal"`
	Capabilities []types.Capability `json:"capabilities"`
}

type CreateRunResponse struct {
	Run     *types.Run `json:"run"`
	Created bool       `json:"created"`
}

type CancelRunResponse struct {
	Run     *types.Run `json:"run"`
	Applied bool       `json:"applied"`
}

type ApprovalDecisionResponse struct {
	Approval *types.Approval `json:"approval"`
	Run      *types.Run      `json:"run"`
}

type ExceptionResolutionResponse struct {
	Exception *types.Exception `json:"exception"`
	Run       *types.Run       `json:"run"`
}

type PoliciesResponse struct {
	Data []*types.Policy `json:"data"`
}

type WorkflowsResponse struct {
	Data []workflows.WorkflowDefinition `json:"data"`
}

// RunListOptions filters ListRuns. Zero values are omitted.
type RunListOptions struct {
	Status     types.RunStatus
	WorkflowID string
	Page       int
	Limit      int
}
