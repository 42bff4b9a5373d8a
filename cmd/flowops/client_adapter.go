package main

import (
	"context"
	"errors"
	"strings"
	"syscall"

	apiclient "flowops/internal/client"
	"flowops/internal/config"
	"flowops/internal/types"
	"flowops/internal/workflows"
)

type clientFactory func() (commandClient, error)

type commandClient interface {
	Health(ctx context.Context) (*apiclient.HealthResponse, error)
	Me(ctx context.Context) (*apiclient.MeResponse, error)
	ListRuns(ctx context.Context, opts apiclient.RunListOptions) (*workflows.Page[*types.Run], error)
	CreateRun(ctx context.Context, env types.EventEnvelope) (*apiclient.CreateRunResponse, error)
	GetRun(ctx context.Context, runID string) (*workflows.RunDetail, error)
	AdvanceRun(ctx context.Context, runID string) (*workflows.StepResult, error)
	CancelRun(ctx context.Context, runID, reason string) (*apiclient.CancelRunResponse, error)
	PendingApprovals(ctx context.Context, page, limit int) (*workflows.Page[*types.Approval], error)
	DecideApproval(ctx context.Context, approvalID string, approved bool, justification string) (*apiclient.ApprovalDecisionResponse, error)
	OpenExceptions(ctx context.Context, page, limit int) (*workflows.Page[*types.Exception], error)
	ResolveException(ctx context.Context, exceptionID string, resolution workflows.ExceptionResolution) (*apiclient.ExceptionResolutionResponse, error)
	TriageException(ctx context.Context, exceptionID, assigneeID string) (*types.Exception, error)
	ListPolicies(ctx context.Context, activeOnly bool) ([]*types.Policy, error)
	PublishPolicy(ctx context.Context, draft workflows.PolicyDraft) (*types.Policy, error)
	DeactivatePolicy(ctx context.Context, policyID string) (*types.Policy, error)
	SeedPolicies(ctx context.Context) ([]*types.Policy, error)
	ListWorkflows(ctx context.Context) ([]workflows.WorkflowDefinition, error)
	DashboardKPIs(ctx context.Context) (*workflows.KPIs, error)
}

func newAPIClient() (commandClient, error) {
	cfg, err := config.LoadCoreConfig()
	if err != nil {
		return nil, err
	}
	return apiclient.New(cfg), nil
}

// explainUnavailable adds a hint when the daemon is not listening.
func explainUnavailable(err error) error {
	if err == nil || !isDaemonUnavailable(err) {
		return err
	}
	return errors.Join(err, errors.New("is the daemon running? start it with: flowops daemon --background"))
}

func isDaemonUnavailable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "connection refused")
}
