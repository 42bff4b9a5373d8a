package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"flowops/internal/config"
	"flowops/internal/types"
	"flowops/internal/workflows"
)

// Client talks to a running flowops daemon.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func New(cfg config.CoreConfig) *Client {
	return NewWithBaseURL(cfg.ServerBaseURL(), cfg.ClientToken())
}

func NewWithBaseURL(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   strings.TrimSpace(token),
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.doJSON(ctx, http.MethodGet, "/health", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Me(ctx context.Context) (*MeResponse, error) {
	var resp MeResponse
	if err := c.doJSON(ctx, http.MethodGet, "/api/me", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) ListRuns(ctx context.Context, opts RunListOptions) (*workflows.Page[*types.Run], error) {
	q := url.Values{}
	if opts.Status != "" {
		q.Set("status", string(opts.Status))
	}
	if opts.WorkflowID != "" {
		q.Set("workflowId", opts.WorkflowID)
	}
	setPage(q, opts.Page, opts.Limit)
	var page workflows.Page[*types.Run]
	if err := c.doJSON(ctx, http.MethodGet, withQuery("/api/runs", q), nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

func (c *Client) CreateRun(ctx context.Context, env types.EventEnvelope) (*CreateRunResponse, error) {
	var resp CreateRunResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/runs", env, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) GetRun(ctx context.Context, runID string) (*workflows.RunDetail, error) {
	if strings.TrimSpace(runID) == "" {
		return nil, errors.New("run id is required")
	}
	var detail workflows.RunDetail
	if err := c.doJSON(ctx, http.MethodGet, "/api/runs/"+url.PathEscape(runID), nil, &detail); err != nil {
		return nil, err
	}
	return &detail, nil
}

func (c *Client) AdvanceRun(ctx context.Context, runID string) (*workflows.StepResult, error) {
	var result workflows.StepResult
	if err := c.doJSON(ctx, http.MethodPost, "/api/runs/"+url.PathEscape(runID)+"/advance", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) CancelRun(ctx context.Context, runID, reason string) (*CancelRunResponse, error) {
	var resp CancelRunResponse
	body := map[string]string{"reason": reason}
	if err := c.doJSON(ctx, http.MethodPost, "/api/runs/"+url.PathEscape(runID)+"/cancel", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) PendingApprovals(ctx context.Context, page, limit int) (*workflows.Page[*types.Approval], error) {
	q := url.Values{}
	setPage(q, page, limit)
	var out workflows.Page[*types.Approval]
	if err := c.doJSON(ctx, http.MethodGet, withQuery("/api/approvals/pending", q), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DecideApproval approves or rejects a pending approval.
func (c *Client) DecideApproval(ctx context.Context, approvalID string, approved bool, justification string) (*ApprovalDecisionResponse, error) {
	decision := types.ApprovalStatusRejected
	if approved {
		decision = types.ApprovalStatusApproved
	}
	body := map[string]string{"decision": string(decision), "justification": justification}
	var resp ApprovalDecisionResponse
	if err := c.doJSON(ctx, http.MethodPatch, "/api/approvals/"+url.PathEscape(approvalID)+"/decision", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) OpenExceptions(ctx context.Context, page, limit int) (*workflows.Page[*types.Exception], error) {
	q := url.Values{}
	setPage(q, page, limit)
	var out workflows.Page[*types.Exception]
	if err := c.doJSON(ctx, http.MethodGet, withQuery("/api/exceptions/open", q), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ResolveException(ctx context.Context, exceptionID string, resolution workflows.ExceptionResolution) (*ExceptionResolutionResponse, error) {
	var resp ExceptionResolutionResponse
	if err := c.doJSON(ctx, http.MethodPatch, "/api/exceptions/"+url.PathEscape(exceptionID)+"/resolve", resolution, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) TriageException(ctx context.Context, exceptionID, assigneeID string) (*types.Exception, error) {
	var exc types.Exception
	body := map[string]string{"assigneeId": assigneeID}
	if err := c.doJSON(ctx, http.MethodPost, "/api/exceptions/"+url.PathEscape(exceptionID)+"/triage", body, &exc); err != nil {
		return nil, err
	}
	return &exc, nil
}

func (c *Client) ListPolicies(ctx context.Context, activeOnly bool) ([]*types.Policy, error) {
	path := "/api/policies"
	if activeOnly {
		path += "?active=true"
	}
	var resp PoliciesResponse
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

func (c *Client) PublishPolicy(ctx context.Context, draft workflows.PolicyDraft) (*types.Policy, error) {
	var policy types.Policy
	if err := c.doJSON(ctx, http.MethodPost, "/api/policies", draft, &policy); err != nil {
		return nil, err
	}
	return &policy, nil
}

func (c *Client) DeactivatePolicy(ctx context.Context, policyID string) (*types.Policy, error) {
	var policy types.Policy
	if err := c.doJSON(ctx, http.MethodPost, "/api/policies/"+url.PathEscape(policyID)+"/deactivate", nil, &policy); err != nil {
		return nil, err
	}
	return &policy, nil
}

func (c *Client) SeedPolicies(ctx context.Context) ([]*types.Policy, error) {
	var resp PoliciesResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/policies/seed", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

func (c *Client) ListWorkflows(ctx context.Context) ([]workflows.WorkflowDefinition, error) {
	var resp WorkflowsResponse
	if err := c.doJSON(ctx, http.MethodGet, "/api/workflows", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

func (c *Client) DashboardKPIs(ctx context.Context) (*workflows.KPIs, error) {
	var kpis workflows.KPIs
	if err := c.doJSON(ctx, http.MethodGet, "/api/dashboard/kpis", nil, &kpis); err != nil {
		return nil, err
	}
	return &kpis, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeAPIError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func setPage(q url.Values, page, limit int) {
	if page > 0 {
		q.Set("page", strconv.Itoa(page))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
}

func withQuery(path string, q url.Values) string {
	if len(q) == 0 {
		return path
	}
	return path + "?" + q.Encode()
}

func decodeAPIError(resp *http.Response) error {
	type errorPayload struct {
		Error string `json:"error"`
		Kind  string `json:"kind"`
	}
	var payload errorPayload
	_ = json.NewDecoder(resp.Body).Decode(&payload)
	if payload.Error != "" {
		return &APIError{StatusCode: resp.StatusCode, Kind: payload.Kind, Message: payload.Error}
	}
	return &APIError{StatusCode: resp.StatusCode, Message: resp.Status}
}

type APIError struct {
	StatusCode int
	Kind       string
	Message    string
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Kind != "" {
		return fmt.Sprintf("api error (%d %s): %s", e.StatusCode, e.Kind, e.Message)
	}
	return fmt.Sprintf("api error (%d): %s", e.StatusCode, e.Message)
}

// ErrorKind returns the server's error kind, or "" for non-API errors.
func ErrorKind(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return ""
}
