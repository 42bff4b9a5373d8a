package workflows

import (
	"context"
	"time"

	"flowops/internal/store"
	"flowops/internal/types"
)

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 200
)

// Page is one window of a list, numbered from 1.
type Page[T any] struct {
	Data  []T `json:"data"`
	Total int `json:"total"`
	Page  int `json:"page"`
	Pages int `json:"pages"`
	Limit int `json:"limit"`
}

// Paginate slices items by limit and offset. Limits are clamped to
// (0, MaxPageLimit] and negative offsets are treated as zero.
func Paginate[T any](items []T, limit, offset int) Page[T] {
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	if offset < 0 {
		offset = 0
	}
	total := len(items)
	page := Page[T]{
		Data:  []T{},
		Total: total,
		Page:  offset/limit + 1,
		Pages: (total + limit - 1) / limit,
		Limit: limit,
	}
	if offset < total {
		end := offset + limit
		if end > total {
			end = total
		}
		page.Data = items[offset:end]
	}
	return page
}

type RunQuery struct {
	Status     types.RunStatus
	WorkflowID string
	Limit      int
	Offset     int
}

// RunDetail is a run with everything recorded against it.
type RunDetail struct {
	Run        *types.Run         `json:"run"`
	Steps      []*types.RunStep   `json:"steps"`
	Approvals  []*types.Approval  `json:"approvals"`
	Exceptions []*types.Exception `json:"exceptions"`
}

func (s *Service) GetRun(ctx context.Context, runID string) (*types.Run, error) {
	var run *types.Run
	err := s.store.View(ctx, func(tx *store.Tx) error {
		var err error
		run, err = s.readRun(tx, runID)
		return err
	})
	return run, err
}

func (s *Service) GetRunDetail(ctx context.Context, runID string) (*RunDetail, error) {
	detail := &RunDetail{}
	err := s.store.View(ctx, func(tx *store.Tx) error {
		var err error
		if detail.Run, err = s.readRun(tx, runID); err != nil {
			return err
		}
		if detail.Steps, err = tx.ListSteps(runID); err != nil {
			return err
		}
		if detail.Approvals, err = tx.ListApprovals(store.ApprovalFilter{RunID: runID}); err != nil {
			return err
		}
		detail.Exceptions, err = tx.ListExceptions(store.ExceptionFilter{RunID: runID})
		return err
	})
	if err != nil {
		return nil, err
	}
	return detail, nil
}

// readRun loads a run and overlays a cancel request that is still waiting
// for its advance to finish.
func (s *Service) readRun(tx *store.Tx, runID string) (*types.Run, error) {
	run, err := s.getRunTx(tx, runID)
	if err != nil {
		return nil, err
	}
	if req, ok, err := tx.GetCancelRequest(runID); err != nil {
		return nil, err
	} else if ok && !run.Status.Terminal() {
		requested := req.RequestedAt
		run.CancelRequestedAt = &requested
		run.CancelReason = req.Reason
	}
	return run, nil
}

func (s *Service) ListRuns(ctx context.Context, q RunQuery) (Page[*types.Run], error) {
	var runs []*types.Run
	err := s.store.View(ctx, func(tx *store.Tx) error {
		var err error
		runs, err = tx.ListRuns(store.RunFilter{Status: q.Status, WorkflowID: q.WorkflowID})
		return err
	})
	if err != nil {
		return Page[*types.Run]{}, err
	}
	return Paginate(runs, q.Limit, q.Offset), nil
}

func (s *Service) GetApproval(ctx context.Context, approvalID string) (*types.Approval, error) {
	return s.lookupApproval(ctx, approvalID)
}

func (s *Service) ListApprovals(ctx context.Context, status types.ApprovalStatus, limit, offset int) (Page[*types.Approval], error) {
	var approvals []*types.Approval
	err := s.store.View(ctx, func(tx *store.Tx) error {
		var err error
		approvals, err = tx.ListApprovals(store.ApprovalFilter{Status: status})
		return err
	})
	if err != nil {
		return Page[*types.Approval]{}, err
	}
	return Paginate(approvals, limit, offset), nil
}

func (s *Service) GetException(ctx context.Context, exceptionID string) (*types.Exception, error) {
	return s.lookupException(ctx, exceptionID)
}

// ListOpenExceptions returns OPEN and IN_PROGRESS exceptions, oldest first.
func (s *Service) ListOpenExceptions(ctx context.Context, limit, offset int) (Page[*types.Exception], error) {
	var exceptions []*types.Exception
	err := s.store.View(ctx, func(tx *store.Tx) error {
		var err error
		exceptions, err = tx.ListExceptions(store.ExceptionFilter{Unresolved: true})
		return err
	})
	if err != nil {
		return Page[*types.Exception]{}, err
	}
	return Paginate(exceptions, limit, offset), nil
}

func (s *Service) ListWebhookEvents(ctx context.Context, status types.WebhookEventStatus, limit, offset int) (Page[*types.WebhookEvent], error) {
	var events []*types.WebhookEvent
	err := s.store.View(ctx, func(tx *store.Tx) error {
		var err error
		events, err = tx.ListWebhookEvents(store.WebhookEventFilter{Status: status})
		return err
	})
	if err != nil {
		return Page[*types.WebhookEvent]{}, err
	}
	return Paginate(events, limit, offset), nil
}

func (s *Service) ListAccounts(ctx context.Context, limit, offset int) (Page[*types.Account], error) {
	var accounts []*types.Account
	err := s.store.View(ctx, func(tx *store.Tx) error {
		var err error
		accounts, err = tx.ListAccounts()
		return err
	})
	if err != nil {
		return Page[*types.Account]{}, err
	}
	return Paginate(accounts, limit, offset), nil
}

func (s *Service) ListContacts(ctx context.Context, limit, offset int) (Page[*types.Contact], error) {
	var contacts []*types.Contact
	err := s.store.View(ctx, func(tx *store.Tx) error {
		var err error
		contacts, err = tx.ListContacts()
		return err
	})
	if err != nil {
		return Page[*types.Contact]{}, err
	}
	return Paginate(contacts, limit, offset), nil
}

func (s *Service) ListDeals(ctx context.Context, limit, offset int) (Page[*types.Deal], error) {
	var deals []*types.Deal
	err := s.store.View(ctx, func(tx *store.Tx) error {
		var err error
		deals, err = tx.ListDeals()
		return err
	})
	if err != nil {
		return Page[*types.Deal]{}, err
	}
	return Paginate(deals, limit, offset), nil
}

// KPIs is the dashboard read model.
type KPIs struct {
	TotalRuns                  int                     `json:"totalRuns"`
	RunsByStatus               map[types.RunStatus]int `json:"runsByStatus"`
	RunsLast24h                int                     `json:"runsLast24h"`
	PendingApprovals           int                     `json:"pendingApprovals"`
	OpenExceptions             int                     `json:"openExceptions"`
	EscalatedExceptions        int                     `json:"escalatedExceptions"`
	SuccessRate                float64                 `json:"successRate"`
	AverageApprovalTimeSeconds float64                 `json:"averageApprovalTimeSeconds"`
}

// DashboardKPIs computes counts over the persisted runs, approvals and
// exceptions. Escalated exceptions are those resolved with ESCALATE whose run
// is still FAILED awaiting manual disposition. Success rate is completed runs over finished (completed,
// failed or cancelled) runs.
func (s *Service) DashboardKPIs(ctx context.Context) (*KPIs, error) {
	kpis := &KPIs{RunsByStatus: map[types.RunStatus]int{}}
	for _, status := range types.RunStatuses {
		kpis.RunsByStatus[status] = 0
	}
	now := s.clock()
	err := s.store.View(ctx, func(tx *store.Tx) error {
		runs, err := tx.ListRuns(store.RunFilter{})
		if err != nil {
			return err
		}
		kpis.TotalRuns = len(runs)
		failed := map[string]bool{}
		for _, run := range runs {
			kpis.RunsByStatus[run.Status]++
			if run.Status == types.RunStatusFailed {
				failed[run.ID] = true
			}
			if now.Sub(run.CreatedAt) <= 24*time.Hour {
				kpis.RunsLast24h++
			}
		}
		approvals, err := tx.ListApprovals(store.ApprovalFilter{})
		if err != nil {
			return err
		}
		var waited time.Duration
		responded := 0
		for _, approval := range approvals {
			if approval.Status == types.ApprovalStatusPending {
				kpis.PendingApprovals++
				continue
			}
			if approval.RespondedAt != nil && approval.Status != types.ApprovalStatusExpired {
				waited += approval.RespondedAt.Sub(approval.RequestedAt)
				responded++
			}
		}
		if responded > 0 {
			kpis.AverageApprovalTimeSeconds = waited.Seconds() / float64(responded)
		}
		open, err := tx.ListExceptions(store.ExceptionFilter{Unresolved: true})
		if err != nil {
			return err
		}
		kpis.OpenExceptions = len(open)
		resolved, err := tx.ListExceptions(store.ExceptionFilter{Status: types.ExceptionStatusResolved})
		if err != nil {
			return err
		}
		for _, exc := range resolved {
			if exc.ResolutionType == types.ResolutionEscalate && failed[exc.RunID] {
				kpis.EscalatedExceptions++
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	completed := kpis.RunsByStatus[types.RunStatusCompleted]
	finished := completed + kpis.RunsByStatus[types.RunStatusFailed] + kpis.RunsByStatus[types.RunStatusCancelled]
	if finished > 0 {
		kpis.SuccessRate = float64(completed) / float64(finished)
	}
	return kpis, nil
}
