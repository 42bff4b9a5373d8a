package steps

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"flowops/internal/store"
	"flowops/internal/types"
	"flowops/internal/workflows"
)

type dealSteps struct {
	deps Deps
}

func (s dealSteps) extract(_ context.Context, in types.Record) (types.Record, error) {
	id := objectID(in)
	if id == "" {
		return nil, workflows.ValidationError("deal event has no object id")
	}
	props := objectProperties(in)
	amount := number(props, "amount")
	stage := text(props, "dealstage")
	deal := types.Record{
		"hubspotId":   types.String(id),
		"name":        types.String(text(props, "dealname")),
		"stage":       types.String(stage),
		"amount":      types.Number(amount),
		"closeDate":   types.String(text(props, "closedate")),
		"probability": types.Number(number(props, "probability")),
		"dealType":    types.String(text(props, "dealtype")),
		"pipeline":    types.String(text(props, "pipeline")),
		"companyId":   types.String(text(props, "associatedcompanyid")),
	}
	return types.Record{
		"deal":      types.Map(deal),
		"amount":    types.Number(amount),
		"dealStage": types.String(stage),
	}, nil
}

func (s dealSteps) analyzeKickoff(_ context.Context, in types.Record) (types.Record, error) {
	deal := in.Map("deal")
	if deal == nil {
		return nil, workflows.ValidationError("analyze_kickoff_requirements requires extracted deal data")
	}
	stage := text(deal, "stage")
	required := strings.EqualFold(stage, s.deps.KickoffStage)
	amount := number(deal, "amount")
	enterprise := strings.Contains(strings.ToLower(text(deal, "dealType")), "enterprise")

	participants := []string{"Account Executive", "Solutions Engineer", "Customer Success Manager"}
	duration := 60
	if amount > 50_000 {
		participants = append(participants, "Sales Director")
	}
	if amount > 100_000 || enterprise {
		participants = append(participants, "Implementation Lead")
		duration = 90
	}
	var reasons []string
	if amount > 50_000 {
		reasons = append(reasons, fmt.Sprintf("Deal amount $%.0f exceeds kickoff review threshold", amount))
	}
	if stage == "closedwon" {
		reasons = append(reasons, "Deal closed/won requires executive kickoff")
	}
	if enterprise {
		reasons = append(reasons, "Enterprise deal type")
	}
	kickoff := types.Record{
		"required":               types.Bool(required),
		"triggerStage":           types.String(s.deps.KickoffStage),
		"participants":           strs(participants...),
		"requiredArtifacts":      strs("Contract", "Implementation Plan"),
		"meetingDurationMinutes": types.Number(float64(duration)),
		"successFactors":         strs("Clear agenda", "Defined next steps"),
		"reviewReasons":          strs(reasons...),
	}
	return types.Record{
		"kickoff":         types.Map(kickoff),
		"kickoffRequired": types.Bool(required),
	}, nil
}

func (s dealSteps) createCalendarEvent(ctx context.Context, in types.Record) (types.Record, error) {
	kickoff := in.Map("kickoff")
	if required, _ := field(kickoff, "required").AsBool(); !required {
		return types.Record{"calendarEvent": types.Map(types.Record{"status": types.String("skipped")})}, nil
	}
	deal := in.Map("deal")
	name := text(deal, "name")
	if name == "" {
		name = "Internal Kickoff"
	}
	duration, _ := field(kickoff, "meetingDurationMinutes").Numeric()
	event := CalendarEvent{
		Summary:         "Internal Kickoff: " + name,
		Description:     "Kickoff for deal: " + name,
		Attendees:       listStrings(field(kickoff, "participants")),
		DurationMinutes: int(duration),
		DealID:          text(deal, "hubspotId"),
	}
	receipt, err := s.deps.Calendar.CreateEvent(ctx, event)
	if err != nil {
		return nil, workflows.IntegrationError(fmt.Errorf("create calendar event: %w", err))
	}
	return types.Record{"calendarEvent": receiptRecord(receipt)}, nil
}

func (s dealSteps) finalizeKickoff(ctx context.Context, in types.Record) (types.Record, error) {
	deal, err := s.mirrorDeal(ctx, in)
	if err != nil {
		return nil, err
	}
	event := in.Map("calendarEvent")
	scheduled := event != nil && text(event, "status") != "skipped"
	return types.Record{
		"result": types.Map(types.Record{
			"status":           types.String("completed"),
			"dealId":           types.String(deal.ID),
			"kickoffScheduled": types.Bool(scheduled),
			"calendarEventId":  types.String(text(event, "id")),
			"completedAt":      types.String(s.deps.Now().UTC().Format(time.RFC3339)),
		}),
	}, nil
}

// DealRisk tiers a deal by amount, bumped one tier when red flags pile up.
func DealRisk(amount, probability float64, closeDate string) (types.RiskLevel, []string) {
	var flags []string
	if amount >= 100_000 && probability > 0 && probability < 20 {
		flags = append(flags, "Low win probability on a large deal")
	}
	if strings.TrimSpace(closeDate) == "" {
		flags = append(flags, "Missing close date")
	}
	if amount <= 0 {
		flags = append(flags, "Missing or zero amount")
	}
	tiers := []types.RiskLevel{types.RiskLow, types.RiskMedium, types.RiskHigh, types.RiskCritical}
	tier := 0
	switch {
	case amount >= 500_000:
		tier = 3
	case amount >= 100_000:
		tier = 2
	case amount >= 25_000:
		tier = 1
	}
	if len(flags) >= 2 && tier < len(tiers)-1 {
		tier++
	}
	return tiers[tier], flags
}

func approversFor(risk types.RiskLevel, amount float64) []string {
	var approvers []string
	switch {
	case risk == types.RiskHigh || risk == types.RiskCritical || amount > 50_000:
		approvers = append(approvers, "Head of Sales")
	case risk == types.RiskMedium || amount > 25_000:
		approvers = append(approvers, "Sales Manager")
	default:
		approvers = append(approvers, "Sales Director")
	}
	if risk == types.RiskHigh || risk == types.RiskCritical {
		approvers = append(approvers, "Finance Manager")
	}
	return approvers
}

func (s dealSteps) assessRisk(_ context.Context, in types.Record) (types.Record, error) {
	deal := in.Map("deal")
	if deal == nil {
		return nil, workflows.ValidationError("assess_deal_risk requires extracted deal data")
	}
	amount := number(deal, "amount")
	risk, flags := DealRisk(amount, number(deal, "probability"), text(deal, "closeDate"))
	assessment := types.Record{
		"riskLevel": types.String(string(risk)),
		"amount":    types.Number(amount),
		"redFlags":  strs(flags...),
		"approvers": strs(approversFor(risk, amount)...),
	}
	return types.Record{
		"riskAssessment": types.Map(assessment),
		"riskLevel":      types.String(string(risk)),
	}, nil
}

func (s dealSteps) createProcurementRecord(ctx context.Context, in types.Record) (types.Record, error) {
	deal := in.Map("deal")
	assessment := in.Map("riskAssessment")
	if deal == nil || assessment == nil {
		return nil, workflows.ValidationError("create_procurement_record requires deal data and a risk assessment")
	}
	record := ProcurementRecord{
		DealID:    text(deal, "hubspotId"),
		DealName:  text(deal, "name"),
		Amount:    number(deal, "amount"),
		Stage:     text(deal, "stage"),
		RiskLevel: text(assessment, "riskLevel"),
		RedFlags:  listStrings(field(assessment, "redFlags")),
		Approvers: listStrings(field(assessment, "approvers")),
		Status:    "PENDING_APPROVAL",
	}
	receipt, err := s.deps.Procurement.CreateRecord(ctx, record)
	if err != nil {
		return nil, workflows.IntegrationError(fmt.Errorf("create procurement record: %w", err))
	}
	return types.Record{
		"procurementRecordId": types.String(receipt.ID),
		"procurementRecord":   receiptRecord(receipt),
	}, nil
}

func (s dealSteps) finalizeProcurement(ctx context.Context, in types.Record) (types.Record, error) {
	deal, err := s.mirrorDeal(ctx, in)
	if err != nil {
		return nil, err
	}
	return types.Record{
		"result": types.Map(types.Record{
			"status":              types.String("completed"),
			"dealId":              types.String(deal.ID),
			"procurementRecordId": types.String(text(in, "procurementRecordId")),
			"riskLevel":           types.String(text(in, "riskLevel")),
			"completedAt":         types.String(s.deps.Now().UTC().Format(time.RFC3339)),
		}),
	}, nil
}

// mirrorDeal upserts the deal row and links it to a known account.
func (s dealSteps) mirrorDeal(ctx context.Context, in types.Record) (*types.Deal, error) {
	data := in.Map("deal")
	hubspotID := text(data, "hubspotId")
	if hubspotID == "" {
		return nil, workflows.ValidationError("deal data has no hubspotId")
	}
	if s.deps.Store == nil {
		return nil, workflows.IntegrationError(errors.New("deal store is not configured"))
	}
	now := s.deps.Now().UTC()
	var deal *types.Deal
	err := s.deps.Store.Update(ctx, func(tx *store.Tx) error {
		existing, err := tx.GetDeal(hubspotID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			deal = &types.Deal{ID: uuid.NewString(), HubspotID: hubspotID, CreatedAt: now}
		case err != nil:
			return err
		default:
			deal = existing
		}
		if companyID := text(data, "companyId"); companyID != "" {
			account, err := tx.GetAccount(companyID)
			if err != nil && !errors.Is(err, store.ErrNotFound) {
				return err
			}
			if account != nil {
				deal.AccountID = account.ID
			}
		}
		if name := text(data, "name"); name != "" {
			deal.Name = name
		}
		if stage := text(data, "stage"); stage != "" {
			deal.Stage = stage
		}
		if amount := number(data, "amount"); amount > 0 {
			deal.Amount = amount
		}
		deal.Properties = deal.Properties.Merge(objectProperties(in))
		deal.UpdatedAt = now
		return tx.PutDeal(deal)
	})
	if err != nil {
		return nil, workflows.IntegrationError(fmt.Errorf("mirror deal %s: %w", hubspotID, err))
	}
	return deal, nil
}

func listStrings(v types.Value) []string {
	items, _ := v.AsList()
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.AsString(); ok {
			out = append(out, s)
		}
	}
	return out
}
