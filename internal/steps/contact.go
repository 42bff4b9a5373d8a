package steps

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"flowops/internal/store"
	"flowops/internal/types"
	"flowops/internal/workflows"
)

type contactSteps struct {
	deps Deps
}

func (s contactSteps) extract(_ context.Context, in types.Record) (types.Record, error) {
	id := objectID(in)
	if id == "" {
		return nil, workflows.ValidationError("contact event has no object id")
	}
	props := objectProperties(in)
	contact := types.Record{
		"hubspotId":           types.String(id),
		"email":               types.String(strings.ToLower(text(props, "email"))),
		"firstName":           types.String(text(props, "firstname")),
		"lastName":            types.String(text(props, "lastname")),
		"jobTitle":            types.String(text(props, "jobtitle")),
		"phone":               types.String(text(props, "phone")),
		"company":             types.String(text(props, "company")),
		"lifecycleStage":      types.String(text(props, "lifecyclestage")),
		"leadSource":          types.String(text(props, "hs_lead_source")),
		"seniority":           types.String(text(props, "seniority")),
		"department":          types.String(text(props, "department")),
		"associatedCompanyId": types.String(text(props, "associatedcompanyid")),
	}
	return types.Record{"contact": types.Map(contact)}, nil
}

// Role is the rule-based reading of a contact's job title.
type Role struct {
	Category          string
	FunctionalArea    string
	SeniorityLevel    string
	DecisionAuthority int
}

type keywordRule struct {
	keywords []string
	value    string
}

var seniorityRules = []keywordRule{
	{[]string{"chief", "ceo", "cfo", "cto", "coo", "cio", "ciso", "founder", "president", "owner", "partner"}, "Executive"},
	{[]string{"vp", "vice president", "head of", "director"}, "Senior Leadership"},
	{[]string{"manager", "lead", "principal", "supervisor"}, "Manager"},
}

var functionalRules = []keywordRule{
	{[]string{"cto", "engineer", "developer", "architect", "technical", "technology", "devops", "it ", "information technology", "security", "ciso", "cio"}, "Engineering"},
	{[]string{"cfo", "finance", "financial", "accounting", "controller", "treasur"}, "Finance"},
	{[]string{"procurement", "purchasing", "sourcing", "vendor"}, "Procurement"},
	{[]string{"marketing", "brand", "growth", "demand"}, "Marketing"},
	{[]string{"sales", "account executive", "business development", "revenue"}, "Sales"},
	{[]string{"legal", "counsel", "compliance"}, "Legal"},
	{[]string{"operations", "coo", "ops"}, "Operations"},
	{[]string{"hr", "people", "talent", "recruit"}, "People"},
}

func matchRule(title string, rules []keywordRule) string {
	padded := " " + title + " "
	for _, rule := range rules {
		for _, keyword := range rule.keywords {
			if strings.Contains(padded, " "+keyword) {
				return rule.value
			}
		}
	}
	return ""
}

// InferRole classifies a job title. Department and seniority fields fill in
// what the title does not say.
func InferRole(title, department, seniority string) Role {
	normalized := strings.ToLower(strings.Join(strings.Fields(title), " "))
	role := Role{
		SeniorityLevel: matchRule(normalized, seniorityRules),
		FunctionalArea: matchRule(normalized, functionalRules),
	}
	if role.SeniorityLevel == "" {
		if seniority = strings.TrimSpace(seniority); seniority != "" {
			role.SeniorityLevel = seniority
		} else {
			role.SeniorityLevel = "Individual Contributor"
		}
	}
	if role.FunctionalArea == "" {
		if department = strings.TrimSpace(department); department != "" {
			role.FunctionalArea = department
		} else {
			role.FunctionalArea = "General"
		}
	}
	switch role.SeniorityLevel {
	case "Executive":
		role.Category, role.DecisionAuthority = "Decision Maker", 9
	case "Senior Leadership":
		role.Category, role.DecisionAuthority = "Decision Maker", 7
	case "Manager":
		role.Category, role.DecisionAuthority = "Influencer", 5
	default:
		role.Category, role.DecisionAuthority = "End User", 2
	}
	if role.FunctionalArea == "Procurement" && role.Category != "Decision Maker" {
		role.Category = "Gatekeeper"
	}
	if normalized == "" {
		role.Category = "Unknown"
	}
	return role
}

func (s contactSteps) inferRole(_ context.Context, in types.Record) (types.Record, error) {
	contact := in.Map("contact")
	if contact == nil {
		return nil, workflows.ValidationError("infer_role_from_title requires extracted contact data")
	}
	role := InferRole(text(contact, "jobTitle"), text(contact, "department"), text(contact, "seniority"))
	return types.Record{
		"role": types.Map(types.Record{
			"category":          types.String(role.Category),
			"functionalArea":    types.String(role.FunctionalArea),
			"seniorityLevel":    types.String(role.SeniorityLevel),
			"decisionAuthority": types.Number(float64(role.DecisionAuthority)),
		}),
		"decisionAuthority": types.Number(float64(role.DecisionAuthority)),
	}, nil
}

func (s contactSteps) linkToAccount(ctx context.Context, in types.Record) (types.Record, error) {
	contact := in.Map("contact")
	hubspotID := text(contact, "hubspotId")
	if hubspotID == "" {
		return nil, workflows.ValidationError("link_contact_to_account requires a contact hubspotId")
	}
	if s.deps.Store == nil {
		return nil, workflows.IntegrationError(errors.New("contact store is not configured"))
	}
	now := s.deps.Now().UTC()
	companyID := text(contact, "associatedCompanyId")
	var (
		record  *types.Contact
		account *types.Account
	)
	err := s.deps.Store.Update(ctx, func(tx *store.Tx) error {
		existing, err := tx.GetContact(hubspotID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			record = &types.Contact{ID: uuid.NewString(), HubspotID: hubspotID, CreatedAt: now}
		case err != nil:
			return err
		default:
			record = existing
		}
		if companyID != "" {
			account, err = tx.GetAccount(companyID)
			if err != nil && !errors.Is(err, store.ErrNotFound) {
				return err
			}
			if account != nil {
				record.AccountID = account.ID
			}
		}
		record.Email = text(contact, "email")
		record.FirstName = text(contact, "firstName")
		record.LastName = text(contact, "lastName")
		record.JobTitle = text(contact, "jobTitle")
		record.Properties = record.Properties.Merge(types.Record{"role": types.Map(in.Map("role"))})
		record.UpdatedAt = now
		return tx.PutContact(record)
	})
	if err != nil {
		return nil, workflows.IntegrationError(fmt.Errorf("link contact %s: %w", hubspotID, err))
	}
	out := types.Record{
		"contactRecordId": types.String(record.ID),
		"accountLinked":   types.Bool(account != nil),
	}
	if account != nil {
		out["accountId"] = types.String(account.ID)
		out["accountName"] = types.String(account.Name)
	}
	return out, nil
}

func checklistItem(item, description, assignee string, required bool) types.Value {
	return types.Map(types.Record{
		"item":        types.String(item),
		"description": types.String(description),
		"required":    types.Bool(required),
		"assignedTo":  types.String(assignee),
		"status":      types.String("pending"),
	})
}

func (s contactSteps) permissionChecklist(_ context.Context, in types.Record) (types.Record, error) {
	role := in.Map("role")
	if role == nil {
		return nil, workflows.ValidationError("generate_permission_checklist requires an inferred role")
	}
	items := []types.Value{
		checklistItem("CRM Access", "Basic CRM record access", "sales_ops", true),
		checklistItem("Email Marketing Consent", "Verify opt-in status for marketing emails", "marketing", true),
	}
	if text(role, "category") == "Decision Maker" {
		items = append(items,
			checklistItem("Executive Communication Access", "Access to executive-level communications", "executive_team", true),
			checklistItem("Pricing Information Access", "Access to detailed pricing and proposals", "sales_manager", true),
		)
	}
	switch text(role, "functionalArea") {
	case "Engineering":
		items = append(items,
			checklistItem("Technical Documentation Access", "Access to technical specs and API docs", "technical_team", false),
			checklistItem("Demo Environment Access", "Access to technical demo environment", "solutions_engineering", false),
		)
	case "Procurement", "Finance":
		items = append(items,
			checklistItem("Contract Portal Access", "Access to order forms and security questionnaires", "deal_desk", true),
		)
	}
	return types.Record{
		"permissionChecklist": types.List(items...),
		"checklistItemCount":  types.Number(float64(len(items))),
	}, nil
}
