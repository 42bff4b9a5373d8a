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

var regulatedIndustries = map[string]bool{
	"Government":         true,
	"Healthcare":         true,
	"Financial Services": true,
}

// industryAliases maps HubSpot industry enum values onto display names.
var industryAliases = map[string]string{
	"GOVERNMENT_ADMINISTRATION": "Government",
	"GOVERNMENT":                "Government",
	"HOSPITAL_HEALTH_CARE":      "Healthcare",
	"HEALTH_CARE":               "Healthcare",
	"HEALTHCARE":                "Healthcare",
	"FINANCIAL_SERVICES":        "Financial Services",
	"BANKING":                   "Financial Services",
	"COMPUTER_SOFTWARE":         "Software",
	"INFORMATION_TECHNOLOGY":    "Information Technology",
	"RETAIL":                    "Retail",
}

type companySteps struct {
	deps Deps
}

func (s companySteps) extract(_ context.Context, in types.Record) (types.Record, error) {
	id := objectID(in)
	if id == "" {
		return nil, workflows.ValidationError("company event has no object id")
	}
	props := objectProperties(in)
	lifecycle := text(props, "lifecyclestage")
	if lifecycle == "" {
		lifecycle = "prospect"
	}
	company := types.Record{
		"hubspotId":      types.String(id),
		"name":           types.String(text(props, "name")),
		"domain":         types.String(text(props, "domain")),
		"industry":       types.String(text(props, "industry")),
		"employeeCount":  types.Number(number(props, "numberofemployees")),
		"annualRevenue":  types.Number(number(props, "annualrevenue")),
		"lifecycleStage": types.String(lifecycle),
	}
	return types.Record{
		"company":       types.Map(company),
		"employeeCount": company["employeeCount"],
		"annualRevenue": company["annualRevenue"],
		"industry":      company["industry"],
	}, nil
}

func (s companySteps) normalize(_ context.Context, in types.Record) (types.Record, error) {
	company := in.Map("company")
	if company == nil {
		return nil, workflows.ValidationError("normalize_company_data requires extracted company data")
	}
	company = company.Clone()
	name := strings.Join(strings.Fields(text(company, "name")), " ")
	domain := normalizeDomain(text(company, "domain"))
	industry := normalizeIndustry(text(company, "industry"))
	company["name"] = types.String(name)
	company["domain"] = types.String(domain)
	company["industry"] = types.String(industry)

	var issues []string
	if name == "" {
		issues = append(issues, "missing company name")
	}
	if domain == "" {
		issues = append(issues, "missing domain")
	}
	if industry == "" {
		issues = append(issues, "missing industry")
	}
	employees := number(company, "employeeCount")
	revenue := number(company, "annualRevenue")
	var reasons []string
	if employees > 1000 {
		reasons = append(reasons, "Large company (>1000 employees)")
	}
	if revenue > 10_000_000 {
		reasons = append(reasons, "High revenue company (>$10M)")
	}
	if regulatedIndustries[industry] {
		reasons = append(reasons, "Regulated industry: "+industry)
	}
	risk := types.RiskLow
	switch {
	case len(reasons) >= 2:
		risk = types.RiskHigh
	case len(reasons) == 1:
		risk = types.RiskMedium
	}
	company["riskLevel"] = types.String(string(risk))
	return types.Record{
		"company":           types.Map(company),
		"industry":          types.String(industry),
		"dataQualityIssues": strs(issues...),
		"reviewReasons":     strs(reasons...),
		"companyRiskLevel":  types.String(string(risk)),
	}, nil
}

func (s companySteps) upsertAccount(ctx context.Context, in types.Record) (types.Record, error) {
	company := in.Map("company")
	hubspotID := text(company, "hubspotId")
	if hubspotID == "" {
		return nil, workflows.ValidationError("upsert_account_record requires a company hubspotId")
	}
	if s.deps.Store == nil {
		return nil, workflows.IntegrationError(errors.New("account store is not configured"))
	}
	now := s.deps.Now().UTC()
	var (
		account *types.Account
		created bool
	)
	err := s.deps.Store.Update(ctx, func(tx *store.Tx) error {
		existing, err := tx.GetAccount(hubspotID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			account = &types.Account{ID: uuid.NewString(), HubspotID: hubspotID, CreatedAt: now}
			created = true
		case err != nil:
			return err
		default:
			account = existing
		}
		if name := text(company, "name"); name != "" {
			account.Name = name
		}
		if domain := text(company, "domain"); domain != "" {
			account.Domain = domain
		}
		if industry := text(company, "industry"); industry != "" {
			account.Industry = industry
		}
		if employees := number(company, "employeeCount"); employees > 0 {
			account.EmployeeCount = int(employees)
		}
		if revenue := number(company, "annualRevenue"); revenue > 0 {
			account.AnnualRevenue = revenue
		}
		account.Properties = account.Properties.Merge(objectProperties(in))
		account.UpdatedAt = now
		return tx.PutAccount(account)
	})
	if err != nil {
		return nil, workflows.IntegrationError(fmt.Errorf("upsert account %s: %w", hubspotID, err))
	}
	return types.Record{
		"accountId":      types.String(account.ID),
		"accountCreated": types.Bool(created),
	}, nil
}

func (s companySteps) finalize(_ context.Context, in types.Record) (types.Record, error) {
	company := in.Map("company")
	reviewReasons, _ := in.Get("reviewReasons")
	return types.Record{
		"result": types.Map(types.Record{
			"status":             types.String("completed"),
			"accountId":          types.String(text(in, "accountId")),
			"companyName":        types.String(text(company, "name")),
			"reviewReasons":      reviewReasons,
			"kickoffRecommended": types.Bool(text(company, "lifecycleStage") == "customer"),
			"completedAt":        types.String(s.deps.Now().UTC().Format(time.RFC3339)),
		}),
	}, nil
}

func normalizeDomain(raw string) string {
	domain := strings.ToLower(strings.TrimSpace(raw))
	domain = strings.TrimPrefix(domain, "https://")
	domain = strings.TrimPrefix(domain, "http://")
	domain = strings.TrimPrefix(domain, "www.")
	if i := strings.IndexAny(domain, "/?#"); i >= 0 {
		domain = domain[:i]
	}
	return domain
}

func normalizeIndustry(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	key := strings.ToUpper(strings.NewReplacer(" ", "_", "-", "_", "&", "AND").Replace(raw))
	if alias, ok := industryAliases[key]; ok {
		return alias
	}
	for name := range regulatedIndustries {
		if strings.EqualFold(name, raw) {
			return name
		}
	}
	return raw
}
