// Package steps holds the builtin step implementations for the bundled
// HubSpot workflows. Pure steps reshape the event payload; record steps write
// the CRM mirror; integration steps call out through injected clients.
package steps

import (
	"strings"
	"time"

	"flowops/internal/store"
	"flowops/internal/types"
	"flowops/internal/workflows"
)

// DefaultKickoffStage is the deal stage that schedules a kickoff.
const DefaultKickoffStage = "presentationscheduled"

type Deps struct {
	Store        store.Store
	Calendar     CalendarClient
	Procurement  ProcurementClient
	KickoffStage string
	Now          func() time.Time
}

func (d Deps) withDefaults() Deps {
	if d.Calendar == nil {
		d.Calendar = unconfiguredClient{}
	}
	if d.Procurement == nil {
		d.Procurement = unconfiguredClient{}
	}
	if strings.TrimSpace(d.KickoffStage) == "" {
		d.KickoffStage = DefaultKickoffStage
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return d
}

// Register installs every builtin step on exec.
func Register(exec *workflows.Executor, deps Deps) {
	deps = deps.withDefaults()
	company := companySteps{deps: deps}
	contact := contactSteps{deps: deps}
	deal := dealSteps{deps: deps}

	exec.Register("extract_company_data", company.extract)
	exec.Register("normalize_company_data", company.normalize)
	exec.Register("upsert_account_record", company.upsertAccount)
	exec.Register("finalize_intake", company.finalize)

	exec.Register("extract_contact_data", contact.extract)
	exec.Register("infer_role_from_title", contact.inferRole)
	exec.Register("link_contact_to_account", contact.linkToAccount)
	exec.Register("generate_permission_checklist", contact.permissionChecklist)

	exec.Register("extract_deal_data", deal.extract)
	exec.Register("analyze_kickoff_requirements", deal.analyzeKickoff)
	exec.Register("create_calendar_event", deal.createCalendarEvent)
	exec.Register("finalize_kickoff", deal.finalizeKickoff)
	exec.Register("assess_deal_risk", deal.assessRisk)
	exec.Register("create_procurement_record", deal.createProcurementRecord)
	exec.Register("finalize_procurement", deal.finalizeProcurement)
}

// objectProperties returns the HubSpot object's properties with a changed
// property from a propertyChange event laid over them.
func objectProperties(in types.Record) types.Record {
	props := in.Map("object").Map("properties").Clone()
	if props == nil {
		props = types.Record{}
	}
	if name := strings.TrimSpace(in.String("propertyName")); name != "" {
		if value, ok := in.Get("propertyValue"); ok {
			props[name] = value
		}
	}
	return props
}

func objectID(in types.Record) string {
	if id := strings.TrimSpace(in.Map("object").String("id")); id != "" {
		return id
	}
	if id := strings.TrimSpace(in.String("objectId")); id != "" {
		return id
	}
	return strings.TrimSpace(in.Map("run").String("objectId"))
}

func field(r types.Record, key string) types.Value {
	v, _ := r.Get(key)
	return v
}

func number(r types.Record, key string) float64 {
	v, ok := r.Get(key)
	if !ok {
		return 0
	}
	n, _ := v.Numeric()
	return n
}

func text(r types.Record, key string) string {
	return strings.TrimSpace(r.String(key))
}

func strs(values ...string) types.Value {
	items := make([]types.Value, 0, len(values))
	for _, v := range values {
		items = append(items, types.String(v))
	}
	return types.List(items...)
}
