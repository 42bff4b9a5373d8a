package workflows

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

const (
	WorkflowCompanyIntake       = "company_intake"
	WorkflowContactRoleMapping  = "contact_role_mapping"
	WorkflowDealStageKickoff    = "deal_stage_kickoff"
	WorkflowProcurementApproval = "procurement_approval"
)

// WorkflowDefinition is an ordered list of step names and the events that
// start it. A trigger is an event type, optionally suffixed with the changed
// property name ("deal.propertyChange.amount").
type WorkflowDefinition struct {
	ID          string   `json:"id" toml:"id"`
	Name        string   `json:"name" toml:"name"`
	Description string   `json:"description,omitempty" toml:"description"`
	Triggers    []string `json:"triggers" toml:"triggers"`
	Steps       []string `json:"steps" toml:"steps"`
}

func (d WorkflowDefinition) validate() error {
	if strings.TrimSpace(d.ID) == "" {
		return fmt.Errorf("%w: workflow id is required", ErrValidation)
	}
	if len(d.Steps) == 0 {
		return fmt.Errorf("%w: workflow %s has no steps", ErrValidation, d.ID)
	}
	for i, step := range d.Steps {
		if strings.TrimSpace(step) == "" {
			return fmt.Errorf("%w: workflow %s step %d is blank", ErrValidation, d.ID, i)
		}
	}
	return nil
}

func BuiltinDefinitions() []WorkflowDefinition {
	return []WorkflowDefinition{
		{
			ID:          WorkflowCompanyIntake,
			Name:        "Company Intake",
			Description: "Normalize a new or changed HubSpot company and mirror it as an account.",
			Triggers:    []string{"company.creation", "company.propertyChange"},
			Steps: []string{
				"extract_company_data",
				"normalize_company_data",
				"upsert_account_record",
				"finalize_intake",
			},
		},
		{
			ID:          WorkflowContactRoleMapping,
			Name:        "Contact Role Mapping",
			Description: "Infer a contact's buying role and the access they need.",
			Triggers:    []string{"contact.creation", "contact.propertyChange"},
			Steps: []string{
				"extract_contact_data",
				"infer_role_from_title",
				"link_contact_to_account",
				"generate_permission_checklist",
			},
		},
		{
			ID:          WorkflowDealStageKickoff,
			Name:        "Deal Stage Kickoff",
			Description: "Plan the internal kickoff when a deal reaches the kickoff stage.",
			Triggers:    []string{"deal.propertyChange.dealstage"},
			Steps: []string{
				"extract_deal_data",
				"analyze_kickoff_requirements",
				"create_calendar_event",
				"finalize_kickoff",
			},
		},
		{
			ID:          WorkflowProcurementApproval,
			Name:        "Procurement Approval",
			Description: "Assess deal risk and open a procurement record when the amount changes.",
			Triggers:    []string{"deal.propertyChange.amount"},
			Steps: []string{
				"extract_deal_data",
				"assess_deal_risk",
				"create_procurement_record",
				"finalize_procurement",
			},
		},
	}
}

type Registry struct {
	mu       sync.RWMutex
	defs     map[string]WorkflowDefinition
	triggers map[string]string
}

func NewRegistry(defs ...WorkflowDefinition) (*Registry, error) {
	r := &Registry{defs: map[string]WorkflowDefinition{}, triggers: map[string]string{}}
	for _, def := range defs {
		if err := r.Register(def); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds or replaces a definition. Later registrations win triggers.
func (r *Registry) Register(def WorkflowDefinition) error {
	def.ID = strings.TrimSpace(def.ID)
	if err := def.validate(); err != nil {
		return err
	}
	def.Steps = append([]string(nil), def.Steps...)
	def.Triggers = append([]string(nil), def.Triggers...)
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.defs[def.ID]; ok {
		for _, trigger := range old.Triggers {
			if r.triggers[trigger] == def.ID {
				delete(r.triggers, trigger)
			}
		}
	}
	r.defs[def.ID] = def
	for _, trigger := range def.Triggers {
		trigger = strings.TrimSpace(trigger)
		if trigger != "" {
			r.triggers[trigger] = def.ID
		}
	}
	return nil
}

func (r *Registry) Get(id string) (WorkflowDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[strings.TrimSpace(id)]
	return def, ok
}

// Resolve finds the workflow for an event, preferring the property-specific
// trigger over the bare event type.
func (r *Registry) Resolve(eventType, propertyName string) (WorkflowDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	eventType = strings.TrimSpace(eventType)
	if prop := strings.TrimSpace(propertyName); prop != "" {
		if id, ok := r.triggers[eventType+"."+prop]; ok {
			return r.defs[id], true
		}
	}
	id, ok := r.triggers[eventType]
	if !ok {
		return WorkflowDefinition{}, false
	}
	return r.defs[id], true
}

func (r *Registry) List() []WorkflowDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]WorkflowDefinition, 0, len(r.defs))
	for _, def := range r.defs {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
