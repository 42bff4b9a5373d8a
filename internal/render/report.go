package render

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"flowops/internal/types"
	"flowops/internal/workflows"
)

const timeLayout = "2006-01-02 15:04:05Z07:00"

// RunReport builds a Markdown summary of a run and everything recorded
// against it.
func RunReport(detail *workflows.RunDetail) string {
	if detail == nil || detail.Run == nil {
		return ""
	}
	run := detail.Run
	var b strings.Builder
	fmt.Fprintf(&b, "# Run %s\n\n", run.ID)
	fmt.Fprintf(&b, "- **Workflow:** %s\n", run.WorkflowID)
	fmt.Fprintf(&b, "- **Status:** %s\n", run.Status)
	fmt.Fprintf(&b, "- **Event:** %s on %s %s\n", run.EventType, orDash(run.ObjectType), orDash(run.ObjectID))
	fmt.Fprintf(&b, "- **Correlation:** `%s`\n", run.CorrelationID)
	fmt.Fprintf(&b, "- **Created:** %s\n", formatTime(&run.CreatedAt))
	if run.CompletedAt != nil {
		fmt.Fprintf(&b, "- **Finished:** %s\n", formatTime(run.CompletedAt))
	}
	if run.ErrorMessage != "" {
		fmt.Fprintf(&b, "- **Error:** %s\n", escapeMarkdown(run.ErrorMessage))
	}
	if run.CancelReason != "" {
		fmt.Fprintf(&b, "- **Cancel reason:** %s\n", escapeMarkdown(run.CancelReason))
	}

	b.WriteString("\n## Steps\n\n")
	if len(detail.Steps) == 0 {
		b.WriteString("No steps executed yet.\n")
	} else {
		b.WriteString("| # | Step | Status | Retries | Error |\n|---|---|---|---|---|\n")
		for _, step := range detail.Steps {
			fmt.Fprintf(&b, "| %d | %s | %s | %d | %s |\n",
				step.Seq, step.StepName, step.Status, step.RetryCount, escapeMarkdown(step.ErrorMessage))
		}
	}

	if len(detail.Approvals) > 0 {
		b.WriteString("\n## Approvals\n\n| ID | Type | Risk | Status | Approver | Justification |\n|---|---|---|---|---|---|\n")
		for _, a := range detail.Approvals {
			fmt.Fprintf(&b, "| %s | %s | %s | %s | %s | %s |\n",
				a.ID, a.Type, a.RiskLevel, a.Status, orDash(a.ApproverID), escapeMarkdown(a.Justification))
		}
	}

	if len(detail.Exceptions) > 0 {
		b.WriteString("\n## Exceptions\n\n| ID | Type | Status | Step | Title |\n|---|---|---|---|---|\n")
		for _, e := range detail.Exceptions {
			fmt.Fprintf(&b, "| %s | %s | %s | %s | %s |\n",
				e.ID, e.Type, e.Status, orDash(e.StepName), escapeMarkdown(e.Title))
		}
	}

	if ctx := run.Checkpoint.Context; len(ctx) > 0 {
		if data, err := json.MarshalIndent(ctx, "", "  "); err == nil {
			b.WriteString("\n## Context\n\n```json\n")
			b.Write(data)
			b.WriteString("\n```\n")
		}
	}
	return b.String()
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.UTC().Format(timeLayout)
}

// Age renders how long ago t was, rounded for a list column.
func Age(t time.Time, now time.Time) string {
	if t.IsZero() {
		return "-"
	}
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 48*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

// RunsTable lists runs newest first as the server returned them.
func RunsTable(runs []*types.Run, now time.Time) *Table {
	t := &Table{Headers: []string{"ID", "WORKFLOW", "STATUS", "OBJECT", "AGE", "ERROR"}, Empty: "no runs"}
	for _, run := range runs {
		t.Append(run.ID, run.WorkflowID, Status(string(run.Status)),
			orDash(run.ObjectType)+"/"+orDash(run.ObjectID), Age(run.CreatedAt, now), orDash(run.ErrorMessage))
	}
	return t
}

func ApprovalsTable(approvals []*types.Approval, now time.Time) *Table {
	t := &Table{Headers: []string{"ID", "RUN", "TYPE", "RISK", "STATUS", "AGE", "TITLE"}, Empty: "no approvals"}
	for _, a := range approvals {
		t.Append(a.ID, a.RunID, string(a.Type), string(a.RiskLevel), Status(string(a.Status)), Age(a.RequestedAt, now), a.Title)
	}
	return t
}

func ExceptionsTable(exceptions []*types.Exception, now time.Time) *Table {
	t := &Table{Headers: []string{"ID", "RUN", "TYPE", "STATUS", "ASSIGNEE", "AGE", "TITLE"}, Empty: "no open exceptions"}
	for _, e := range exceptions {
		t.Append(e.ID, e.RunID, string(e.Type), Status(string(e.Status)), orDash(e.AssigneeID), Age(e.CreatedAt, now), e.Title)
	}
	return t
}

func PoliciesTable(policies []*types.Policy) *Table {
	t := &Table{Headers: []string{"ID", "NAME", "VERSION", "ACTIVE", "APPROVAL", "RISK"}, Empty: "no policies"}
	for _, p := range policies {
		active := "no"
		if p.IsActive {
			active = "yes"
		}
		approval := "-"
		if p.Actions.RequireApproval {
			approval = string(p.Actions.ApprovalType)
		}
		t.Append(p.ID, p.Name, fmt.Sprintf("v%d", p.Version), active, approval, orDash(string(p.Actions.RiskLevel)))
	}
	return t
}

func WorkflowsTable(defs []workflows.WorkflowDefinition) *Table {
	t := &Table{Headers: []string{"ID", "NAME", "TRIGGERS", "STEPS"}, Empty: "no workflows"}
	for _, def := range defs {
		t.Append(def.ID, def.Name, strings.Join(def.Triggers, ","), strings.Join(def.Steps, " → "))
	}
	return t
}
