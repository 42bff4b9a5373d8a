package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"flowops/internal/render"
	"flowops/internal/types"
)

type StatusCommand struct{ apiCommand }

func NewStatusCommand(out output, stderr io.Writer, newClient clientFactory) *StatusCommand {
	return &StatusCommand{apiCommand{out: out, stderr: stderr, newClient: newClient}}
}

func (c *StatusCommand) Run(args []string) error {
	fs := c.flags("status")
	asJSON := fs.Bool("json", false, "print JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	ctx := context.Background()
	client, err := c.client()
	if err != nil {
		return err
	}
	health, err := client.Health(ctx)
	if err != nil {
		return explainUnavailable(err)
	}
	me, err := client.Me(ctx)
	if err != nil {
		return err
	}
	kpis, err := client.DashboardKPIs(ctx)
	if err != nil {
		return err
	}
	if *asJSON {
		return c.out.json(map[string]any{"health": health, "me": me, "kpis": kpis})
	}

	var md strings.Builder
	fmt.Fprintf(&md, "# flowops %s\n\n", health.Version)
	fmt.Fprintf(&md, "Signed in as **%s** (%s), pid %d.\n\n", me.Principal.ID, me.Principal.Role, health.PID)
	md.WriteString("| Metric | Value |\n|---|---|\n")
	fmt.Fprintf(&md, "| Total runs | %d |\n", kpis.TotalRuns)
	fmt.Fprintf(&md, "| Runs last 24h | %d |\n", kpis.RunsLast24h)
	fmt.Fprintf(&md, "| Success rate | %.1f%% |\n", kpis.SuccessRate*100)
	fmt.Fprintf(&md, "| Pending approvals | %d |\n", kpis.PendingApprovals)
	fmt.Fprintf(&md, "| Open exceptions | %d |\n", kpis.OpenExceptions)
	fmt.Fprintf(&md, "| Escalated exceptions | %d |\n", kpis.EscalatedExceptions)
	fmt.Fprintf(&md, "| Avg approval time | %.0fs |\n", kpis.AverageApprovalTimeSeconds)
	statuses := make([]string, 0, len(kpis.RunsByStatus))
	for status := range kpis.RunsByStatus {
		statuses = append(statuses, string(status))
	}
	sort.Strings(statuses)
	for _, status := range statuses {
		fmt.Fprintf(&md, "| %s | %d |\n", status, kpis.RunsByStatus[types.RunStatus(status)])
	}
	c.out.markdown(md.String())
	return nil
}

type WorkflowsCommand struct{ apiCommand }

func NewWorkflowsCommand(out output, stderr io.Writer, newClient clientFactory) *WorkflowsCommand {
	return &WorkflowsCommand{apiCommand{out: out, stderr: stderr, newClient: newClient}}
}

func (c *WorkflowsCommand) Run(args []string) error {
	fs := c.flags("workflows")
	asJSON := fs.Bool("json", false, "print JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	client, err := c.client()
	if err != nil {
		return err
	}
	defs, err := client.ListWorkflows(context.Background())
	if err != nil {
		return explainUnavailable(err)
	}
	if *asJSON {
		return c.out.json(defs)
	}
	return c.out.table(render.WorkflowsTable(defs))
}
