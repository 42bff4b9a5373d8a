package main

import (
	"context"
	"fmt"
	"io"

	"flowops/internal/render"
)

type ApprovalsCommand struct{ apiCommand }

func NewApprovalsCommand(out output, stderr io.Writer, newClient clientFactory) *ApprovalsCommand {
	return &ApprovalsCommand{apiCommand{out: out, stderr: stderr, newClient: newClient}}
}

func (c *ApprovalsCommand) Run(args []string) error {
	fs := c.flags("approvals")
	page := fs.Int("page", 1, "page number")
	limit := fs.Int("limit", 0, "page size")
	asJSON := fs.Bool("json", false, "print JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	client, err := c.client()
	if err != nil {
		return err
	}
	result, err := client.PendingApprovals(context.Background(), *page, *limit)
	if err != nil {
		return explainUnavailable(err)
	}
	if *asJSON {
		return c.out.json(result)
	}
	return c.out.table(render.ApprovalsTable(result.Data, c.out.clock()))
}

// DecideCommand backs both approve and reject.
type DecideCommand struct {
	apiCommand
	name    string
	approve bool
}

func NewDecideCommand(name string, approve bool, out output, stderr io.Writer, newClient clientFactory) *DecideCommand {
	return &DecideCommand{
		apiCommand: apiCommand{out: out, stderr: stderr, newClient: newClient},
		name:       name,
		approve:    approve,
	}
}

func (c *DecideCommand) Run(args []string) error {
	fs := c.flags(c.name)
	justification := fs.String("justification", "", "reason recorded with the decision")
	positional, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	approvalID, err := requireID(positional, "approval")
	if err != nil {
		return err
	}
	client, err := c.client()
	if err != nil {
		return err
	}
	resp, err := client.DecideApproval(context.Background(), approvalID, c.approve, *justification)
	if err != nil {
		return explainUnavailable(err)
	}
	fmt.Fprintf(c.out.stdout, "%s %s; run %s is %s\n", resp.Approval.ID, resp.Approval.Status, resp.Run.ID, resp.Run.Status)
	return nil
}
