package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	apiclient "flowops/internal/client"
	"flowops/internal/intake"
	"flowops/internal/render"
	"flowops/internal/types"
)

// apiCommand carries what every server-backed command needs.
type apiCommand struct {
	out       output
	stderr    io.Writer
	newClient clientFactory
}

func (c apiCommand) flags(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	return fs
}

func (c apiCommand) client() (commandClient, error) {
	return c.newClient()
}

type RunsCommand struct{ apiCommand }

func NewRunsCommand(out output, stderr io.Writer, newClient clientFactory) *RunsCommand {
	return &RunsCommand{apiCommand{out: out, stderr: stderr, newClient: newClient}}
}

func (c *RunsCommand) Run(args []string) error {
	fs := c.flags("runs")
	status := fs.String("status", "", "filter by run status")
	workflowID := fs.String("workflow", "", "filter by workflow id")
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
	result, err := client.ListRuns(context.Background(), apiclient.RunListOptions{
		Status:     types.RunStatus(strings.ToUpper(strings.TrimSpace(*status))),
		WorkflowID: strings.TrimSpace(*workflowID),
		Page:       *page,
		Limit:      *limit,
	})
	if err != nil {
		return explainUnavailable(err)
	}
	if *asJSON {
		return c.out.json(result)
	}
	if err := c.out.table(render.RunsTable(result.Data, c.out.clock())); err != nil {
		return err
	}
	if result.Pages > 1 {
		fmt.Fprintf(c.out.stdout, "page %d of %d (%d runs)\n", result.Page, result.Pages, result.Total)
	}
	return nil
}

type ShowCommand struct{ apiCommand }

func NewShowCommand(out output, stderr io.Writer, newClient clientFactory) *ShowCommand {
	return &ShowCommand{apiCommand{out: out, stderr: stderr, newClient: newClient}}
}

func (c *ShowCommand) Run(args []string) error {
	fs := c.flags("show")
	asJSON := fs.Bool("json", false, "print JSON")
	positional, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	runID, err := requireID(positional, "run")
	if err != nil {
		return err
	}
	client, err := c.client()
	if err != nil {
		return err
	}
	detail, err := client.GetRun(context.Background(), runID)
	if err != nil {
		return explainUnavailable(err)
	}
	if *asJSON {
		return c.out.json(detail)
	}
	c.out.markdown(render.RunReport(detail))
	return nil
}

// TriggerCommand creates a run from a hand-built event, the same shape the
// webhook intake produces.
type TriggerCommand struct{ apiCommand }

func NewTriggerCommand(out output, stderr io.Writer, newClient clientFactory) *TriggerCommand {
	return &TriggerCommand{apiCommand{out: out, stderr: stderr, newClient: newClient}}
}

func (c *TriggerCommand) Run(args []string) error {
	fs := c.flags("trigger")
	eventType := fs.String("event", "", "event type, e.g. deal.propertyChange")
	objectID := fs.String("object", "", "CRM object id")
	property := fs.String("property", "", "changed property name")
	workflowID := fs.String("workflow", "", "run this workflow instead of routing by event")
	correlationID := fs.String("correlation", "", "correlation id; reusing one returns the existing run")
	var props stringList
	fs.Var(&props, "prop", "object property key=value (repeatable)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*eventType) == "" || strings.TrimSpace(*objectID) == "" {
		return errors.New("--event and --object are required")
	}
	env, err := buildEnvelope(*eventType, *objectID, *property, *workflowID, *correlationID, props, c.out.clock())
	if err != nil {
		return err
	}
	client, err := c.client()
	if err != nil {
		return err
	}
	resp, err := client.CreateRun(context.Background(), env)
	if err != nil {
		return explainUnavailable(err)
	}
	state := "created"
	if !resp.Created {
		state = "existing"
	}
	fmt.Fprintf(c.out.stdout, "%s %s (%s, %s)\n", resp.Run.ID, resp.Run.Status, resp.Run.WorkflowID, state)
	return nil
}

type AdvanceCommand struct{ apiCommand }

func NewAdvanceCommand(out output, stderr io.Writer, newClient clientFactory) *AdvanceCommand {
	return &AdvanceCommand{apiCommand{out: out, stderr: stderr, newClient: newClient}}
}

func (c *AdvanceCommand) Run(args []string) error {
	fs := c.flags("advance")
	positional, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	runID, err := requireID(positional, "run")
	if err != nil {
		return err
	}
	client, err := c.client()
	if err != nil {
		return err
	}
	result, err := client.AdvanceRun(context.Background(), runID)
	if err != nil {
		return explainUnavailable(err)
	}
	line := fmt.Sprintf("%s %s", result.Run.ID, result.Run.Status)
	if result.Step != nil {
		line += fmt.Sprintf(" step=%s:%s", result.Step.StepName, result.Step.Status)
	}
	if result.Approval != nil {
		line += " approval=" + result.Approval.ID
	}
	if result.Exception != nil {
		line += " exception=" + result.Exception.ID
	}
	fmt.Fprintln(c.out.stdout, line)
	return nil
}

type CancelCommand struct{ apiCommand }

func NewCancelCommand(out output, stderr io.Writer, newClient clientFactory) *CancelCommand {
	return &CancelCommand{apiCommand{out: out, stderr: stderr, newClient: newClient}}
}

func (c *CancelCommand) Run(args []string) error {
	fs := c.flags("cancel")
	reason := fs.String("reason", "", "why the run is cancelled")
	positional, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	runID, err := requireID(positional, "run")
	if err != nil {
		return err
	}
	client, err := c.client()
	if err != nil {
		return err
	}
	resp, err := client.CancelRun(context.Background(), runID, *reason)
	if err != nil {
		return explainUnavailable(err)
	}
	if resp.Applied {
		fmt.Fprintf(c.out.stdout, "%s %s\n", resp.Run.ID, resp.Run.Status)
		return nil
	}
	fmt.Fprintf(c.out.stdout, "%s cancel requested; the run stops after its current step\n", resp.Run.ID)
	return nil
}

func buildEnvelope(eventType, objectID, property, workflowID, correlationID string, props []string, now time.Time) (types.EventEnvelope, error) {
	properties, err := parseKeyValues(props)
	if err != nil {
		return types.EventEnvelope{}, err
	}
	if properties == nil {
		properties = types.Record{}
	}
	eventType = strings.TrimSpace(eventType)
	objectType, _, _ := strings.Cut(eventType, ".")
	correlationID = strings.TrimSpace(correlationID)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	objectID = strings.TrimSpace(objectID)
	object := types.Record{
		"id":         types.String(objectID),
		"type":       types.String(objectType),
		"properties": types.Map(properties),
	}
	payload := types.Record{
		"objectId": types.String(objectID),
		"object":   types.Map(object),
	}
	if property = strings.TrimSpace(property); property != "" {
		payload["propertyName"] = types.String(property)
		if v, ok := properties[property]; ok {
			payload["propertyValue"] = v
		}
	}
	return types.EventEnvelope{
		Meta: types.EnvelopeMeta{
			EventID:       uuid.NewString(),
			Source:        "cli",
			EventType:     eventType,
			ObjectType:    objectType,
			ObjectID:      objectID,
			PropertyName:  property,
			OccurredAt:    now,
			ReceivedAt:    now,
			CorrelationID: correlationID,
			WorkflowID:    strings.TrimSpace(workflowID),
			Version:       intake.EnvelopeVersion,
		},
		Payload: payload,
	}, nil
}
