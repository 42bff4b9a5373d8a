package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"flowops/internal/render"
	"flowops/internal/types"
	"flowops/internal/workflows"
)

type ExceptionsCommand struct{ apiCommand }

func NewExceptionsCommand(out output, stderr io.Writer, newClient clientFactory) *ExceptionsCommand {
	return &ExceptionsCommand{apiCommand{out: out, stderr: stderr, newClient: newClient}}
}

func (c *ExceptionsCommand) Run(args []string) error {
	fs := c.flags("exceptions")
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
	result, err := client.OpenExceptions(context.Background(), *page, *limit)
	if err != nil {
		return explainUnavailable(err)
	}
	if *asJSON {
		return c.out.json(result)
	}
	return c.out.table(render.ExceptionsTable(result.Data, c.out.clock()))
}

type ResolveCommand struct{ apiCommand }

func NewResolveCommand(out output, stderr io.Writer, newClient clientFactory) *ResolveCommand {
	return &ResolveCommand{apiCommand{out: out, stderr: stderr, newClient: newClient}}
}

func (c *ResolveCommand) Run(args []string) error {
	fs := c.flags("resolve")
	resolution := fs.String("type", "", "AUTO_REPAIR, MANUAL_FIX, IGNORE or ESCALATE")
	var data stringList
	fs.Var(&data, "data", "resolution data key=value merged into the run context (repeatable)")
	positional, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	exceptionID, err := requireID(positional, "exception")
	if err != nil {
		return err
	}
	resolutionType := types.ResolutionType(strings.ToUpper(strings.TrimSpace(*resolution)))
	if !resolutionType.Valid() {
		return errors.New("--type must be one of AUTO_REPAIR, MANUAL_FIX, IGNORE, ESCALATE")
	}
	record, err := parseKeyValues(data)
	if err != nil {
		return err
	}
	client, err := c.client()
	if err != nil {
		return err
	}
	resp, err := client.ResolveException(context.Background(), exceptionID, workflows.ExceptionResolution{
		ResolutionType: resolutionType,
		ResolutionData: record,
	})
	if err != nil {
		return explainUnavailable(err)
	}
	fmt.Fprintf(c.out.stdout, "%s %s; run %s is %s\n", resp.Exception.ID, resp.Exception.Status, resp.Run.ID, resp.Run.Status)
	return nil
}

type TriageCommand struct{ apiCommand }

func NewTriageCommand(out output, stderr io.Writer, newClient clientFactory) *TriageCommand {
	return &TriageCommand{apiCommand{out: out, stderr: stderr, newClient: newClient}}
}

func (c *TriageCommand) Run(args []string) error {
	fs := c.flags("triage")
	assignee := fs.String("assignee", "", "user to assign; defaults to the caller")
	positional, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	exceptionID, err := requireID(positional, "exception")
	if err != nil {
		return err
	}
	client, err := c.client()
	if err != nil {
		return err
	}
	exc, err := client.TriageException(context.Background(), exceptionID, strings.TrimSpace(*assignee))
	if err != nil {
		return explainUnavailable(err)
	}
	fmt.Fprintf(c.out.stdout, "%s %s assigned to %s\n", exc.ID, exc.Status, exc.AssigneeID)
	return nil
}
