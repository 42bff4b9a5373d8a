package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"flowops/internal/render"
	"flowops/internal/workflows"
)

// PoliciesCommand has its own subcommands: list (default), seed, publish and
// deactivate.
type PoliciesCommand struct {
	apiCommand
	stdin io.Reader
}

func NewPoliciesCommand(out output, stderr io.Writer, newClient clientFactory) *PoliciesCommand {
	return &PoliciesCommand{
		apiCommand: apiCommand{out: out, stderr: stderr, newClient: newClient},
		stdin:      os.Stdin,
	}
}

func (c *PoliciesCommand) Run(args []string) error {
	sub := "list"
	if len(args) > 0 && len(args[0]) > 0 && args[0][0] != '-' {
		sub, args = args[0], args[1:]
	}
	switch sub {
	case "list":
		return c.list(args)
	case "seed":
		return c.seed(args)
	case "publish":
		return c.publish(args)
	case "deactivate":
		return c.deactivate(args)
	default:
		return fmt.Errorf("unknown policies subcommand %q", sub)
	}
}

func (c *PoliciesCommand) list(args []string) error {
	fs := c.flags("policies list")
	active := fs.Bool("active", false, "only active policies")
	asJSON := fs.Bool("json", false, "print JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	client, err := c.client()
	if err != nil {
		return err
	}
	policies, err := client.ListPolicies(context.Background(), *active)
	if err != nil {
		return explainUnavailable(err)
	}
	if *asJSON {
		return c.out.json(policies)
	}
	return c.out.table(render.PoliciesTable(policies))
}

func (c *PoliciesCommand) seed(args []string) error {
	fs := c.flags("policies seed")
	if err := fs.Parse(args); err != nil {
		return err
	}
	client, err := c.client()
	if err != nil {
		return err
	}
	policies, err := client.SeedPolicies(context.Background())
	if err != nil {
		return explainUnavailable(err)
	}
	fmt.Fprintf(c.out.stdout, "seeded %d policies\n", len(policies))
	return nil
}

func (c *PoliciesCommand) publish(args []string) error {
	fs := c.flags("policies publish")
	file := fs.String("file", "", "policy draft JSON; - reads stdin")
	if err := fs.Parse(args); err != nil {
		return err
	}
	data, err := readInput(*file, c.stdin)
	if err != nil {
		return err
	}
	var draft workflows.PolicyDraft
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&draft); err != nil {
		return fmt.Errorf("decode policy draft: %w", err)
	}
	client, err := c.client()
	if err != nil {
		return err
	}
	policy, err := client.PublishPolicy(context.Background(), draft)
	if err != nil {
		return explainUnavailable(err)
	}
	fmt.Fprintf(c.out.stdout, "%s %s v%d\n", policy.ID, policy.Name, policy.Version)
	return nil
}

func (c *PoliciesCommand) deactivate(args []string) error {
	fs := c.flags("policies deactivate")
	positional, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	if len(positional) == 0 {
		return errors.New("policy id is required")
	}
	client, err := c.client()
	if err != nil {
		return err
	}
	policy, err := client.DeactivatePolicy(context.Background(), positional[0])
	if err != nil {
		return explainUnavailable(err)
	}
	fmt.Fprintf(c.out.stdout, "%s %s deactivated\n", policy.ID, policy.Name)
	return nil
}
