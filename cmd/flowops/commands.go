package main

import (
	"io"
	"os"
	"time"
)

type commandRunner interface {
	Run(args []string) error
}

type commandWiring struct {
	stdout    io.Writer
	stderr    io.Writer
	newClient clientFactory
	runDaemon func(opts daemonOptions) error
	now       func() time.Time
	width     int
	version   string
}

func defaultCommandWiring(stdout, stderr io.Writer) commandWiring {
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	return commandWiring{
		stdout:    stdout,
		stderr:    stderr,
		newClient: newAPIClient,
		runDaemon: runDaemonProcess,
		now:       time.Now,
		width:     terminalWidth(),
		version:   buildVersion(),
	}
}

func buildCommands(wiring commandWiring) map[string]commandRunner {
	out := output{stdout: wiring.stdout, now: wiring.now, width: wiring.width}
	return map[string]commandRunner{
		"daemon":     NewDaemonCommand(wiring.stderr, wiring.runDaemon),
		"config":     NewConfigCommand(wiring.stdout, wiring.stderr),
		"token":      NewTokenCommand(wiring.stdout, wiring.stderr),
		"status":     NewStatusCommand(out, wiring.stderr, wiring.newClient),
		"workflows":  NewWorkflowsCommand(out, wiring.stderr, wiring.newClient),
		"runs":       NewRunsCommand(out, wiring.stderr, wiring.newClient),
		"show":       NewShowCommand(out, wiring.stderr, wiring.newClient),
		"trigger":    NewTriggerCommand(out, wiring.stderr, wiring.newClient),
		"advance":    NewAdvanceCommand(out, wiring.stderr, wiring.newClient),
		"cancel":     NewCancelCommand(out, wiring.stderr, wiring.newClient),
		"approvals":  NewApprovalsCommand(out, wiring.stderr, wiring.newClient),
		"approve":    NewDecideCommand("approve", true, out, wiring.stderr, wiring.newClient),
		"reject":     NewDecideCommand("reject", false, out, wiring.stderr, wiring.newClient),
		"exceptions": NewExceptionsCommand(out, wiring.stderr, wiring.newClient),
		"resolve":    NewResolveCommand(out, wiring.stderr, wiring.newClient),
		"triage":     NewTriageCommand(out, wiring.stderr, wiring.newClient),
		"policies":   NewPoliciesCommand(out, wiring.stderr, wiring.newClient),
	}
}
