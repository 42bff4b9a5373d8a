package main

import (
	"fmt"
	"os"
)

const usageText = `flowops runs HubSpot-driven workflow orchestration.

Usage:
  flowops <command> [flags]

Commands:
  daemon       run the orchestration server
  config       print configuration (effective or defaults)
  token        issue an API token for a user
  status       show server health and dashboard KPIs
  workflows    list registered workflows
  runs         list runs
  show         show one run with its steps, approvals and exceptions
  trigger      start a run from a synthetic event
  advance      execute the next step of a run
  cancel       cancel a run
  approvals    list pending approvals
  approve      approve a pending approval
  reject       reject a pending approval
  exceptions   list open exceptions
  resolve      resolve an exception
  triage       assign an exception
  policies     list, seed, publish or deactivate policies
  help         show help

Flags:
  -h, --help   show help

Daemon flags:
  --background    run in background (logs to file)
  --insecure      serve the API without token checks

Examples:
  flowops daemon --background
  flowops token --sub alice --role operator
  flowops runs --status FAILED
  flowops approve <id> --justification "budget confirmed"
  flowops resolve <id> --type MANUAL_FIX --data amount=50000
  flowops policies publish --file policy.json
`

func printUsage() {
	fmt.Fprint(os.Stderr, usageText)
}

func main() {
	args := os.Args[1:]
	if len(args) == 0 {
		printUsage()
		return
	}

	wiring := defaultCommandWiring(os.Stdout, os.Stderr)
	commands := buildCommands(wiring)

	switch args[0] {
	case "-h", "--help", "help":
		printUsage()
		return
	}

	runner, ok := commands[args[0]]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", args[0])
		printUsage()
		os.Exit(2)
	}
	exitOnErr(args[0], runner.Run(args[1:]), wiring.stderr)
}
