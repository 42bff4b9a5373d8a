package main

import (
	"context"
	"flag"
	"io"
	"os"
	"os/signal"
	"syscall"

	apiclient "flowops/internal/client"
	"flowops/internal/config"
	"flowops/internal/daemon"
	"flowops/internal/logging"
)

type daemonOptions struct {
	Background bool
	Insecure   bool
}

type DaemonCommand struct {
	stderr    io.Writer
	runDaemon func(opts daemonOptions) error
}

func NewDaemonCommand(stderr io.Writer, runDaemon func(opts daemonOptions) error) *DaemonCommand {
	return &DaemonCommand{
		stderr:    stderr,
		runDaemon: runDaemon,
	}
}

func (c *DaemonCommand) Run(args []string) error {
	fs := flag.NewFlagSet("daemon", flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	background := fs.Bool("background", false, "run in background (logs to file)")
	insecure := fs.Bool("insecure", false, "serve the API without token checks")
	if err := fs.Parse(args); err != nil {
		return err
	}
	return c.runDaemon(daemonOptions{Background: *background, Insecure: *insecure})
}

func runDaemonProcess(opts daemonOptions) error {
	if opts.Background {
		return apiclient.StartBackgroundDaemon()
	}

	dataDir, err := config.DataDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return err
	}
	cfg, err := config.LoadCoreConfig()
	if err != nil {
		return err
	}
	logger := logging.NewWithFormat(os.Stderr, logging.ParseLevel(cfg.LogLevel()), cfg.LogFormat())

	secret := ""
	if !opts.Insecure {
		secret, err = daemon.ResolveSecret(cfg)
		if err != nil {
			return err
		}
	}

	d, err := daemon.New(cfg, daemon.Options{
		Version: buildVersion(),
		Logger:  logger,
		Secret:  secret,
	})
	if err != nil {
		return err
	}
	defer d.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return d.Run(ctx)
}
