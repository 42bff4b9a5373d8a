package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"strings"

	"flowops/internal/config"
)

const (
	configFormatJSON = "json"
	configFormatTOML = "toml"
)

type ConfigCommand struct {
	stdout io.Writer
	stderr io.Writer
	load   func() (config.CoreConfig, error)
}

func NewConfigCommand(stdout, stderr io.Writer) *ConfigCommand {
	return &ConfigCommand{
		stdout: stdout,
		stderr: stderr,
		load:   config.LoadCoreConfig,
	}
}

func (c *ConfigCommand) Run(args []string) error {
	fs := flag.NewFlagSet("config", flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	defaults := fs.Bool("default", false, "print built-in defaults instead of the effective config")
	format := fs.String("format", configFormatTOML, "output format: toml or json")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg := config.DefaultCoreConfig()
	if !*defaults {
		loaded, err := c.load()
		if err != nil {
			return err
		}
		cfg = loaded
	}
	cfg = redactSecrets(cfg)

	switch strings.ToLower(strings.TrimSpace(*format)) {
	case configFormatTOML:
		data, err := cfg.MarshalTOML()
		if err != nil {
			return err
		}
		_, err = c.stdout.Write(data)
		return err
	case configFormatJSON:
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(c.stdout, string(data))
		return err
	default:
		return fmt.Errorf("unsupported format %q", *format)
	}
}

func redactSecrets(cfg config.CoreConfig) config.CoreConfig {
	const mask = "********"
	if cfg.Auth.JWTSecret != "" {
		cfg.Auth.JWTSecret = mask
	}
	if cfg.Auth.Token != "" {
		cfg.Auth.Token = mask
	}
	if cfg.Webhooks.HubSpotSecret != "" {
		cfg.Webhooks.HubSpotSecret = mask
	}
	if cfg.Webhooks.IntegrationToken != "" {
		cfg.Webhooks.IntegrationToken = mask
	}
	return cfg
}
