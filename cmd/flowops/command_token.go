package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"flowops/internal/config"
	"flowops/internal/daemon"
	"flowops/internal/types"
)

// TokenCommand signs an API token with the daemon's secret.
type TokenCommand struct {
	stdout  io.Writer
	stderr  io.Writer
	load    func() (config.CoreConfig, error)
	secrets func(config.CoreConfig) (string, error)
}

func NewTokenCommand(stdout, stderr io.Writer) *TokenCommand {
	return &TokenCommand{
		stdout:  stdout,
		stderr:  stderr,
		load:    config.LoadCoreConfig,
		secrets: daemon.ResolveSecret,
	}
}

func (c *TokenCommand) Run(args []string) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	subject := fs.String("sub", "", "user id the token is issued to")
	role := fs.String("role", string(types.RoleOperator), "ADMIN, OPERATOR or VIEWER")
	email := fs.String("email", "", "user email")
	ttl := fs.Duration("ttl", 24*time.Hour, "token lifetime; 0 never expires")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*subject) == "" {
		return errors.New("--sub is required")
	}
	parsedRole, ok := types.ParseUserRole(*role)
	if !ok {
		return fmt.Errorf("unknown role %q", *role)
	}

	cfg, err := c.load()
	if err != nil {
		return err
	}
	secret, err := c.secrets(cfg)
	if err != nil {
		return err
	}
	token, err := daemon.IssueToken([]byte(secret), cfg.JWTIssuer(), types.Principal{
		ID:    strings.TrimSpace(*subject),
		Email: strings.TrimSpace(*email),
		Role:  parsedRole,
	}, *ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.stdout, token)
	return nil
}
