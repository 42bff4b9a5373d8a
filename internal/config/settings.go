package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

const (
	defaultServerAddress   = "127.0.0.1:7777"
	defaultStorageBackend  = StorageBbolt
	defaultMaxStepAttempts = 3
	defaultStepTimeout     = 30
	defaultBreakerFailures = 5
	defaultBreakerOpen     = 30
	defaultWorkers         = 4
	defaultQueueBuffer     = 256
	defaultApprovalTTL     = 72
	defaultSweepInterval   = 60
	defaultWebhookRate     = 10
	defaultWebhookBurst    = 20
	defaultKickoffStage    = "presentationscheduled"
)

const (
	StorageBbolt  = "bbolt"
	StorageFile   = "file"
	StorageMemory = "memory"
)

var defaultCORSOrigins = []string{"http://localhost:3000", "http://localhost:5173"}

type CoreConfig struct {
	Server    CoreServerConfig    `toml:"server" json:"server"`
	Storage   CoreStorageConfig   `toml:"storage" json:"storage"`
	Engine    CoreEngineConfig    `toml:"engine" json:"engine"`
	Approvals CoreApprovalsConfig `toml:"approvals" json:"approvals"`
	Auth      CoreAuthConfig      `toml:"auth" json:"auth"`
	Webhooks  CoreWebhooksConfig  `toml:"webhooks" json:"webhooks"`
	Logging   CoreLoggingConfig   `toml:"logging" json:"logging"`
	Workflows []WorkflowConfig    `toml:"workflows" json:"workflows,omitempty"`
}

type CoreServerConfig struct {
	Address     string   `toml:"address" json:"address"`
	CORSOrigins []string `toml:"cors_origins" json:"corsOrigins"`
}

type CoreStorageConfig struct {
	Backend string `toml:"backend" json:"backend"`
	Path    string `toml:"path" json:"path,omitempty"`
}

type CoreEngineConfig struct {
	MaxStepAttempts    int `toml:"max_step_attempts" json:"maxStepAttempts"`
	StepTimeoutSeconds int `toml:"step_timeout_seconds" json:"stepTimeoutSeconds"`
	BreakerFailures    int `toml:"breaker_failures" json:"breakerFailures"`
	BreakerOpenSeconds int `toml:"breaker_open_seconds" json:"breakerOpenSeconds"`
	DispatchWorkers    int `toml:"dispatch_workers" json:"dispatchWorkers"`
	DispatchBuffer     int `toml:"dispatch_buffer" json:"dispatchBuffer"`
}

type CoreApprovalsConfig struct {
	TTLHours             int `toml:"ttl_hours" json:"ttlHours"`
	SweepIntervalSeconds int `toml:"sweep_interval_seconds" json:"sweepIntervalSeconds"`
}

type CoreAuthConfig struct {
	JWTSecret string `toml:"jwt_secret" json:"jwtSecret,omitempty"`
	Issuer    string `toml:"issuer" json:"issuer,omitempty"`
	Token     string `toml:"token" json:"token,omitempty"`
}

type CoreWebhooksConfig struct {
	HubSpotSecret    string  `toml:"hubspot_secret" json:"hubspotSecret,omitempty"`
	PublicURL        string  `toml:"public_url" json:"publicUrl,omitempty"`
	RatePerSecond    float64 `toml:"rate_per_second" json:"ratePerSecond"`
	Burst            int     `toml:"burst" json:"burst"`
	KickoffStage     string  `toml:"kickoff_stage" json:"kickoffStage"`
	CalendarURL      string  `toml:"calendar_url" json:"calendarUrl,omitempty"`
	ProcurementURL   string  `toml:"procurement_url" json:"procurementUrl,omitempty"`
	IntegrationToken string  `toml:"integration_token" json:"integrationToken,omitempty"`
}

type CoreLoggingConfig struct {
	Level  string `toml:"level" json:"level"`
	Format string `toml:"format" json:"format"`
}

// WorkflowConfig adds or replaces a workflow definition.
type WorkflowConfig struct {
	ID          string   `toml:"id" json:"id"`
	Name        string   `toml:"name" json:"name"`
	Description string   `toml:"description" json:"description,omitempty"`
	Triggers    []string `toml:"triggers" json:"triggers"`
	Steps       []string `toml:"steps" json:"steps"`
}

func DefaultCoreConfig() CoreConfig {
	return CoreConfig{
		Server: CoreServerConfig{
			Address:     defaultServerAddress,
			CORSOrigins: append([]string{}, defaultCORSOrigins...),
		},
		Storage: CoreStorageConfig{
			Backend: defaultStorageBackend,
		},
		Engine: CoreEngineConfig{
			MaxStepAttempts:    defaultMaxStepAttempts,
			StepTimeoutSeconds: defaultStepTimeout,
			BreakerFailures:    defaultBreakerFailures,
			BreakerOpenSeconds: defaultBreakerOpen,
			DispatchWorkers:    defaultWorkers,
			DispatchBuffer:     defaultQueueBuffer,
		},
		Approvals: CoreApprovalsConfig{
			TTLHours:             defaultApprovalTTL,
			SweepIntervalSeconds: defaultSweepInterval,
		},
		Webhooks: CoreWebhooksConfig{
			RatePerSecond: defaultWebhookRate,
			Burst:         defaultWebhookBurst,
			KickoffStage:  defaultKickoffStage,
		},
		Logging: CoreLoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

func LoadCoreConfig() (CoreConfig, error) {
	path, err := CoreConfigPath()
	if err != nil {
		return CoreConfig{}, err
	}
	return LoadCoreConfigFromPath(path)
}

func LoadCoreConfigFromPath(path string) (CoreConfig, error) {
	cfg := DefaultCoreConfig()
	if err := readTOML(path, &cfg); err != nil {
		return CoreConfig{}, err
	}
	return cfg, nil
}

// MarshalTOML renders the config the way it would be written to disk.
func (c CoreConfig) MarshalTOML() ([]byte, error) {
	return toml.Marshal(c)
}

func (c CoreConfig) ServerAddress() string {
	addr := strings.TrimSpace(c.Server.Address)
	addr = strings.TrimPrefix(addr, "http://")
	addr = strings.TrimPrefix(addr, "https://")
	addr = strings.TrimRight(addr, "/")
	if addr == "" {
		return defaultServerAddress
	}
	return addr
}

func (c CoreConfig) ServerBaseURL() string {
	return "http://" + c.ServerAddress()
}

func (c CoreConfig) CORSOrigins() []string {
	origins := normalizedList(c.Server.CORSOrigins)
	if len(origins) == 0 {
		origins = append([]string{}, defaultCORSOrigins...)
	}
	return origins
}

func (c CoreConfig) StorageBackend() string {
	switch backend := strings.ToLower(strings.TrimSpace(c.Storage.Backend)); backend {
	case StorageBbolt, StorageFile, StorageMemory:
		return backend
	default:
		return defaultStorageBackend
	}
}

// StoragePath resolves the database path; relative paths live under DataDir.
func (c CoreConfig) StoragePath() (string, error) {
	path := strings.TrimSpace(c.Storage.Path)
	if path == "" {
		if c.StorageBackend() == StorageFile {
			dataDir, err := DataDir()
			if err != nil {
				return "", err
			}
			return filepath.Join(dataDir, "flowops.json"), nil
		}
		return DefaultStorePath()
	}
	return resolveConfigPath(path)
}

func (c CoreConfig) MaxStepAttempts() int {
	return positiveOr(c.Engine.MaxStepAttempts, defaultMaxStepAttempts)
}

func (c CoreConfig) StepTimeout() time.Duration {
	return time.Duration(positiveOr(c.Engine.StepTimeoutSeconds, defaultStepTimeout)) * time.Second
}

func (c CoreConfig) BreakerFailures() uint32 {
	return uint32(positiveOr(c.Engine.BreakerFailures, defaultBreakerFailures))
}

func (c CoreConfig) BreakerOpenFor() time.Duration {
	return time.Duration(positiveOr(c.Engine.BreakerOpenSeconds, defaultBreakerOpen)) * time.Second
}

func (c CoreConfig) DispatchWorkers() int {
	return positiveOr(c.Engine.DispatchWorkers, defaultWorkers)
}

func (c CoreConfig) DispatchBuffer() int {
	return positiveOr(c.Engine.DispatchBuffer, defaultQueueBuffer)
}

func (c CoreConfig) ApprovalTTL() time.Duration {
	return time.Duration(positiveOr(c.Approvals.TTLHours, defaultApprovalTTL)) * time.Hour
}

func (c CoreConfig) ApprovalSweepInterval() time.Duration {
	return time.Duration(positiveOr(c.Approvals.SweepIntervalSeconds, defaultSweepInterval)) * time.Second
}

func (c CoreConfig) JWTSecret() string {
	return strings.TrimSpace(c.Auth.JWTSecret)
}

func (c CoreConfig) JWTIssuer() string {
	if issuer := strings.TrimSpace(c.Auth.Issuer); issuer != "" {
		return issuer
	}
	return "flowops"
}

// ClientToken is the bearer token the CLI sends. FLOWOPS_TOKEN wins.
func (c CoreConfig) ClientToken() string {
	if token := strings.TrimSpace(os.Getenv("FLOWOPS_TOKEN")); token != "" {
		return token
	}
	return strings.TrimSpace(c.Auth.Token)
}

func (c CoreConfig) HubSpotSecret() string {
	secret := strings.TrimSpace(c.Webhooks.HubSpotSecret)
	if secret == "your-webhook-secret" {
		return ""
	}
	return secret
}

func (c CoreConfig) WebhookRate() (perSecond float64, burst int) {
	perSecond = c.Webhooks.RatePerSecond
	if perSecond < 0 {
		perSecond = 0
	}
	return perSecond, positiveOr(c.Webhooks.Burst, defaultWebhookBurst)
}

func (c CoreConfig) KickoffStage() string {
	if stage := strings.TrimSpace(c.Webhooks.KickoffStage); stage != "" {
		return stage
	}
	return defaultKickoffStage
}

func (c CoreConfig) LogLevel() string {
	level := strings.TrimSpace(c.Logging.Level)
	if level == "" {
		return "info"
	}
	return level
}

func (c CoreConfig) LogFormat() string {
	if strings.EqualFold(strings.TrimSpace(c.Logging.Format), "json") {
		return "json"
	}
	return "console"
}

func positiveOr(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}

func readTOML(path string, out any) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return errors.New("path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil
	}
	return toml.Unmarshal(data, out)
}

func resolveConfigPath(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", errors.New("path is required")
	}
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[2:]), nil
	}
	if filepath.IsAbs(path) {
		return path, nil
	}
	dataDir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dataDir, path), nil
}

func normalizedList(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, 0, len(values))
	seen := map[string]struct{}{}
	for _, raw := range values {
		value := strings.TrimSpace(raw)
		if value == "" {
			continue
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}
