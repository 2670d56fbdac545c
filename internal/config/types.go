package config

import (
	"time"

	"github.com/mattjoyce/bridgeq/internal/retry"
)

// Config represents the complete bridgeq configuration.
type Config struct {
	Include  []string       `yaml:"include,omitempty"`
	Service  ServiceConfig  `yaml:"service"`
	State    StateConfig    `yaml:"state"`
	Remote   RemoteConfig   `yaml:"remote"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Vault    VaultConfig    `yaml:"vault"`
	API      APIConfig      `yaml:"api"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Webhook  WebhookConfig  `yaml:"webhook"`

	// Files lists every file that contributed, root first.
	Files []string `yaml:"-"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name      string `yaml:"name"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"` // json or text
}

// StateConfig defines the local SQLite database.
type StateConfig struct {
	Path string `yaml:"path"`
}

// RemoteConfig defines the remote queue API.
type RemoteConfig struct {
	BaseURL string         `yaml:"base_url"`
	Timeout time.Duration  `yaml:"timeout"`
	Token   string         `yaml:"token,omitempty"` // seeds the token store when it is empty
	Retry   retry.Override `yaml:"retry,omitempty"`
}

// RetryPolicy returns the default retry policy with the configured overrides.
func (r RemoteConfig) RetryPolicy() retry.Config {
	return retry.DefaultConfig().With(r.Retry)
}

// DispatchConfig tunes the task dispatcher and active task sync.
type DispatchConfig struct {
	PollInterval      time.Duration `yaml:"poll_interval"`
	StartupDelay      time.Duration `yaml:"startup_delay"`
	MaxSubmitAttempts int           `yaml:"max_submit_attempts"`
	ActiveTaskTTL     time.Duration `yaml:"active_task_ttl"`
	SyncInterval      time.Duration `yaml:"sync_interval"`
	SyncMinAge        time.Duration `yaml:"sync_min_age"`
}

// VaultConfig toggles optional vault checks.
type VaultConfig struct {
	ValidateParams      bool   `yaml:"validate_params"`
	ValidateConnections bool   `yaml:"validate_connections"`
	FunctionsFile       string `yaml:"functions_file,omitempty"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Enabled bool          `yaml:"enabled"`
	Listen  string        `yaml:"listen"`
	Auth    APIAuthConfig `yaml:"auth"`
}

// APIAuthConfig defines API authentication settings.
type APIAuthConfig struct {
	APIKey string `yaml:"api_key"`
}

// MetricsConfig toggles the Prometheus endpoint on the API server.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// WebhookConfig defines the signed task status callback receiver. It runs
// on its own listener so the remote side never needs the API key.
type WebhookConfig struct {
	Enabled   bool              `yaml:"enabled"`
	Listen    string            `yaml:"listen"`
	Endpoints []WebhookEndpoint `yaml:"endpoints"`
}

// WebhookEndpoint is one callback path and its HMAC secret.
type WebhookEndpoint struct {
	Path            string `yaml:"path"`
	Secret          string `yaml:"secret"`
	SignatureHeader string `yaml:"signature_header,omitempty"`
	MaxBodySize     string `yaml:"max_body_size,omitempty"` // e.g. "64KB"
}

// Defaults returns a Config with defaults for every section.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:      "bridgeq",
			LogLevel:  "info",
			LogFormat: "json",
		},
		State: StateConfig{
			Path: "./data/bridgeq.db",
		},
		Remote: RemoteConfig{
			BaseURL: "http://localhost:7322/api",
			Timeout: 30 * time.Second,
		},
		Dispatch: DispatchConfig{
			PollInterval:      100 * time.Millisecond,
			MaxSubmitAttempts: 3,
			ActiveTaskTTL:     2 * time.Minute,
			SyncInterval:      10 * time.Second,
			SyncMinAge:        30 * time.Second,
		},
		API: APIConfig{
			Listen: "127.0.0.1:8080",
		},
		Metrics: MetricsConfig{
			Path: "/metrics",
		},
		Webhook: WebhookConfig{
			Listen: "127.0.0.1:8081",
		},
	}
}
