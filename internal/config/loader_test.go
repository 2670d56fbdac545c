package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		env     map[string]string
		wantErr string
		checkFn func(t *testing.T, cfg *Config)
	}{
		{
			name: "empty file yields defaults",
			yaml: "{}\n",
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.Service.LogFormat != "text" {
					t.Errorf("log_format = %q", cfg.Service.LogFormat)
				}
				if cfg.Service.Name != "bridgeq" {
					t.Errorf("service.name = %q", cfg.Service.Name)
				}
				if cfg.Dispatch.PollInterval != 100*time.Millisecond {
					t.Errorf("dispatch.poll_interval = %v", cfg.Dispatch.PollInterval)
				}
				if cfg.Dispatch.MaxSubmitAttempts != 3 {
					t.Errorf("dispatch.max_submit_attempts = %d", cfg.Dispatch.MaxSubmitAttempts)
				}
				if got := cfg.Remote.RetryPolicy().MaxRetries; got != 3 {
					t.Errorf("retry max_retries = %d", got)
				}
			},
		},
		{
			name: "sections override defaults",
			yaml: `
service:
  log_level: debug
  log_format: text
state:
  path: /tmp/bq.db
remote:
  base_url: https://queue.example.com/api
  timeout: 5s
  retry:
    max_retries: 1
    base_delay: 250ms
dispatch:
  startup_delay: 1200ms
  active_task_ttl: 5m
vault:
  validate_params: true
`,
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.Service.LogLevel != "debug" {
					t.Errorf("log_level not parsed")
				}
				if cfg.Service.Name != "bridgeq" {
					t.Errorf("unset service.name lost its default")
				}
				if cfg.Remote.Timeout != 5*time.Second {
					t.Errorf("remote.timeout = %v", cfg.Remote.Timeout)
				}
				rp := cfg.Remote.RetryPolicy()
				if rp.MaxRetries != 1 || rp.BaseDelay != 250*time.Millisecond {
					t.Errorf("retry overrides not applied: %+v", rp)
				}
				if rp.MaxDelay != 10*time.Second {
					t.Errorf("retry max_delay default lost: %v", rp.MaxDelay)
				}
				if cfg.Dispatch.StartupDelay != 1200*time.Millisecond {
					t.Errorf("startup_delay = %v", cfg.Dispatch.StartupDelay)
				}
				if cfg.Dispatch.SyncInterval != 10*time.Second {
					t.Errorf("sync_interval default lost")
				}
				if !cfg.Vault.ValidateParams || cfg.Vault.ValidateConnections {
					t.Errorf("vault toggles = %+v", cfg.Vault)
				}
			},
		},
		{
			name: "env interpolation",
			yaml: `
remote:
  token: ${BQ_TEST_TOKEN}
api:
  enabled: true
  auth:
    api_key: ${BQ_TEST_KEY}
`,
			env: map[string]string{"BQ_TEST_TOKEN": "tok", "BQ_TEST_KEY": "key"},
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.Remote.Token != "tok" || cfg.API.Auth.APIKey != "key" {
					t.Errorf("env not interpolated: token=%q key=%q", cfg.Remote.Token, cfg.API.Auth.APIKey)
				}
			},
		},
		{
			name: "unset api key env var",
			yaml: `
api:
  enabled: true
  auth:
    api_key: ${BQ_TEST_MISSING_KEY}
`,
			wantErr: "${BQ_TEST_MISSING_KEY} is not set",
		},
		{
			name:    "bad log level",
			yaml:    "service:\n  log_level: loud\n",
			wantErr: "service.log_level",
		},
		{
			name:    "bad log format",
			yaml:    "service:\n  log_format: xml\n",
			wantErr: "service.log_format",
		},
		{
			name:    "bad base url",
			yaml:    "remote:\n  base_url: ftp://nope\n",
			wantErr: "remote.base_url",
		},
		{
			name:    "metrics without api",
			yaml:    "metrics:\n  enabled: true\n",
			wantErr: "metrics.enabled requires api.enabled",
		},
		{
			name:    "zero submit attempts",
			yaml:    "dispatch:\n  max_submit_attempts: 0\n",
			wantErr: "max_submit_attempts",
		},
		{
			name:    "api without key",
			yaml:    "api:\n  enabled: true\n",
			wantErr: "api.auth.api_key is required",
		},
		{
			name: "webhook endpoints",
			yaml: `
webhook:
  enabled: true
  endpoints:
    - path: /hooks/task-status
      secret: ${BQ_TEST_HOOK_SECRET}
      max_body_size: 16KB
`,
			env: map[string]string{"BQ_TEST_HOOK_SECRET": "hook-secret"},
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.Webhook.Listen != "127.0.0.1:8081" {
					t.Errorf("webhook.listen default lost: %q", cfg.Webhook.Listen)
				}
				if len(cfg.Webhook.Endpoints) != 1 || cfg.Webhook.Endpoints[0].Secret != "hook-secret" {
					t.Fatalf("endpoints = %+v", cfg.Webhook.Endpoints)
				}
				if got := cfg.Redacted().Webhook.Endpoints[0].Secret; got != redacted {
					t.Errorf("webhook secret not redacted: %q", got)
				}
				if cfg.Webhook.Endpoints[0].Secret != "hook-secret" {
					t.Error("Redacted must not modify the receiver's endpoints")
				}
			},
		},
		{
			name:    "webhook without endpoints",
			yaml:    "webhook:\n  enabled: true\n",
			wantErr: "webhook.endpoints must not be empty",
		},
		{
			name:    "webhook endpoint without secret",
			yaml:    "webhook:\n  enabled: true\n  endpoints:\n    - path: /hook\n",
			wantErr: "webhook.endpoints[0].secret is required",
		},
		{
			name:    "webhook relative path",
			yaml:    "webhook:\n  enabled: true\n  endpoints:\n    - path: hook\n      secret: s\n",
			wantErr: "must start with /",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			path := writeFile(t, t.TempDir(), "config.yaml", tt.yaml)

			cfg, err := Load(path)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("Load() error = %v, want containing %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			tt.checkFn(t, cfg)
		})
	}
}

func TestLoadIncludes(t *testing.T) {
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, "conf.d"), 0o755); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(dir, "conf.d"), "remote.yaml", "remote:\n  base_url: https://a.example/api\n")
	writeFile(t, dir, "api.yaml", "api:\n  enabled: true\n  listen: :9999\n  auth:\n    api_key: k\n")
	root := writeFile(t, dir, "config.yaml", `
include:
  - conf.d/remote.yaml
  - api.yaml
service:
  log_level: warn
remote:
  base_url: https://root.example/api
`)

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Remote.BaseURL != "https://a.example/api" {
		t.Errorf("included file should override root, got %q", cfg.Remote.BaseURL)
	}
	if cfg.API.Listen != ":9999" || cfg.Service.LogLevel != "warn" {
		t.Errorf("merge lost values: %+v %+v", cfg.API, cfg.Service)
	}
	if len(cfg.Files) != 3 || cfg.Files[0] != root {
		t.Errorf("Files = %v", cfg.Files)
	}
	if len(cfg.Include) != 2 {
		t.Errorf("root include list not kept: %v", cfg.Include)
	}
}

func TestLoadIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", "include: [b.yaml]\n")
	writeFile(t, dir, "b.yaml", "include: [a.yaml]\n")

	_, err := Load(filepath.Join(dir, "a.yaml"))
	if err == nil || !strings.Contains(err.Error(), "include cycle") {
		t.Fatalf("expected include cycle error, got %v", err)
	}
}

func TestLoadMissingInclude(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", "include: [nope.yaml]\n")

	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "file not found") {
		t.Fatalf("expected missing include error, got %v", err)
	}
}

func TestInterpolateEnv(t *testing.T) {
	t.Setenv("BQ_USER", "admin")
	t.Setenv("BQ_HOST", "localhost")

	tests := map[string]string{
		"${BQ_USER}@${BQ_HOST}": "admin@localhost",
		"key: ${BQ_UNDEFINED}":  "key: ${BQ_UNDEFINED}",
		"plain text":            "plain text",
	}
	for in, want := range tests {
		if got := interpolateEnv(in); got != want {
			t.Errorf("interpolateEnv(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestGetPath(t *testing.T) {
	cfg := Defaults()
	cfg.API.Auth.APIKey = "secret"

	v, err := cfg.GetPath("service.name")
	if err != nil || v != "bridgeq" {
		t.Fatalf("GetPath(service.name) = %v, %v", v, err)
	}
	v, err = cfg.GetPath("api.auth.api_key")
	if err != nil || v != redacted {
		t.Fatalf("api key must be redacted, got %v, %v", v, err)
	}
	if cfg.API.Auth.APIKey != "secret" {
		t.Fatal("Redacted must not modify the receiver")
	}
	if _, err := cfg.GetPath("service.name.deeper"); err == nil {
		t.Fatal("expected error walking into a scalar")
	}
	if _, err := cfg.GetPath("nope"); err == nil {
		t.Fatal("expected error for missing key")
	}
}

func TestDiscoverConfigPathFromEnv(t *testing.T) {
	path := writeFile(t, t.TempDir(), "custom.yaml", "{}\n")
	t.Setenv(EnvConfigPath, path)

	got, err := DiscoverConfigPath()
	if err != nil || got != path {
		t.Fatalf("DiscoverConfigPath() = %q, %v", got, err)
	}
}
