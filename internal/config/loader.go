package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"slices"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// EnvConfigPath names the environment variable consulted by DiscoverConfigPath.
const EnvConfigPath = "BRIDGEQ_CONFIG"

// Load reads configuration from a file (or a directory holding config.yaml),
// follows its include list, verifies .checksums where present and validates
// the result. Values in included files override the including file.
func Load(configPath string) (*Config, error) {
	absPath, err := resolveConfigPath(configPath)
	if err != nil {
		return nil, err
	}

	cfg := Defaults()
	l := &loader{cfg: cfg, stack: map[string]bool{}, seen: map[string]bool{}}
	if err := l.load(absPath, ""); err != nil {
		return nil, err
	}

	if err := verifyAllConfigHashes(cfg.Files); err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Files resolves configPath and its includes without verifying checksums or
// validating values. config lock uses it to re-hash edited files.
func Files(configPath string) ([]string, error) {
	absPath, err := resolveConfigPath(configPath)
	if err != nil {
		return nil, err
	}
	l := &loader{cfg: Defaults(), stack: map[string]bool{}, seen: map[string]bool{}}
	if err := l.load(absPath, ""); err != nil {
		return nil, err
	}
	return l.cfg.Files, nil
}

// DiscoverConfigPath finds the config file by checking standard locations:
// $BRIDGEQ_CONFIG, ~/.config/bridgeq/config.yaml, /etc/bridgeq/config.yaml,
// ./config.yaml.
func DiscoverConfigPath() (string, error) {
	var candidates []string
	if p := os.Getenv(EnvConfigPath); p != "" {
		candidates = append(candidates, p)
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "bridgeq", "config.yaml"))
	}
	candidates = append(candidates, "/etc/bridgeq/config.yaml", "./config.yaml")

	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c, nil
		}
	}
	return "", fmt.Errorf("no config found (checked: $%s, ~/.config/bridgeq/config.yaml, /etc/bridgeq/config.yaml, ./config.yaml)", EnvConfigPath)
}

func resolveConfigPath(configPath string) (string, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return "", fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return "", fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}
	return absPath, nil
}

type loader struct {
	cfg   *Config
	stack map[string]bool // files currently being loaded, for cycle detection
	seen  map[string]bool
}

// load overlays path onto l.cfg, then its includes in order.
func (l *loader) load(path, from string) error {
	if l.stack[path] {
		return fmt.Errorf("include cycle detected: %s (included from %s)", path, from)
	}
	if l.seen[path] {
		return nil
	}
	l.stack[path] = true
	l.seen[path] = true
	defer delete(l.stack, path)

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	l.cfg.Include = nil
	if err := yaml.Unmarshal([]byte(interpolateEnv(string(data))), l.cfg); err != nil {
		return fmt.Errorf("failed to parse YAML in %s: %w", path, err)
	}
	l.cfg.Files = append(l.cfg.Files, path)

	includes := l.cfg.Include
	baseDir := filepath.Dir(path)
	for i, inc := range includes {
		inc = interpolateEnv(inc)
		if !filepath.IsAbs(inc) {
			inc = filepath.Join(baseDir, inc)
		}
		abs, err := filepath.Abs(inc)
		if err != nil {
			return fmt.Errorf("include[%d]: failed to resolve path %q: %w", i, inc, err)
		}
		if _, err := os.Stat(abs); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("include[%d]: file not found: %s\n"+
					"Referenced from: %s", i, abs, path)
			}
			return fmt.Errorf("include[%d]: failed to access file %s: %w", i, abs, err)
		}
		if err := l.load(abs, path); err != nil {
			return err
		}
	}
	l.cfg.Include = includes
	return nil
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is and fail validation where it matters.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		name := envVarPattern.FindStringSubmatch(match)[1]
		if value, ok := os.LookupEnv(name); ok {
			return value
		}
		return match
	})
}

func unresolved(field, value string) error {
	if m := envVarPattern.FindStringSubmatch(value); len(m) > 1 {
		return fmt.Errorf("%s: environment variable ${%s} is not set", field, m[1])
	}
	return nil
}

var validLogLevels = []string{"debug", "info", "warn", "error"}

// validate performs basic validation on the configuration.
func validate(cfg *Config) error {
	if !slices.Contains(validLogLevels, cfg.Service.LogLevel) {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	if f := cfg.Service.LogFormat; f != "json" && f != "text" {
		return fmt.Errorf("service.log_format must be json or text (got %q)", f)
	}
	if cfg.State.Path == "" {
		return fmt.Errorf("state.path is required")
	}

	if err := unresolved("remote.base_url", cfg.Remote.BaseURL); err != nil {
		return err
	}
	u, err := url.Parse(cfg.Remote.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("remote.base_url must be an http(s) URL (got %q)", cfg.Remote.BaseURL)
	}
	if cfg.Remote.Timeout <= 0 {
		return fmt.Errorf("remote.timeout must be positive")
	}
	if err := unresolved("remote.token", cfg.Remote.Token); err != nil {
		return err
	}
	if mr := cfg.Remote.Retry.MaxRetries; mr != nil && *mr < 0 {
		return fmt.Errorf("remote.retry.max_retries must not be negative")
	}

	d := cfg.Dispatch
	if d.PollInterval <= 0 {
		return fmt.Errorf("dispatch.poll_interval must be positive")
	}
	if d.StartupDelay < 0 {
		return fmt.Errorf("dispatch.startup_delay must not be negative")
	}
	if d.MaxSubmitAttempts < 1 {
		return fmt.Errorf("dispatch.max_submit_attempts must be at least 1")
	}
	if d.SyncInterval <= 0 {
		return fmt.Errorf("dispatch.sync_interval must be positive")
	}
	if d.SyncMinAge < 0 {
		return fmt.Errorf("dispatch.sync_min_age must not be negative")
	}

	if cfg.API.Enabled {
		if cfg.API.Listen == "" {
			return fmt.Errorf("api.listen is required when the API is enabled")
		}
		if err := unresolved("api.auth.api_key", cfg.API.Auth.APIKey); err != nil {
			return err
		}
		if cfg.API.Auth.APIKey == "" {
			return fmt.Errorf("api.auth.api_key is required when the API is enabled")
		}
	}
	if cfg.Metrics.Enabled && !cfg.API.Enabled {
		return fmt.Errorf("metrics.enabled requires api.enabled")
	}

	if cfg.Webhook.Enabled {
		if cfg.Webhook.Listen == "" {
			return fmt.Errorf("webhook.listen is required when webhooks are enabled")
		}
		if len(cfg.Webhook.Endpoints) == 0 {
			return fmt.Errorf("webhook.endpoints must not be empty when webhooks are enabled")
		}
		for i, ep := range cfg.Webhook.Endpoints {
			if len(ep.Path) == 0 || ep.Path[0] != '/' {
				return fmt.Errorf("webhook.endpoints[%d].path must start with / (got %q)", i, ep.Path)
			}
			if err := unresolved(fmt.Sprintf("webhook.endpoints[%d].secret", i), ep.Secret); err != nil {
				return err
			}
			if ep.Secret == "" {
				return fmt.Errorf("webhook.endpoints[%d].secret is required", i)
			}
		}
	}
	return nil
}
