// Package doctor checks a loaded bridgeq configuration for mistakes that
// load-time validation lets through.
package doctor

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"regexp"
	"strings"

	"github.com/mattjoyce/bridgeq/internal/config"
	"github.com/mattjoyce/bridgeq/internal/storage"
	"github.com/mattjoyce/bridgeq/internal/vault"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor validates configuration against the function registry.
type Doctor struct {
	cfg      *config.Config
	registry *vault.Registry

	// fsCheck is storage.CheckLocalFilesystem outside tests.
	fsCheck func(path string) error
}

// New creates a Doctor. A nil registry selects the built-in one.
func New(cfg *config.Config, registry *vault.Registry) *Doctor {
	if registry == nil {
		registry = vault.DefaultRegistry()
	}
	return &Doctor{cfg: cfg, registry: registry, fsCheck: storage.CheckLocalFilesystem}
}

// apiRoutes are the fixed paths the metrics endpoint must not shadow.
var apiRoutes = []string{"/healthz", "/tasks", "/queue", "/active", "/functions", "/history", "/events", "/openapi.json"}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateState(r)
	d.validateRemote(r)
	d.validateRetry(r)
	d.validateDispatch(r)
	d.validateAPI(r)
	d.validateWebhook(r)
	d.validateRegistry(r)
	d.warnMissingEnvVars(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

// validateState refuses databases on network mounts; SQLite locking is not
// reliable there.
func (d *Doctor) validateState(r *Result) {
	if err := d.fsCheck(d.cfg.State.Path); err != nil {
		if errors.Is(err, storage.ErrNetworkFilesystem) {
			d.addError(r, "state", "state.path", err.Error())
			return
		}
		d.addWarning(r, "state", "state.path", fmt.Sprintf("could not inspect filesystem: %v", err))
	}
}

func (d *Doctor) validateRemote(r *Result) {
	u, err := url.Parse(d.cfg.Remote.BaseURL)
	if err != nil {
		d.addError(r, "remote", "remote.base_url", err.Error())
		return
	}
	if u.Scheme == "http" && !isLoopback(u.Hostname()) {
		d.addWarning(r, "remote", "remote.base_url",
			"request tokens travel in plain text over http to a non-local host")
	}
	if d.cfg.Remote.Token == "" {
		d.addWarning(r, "remote", "remote.token",
			"no seed token configured; bridgeq relies on a token already stored (see: bridgeq token set)")
	}
}

func (d *Doctor) validateRetry(r *Result) {
	p := d.cfg.Remote.RetryPolicy()
	if p.MaxDelay < p.BaseDelay {
		d.addError(r, "retry", "remote.retry.max_delay",
			fmt.Sprintf("max_delay %s is shorter than base_delay %s", p.MaxDelay, p.BaseDelay))
	}
	for _, code := range p.RetryableStatusCodes {
		if code < 400 || code > 599 {
			d.addError(r, "retry", "remote.retry.retryable_status_codes",
				fmt.Sprintf("%d is not an HTTP error status", code))
		}
	}
	if p.MaxRetries > 10 {
		d.addWarning(r, "retry", "remote.retry.max_retries",
			fmt.Sprintf("%d retries hold the request serializer for a long time", p.MaxRetries))
	}
}

func (d *Doctor) validateDispatch(r *Result) {
	c := d.cfg.Dispatch
	if c.ActiveTaskTTL < 0 {
		d.addWarning(r, "dispatch", "dispatch.active_task_ttl",
			"negative TTL disables pruning; a lost status update blocks its bridge until restart")
	}
	if c.ActiveTaskTTL > 0 && c.SyncInterval >= c.ActiveTaskTTL {
		d.addWarning(r, "dispatch", "dispatch.sync_interval",
			fmt.Sprintf("sync_interval %s is not shorter than active_task_ttl %s; tasks may be pruned before they are synced",
				c.SyncInterval, c.ActiveTaskTTL))
	}
	if c.MaxSubmitAttempts > 10 {
		d.addWarning(r, "dispatch", "dispatch.max_submit_attempts",
			fmt.Sprintf("%d attempts, each with its own transport retries", c.MaxSubmitAttempts))
	}
}

func (d *Doctor) validateAPI(r *Result) {
	if !d.cfg.API.Enabled {
		return
	}
	if host, _, err := net.SplitHostPort(d.cfg.API.Listen); err != nil {
		d.addError(r, "api", "api.listen", fmt.Sprintf("invalid listen address %q: %v", d.cfg.API.Listen, err))
	} else if !isLoopback(host) {
		d.addWarning(r, "api", "api.listen", "API listens beyond localhost without TLS")
	}
	if n := len(d.cfg.API.Auth.APIKey); n > 0 && n < 16 {
		d.addWarning(r, "api", "api.auth.api_key", "API key is shorter than 16 characters")
	}

	if !d.cfg.Metrics.Enabled {
		return
	}
	path := d.cfg.Metrics.Path
	if !strings.HasPrefix(path, "/") {
		d.addError(r, "metrics", "metrics.path", fmt.Sprintf("path %q must start with /", path))
		return
	}
	for _, route := range apiRoutes {
		if path == route || strings.HasPrefix(path, route+"/") {
			d.addError(r, "metrics", "metrics.path", fmt.Sprintf("path %q collides with API route %s", path, route))
		}
	}
}

// validateRegistry checks the function table vaults are built from.
func (d *Doctor) validateWebhook(r *Result) {
	wh := d.cfg.Webhook
	if !wh.Enabled {
		return
	}
	if host, _, err := net.SplitHostPort(wh.Listen); err != nil {
		d.addError(r, "webhook", "webhook.listen", fmt.Sprintf("invalid listen address %q: %v", wh.Listen, err))
	} else if d.cfg.API.Enabled && wh.Listen == d.cfg.API.Listen {
		d.addError(r, "webhook", "webhook.listen", "webhook and API cannot share a listen address")
	} else if !isLoopback(host) {
		d.addWarning(r, "webhook", "webhook.listen", "callbacks listen beyond localhost without TLS")
	}

	seen := make(map[string]bool, len(wh.Endpoints))
	for i, ep := range wh.Endpoints {
		field := fmt.Sprintf("webhook.endpoints[%d]", i)
		if seen[ep.Path] {
			d.addError(r, "webhook", field+".path", fmt.Sprintf("duplicate path %q", ep.Path))
		}
		seen[ep.Path] = true
		if n := len(ep.Secret); n > 0 && n < 16 {
			d.addWarning(r, "webhook", field+".secret", "secret is shorter than 16 characters")
		}
	}
}

func (d *Doctor) validateRegistry(r *Result) {
	public := 0
	for _, fn := range d.registry.Functions() {
		if fn.Public {
			public++
		}
		seen := make(map[string]bool, len(fn.Params))
		for _, p := range fn.Params {
			field := fmt.Sprintf("functions.%s.params.%s", fn.Name, p.Name)
			if seen[p.Name] {
				d.addError(r, "functions", field, "parameter declared twice")
			}
			seen[p.Name] = true
			if len(p.Enum) > 0 && p.Type != "" && p.Type != vault.ParamString {
				d.addWarning(r, "functions", field, fmt.Sprintf("enum on a %s param compares its string form", p.Type))
			}
		}
	}
	if public == 0 {
		d.addError(r, "functions", "vault.functions_file", "registry has no public functions; nothing can be queued")
	}
}

var envVarRe = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// warnMissingEnvVars warns about ${VAR} references where VAR is not set.
func (d *Doctor) warnMissingEnvVars(r *Result) {
	for _, path := range d.cfg.Files {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		for _, m := range envVarRe.FindAllStringSubmatch(string(data), -1) {
			if _, ok := os.LookupEnv(m[1]); !ok {
				d.addWarning(r, "env_vars", path, fmt.Sprintf("environment variable ${%s} not set", m[1]))
			}
		}
	}
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	switch {
	case r.Valid && len(r.Warnings) == 0:
		return "Configuration valid.\n"
	case r.Valid:
		fmt.Fprintf(&b, "Configuration valid (%d warning(s))\n", len(r.Warnings))
	default:
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	writeIssues(&b, "ERROR", r.Errors)
	writeIssues(&b, "WARN ", r.Warnings)
	return b.String()
}

func writeIssues(b *strings.Builder, label string, issues []Issue) {
	for _, is := range issues {
		if is.Field != "" {
			fmt.Fprintf(b, "  %s [%s] %s: %s\n", label, is.Category, is.Field, is.Message)
		} else {
			fmt.Fprintf(b, "  %s [%s] %s\n", label, is.Category, is.Message)
		}
	}
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
