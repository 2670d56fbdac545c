package config

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

const redacted = "[redacted]"

// Redacted returns a copy of c with secrets masked, for display.
func (c *Config) Redacted() *Config {
	out := *c
	if out.API.Auth.APIKey != "" {
		out.API.Auth.APIKey = redacted
	}
	if out.Remote.Token != "" {
		out.Remote.Token = redacted
	}
	if len(c.Webhook.Endpoints) > 0 {
		out.Webhook.Endpoints = make([]WebhookEndpoint, len(c.Webhook.Endpoints))
		for i, ep := range c.Webhook.Endpoints {
			if ep.Secret != "" {
				ep.Secret = redacted
			}
			out.Webhook.Endpoints[i] = ep
		}
	}
	return &out
}

// GetPath retrieves a value using dot notation, e.g. "dispatch.poll_interval".
// An empty path returns the whole configuration. Secrets are redacted.
func (c *Config) GetPath(path string) (any, error) {
	data, err := yaml.Marshal(c.Redacted())
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	var m map[string]any
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return getValue(m, path)
}

func getValue(m map[string]any, path string) (any, error) {
	var current any = m
	for _, part := range strings.Split(path, ".") {
		if part == "" {
			continue
		}
		node, ok := current.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("path %q breaks at %q (not a map)", path, part)
		}
		val, exists := node[part]
		if !exists {
			return nil, fmt.Errorf("path %q: key %q not found", path, part)
		}
		current = val
	}
	return current, nil
}
