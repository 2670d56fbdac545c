package webhook

import (
	"github.com/mattjoyce/bridgeq/internal/dispatch"
)

// StatusUpdater applies a remote task outcome to the dispatcher.
type StatusUpdater interface {
	UpdateTaskStatus(taskID string, status dispatch.Status) (string, error)
}

// Config holds webhook server configuration.
type Config struct {
	Listen    string
	Endpoints []EndpointConfig
}

// EndpointConfig defines a single callback endpoint.
type EndpointConfig struct {
	// Path is the URL path, e.g. "/hooks/task-status".
	Path string

	// Secret is the HMAC-SHA256 key shared with the sender.
	Secret string

	// SignatureHeader carries the hex signature, optionally "sha256=" prefixed.
	SignatureHeader string

	// MaxBodySize caps the request body in bytes.
	MaxBodySize int64
}

// StatusCallback is the signed body the remote side posts when a task
// finishes. Status accepts both "COMPLETED" and "completed" spellings.
type StatusCallback struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

// StatusResponse acknowledges an applied callback.
type StatusResponse struct {
	TaskID         string          `json:"task_id"`
	Status         dispatch.Status `json:"status"`
	ReleasedBridge string          `json:"released_bridge,omitempty"`
}

const (
	DefaultMaxBodySize     = 64 * 1024
	DefaultSignatureHeader = "X-Bridgeq-Signature-256"
)
