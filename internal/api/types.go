package api

import (
	"github.com/mattjoyce/bridgeq/internal/dispatch"
	"github.com/mattjoyce/bridgeq/internal/state"
	"github.com/mattjoyce/bridgeq/internal/vault"
)

// SubmitResponse is returned by POST /tasks.
type SubmitResponse struct {
	ItemID      string          `json:"item_id"`
	TaskID      string          `json:"task_id,omitempty"`
	Queued      bool            `json:"queued"`
	Status      dispatch.Status `json:"status"`
	Position    int             `json:"position,omitempty"`
	VaultDigest string          `json:"vault_digest"`
}

// QueueResponse is returned by GET /queue.
type QueueResponse struct {
	Items []dispatch.Item `json:"items"`
	Stats dispatch.Stats  `json:"stats"`
}

// ItemResponse is returned by GET /queue/{id}. Position is 1-based among
// pending items and 0 otherwise.
type ItemResponse struct {
	Item     dispatch.Item `json:"item"`
	Position int           `json:"position"`
}

// TaskStatusRequest is the JSON body for POST /tasks/{taskID}/status.
type TaskStatusRequest struct {
	Status dispatch.Status `json:"status"`
}

// TaskStatusResponse reports which bridge, if any, a status update released.
type TaskStatusResponse struct {
	TaskID         string          `json:"task_id"`
	Status         dispatch.Status `json:"status"`
	ReleasedBridge string          `json:"released_bridge,omitempty"`
}

// FunctionListResponse is returned by GET /functions.
type FunctionListResponse struct {
	Functions []vault.Function `json:"functions"`
}

// HistoryResponse is returned by GET /history.
type HistoryResponse struct {
	Submissions []state.Submission `json:"submissions"`
}

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string         `json:"status"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	QueueDepth    int            `json:"queue_depth"`
	ActiveTasks   int            `json:"active_tasks"`
	Stats         dispatch.Stats `json:"stats"`
}
