package dispatch

import (
	"context"
	"errors"
	"strings"
	"time"
)

const (
	// HighestPriority is the exclusive, interactive priority class.
	HighestPriority = 1
	// DefaultPriority applies when a task names none.
	DefaultPriority = 3
	// LowestPriority is the last accepted priority.
	LowestPriority = 5
)

// Status is the lifecycle state of a local item or a remote task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusSubmitting Status = "submitting"
	StatusSubmitted  Status = "submitted"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
	StatusCompleted  Status = "completed"
)

// Terminal reports whether a remote task in this status will not change again.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// ParseStatus normalizes a status name from either side of the wire. The
// remote reports upper case and sometimes the American "canceled".
func ParseStatus(s string) Status {
	switch v := strings.ToLower(strings.TrimSpace(s)); v {
	case "canceled":
		return StatusCancelled
	default:
		return Status(v)
	}
}

var (
	ErrPriorityConflict = errors.New("already have a priority 1 task on this bridge")
	ErrItemNotFound     = errors.New("queue item not found")
	ErrNotRetryable     = errors.New("queue item is not in failed state")
	ErrInvalidStatus    = errors.New("task status must be completed, failed, or cancelled")
	ErrTaskNotFound     = errors.New("remote task not found")
)

// Data is what the caller asks to submit.
type Data struct {
	Team     string `json:"team"`
	Machine  string `json:"machine,omitempty"`
	Bridge   string `json:"bridge,omitempty"`
	Function string `json:"function,omitempty"`
	Priority int    `json:"priority"`
	AddedVia string `json:"added_via,omitempty"`

	// Vault is the serialized vault document. It is never exposed in JSON.
	Vault       string `json:"-"`
	VaultDigest string `json:"vault_digest,omitempty"`
}

// Highest reports whether d is in the exclusive priority class.
func (d Data) Highest() bool {
	return d.Priority == HighestPriority
}

// Item is the local record of one submission attempt.
type Item struct {
	ID         string    `json:"id"`
	Data       Data      `json:"data"`
	Status     Status    `json:"status"`
	RetryCount int       `json:"retry_count"`
	Timestamp  time.Time `json:"timestamp"`
	TaskID     string    `json:"task_id,omitempty"`
}

// ActiveTask tracks the in-flight highest-priority task of one bridge.
type ActiveTask struct {
	Bridge    string    `json:"bridge"`
	Machine   string    `json:"machine"`
	TaskID    string    `json:"task_id"`
	Priority  int       `json:"priority"`
	Status    Status    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// Stats are derived counts over the local queue.
type Stats struct {
	Total           int `json:"total"`
	Pending         int `json:"pending"`
	Submitting      int `json:"submitting"`
	Submitted       int `json:"submitted"`
	Failed          int `json:"failed"`
	Cancelled       int `json:"cancelled"`
	HighestPriority int `json:"highest_priority"`
}

// StatsOf counts items by status.
func StatsOf(items []Item) Stats {
	s := Stats{Total: len(items)}
	for _, it := range items {
		switch it.Status {
		case StatusPending:
			s.Pending++
		case StatusSubmitting:
			s.Submitting++
		case StatusSubmitted:
			s.Submitted++
		case StatusFailed:
			s.Failed++
		case StatusCancelled:
			s.Cancelled++
		}
		if it.Data.Highest() {
			s.HighestPriority++
		}
	}
	return s
}

// SubmitResult is what the remote queue reports for an accepted submission.
type SubmitResult struct {
	TaskID   string `json:"task_id,omitempty"`
	IsQueued bool   `json:"is_queued,omitempty"`
}

// SubmitFunc hands one item to the remote queue. Retries against the
// transport happen inside it; a returned error counts as one failed attempt.
type SubmitFunc func(ctx context.Context, data Data) (SubmitResult, error)

// Receipt describes an accepted Enqueue.
type Receipt struct {
	ItemID string `json:"item_id"`
	TaskID string `json:"task_id,omitempty"`
	Queued bool   `json:"queued"`
}

// ID returns the remote task id when known, else the local item id.
func (r Receipt) ID() string {
	if r.TaskID != "" {
		return r.TaskID
	}
	return r.ItemID
}

// Level is the severity of a user-facing notification.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notifier receives user-facing feedback.
type Notifier interface {
	Notify(level Level, message string)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(level Level, message string)

func (f NotifierFunc) Notify(level Level, message string) { f(level, message) }

// Monitoring event types.
const (
	EventTaskStart  = "task-start"
	EventTaskStatus = "task-status"
)

// MonitorEvent reports task lifecycle changes for external observability.
type MonitorEvent struct {
	Type   string `json:"type"`
	TaskID string `json:"task_id"`
	Data   *Data  `json:"data,omitempty"`
	Status Status `json:"status,omitempty"`
}

// Monitor receives monitoring events.
type Monitor interface {
	Emit(ev MonitorEvent)
}

// MonitorFunc adapts a function to Monitor.
type MonitorFunc func(ev MonitorEvent)

func (f MonitorFunc) Emit(ev MonitorEvent) { f(ev) }

// Listener receives the full queue after every change.
type Listener func(items []Item)

// ItemListener receives one item after every change, or nil once it is gone.
type ItemListener func(item *Item)
