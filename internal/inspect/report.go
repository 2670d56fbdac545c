// Package inspect renders the submission history of a bridge or task.
package inspect

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mattjoyce/bridgeq/internal/state"
)

// History is the read side of the submission log.
type History interface {
	Submissions(ctx context.Context, f state.HistoryFilter) ([]state.Submission, error)
}

// Query selects the attempts to report on. One of Bridge or TaskID is
// required.
type Query struct {
	Bridge string
	TaskID string
	Limit  int
}

// Report is the structured JSON representation of a history report.
type Report struct {
	Bridge    string         `json:"bridge,omitempty"`
	TaskID    string         `json:"task_id,omitempty"`
	Attempts  int            `json:"attempts"`
	Submitted int            `json:"submitted"`
	Failed    int            `json:"failed"`
	Final     map[string]int `json:"final_statuses"`
	LastError string         `json:"last_error,omitempty"`
	Steps     []Step         `json:"steps"`
}

// Step is one submit attempt, oldest first.
type Step struct {
	Seq         int        `json:"seq"`
	At          time.Time  `json:"at"`
	Bridge      string     `json:"bridge"`
	Machine     string     `json:"machine"`
	Function    string     `json:"function"`
	Priority    int        `json:"priority"`
	Outcome     string     `json:"outcome"`
	TaskID      string     `json:"task_id,omitempty"`
	FinalStatus string     `json:"final_status,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	DurationMS  int64      `json:"duration_ms"`
	VaultDigest string     `json:"vault_digest,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// BuildReport renders a terminal-friendly history report.
func BuildReport(ctx context.Context, h History, q Query) (string, error) {
	report, err := gatherReportData(ctx, h, q)
	if err != nil {
		return "", err
	}

	var out strings.Builder
	fmt.Fprintf(&out, "History Report\n")
	if report.Bridge != "" {
		fmt.Fprintf(&out, "Bridge      : %s\n", report.Bridge)
	}
	if report.TaskID != "" {
		fmt.Fprintf(&out, "Task ID     : %s\n", report.TaskID)
	}
	fmt.Fprintf(&out, "Attempts    : %d (%d submitted, %d failed)\n", report.Attempts, report.Submitted, report.Failed)
	fmt.Fprintf(&out, "Final       : %s\n", renderCounts(report.Final))
	fmt.Fprintf(&out, "Last error  : %s\n", renderUnset(report.LastError, "<none>"))
	fmt.Fprintf(&out, "\n")

	for _, step := range report.Steps {
		fmt.Fprintf(&out, "[%d] %s %s on %s/%s (p%d)\n",
			step.Seq, step.At.UTC().Format(time.RFC3339), step.Function, step.Bridge, step.Machine, step.Priority)
		fmt.Fprintf(&out, "    outcome    : %s (%dms)\n", step.Outcome, step.DurationMS)
		fmt.Fprintf(&out, "    task       : %s\n", renderUnset(step.TaskID, "<none>"))
		if step.FinalStatus != "" {
			fmt.Fprintf(&out, "    final      : %s", step.FinalStatus)
			if step.FinishedAt != nil {
				fmt.Fprintf(&out, " after %s", step.FinishedAt.Sub(step.At).Round(time.Second))
			}
			fmt.Fprintf(&out, "\n")
		}
		fmt.Fprintf(&out, "    vault      : %s\n", renderUnset(step.VaultDigest, "<unknown>"))
		if step.Error != "" {
			fmt.Fprintf(&out, "    error      : %s\n", step.Error)
		}
		fmt.Fprintf(&out, "\n")
	}

	return strings.TrimRight(out.String(), "\n") + "\n", nil
}

// BuildJSONReport returns the machine-readable history report.
func BuildJSONReport(ctx context.Context, h History, q Query) (string, error) {
	report, err := gatherReportData(ctx, h, q)
	if err != nil {
		return "", err
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal json report: %w", err)
	}
	return string(data), nil
}

func gatherReportData(ctx context.Context, h History, q Query) (*Report, error) {
	q.Bridge = strings.TrimSpace(q.Bridge)
	q.TaskID = strings.TrimSpace(q.TaskID)
	if q.Bridge == "" && q.TaskID == "" {
		return nil, fmt.Errorf("bridge or task_id is required")
	}

	subs, err := h.Submissions(ctx, state.HistoryFilter{Bridge: q.Bridge, TaskID: q.TaskID, Limit: q.Limit})
	if err != nil {
		return nil, fmt.Errorf("load submissions: %w", err)
	}
	if len(subs) == 0 {
		if q.TaskID != "" {
			return nil, fmt.Errorf("task %q not found", q.TaskID)
		}
		return nil, fmt.Errorf("no submissions for bridge %q", q.Bridge)
	}

	// Submissions are newest first; the report reads oldest first.
	sort.SliceStable(subs, func(i, j int) bool { return subs[i].CreatedAt.Before(subs[j].CreatedAt) })

	report := &Report{
		Bridge: q.Bridge,
		TaskID: q.TaskID,
		Final:  map[string]int{},
		Steps:  make([]Step, 0, len(subs)),
	}
	for i, sub := range subs {
		report.Attempts++
		switch sub.Outcome {
		case state.OutcomeSubmitted:
			report.Submitted++
		case state.OutcomeFailed:
			report.Failed++
			report.LastError = sub.Error
		}
		if sub.FinalStatus != "" {
			report.Final[sub.FinalStatus]++
		}
		report.Steps = append(report.Steps, Step{
			Seq:         i + 1,
			At:          sub.CreatedAt,
			Bridge:      sub.Bridge,
			Machine:     sub.Machine,
			Function:    sub.Function,
			Priority:    sub.Priority,
			Outcome:     sub.Outcome,
			TaskID:      sub.TaskID,
			FinalStatus: sub.FinalStatus,
			FinishedAt:  sub.FinishedAt,
			DurationMS:  sub.Duration,
			VaultDigest: sub.VaultDigest,
			Error:       sub.Error,
		})
	}
	return report, nil
}

func renderCounts(m map[string]int) string {
	if len(m) == 0 {
		return "<none>"
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, m[k]))
	}
	return strings.Join(parts, " ")
}

func renderUnset(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
