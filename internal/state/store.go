package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/bridgeq/internal/dispatch"
	"github.com/mattjoyce/bridgeq/internal/log"
)

const (
	keyRequestToken = "request_token"

	OutcomeSubmitted = "submitted"
	OutcomeFailed    = "failed"

	DefaultHistoryLimit = 100
	MaxHistoryLimit     = 1000
)

// Store persists the session token and the submission history.
type Store struct {
	db     *sql.DB
	now    func() time.Time
	logger *slog.Logger
}

func NewStore(db *sql.DB) *Store {
	return &Store{
		db:     db,
		now:    time.Now,
		logger: log.WithComponent("state"),
	}
}

// Token returns the current request token, or "" when none is stored.
func (s *Store) Token(ctx context.Context) (string, error) {
	var token string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM session_state WHERE key = ?;", keyRequestToken).Scan(&token)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read request token: %w", err)
	}
	return token, nil
}

// SetToken replaces the stored request token.
func (s *Store) SetToken(ctx context.Context, token string) error {
	if strings.TrimSpace(token) == "" {
		return fmt.Errorf("request token is empty")
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO session_state(key, value, updated_at)
VALUES(?, ?, ?)
ON CONFLICT(key) DO UPDATE SET
  value = excluded.value,
  updated_at = excluded.updated_at;
`, keyRequestToken, token, s.timestamp())
	if err != nil {
		return fmt.Errorf("write request token: %w", err)
	}
	return nil
}

// SeedToken stores token only when no token exists yet. It reports whether
// the token was written.
func (s *Store) SeedToken(ctx context.Context, token string) (bool, error) {
	if strings.TrimSpace(token) == "" {
		return false, nil
	}
	res, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO session_state(key, value, updated_at) VALUES(?, ?, ?);",
		keyRequestToken, token, s.timestamp())
	if err != nil {
		return false, fmt.Errorf("seed request token: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Submission is one submit attempt against the remote queue.
type Submission struct {
	ID          string     `json:"id"`
	TaskID      string     `json:"task_id,omitempty"`
	Team        string     `json:"team"`
	Machine     string     `json:"machine"`
	Bridge      string     `json:"bridge"`
	Function    string     `json:"function"`
	Priority    int        `json:"priority"`
	AddedVia    string     `json:"added_via,omitempty"`
	VaultDigest string     `json:"vault_digest,omitempty"`
	Outcome     string     `json:"outcome"`
	Error       string     `json:"error,omitempty"`
	FinalStatus string     `json:"final_status,omitempty"`
	Duration    int64      `json:"duration_ms"`
	CreatedAt   time.Time  `json:"created_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

// RecordSubmission appends sub to the history. Missing ID and CreatedAt are
// filled in.
func (s *Store) RecordSubmission(ctx context.Context, sub *Submission) error {
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = s.now().UTC()
	}
	if sub.Outcome == "" {
		return fmt.Errorf("submission outcome is empty")
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO submission_log(
  id, task_id, team, machine, bridge, function, priority, added_via,
  vault_digest, outcome, last_error, duration_ms, created_at
) VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`,
		sub.ID, nullString(sub.TaskID), sub.Team, sub.Machine, sub.Bridge, sub.Function, sub.Priority,
		nullString(sub.AddedVia), nullString(sub.VaultDigest), sub.Outcome, nullString(sub.Error),
		sub.Duration, sub.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert submission: %w", err)
	}
	return nil
}

// MarkTaskStatus records the final remote status for every submission of
// taskID and returns how many rows changed.
func (s *Store) MarkTaskStatus(ctx context.Context, taskID, status string) (int64, error) {
	if taskID == "" {
		return 0, fmt.Errorf("task id is empty")
	}
	res, err := s.db.ExecContext(ctx,
		"UPDATE submission_log SET final_status = ?, finished_at = ? WHERE task_id = ?;",
		status, s.timestamp(), taskID)
	if err != nil {
		return 0, fmt.Errorf("update submission status: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// HistoryFilter narrows Submissions.
type HistoryFilter struct {
	Bridge string
	TaskID string
	Limit  int
}

// Submissions returns history rows, newest first.
func (s *Store) Submissions(ctx context.Context, f HistoryFilter) ([]Submission, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}

	query := `
SELECT id, task_id, team, machine, bridge, function, priority, added_via, vault_digest,
       outcome, last_error, final_status, duration_ms, created_at, finished_at
FROM submission_log`
	var where []string
	var args []any
	if f.Bridge != "" {
		where = append(where, "bridge = ?")
		args = append(args, f.Bridge)
	}
	if f.TaskID != "" {
		where = append(where, "task_id = ?")
		args = append(args, f.TaskID)
	}
	if len(where) > 0 {
		query += "\nWHERE " + strings.Join(where, " AND ")
	}
	query += "\nORDER BY created_at DESC, id DESC\nLIMIT ?;"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query submissions: %w", err)
	}
	defer rows.Close()

	var out []Submission
	for rows.Next() {
		var sub Submission
		var taskID, addedVia, digest, lastErr, final, finished sql.NullString
		var created string
		if err := rows.Scan(&sub.ID, &taskID, &sub.Team, &sub.Machine, &sub.Bridge, &sub.Function,
			&sub.Priority, &addedVia, &digest, &sub.Outcome, &lastErr, &final, &sub.Duration,
			&created, &finished); err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		sub.TaskID = taskID.String
		sub.AddedVia = addedVia.String
		sub.VaultDigest = digest.String
		sub.Error = lastErr.String
		sub.FinalStatus = final.String
		if sub.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}
		if finished.Valid {
			t, err := time.Parse(time.RFC3339Nano, finished.String)
			if err != nil {
				return nil, fmt.Errorf("parse finished_at: %w", err)
			}
			sub.FinishedAt = &t
		}
		out = append(out, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate submissions: %w", err)
	}
	return out, nil
}

// Track wraps next so every attempt is written to the history. Recording
// failures are logged; they never change the submit result.
func (s *Store) Track(next dispatch.SubmitFunc) dispatch.SubmitFunc {
	return func(ctx context.Context, data dispatch.Data) (dispatch.SubmitResult, error) {
		start := s.now()
		res, err := next(ctx, data)

		sub := &Submission{
			TaskID:      res.TaskID,
			Team:        data.Team,
			Machine:     data.Machine,
			Bridge:      data.Bridge,
			Function:    data.Function,
			Priority:    data.Priority,
			AddedVia:    data.AddedVia,
			VaultDigest: data.VaultDigest,
			Outcome:     OutcomeSubmitted,
			Duration:    s.now().Sub(start).Milliseconds(),
		}
		if err != nil {
			sub.Outcome = OutcomeFailed
			sub.Error = err.Error()
		}
		if rerr := s.RecordSubmission(context.WithoutCancel(ctx), sub); rerr != nil {
			s.logger.Error("failed to record submission", "bridge", data.Bridge, "error", rerr)
		}
		return res, err
	}
}

// Monitor records terminal task statuses reported by the dispatcher.
func (s *Store) Monitor() dispatch.Monitor {
	return dispatch.MonitorFunc(func(ev dispatch.MonitorEvent) {
		if ev.Type != dispatch.EventTaskStatus || ev.TaskID == "" {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := s.MarkTaskStatus(ctx, ev.TaskID, string(ev.Status)); err != nil {
			s.logger.Error("failed to record task status", "task_id", ev.TaskID, "error", err)
		}
	})
}

func (s *Store) timestamp() string {
	return s.now().UTC().Format(time.RFC3339Nano)
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}
