package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/mattjoyce/bridgeq/internal/log"
)

const (
	DefaultSyncInterval = 10 * time.Second
	DefaultSyncMinAge   = 30 * time.Second
)

//go:generate mockgen -destination=mocks/mock_lookup.go -package=mocks github.com/mattjoyce/bridgeq/internal/dispatch TaskLookup

// TaskLookup reports the remote status of a task. Implementations return an
// error wrapping ErrTaskNotFound when the remote has no such task.
type TaskLookup interface {
	TaskStatus(ctx context.Context, taskID string) (Status, error)
}

// Syncer reconciles active tasks whose completion event never arrived.
type Syncer struct {
	d        *Dispatcher
	lookup   TaskLookup
	interval time.Duration
	minAge   time.Duration
	logger   *slog.Logger
}

// NewSyncer creates a Syncer. Zero durations select the defaults.
func NewSyncer(d *Dispatcher, lookup TaskLookup, interval, minAge time.Duration) *Syncer {
	if interval <= 0 {
		interval = DefaultSyncInterval
	}
	if minAge <= 0 {
		minAge = DefaultSyncMinAge
	}
	return &Syncer{
		d:        d,
		lookup:   lookup,
		interval: interval,
		minAge:   minAge,
		logger:   log.WithComponent("dispatch-sync"),
	}
}

// Start runs SyncOnce on every interval until ctx is cancelled.
func (s *Syncer) Start(ctx context.Context) error {
	s.logger.Info("active task sync started", "interval", s.interval)
	defer s.logger.Info("active task sync stopped")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.SyncOnce(ctx)
		}
	}
}

// SyncOnce checks every highest-priority active task older than the minimum
// age and releases those the remote reports finished or unknown. It returns
// how many were released.
func (s *Syncer) SyncOnce(ctx context.Context) int {
	now := s.d.now()
	released := 0

	for _, t := range s.d.ActiveTasks() {
		if t.Priority != HighestPriority || now.Sub(t.Timestamp) < s.minAge {
			continue
		}
		if ctx.Err() != nil {
			return released
		}

		status, err := s.lookup.TaskStatus(ctx, t.TaskID)
		switch {
		case errors.Is(err, ErrTaskNotFound):
			status = StatusCancelled
		case err != nil:
			s.logger.Warn("task status lookup failed", "bridge", t.Bridge, "task_id", t.TaskID, "error", err)
			continue
		case !status.Terminal():
			continue
		}

		if _, err := s.d.UpdateTaskStatus(t.TaskID, status); err != nil {
			s.logger.Error("failed to apply task status", "task_id", t.TaskID, "error", err)
			continue
		}
		s.logger.Info("reconciled active task", "bridge", t.Bridge, "task_id", t.TaskID, "status", status)
		released++
	}
	return released
}
