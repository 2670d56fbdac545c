package state

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/bridgeq/internal/dispatch"
	"github.com/mattjoyce/bridgeq/internal/log"
	"github.com/mattjoyce/bridgeq/internal/storage"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR")
	os.Exit(m.Run())
}

func openStore(t *testing.T) *Store {
	t.Helper()
	db, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "bridgeq.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewStore(db)
}

func TestTokenRoundTrip(t *testing.T) {
	t.Parallel()
	s := openStore(t)
	ctx := context.Background()

	tok, err := s.Token(ctx)
	require.NoError(t, err)
	assert.Empty(t, tok)

	wrote, err := s.SeedToken(ctx, "seed")
	require.NoError(t, err)
	assert.True(t, wrote)

	wrote, err = s.SeedToken(ctx, "other")
	require.NoError(t, err)
	assert.False(t, wrote, "seed must not overwrite an existing token")

	require.NoError(t, s.SetToken(ctx, "rotated"))
	tok, err = s.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "rotated", tok)

	assert.Error(t, s.SetToken(ctx, " "))
}

func TestRecordAndQuerySubmissions(t *testing.T) {
	t.Parallel()
	s := openStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, bridge := range []string{"b1", "b2", "b1"} {
		require.NoError(t, s.RecordSubmission(ctx, &Submission{
			TaskID:    "task-" + bridge,
			Team:      "t",
			Machine:   "m",
			Bridge:    bridge,
			Function:  "machine_ping",
			Priority:  1,
			Outcome:   OutcomeSubmitted,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	all, err := s.Submissions(ctx, HistoryFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.True(t, all[0].CreatedAt.After(all[1].CreatedAt), "newest first")

	b1, err := s.Submissions(ctx, HistoryFilter{Bridge: "b1", Limit: 1})
	require.NoError(t, err)
	require.Len(t, b1, 1)
	assert.Equal(t, base.Add(2*time.Minute), b1[0].CreatedAt)

	n, err := s.MarkTaskStatus(ctx, "task-b1", "completed")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	done, err := s.Submissions(ctx, HistoryFilter{TaskID: "task-b1"})
	require.NoError(t, err)
	require.Len(t, done, 2)
	for _, sub := range done {
		assert.Equal(t, "completed", sub.FinalStatus)
		assert.NotNil(t, sub.FinishedAt)
	}
}

func TestRecordSubmissionRequiresOutcome(t *testing.T) {
	t.Parallel()
	s := openStore(t)
	assert.Error(t, s.RecordSubmission(context.Background(), &Submission{Bridge: "b"}))
}

func TestTrackRecordsEveryAttempt(t *testing.T) {
	t.Parallel()
	s := openStore(t)
	ctx := context.Background()

	calls := 0
	submit := s.Track(func(context.Context, dispatch.Data) (dispatch.SubmitResult, error) {
		calls++
		if calls == 1 {
			return dispatch.SubmitResult{}, errors.New("gateway timeout")
		}
		return dispatch.SubmitResult{TaskID: "task-42", IsQueued: true}, nil
	})

	data := dispatch.Data{Team: "t", Machine: "m", Bridge: "b", Function: "machine_ping", Priority: 1, VaultDigest: "abcd"}
	_, err := submit(ctx, data)
	require.Error(t, err)
	res, err := submit(ctx, data)
	require.NoError(t, err)
	assert.Equal(t, "task-42", res.TaskID)

	subs, err := s.Submissions(ctx, HistoryFilter{Bridge: "b"})
	require.NoError(t, err)
	require.Len(t, subs, 2)

	byOutcome := map[string]Submission{}
	for _, sub := range subs {
		byOutcome[sub.Outcome] = sub
	}
	assert.Equal(t, "gateway timeout", byOutcome[OutcomeFailed].Error)
	assert.Equal(t, "task-42", byOutcome[OutcomeSubmitted].TaskID)
	assert.Equal(t, "abcd", byOutcome[OutcomeSubmitted].VaultDigest)
}

func TestMonitorRecordsTaskStatus(t *testing.T) {
	t.Parallel()
	s := openStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordSubmission(ctx, &Submission{
		TaskID: "task-7", Bridge: "b", Function: "machine_ping", Priority: 1, Outcome: OutcomeSubmitted,
	}))

	mon := s.Monitor()
	mon.Emit(dispatch.MonitorEvent{Type: dispatch.EventTaskStart, TaskID: "task-7"})
	mon.Emit(dispatch.MonitorEvent{Type: dispatch.EventTaskStatus, TaskID: "task-7", Status: dispatch.StatusCompleted})

	subs, err := s.Submissions(ctx, HistoryFilter{TaskID: "task-7"})
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, string(dispatch.StatusCompleted), subs[0].FinalStatus)
}
