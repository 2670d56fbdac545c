package metrics

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/bridgeq/internal/dispatch"
	"github.com/mattjoyce/bridgeq/internal/remote"
)

// sample returns the counter, gauge or histogram sample count of the series
// matching name and labels.
func sample(t *testing.T, c *Collector, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := c.Registry().Gather()
	require.NoError(t, err)

	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	metrics:
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					continue metrics
				}
			}
			switch {
			case m.GetCounter() != nil:
				return m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				return m.GetGauge().GetValue()
			case m.GetHistogram() != nil:
				return float64(m.GetHistogram().GetSampleCount())
			}
		}
	}
	t.Fatalf("metric %s%v not found", name, labels)
	return 0
}

type activeSource []dispatch.ActiveTask

func (a activeSource) ActiveTasks() []dispatch.ActiveTask { return a }

func TestTrackCountsOutcomes(t *testing.T) {
	c := NewCollector()
	fail := true
	submit := c.Track(func(context.Context, dispatch.Data) (dispatch.SubmitResult, error) {
		if fail {
			return dispatch.SubmitResult{}, errors.New("boom")
		}
		return dispatch.SubmitResult{TaskID: "t"}, nil
	})

	_, err := submit(context.Background(), dispatch.Data{})
	require.Error(t, err)
	fail = false
	_, err = submit(context.Background(), dispatch.Data{})
	require.NoError(t, err)
	_, _ = submit(context.Background(), dispatch.Data{})

	assert.Equal(t, 1.0, sample(t, c, "bridgeq_submissions_total", map[string]string{"outcome": "failed"}))
	assert.Equal(t, 2.0, sample(t, c, "bridgeq_submissions_total", map[string]string{"outcome": "submitted"}))
	assert.Equal(t, 3.0, sample(t, c, "bridgeq_submit_duration_seconds", nil))
}

func TestEnqueuedClassifiesResults(t *testing.T) {
	c := NewCollector()
	c.Enqueued(1, nil)
	c.Enqueued(1, fmt.Errorf("bridge b1: %w", dispatch.ErrPriorityConflict))
	c.Enqueued(4, errors.New("remote down"))

	assert.Equal(t, 1.0, sample(t, c, "bridgeq_enqueued_total", map[string]string{"class": "highest", "result": "accepted"}))
	assert.Equal(t, 1.0, sample(t, c, "bridgeq_enqueued_total", map[string]string{"class": "highest", "result": "conflict"}))
	assert.Equal(t, 1.0, sample(t, c, "bridgeq_enqueued_total", map[string]string{"class": "normal", "result": "error"}))
}

func TestQueueListenerSetsGauges(t *testing.T) {
	c := NewCollector()
	assert.Equal(t, 0.0, sample(t, c, "bridgeq_queue_items", map[string]string{"status": "pending"}))

	listener := c.QueueListener()
	listener([]dispatch.Item{
		{Status: dispatch.StatusPending},
		{Status: dispatch.StatusPending},
		{Status: dispatch.StatusFailed},
	})
	assert.Equal(t, 2.0, sample(t, c, "bridgeq_queue_items", map[string]string{"status": "pending"}))
	assert.Equal(t, 1.0, sample(t, c, "bridgeq_queue_items", map[string]string{"status": "failed"}))

	listener(nil)
	assert.Equal(t, 0.0, sample(t, c, "bridgeq_queue_items", map[string]string{"status": "pending"}))
}

func TestTransportHooks(t *testing.T) {
	c := NewCollector()
	c.OnRetry()(0, time.Millisecond, errors.New("503"))
	c.OnCall()("CreateQueueItem", "", 20*time.Millisecond)
	c.OnCall()("CreateQueueItem", remote.CodeConflict, 5*time.Millisecond)

	assert.Equal(t, 1.0, sample(t, c, "bridgeq_transport_retries_total", nil))
	assert.Equal(t, 1.0, sample(t, c, "bridgeq_api_calls_total", map[string]string{"procedure": "CreateQueueItem", "code": "OK"}))
	assert.Equal(t, 1.0, sample(t, c, "bridgeq_api_calls_total", map[string]string{"procedure": "CreateQueueItem", "code": "CONFLICT"}))
	assert.Equal(t, 2.0, sample(t, c, "bridgeq_api_call_duration_seconds", map[string]string{"procedure": "CreateQueueItem"}))
}

func TestMonitorAndActiveGauge(t *testing.T) {
	c := NewCollector()
	c.WatchActive(activeSource{{Bridge: "b1"}, {Bridge: "b2"}})

	mon := c.Monitor()
	mon.Emit(dispatch.MonitorEvent{Type: dispatch.EventTaskStart, TaskID: "t1"})
	mon.Emit(dispatch.MonitorEvent{Type: dispatch.EventTaskStatus, TaskID: "t1", Status: dispatch.StatusCompleted})

	assert.Equal(t, 1.0, sample(t, c, "bridgeq_task_starts_total", nil))
	assert.Equal(t, 1.0, sample(t, c, "bridgeq_task_status_total", map[string]string{"status": "completed"}))
	assert.Equal(t, 2.0, sample(t, c, "bridgeq_active_tasks", nil))
}

func TestHandlerExposesMetrics(t *testing.T) {
	c := NewCollector()
	c.Enqueued(1, nil)

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), "bridgeq_enqueued_total")
	assert.Contains(t, string(body), "go_goroutines")
}
