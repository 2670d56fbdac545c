package events

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/bridgeq/internal/dispatch"
)

func TestPublishDeliversAndBuffers(t *testing.T) {
	h := NewHub(2)
	ch, cancel := h.Subscribe()
	defer cancel()

	h.Publish("a", map[string]int{"n": 1})
	h.Publish("b", nil)
	h.Publish("c", nil)

	for _, want := range []string{"a", "b", "c"} {
		ev := <-ch
		assert.Equal(t, want, ev.Type)
	}

	snap := h.SnapshotSince(0)
	require.Len(t, snap, 2, "ring keeps only the newest events")
	assert.Equal(t, "b", snap[0].Type)
	assert.Equal(t, "c", snap[1].Type)
	assert.JSONEq(t, `{}`, string(snap[0].Data))

	since := h.SnapshotSince(snap[0].ID)
	require.Len(t, since, 1)
	assert.Equal(t, "c", since[0].Type)
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	h := NewHub(4)
	_, cancel := h.Subscribe()
	defer cancel()

	for i := 0; i < subscriberBacklog+10; i++ {
		h.Publish("tick", i)
	}
	assert.EqualValues(t, 10, h.Dropped())
}

func TestCancelIsIdempotent(t *testing.T) {
	h := NewHub(0)
	ch, cancel := h.Subscribe()
	assert.Equal(t, 1, h.Subscribers())

	cancel()
	cancel()
	assert.Zero(t, h.Subscribers())

	_, ok := <-ch
	assert.False(t, ok)

	// Publishing after cancel must not panic on the closed channel.
	h.Publish("late", nil)
}

func TestDispatcherSinks(t *testing.T) {
	h := NewHub(16)

	var forwarded []dispatch.MonitorEvent
	mon := h.Monitor(dispatch.MonitorFunc(func(ev dispatch.MonitorEvent) {
		forwarded = append(forwarded, ev)
	}))
	mon.Emit(dispatch.MonitorEvent{Type: dispatch.EventTaskStatus, TaskID: "t-1", Status: dispatch.StatusCompleted})
	h.Notifier().Notify(dispatch.LevelWarning, "bridge busy")
	h.QueueListener()([]dispatch.Item{
		{ID: "i1", Status: dispatch.StatusPending, Data: dispatch.Data{Priority: 1}},
		{ID: "i2", Status: dispatch.StatusFailed, Data: dispatch.Data{Priority: 3}},
	})

	require.Len(t, forwarded, 1)

	evs := h.SnapshotSince(0)
	require.Len(t, evs, 3)

	assert.Equal(t, TypeTaskStatus, evs[0].Type)
	var mev dispatch.MonitorEvent
	require.NoError(t, json.Unmarshal(evs[0].Data, &mev))
	assert.Equal(t, "t-1", mev.TaskID)
	assert.Equal(t, dispatch.StatusCompleted, mev.Status)

	assert.Equal(t, TypeNotification, evs[1].Type)
	var n Notification
	require.NoError(t, json.Unmarshal(evs[1].Data, &n))
	assert.Equal(t, Notification{Level: dispatch.LevelWarning, Message: "bridge busy"}, n)

	assert.Equal(t, TypeQueue, evs[2].Type)
	var snap QueueSnapshot
	require.NoError(t, json.Unmarshal(evs[2].Data, &snap))
	assert.Equal(t, 2, snap.Stats.Total)
	assert.Equal(t, 1, snap.Stats.Pending)
	assert.Equal(t, 1, snap.Stats.Failed)
	assert.Equal(t, 1, snap.Stats.HighestPriority)
}
