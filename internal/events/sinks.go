package events

import (
	"github.com/mattjoyce/bridgeq/internal/dispatch"
)

// Event types published by the dispatcher sinks.
const (
	TypeTaskStart    = dispatch.EventTaskStart
	TypeTaskStatus   = dispatch.EventTaskStatus
	TypeNotification = "notification"
	TypeQueue        = "queue"
)

// Notification is the payload of TypeNotification events.
type Notification struct {
	Level   dispatch.Level `json:"level"`
	Message string         `json:"message"`
}

// QueueSnapshot is the payload of TypeQueue events.
type QueueSnapshot struct {
	Stats dispatch.Stats  `json:"stats"`
	Items []dispatch.Item `json:"items"`
}

// Monitor publishes dispatcher monitoring events. Extra monitors run after
// the hub publish, in order.
func (h *Hub) Monitor(extra ...dispatch.Monitor) dispatch.Monitor {
	return dispatch.MonitorFunc(func(ev dispatch.MonitorEvent) {
		h.Publish(ev.Type, ev)
		for _, m := range extra {
			m.Emit(ev)
		}
	})
}

// Notifier publishes user-facing notifications.
func (h *Hub) Notifier() dispatch.Notifier {
	return dispatch.NotifierFunc(func(level dispatch.Level, message string) {
		h.Publish(TypeNotification, Notification{Level: level, Message: message})
	})
}

// QueueListener publishes a snapshot after every queue change.
func (h *Hub) QueueListener() dispatch.Listener {
	return func(items []dispatch.Item) {
		h.Publish(TypeQueue, QueueSnapshot{Stats: dispatch.StatsOf(items), Items: items})
	}
}
