package watch

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/bridgeq/internal/dispatch"
	"github.com/mattjoyce/bridgeq/internal/events"
)

const (
	eventLogSize  = 50
	eventLogShown = 8
)

func renderEventStream(eventLog []events.Event, theme Theme, width int) string {
	innerWidth := width - 4

	if len(eventLog) == 0 {
		return theme.Border.Width(innerWidth).Render(lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("EVENTS"),
			theme.Dim.Render("  Waiting for events..."),
		))
	}

	var lines []string
	for i, e := range eventLog {
		if i >= eventLogShown {
			break
		}
		lines = append(lines, formatEvent(e, theme))
	}

	return theme.Border.Width(innerWidth).Render(lipgloss.JoinVertical(lipgloss.Left,
		theme.Title.Render("EVENTS"),
		lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n")),
	))
}

func formatEvent(e events.Event, theme Theme) string {
	ts := theme.Dim.Render(e.At.Format("15:04:05"))

	style := theme.Dim
	switch e.Type {
	case events.TypeTaskStart:
		style = theme.StatusSubmitting
	case events.TypeTaskStatus:
		style = theme.StatusOK
	case events.TypeNotification:
		style = theme.Highlight
	}
	return fmt.Sprintf("%s %s %s", ts, style.Render(fmt.Sprintf("%-13s", e.Type)), describeEvent(e, theme))
}

// describeEvent summarizes the payload of one event.
func describeEvent(e events.Event, theme Theme) string {
	switch e.Type {
	case events.TypeTaskStart, events.TypeTaskStatus:
		var ev dispatch.MonitorEvent
		if json.Unmarshal(e.Data, &ev) != nil {
			break
		}
		parts := []string{shortID(ev.TaskID)}
		if ev.Data != nil {
			parts = append(parts, ev.Data.Function, "on", ev.Data.Bridge+"/"+ev.Data.Machine)
		}
		if ev.Status != "" {
			parts = append(parts, theme.Status(ev.Status).Render(string(ev.Status)))
		}
		return strings.Join(parts, " ")

	case events.TypeNotification:
		var n events.Notification
		if json.Unmarshal(e.Data, &n) != nil {
			break
		}
		if n.Level == dispatch.LevelError || n.Level == dispatch.LevelWarning {
			return theme.StatusFailed.Render(n.Message)
		}
		return n.Message

	case events.TypeQueue:
		var q events.QueueSnapshot
		if json.Unmarshal(e.Data, &q) != nil {
			break
		}
		return fmt.Sprintf("%d items, %d pending, %d failed", q.Stats.Total, q.Stats.Pending, q.Stats.Failed)
	}

	raw := string(e.Data)
	if len(raw) > 60 {
		raw = raw[:60] + "..."
	}
	return raw
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
