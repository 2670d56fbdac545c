package watch

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/bridgeq/internal/dispatch"
	"github.com/mattjoyce/bridgeq/internal/events"
)

const (
	healthInterval = 5 * time.Second
	reconnectDelay = 3 * time.Second
)

// Model is the BubbleTea model for the queue watch.
type Model struct {
	client *Client

	width  int
	height int

	health   HealthState
	items    []dispatch.Item
	eventLog []events.Event
	lastID   int64

	ticker  Ticker
	spinner Spinner
	theme   Theme
	table   table.Model

	hubEvents chan events.Event
	lastError string
	notice    string
	now       func() time.Time
}

// New creates a watch model for the API at baseURL.
func New(baseURL, apiKey string) *Model {
	theme := NewDefaultTheme()
	t := table.New(
		table.WithColumns(queueColumns),
		table.WithFocused(true),
		table.WithHeight(12),
	)
	t.SetStyles(theme.tableStyles())

	return &Model{
		client:    NewClient(baseURL, apiKey),
		hubEvents: make(chan events.Event, 100),
		ticker:    NewTicker(),
		theme:     theme,
		table:     t,
		now:       time.Now,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		subscribeToEvents(m.client, 0, m.hubEvents),
		receiveNextEvent(m.hubEvents),
		fetchHealth(m.client),
		fetchQueue(m.client),
		pollHealth(),
		tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) }),
		tea.EnterAltScreen,
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "r":
			if it, ok := m.selected(); ok && it.Status == dispatch.StatusFailed {
				return m, runAction("retry "+shortID(it.ID), func(ctx context.Context) error { return m.client.Retry(ctx, it.ID) })
			}
			return m, nil
		case "x":
			if it, ok := m.selected(); ok {
				return m, runAction("remove "+shortID(it.ID), func(ctx context.Context) error { return m.client.Remove(ctx, it.ID) })
			}
			return m, nil
		case "c":
			return m, runAction("clear", m.client.ClearFinished)
		}
		var cmd tea.Cmd
		m.table, cmd = m.table.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.table.SetWidth(max(msg.Width-8, 20))

	case tickMsg:
		m.ticker.Tick()
		m.spinner.Decay(m.now())
		return m, tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })

	case eventMsg:
		e := events.Event(msg)
		m.applyEvent(e)
		if e.Type == events.TypeTaskStart || e.Type == events.TypeTaskStatus {
			return m, tea.Batch(receiveNextEvent(m.hubEvents), fetchHealth(m.client))
		}
		return m, receiveNextEvent(m.hubEvents)

	case queueMsg:
		m.setItems(msg.Items)
		m.health.Stats = msg.Stats

	case healthMsg:
		m.health.Status = msg.Status
		m.health.UptimeSeconds = msg.UptimeSeconds
		m.health.ActiveTasks = msg.ActiveTasks
		m.health.Stats = msg.Stats
		m.health.Connected = true
		m.health.LastCheck = m.now()
		m.lastError = ""

	case pollHealthMsg:
		return m, tea.Batch(fetchHealth(m.client), pollHealth())

	case actionDoneMsg:
		m.lastError = ""
		m.notice = msg.what + " done"
		return m, fetchQueue(m.client)

	case sseDisconnectedMsg:
		m.health.Connected = false
		m.lastError = "event stream disconnected, reconnecting..."
		if msg.err != nil {
			m.lastError = fmt.Sprintf("event stream: %v, reconnecting...", msg.err)
		}
		return m, tea.Tick(reconnectDelay, func(time.Time) tea.Msg { return reconnectMsg{} })

	case reconnectMsg:
		return m, subscribeToEvents(m.client, m.lastID, m.hubEvents)

	case errMsg:
		m.lastError = msg.Error()
	}

	return m, nil
}

// applyEvent records e in the log and, for queue snapshots, replaces the
// table contents.
func (m *Model) applyEvent(e events.Event) {
	m.eventLog = append([]events.Event{e}, m.eventLog...)
	if len(m.eventLog) > eventLogSize {
		m.eventLog = m.eventLog[:eventLogSize]
	}
	if e.ID > m.lastID {
		m.lastID = e.ID
	}
	m.spinner.OnEvent(m.now())
	m.health.Connected = true
	m.lastError = ""

	if e.Type == events.TypeQueue {
		var snap events.QueueSnapshot
		if err := json.Unmarshal(e.Data, &snap); err == nil {
			m.setItems(snap.Items)
			m.health.Stats = snap.Stats
		}
	}
}

func (m *Model) setItems(items []dispatch.Item) {
	m.items = items
	m.table.SetRows(queueRows(items, m.now()))
}

func (m Model) selected() (dispatch.Item, bool) {
	i := m.table.Cursor()
	if i < 0 || i >= len(m.items) {
		return dispatch.Item{}, false
	}
	return m.items[i], true
}

var queueColumns = []table.Column{
	{Title: "ID", Width: 8},
	{Title: "Status", Width: 11},
	{Title: "P", Width: 1},
	{Title: "Bridge", Width: 14},
	{Title: "Machine", Width: 14},
	{Title: "Function", Width: 24},
	{Title: "Task", Width: 10},
	{Title: "Age", Width: 8},
}

func queueRows(items []dispatch.Item, now time.Time) []table.Row {
	rows := make([]table.Row, 0, len(items))
	for _, it := range items {
		status := string(it.Status)
		if it.RetryCount > 0 {
			status += " ×" + strconv.Itoa(it.RetryCount)
		}
		rows = append(rows, table.Row{
			shortID(it.ID),
			status,
			strconv.Itoa(it.Data.Priority),
			it.Data.Bridge,
			it.Data.Machine,
			it.Data.Function,
			shortID(it.TaskID),
			formatDuration(now.Sub(it.Timestamp)),
		})
	}
	return rows
}

func (m Model) View() string {
	if m.width == 0 {
		return "Connecting to bridgeq..."
	}

	header := renderHeader(m.health, m.ticker, m.spinner, m.theme, m.width)
	queue := m.theme.Border.Width(m.width - 4).Render(lipgloss.JoinVertical(lipgloss.Left,
		m.theme.Title.Render("QUEUE"),
		m.table.View(),
	))
	eventStream := renderEventStream(m.eventLog, m.theme, m.width)

	parts := []string{header, queue, eventStream}
	if m.lastError != "" {
		parts = append(parts, m.theme.StatusFailed.Render(" ⚠ "+m.lastError))
	} else if m.notice != "" {
		parts = append(parts, m.theme.Highlight.Render(" "+m.notice))
	}
	parts = append(parts, m.theme.Dim.Render(" [q] Quit • [↑/↓] Select • [r] Retry failed • [x] Remove • [c] Clear finished"))

	return lipgloss.NewStyle().Margin(1, 2).Render(lipgloss.JoinVertical(lipgloss.Left, parts...))
}
