// Package watch implements the bridgeq queue watch TUI.
package watch

import (
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/bridgeq/internal/dispatch"
)

// Theme centralizes all styling for the watch TUI.
type Theme struct {
	StatusOK         lipgloss.Style
	StatusSubmitting lipgloss.Style
	StatusFailed     lipgloss.Style
	StatusPending    lipgloss.Style
	StatusCancelled  lipgloss.Style

	Border    lipgloss.Style
	Title     lipgloss.Style
	Dim       lipgloss.Style
	Highlight lipgloss.Style

	TickerActive   lipgloss.Style
	TickerInactive lipgloss.Style
}

func NewDefaultTheme() Theme {
	purple := lipgloss.Color("#874BFD")

	return Theme{
		StatusOK:         lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00")),
		StatusSubmitting: lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFF00")),
		StatusFailed:     lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000")),
		StatusPending:    lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")),
		StatusCancelled:  lipgloss.NewStyle().Foreground(lipgloss.Color("#666666")),

		Border: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(purple),
		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Padding(0, 1),
		Dim:       lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")),
		Highlight: lipgloss.NewStyle().Foreground(lipgloss.Color("#E5C07B")),

		TickerActive:   lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00")),
		TickerInactive: lipgloss.NewStyle().Foreground(lipgloss.Color("#444444")),
	}
}

// Status returns the style for a queue item status.
func (t Theme) Status(s dispatch.Status) lipgloss.Style {
	switch s {
	case dispatch.StatusSubmitted, dispatch.StatusCompleted:
		return t.StatusOK
	case dispatch.StatusSubmitting:
		return t.StatusSubmitting
	case dispatch.StatusFailed:
		return t.StatusFailed
	case dispatch.StatusCancelled:
		return t.StatusCancelled
	default:
		return t.StatusPending
	}
}

func (t Theme) tableStyles() table.Styles {
	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	return s
}
