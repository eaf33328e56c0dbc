package ui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/govisionhq/lens/internal/state"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#8b5cf6"))

	identityStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#06b6d4"))

	mutedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6b7280"))

	headerRowStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#9ca3af"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#ef4444"))

	spinnerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#f59e0b"))
)

// statusColors mirror the web dashboard's badge palette.
var statusColors = map[state.Status]lipgloss.Color{
	state.StatusUploading: lipgloss.Color("#3b82f6"),
	state.StatusQueued:    lipgloss.Color("#8b5cf6"),
	state.StatusPending:   lipgloss.Color("#f59e0b"),
	state.StatusCompleted: lipgloss.Color("#22c55e"),
	state.StatusFailed:    lipgloss.Color("#ef4444"),
}

func statusStyle(status state.Status) lipgloss.Style {
	col, ok := statusColors[status]
	if !ok {
		col = statusColors[state.StatusQueued]
	}
	return lipgloss.NewStyle().Foreground(col)
}
