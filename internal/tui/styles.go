package tui

import (
	"github.com/charmbracelet/lipgloss"
)

var (
	colorAccent = lipgloss.Color("62")
	colorMuted  = lipgloss.Color("240")
)

var (
	StyleFocusedBorder   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(colorAccent)
	StyleUnfocusedBorder = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(colorMuted)
)

// Task status styles, keyed like TaskState.Status.
var (
	StyleStatusRunning  = statusStyle("yellow")
	StyleStatusComplete = statusStyle("green")
	StyleStatusFailed   = statusStyle("red")
	StyleStatusPending  = lipgloss.NewStyle().Foreground(colorMuted)

	statusStyles = map[string]lipgloss.Style{
		"running":   StyleStatusRunning,
		"retrying":  StyleStatusRunning,
		"completed": StyleStatusComplete,
		"failed":    StyleStatusFailed,
	}
	statusIcons = map[string]string{
		"running":   "●",
		"retrying":  "↻",
		"completed": "✓",
		"failed":    "✗",
	}
)

var (
	StyleTitle    = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	StyleHelp     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	StyleSelected = lipgloss.NewStyle().Background(colorAccent).Foreground(lipgloss.Color("0"))
)

func statusStyle(color string) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(lipgloss.Color(color)).Bold(true)
}
