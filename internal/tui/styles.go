package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/taskregistry/internal/task"
)

// Border styles
var (
	StyleFocusedBorder = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("62"))

	StyleUnfocusedBorder = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("240"))
)

// State styles
var (
	StyleStateBacklog = lipgloss.NewStyle().
				Foreground(lipgloss.Color("240"))

	StyleStateAssigned = lipgloss.NewStyle().
				Foreground(lipgloss.Color("cyan"))

	StyleStateActive = lipgloss.NewStyle().
				Foreground(lipgloss.Color("yellow")).
				Bold(true)

	StyleStateDone = lipgloss.NewStyle().
			Foreground(lipgloss.Color("green")).
			Bold(true)

	StyleStateFailed = lipgloss.NewStyle().
				Foreground(lipgloss.Color("red")).
				Bold(true)
)

// UI element styles
var (
	StyleTitle = lipgloss.NewStyle().
			Bold(true).
			Padding(0, 1)

	StyleHelp = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	StyleSelected = lipgloss.NewStyle().
			Background(lipgloss.Color("62")).
			Foreground(lipgloss.Color("0"))

	StyleError = lipgloss.NewStyle().
			Foreground(lipgloss.Color("red"))
)

// StateStyle returns the style used to render state.
func StateStyle(state task.State) lipgloss.Style {
	switch state {
	case task.StateAssigned:
		return StyleStateAssigned
	case task.StateActive:
		return StyleStateActive
	case task.StateDone:
		return StyleStateDone
	case task.StateFailed:
		return StyleStateFailed
	default:
		return StyleStateBacklog
	}
}

// StateIcon returns a styled one-character state indicator.
func StateIcon(state task.State) string {
	switch state {
	case task.StateAssigned:
		return StyleStateAssigned.Render("◐")
	case task.StateActive:
		return StyleStateActive.Render("●")
	case task.StateDone:
		return StyleStateDone.Render("✓")
	case task.StateFailed:
		return StyleStateFailed.Render("✗")
	default:
		return StyleStateBacklog.Render("○")
	}
}
