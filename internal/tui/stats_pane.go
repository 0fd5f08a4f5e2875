package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/taskregistry/internal/events"
	"github.com/aristath/taskregistry/internal/registry"
	"github.com/aristath/taskregistry/internal/task"
)

// StatsPaneModel shows task counts per state and overall progress.
type StatsPaneModel struct {
	total   int
	byState map[task.State]int
	width   int
	height  int
	focused bool
}

// NewStatsPaneModel creates a new stats pane model.
func NewStatsPaneModel() StatsPaneModel {
	return StatsPaneModel{byState: make(map[task.State]int)}
}

// Update handles messages for the stats pane.
func (m StatsPaneModel) Update(msg tea.Msg) (StatsPaneModel, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case snapshotMsg:
		if msg.err == nil {
			m.set(msg.stats.Total, msg.stats.ByState)
		}

	case events.RegistryProgressEvent:
		m.set(msg.Total, msg.ByState)
	}

	return m, nil
}

func (m *StatsPaneModel) set(total int, byState map[task.State]int) {
	m.total = total
	m.byState = make(map[task.State]int, len(byState))
	for state, n := range byState {
		m.byState[state] = n
	}
}

// Stats returns the counts currently displayed.
func (m StatsPaneModel) Stats() registry.Statistics {
	return registry.Statistics{Total: m.total, ByState: m.byState}
}

// View renders the stats pane.
func (m StatsPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	var b strings.Builder

	title := StyleTitle.Render("Progress")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", lipgloss.Width(title)))
	b.WriteString("\n\n")

	b.WriteString(fmt.Sprintf("%-9s %d\n", "TOTAL", m.total))
	for _, state := range task.States {
		b.WriteString(fmt.Sprintf("%-9s %s\n", state, StateStyle(state).Render(fmt.Sprintf("%d", m.byState[state]))))
	}
	b.WriteString("\n")

	if m.total > 0 {
		barWidth := min(m.width-12, 40)
		var bar string
		used := 0
		for _, state := range []task.State{task.StateDone, task.StateFailed, task.StateActive, task.StateAssigned} {
			w := (m.byState[state] * barWidth) / m.total
			bar += StateStyle(state).Render(strings.Repeat(barGlyph(state), max(0, w)))
			used += w
		}
		bar += StyleStateBacklog.Render(strings.Repeat(".", max(0, barWidth-used)))

		b.WriteString(fmt.Sprintf("[%s]  %d/%d\n", bar, m.byState[task.StateDone], m.total))
	}

	style := StyleUnfocusedBorder
	if m.focused {
		style = StyleFocusedBorder
	}

	return style.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(b.String())
}

func barGlyph(state task.State) string {
	switch state {
	case task.StateDone:
		return "="
	case task.StateFailed:
		return "!"
	default:
		return "-"
	}
}

// SetSize updates the pane dimensions.
func (m *StatsPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
}

// SetFocused updates the focus state.
func (m *StatsPaneModel) SetFocused(focused bool) {
	m.focused = focused
}
