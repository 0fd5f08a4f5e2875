package tui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/taskregistry/internal/task"
	"github.com/aristath/taskregistry/internal/workspace"
)

const listWidth = 28

// TaskPaneModel is the task list with a scrollable detail viewport showing
// the selected task and its timeline.
type TaskPaneModel struct {
	tasks       []*task.Task
	selectedIdx int
	timelines   map[string][]workspace.TimelineEntry
	timelineErr map[string]error
	viewport    viewport.Model
	width       int
	height      int
	focused     bool
}

// NewTaskPaneModel creates a new task pane model.
func NewTaskPaneModel() TaskPaneModel {
	return TaskPaneModel{
		timelines:   make(map[string][]workspace.TimelineEntry),
		timelineErr: make(map[string]error),
		viewport:    viewport.New(0, 0),
	}
}

// Update handles messages for the task pane.
func (m TaskPaneModel) Update(msg tea.Msg) (TaskPaneModel, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resizeViewport()

	case tea.KeyMsg:
		if !m.focused {
			break
		}

		switch msg.String() {
		case KeyJ, KeyDown:
			if m.selectedIdx < len(m.tasks)-1 {
				m.selectedIdx++
				m.updateViewportContent()
			}
		case KeyK, KeyUp:
			if m.selectedIdx > 0 {
				m.selectedIdx--
				m.updateViewportContent()
			}
		}

	case snapshotMsg:
		if msg.err != nil {
			break
		}
		selected := m.SelectedID()
		m.tasks = msg.tasks
		m.selectedIdx = 0
		for i, t := range m.tasks {
			if t.ID == selected {
				m.selectedIdx = i
				break
			}
		}
		m.updateViewportContent()

	case timelineMsg:
		if msg.err != nil {
			m.timelineErr[msg.taskID] = msg.err
			delete(m.timelines, msg.taskID)
		} else {
			m.timelines[msg.taskID] = msg.entries
			delete(m.timelineErr, msg.taskID)
		}
		if msg.taskID == m.SelectedID() {
			m.updateViewportContent()
		}
	}

	return m, cmd
}

// ScrollViewport forwards a key to the detail viewport.
func (m TaskPaneModel) ScrollViewport(msg tea.KeyMsg) (TaskPaneModel, tea.Cmd) {
	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

// View renders the task pane.
func (m TaskPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	viewportWidth := m.width - listWidth - 4

	content := lipgloss.JoinHorizontal(
		lipgloss.Top,
		m.renderList(listWidth),
		lipgloss.NewStyle().
			Width(viewportWidth).
			Height(m.height-2).
			Render(m.viewport.View()),
	)

	style := StyleUnfocusedBorder
	if m.focused {
		style = StyleFocusedBorder
	}

	return style.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(content)
}

func (m TaskPaneModel) renderList(width int) string {
	var b strings.Builder

	title := StyleTitle.Render("Tasks")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", min(width, lipgloss.Width(title))))
	b.WriteString("\n\n")

	if len(m.tasks) == 0 {
		b.WriteString(StyleStateBacklog.Render("No tasks"))
	}
	for i, t := range m.tasks {
		name := t.ID
		if len(name) > width-4 {
			name = name[:width-7] + "..."
		}
		line := fmt.Sprintf("%s %s", StateIcon(t.State), name)
		if i == m.selectedIdx {
			line = StyleSelected.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	return lipgloss.NewStyle().
		Width(width).
		Height(m.height - 2).
		Render(b.String())
}

// SelectedID returns the id of the selected task, or "".
func (m TaskPaneModel) SelectedID() string {
	if m.selectedIdx >= 0 && m.selectedIdx < len(m.tasks) {
		return m.tasks[m.selectedIdx].ID
	}
	return ""
}

func (m TaskPaneModel) selected() *task.Task {
	if m.selectedIdx >= 0 && m.selectedIdx < len(m.tasks) {
		return m.tasks[m.selectedIdx]
	}
	return nil
}

func (m *TaskPaneModel) updateViewportContent() {
	t := m.selected()
	if t == nil {
		m.viewport.SetContent("No task selected")
		return
	}
	m.viewport.SetContent(renderDetail(t, m.timelines[t.ID], m.timelineErr[t.ID]))
	m.viewport.GotoTop()
}

// renderDetail formats a task and its timeline for the viewport.
func renderDetail(t *task.Task, timeline []workspace.TimelineEntry, timelineErr error) string {
	var b strings.Builder

	b.WriteString(StyleTitle.Render(t.ID + ": " + t.Title))
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "State:      %s\n", StateStyle(t.State).Render(t.State.String()))
	fmt.Fprintf(&b, "Priority:   %s\n", t.Priority)
	if t.Objective != "" {
		fmt.Fprintf(&b, "Objective:  %s\n", t.Objective)
	}
	if t.Phase != "" {
		fmt.Fprintf(&b, "Phase:      %s\n", t.Phase)
	}
	if t.Assignee != nil {
		fmt.Fprintf(&b, "Assignee:   %s\n", *t.Assignee)
	}
	if len(t.Dependencies) > 0 {
		fmt.Fprintf(&b, "Depends on: %s\n", strings.Join(t.Dependencies, ", "))
	}
	if len(t.Blocks) > 0 {
		fmt.Fprintf(&b, "Blocks:     %s\n", strings.Join(t.Blocks, ", "))
	}
	if len(t.Tags) > 0 {
		fmt.Fprintf(&b, "Tags:       %s\n", strings.Join(t.Tags, ", "))
	}
	if t.Description != "" {
		b.WriteString("\n")
		b.WriteString(t.Description)
		b.WriteString("\n")
	}

	b.WriteString("\nTimeline\n--------\n")
	switch {
	case timelineErr != nil:
		b.WriteString(StyleError.Render(timelineErr.Error()))
		b.WriteString("\n")
	case len(timeline) == 0:
		b.WriteString(StyleStateBacklog.Render("(no workspace yet)"))
		b.WriteString("\n")
	}
	for _, entry := range timeline {
		fmt.Fprintf(&b, "%s  %-10s %s\n", entry.Timestamp.Local().Format(time.DateTime), entry.EventType, formatData(entry.Data))
	}
	return b.String()
}

func formatData(data map[string]any) string {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, data[k]))
	}
	return strings.Join(parts, " ")
}

func (m *TaskPaneModel) resizeViewport() {
	viewportWidth := m.width - listWidth - 4
	viewportHeight := m.height - 4

	if viewportWidth < 10 {
		viewportWidth = 10
	}
	if viewportHeight < 5 {
		viewportHeight = 5
	}

	m.viewport.Width = viewportWidth
	m.viewport.Height = viewportHeight
}

// SetSize updates the pane dimensions.
func (m *TaskPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	m.resizeViewport()
}

// SetFocused updates the focus state.
func (m *TaskPaneModel) SetFocused(focused bool) {
	m.focused = focused
}
