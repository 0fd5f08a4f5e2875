// Package tui renders a read-only board of the registry: counts per state
// and a task list whose selected entry shows its timeline.
package tui

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/taskregistry/internal/events"
	"github.com/aristath/taskregistry/internal/registry"
	"github.com/aristath/taskregistry/internal/task"
	"github.com/aristath/taskregistry/internal/workspace"
)

// Source is the read side of the registry the board polls.
type Source interface {
	ListTasks(ctx context.Context, filter task.Filter) ([]*task.Task, error)
	GetStatistics(ctx context.Context) (registry.Statistics, error)
}

// TimelineSource replays a task's workspace timeline.
type TimelineSource interface {
	Timeline(taskID string) ([]workspace.TimelineEntry, error)
}

// PaneID identifies which pane is focused.
type PaneID int

const (
	PaneTasks PaneID = iota
	PaneStats
)

// snapshotMsg carries one poll of the registry.
type snapshotMsg struct {
	tasks []*task.Task
	stats registry.Statistics
	err   error
}

type timelineMsg struct {
	taskID  string
	entries []workspace.TimelineEntry
	err     error
}

type tickMsg struct{}

// Model is the root Bubble Tea model for the board.
type Model struct {
	ctx          context.Context
	source       Source
	timelines    TimelineSource
	filter       task.Filter
	pollInterval time.Duration
	taskPane     TaskPaneModel
	statsPane    StatsPaneModel
	focusedPane  PaneID
	eventSub     <-chan events.Event
	err          error
	width        int
	height       int
	quitting     bool
}

// Option configures a Model.
type Option func(*Model)

// WithEventBus refreshes the board whenever bus publishes an event, in
// addition to polling.
func WithEventBus(bus *events.EventBus) Option {
	return func(m *Model) {
		if bus != nil {
			m.eventSub = bus.SubscribeAll(256)
		}
	}
}

// WithFilter restricts the task list.
func WithFilter(filter task.Filter) Option {
	return func(m *Model) {
		m.filter = filter
	}
}

// WithPollInterval sets how often the store is polled (default 2s).
func WithPollInterval(d time.Duration) Option {
	return func(m *Model) {
		if d > 0 {
			m.pollInterval = d
		}
	}
}

// New creates a new board model.
func New(ctx context.Context, source Source, timelines TimelineSource, opts ...Option) Model {
	m := Model{
		ctx:          ctx,
		source:       source,
		timelines:    timelines,
		pollInterval: 2 * time.Second,
		taskPane:     NewTaskPaneModel(),
		statsPane:    NewStatsPaneModel(),
		focusedPane:  PaneTasks,
	}
	for _, opt := range opts {
		opt(&m)
	}
	m.updateFocusStates()
	return m
}

// Init initializes the model and returns the initial command.
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{m.refresh(), m.tick()}
	if m.eventSub != nil {
		cmds = append(cmds, waitForEvent(m.eventSub))
	}
	return tea.Batch(cmds...)
}

// waitForEvent returns a command that waits for the next event from the event bus.
func waitForEvent(sub <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		event, ok := <-sub
		if !ok {
			return nil // bus closed
		}
		return event
	}
}

func (m Model) refresh() tea.Cmd {
	return func() tea.Msg {
		tasks, err := m.source.ListTasks(m.ctx, m.filter)
		if err != nil {
			return snapshotMsg{err: err}
		}
		stats, err := m.source.GetStatistics(m.ctx)
		return snapshotMsg{tasks: tasks, stats: stats, err: err}
	}
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.pollInterval, func(time.Time) tea.Msg {
		return tickMsg{}
	})
}

func (m Model) loadTimeline(taskID string) tea.Cmd {
	if taskID == "" || m.timelines == nil {
		return nil
	}
	return func() tea.Msg {
		entries, err := m.timelines.Timeline(taskID)
		return timelineMsg{taskID: taskID, entries: entries, err: err}
	}
}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case KeyQuit, KeyCtrlC:
			m.quitting = true
			return m, tea.Quit

		case KeyTab, KeyShiftTab:
			m.focusedPane = (m.focusedPane + 1) % 2
			m.updateFocusStates()

		case KeyPane1:
			m.focusedPane = PaneTasks
			m.updateFocusStates()

		case KeyPane2:
			m.focusedPane = PaneStats
			m.updateFocusStates()

		case KeyRefresh:
			cmds = append(cmds, m.refresh())

		default:
			if m.focusedPane != PaneTasks {
				break
			}
			before := m.taskPane.SelectedID()
			var cmd tea.Cmd
			switch msg.String() {
			case KeyJ, KeyDown, KeyK, KeyUp:
				m.taskPane, cmd = m.taskPane.Update(msg)
			default:
				m.taskPane, cmd = m.taskPane.ScrollViewport(msg)
			}
			cmds = append(cmds, cmd)
			if after := m.taskPane.SelectedID(); after != before {
				cmds = append(cmds, m.loadTimeline(after))
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.computeLayout()

	case snapshotMsg:
		m.err = msg.err
		var cmd tea.Cmd
		m.taskPane, cmd = m.taskPane.Update(msg)
		cmds = append(cmds, cmd)
		m.statsPane, cmd = m.statsPane.Update(msg)
		cmds = append(cmds, cmd)
		if msg.err == nil {
			cmds = append(cmds, m.loadTimeline(m.taskPane.SelectedID()))
		}

	case timelineMsg:
		var cmd tea.Cmd
		m.taskPane, cmd = m.taskPane.Update(msg)
		cmds = append(cmds, cmd)

	case tickMsg:
		cmds = append(cmds, m.refresh(), m.tick())

	case events.RegistryProgressEvent:
		var cmd tea.Cmd
		m.statsPane, cmd = m.statsPane.Update(msg)
		cmds = append(cmds, cmd, waitForEvent(m.eventSub))

	case events.Event:
		// Any other change: reload the list
		cmds = append(cmds, m.refresh(), waitForEvent(m.eventSub))
	}

	return m, tea.Batch(cmds...)
}

// View renders the board.
func (m Model) View() string {
	if m.quitting {
		return "Goodbye!\n"
	}

	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	mainContent := lipgloss.JoinHorizontal(lipgloss.Top, m.taskPane.View(), m.statsPane.View())

	footer := HelpView()
	if m.err != nil {
		footer = StyleError.Render("refresh failed: "+m.err.Error()) + "  " + footer
	}

	return lipgloss.JoinVertical(lipgloss.Left, mainContent, footer)
}

// computeLayout calculates pane dimensions and updates all child models.
func (m *Model) computeLayout() {
	rightWidth := (m.width * 30) / 100
	leftWidth := m.width - rightWidth
	availableHeight := m.height - 1 // help bar

	m.taskPane.SetSize(leftWidth, availableHeight)
	m.statsPane.SetSize(rightWidth, availableHeight)

	m.updateFocusStates()
}

// updateFocusStates updates the focus state of all panes.
func (m *Model) updateFocusStates() {
	m.taskPane.SetFocused(m.focusedPane == PaneTasks)
	m.statsPane.SetFocused(m.focusedPane == PaneStats)
}
