// Package tui renders a live view of one workflow run from engine events.
package tui

import (
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/taskflow/internal/events"
)

// PaneID identifies which pane is focused.
type PaneID int

const (
	PaneTasks PaneID = iota
	PaneProgress
	paneCount
)

// busClosedMsg is delivered once the event subscription is closed.
type busClosedMsg struct{}

// Model is the root Bubble Tea model for the TUI.
type Model struct {
	taskPane     TaskPaneModel
	progressPane ProgressPaneModel
	focusedPane  PaneID
	eventSub     <-chan events.Event
	width        int
	height       int
	quitting     bool
}

// New creates a new TUI model subscribed to every event on bus.
func New(bus *events.EventBus) Model {
	return NewWithSubscription(bus.SubscribeAll(256))
}

// NewWithSubscription creates a model reading from an existing subscription.
func NewWithSubscription(sub <-chan events.Event) Model {
	m := Model{
		taskPane:     NewTaskPaneModel(),
		progressPane: NewProgressPaneModel(),
		eventSub:     sub,
	}
	m.focus(PaneTasks)
	return m
}

// Init starts listening for events.
func (m Model) Init() tea.Cmd {
	return waitForEvent(m.eventSub)
}

// waitForEvent returns a command that waits for the next event from the event bus.
func waitForEvent(sub <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		event, ok := <-sub
		if !ok {
			return busClosedMsg{}
		}
		return event
	}
}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			m.quitting = true
			return m, tea.Quit

		case key.Matches(msg, keys.Next):
			m.focus((m.focusedPane + 1) % paneCount)

		case key.Matches(msg, keys.Prev):
			m.focus((m.focusedPane + paneCount - 1) % paneCount)

		case key.Matches(msg, keys.Tasks):
			m.focus(PaneTasks)

		case key.Matches(msg, keys.Progress):
			m.focus(PaneProgress)

		default:
			if m.focusedPane == PaneTasks {
				var cmd tea.Cmd
				m.taskPane, cmd = m.taskPane.Update(msg)
				cmds = append(cmds, cmd)
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.computeLayout()

	case events.TaskStartedEvent, events.TaskRetryingEvent, events.TaskCompletedEvent, events.TaskFailedEvent:
		var cmd tea.Cmd
		m.taskPane, cmd = m.taskPane.Update(msg)
		cmds = append(cmds, cmd, waitForEvent(m.eventSub))

	case events.RoundStartedEvent, events.ProgressEvent, events.WorkflowFinishedEvent:
		var cmd tea.Cmd
		m.progressPane, cmd = m.progressPane.Update(msg)
		cmds = append(cmds, cmd, waitForEvent(m.eventSub))

	case busClosedMsg:
		// nothing more will arrive; keep the final state on screen until quit

	case events.Event:
		cmds = append(cmds, waitForEvent(m.eventSub))
	}

	return m, tea.Batch(cmds...)
}

// View renders the TUI.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	main := lipgloss.JoinHorizontal(lipgloss.Top, m.taskPane.View(), m.progressPane.View())
	return lipgloss.JoinVertical(lipgloss.Left, main, HelpView(m.progressPane.Finished()))
}

// computeLayout splits the screen 65/35 between tasks and progress.
func (m *Model) computeLayout() {
	taskWidth := (m.width * 65) / 100
	availableHeight := m.height - 1 // help bar

	m.taskPane.SetSize(taskWidth, availableHeight)
	m.progressPane.SetSize(m.width-taskWidth, availableHeight)
	m.focus(m.focusedPane)
}

func (m *Model) focus(pane PaneID) {
	m.focusedPane = pane
	m.taskPane.SetFocused(pane == PaneTasks)
	m.progressPane.SetFocused(pane == PaneProgress)
}
