package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/taskflow/internal/events"
)

const (
	listWidth       = 25
	maxOutputLength = 2000
)

// TaskState is what the task pane knows about one task.
type TaskState struct {
	Name      string
	Action    string
	Round     int
	Status    string // "running", "retrying", "completed", "failed"
	Attempts  int
	Log       []string
	StartTime time.Time
	Duration  time.Duration
}

// TaskPaneModel lists the run's tasks and shows the selected task's log.
type TaskPaneModel struct {
	tasks       map[string]*TaskState
	order       []string // dispatch order
	selectedIdx int
	viewport    viewport.Model
	width       int
	height      int
	focused     bool
}

// NewTaskPaneModel creates an empty task pane.
func NewTaskPaneModel() TaskPaneModel {
	return TaskPaneModel{
		tasks:    make(map[string]*TaskState),
		viewport: viewport.New(0, 0),
	}
}

// Update handles key and task event messages.
func (m TaskPaneModel) Update(msg tea.Msg) (TaskPaneModel, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if !m.focused {
			break
		}
		switch {
		case key.Matches(msg, keys.Down):
			if m.selectedIdx < len(m.order)-1 {
				m.selectedIdx++
				m.refresh()
			}
		case key.Matches(msg, keys.Up):
			if m.selectedIdx > 0 {
				m.selectedIdx--
				m.refresh()
			}
		default:
			m.viewport, cmd = m.viewport.Update(msg)
		}

	case events.TaskStartedEvent:
		if _, exists := m.tasks[msg.Name]; exists {
			break
		}
		m.tasks[msg.Name] = &TaskState{
			Name:      msg.Name,
			Action:    msg.Action,
			Round:     msg.Round,
			Status:    "running",
			Log:       []string{fmt.Sprintf("[round %d] %s", msg.Round, msg.Action)},
			StartTime: msg.Timestamp,
		}
		m.order = append(m.order, msg.Name)
		if len(m.order) == 1 {
			m.selectedIdx = 0
		}
		m.refreshIfSelected(msg.Name)

	case events.TaskRetryingEvent:
		if task, exists := m.tasks[msg.Name]; exists {
			task.Status = "retrying"
			task.Log = append(task.Log, fmt.Sprintf("attempt %d failed: %v (retrying in %v)", msg.Attempt, msg.Err, msg.Backoff))
			m.refreshIfSelected(msg.Name)
		}

	case events.TaskCompletedEvent:
		if task, exists := m.tasks[msg.Name]; exists {
			task.Status = "completed"
			task.Duration = msg.Duration
			task.Attempts = msg.Attempts
			if msg.Output != nil {
				task.Log = append(task.Log, formatOutput(msg.Output))
			}
			task.Log = append(task.Log, fmt.Sprintf("\n[Completed in %v after %d attempt(s)]", msg.Duration, msg.Attempts))
			m.refreshIfSelected(msg.Name)
		}

	case events.TaskFailedEvent:
		if task, exists := m.tasks[msg.Name]; exists {
			task.Status = "failed"
			task.Duration = msg.Duration
			task.Attempts = msg.Attempts
			task.Log = append(task.Log, fmt.Sprintf("\n[Failed: %v]", msg.Err))
			m.refreshIfSelected(msg.Name)
		}
	}

	return m, cmd
}

// formatOutput renders an action result, clipped for the viewport.
func formatOutput(v any) string {
	var s string
	if m, ok := v.(map[string]any); ok {
		var b strings.Builder
		for _, k := range sortedKeys(m) {
			fmt.Fprintf(&b, "%s: %v\n", k, m[k])
		}
		s = strings.TrimRight(b.String(), "\n")
	} else {
		s = fmt.Sprint(v)
	}
	if len(s) > maxOutputLength {
		s = s[:maxOutputLength] + "..."
	}
	return s
}

// View renders the task pane.
func (m TaskPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	content := lipgloss.JoinHorizontal(
		lipgloss.Top,
		m.renderList(),
		lipgloss.NewStyle().
			Width(m.width-listWidth-4).
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

func (m TaskPaneModel) renderList() string {
	var b strings.Builder

	title := StyleTitle.Render("Tasks")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", min(listWidth, lipgloss.Width(title))))
	b.WriteString("\n\n")

	if len(m.order) == 0 {
		b.WriteString(StyleStatusPending.Render("Waiting..."))
	}
	for i, name := range m.order {
		label := name
		if len(label) > listWidth-6 {
			label = label[:listWidth-9] + "..."
		}
		line := fmt.Sprintf("%s %s", StatusIcon(m.tasks[name].Status), label)
		if i == m.selectedIdx {
			line = StyleSelected.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	return lipgloss.NewStyle().
		Width(listWidth).
		Height(m.height - 2).
		Render(b.String())
}

// StatusIcon returns a styled status indicator. Unknown statuses render as pending.
func StatusIcon(status string) string {
	icon, ok := statusIcons[status]
	if !ok {
		return StyleStatusPending.Render("○")
	}
	return statusStyles[status].Render(icon)
}

// Selected returns the selected task, if any.
func (m TaskPaneModel) Selected() (*TaskState, bool) {
	if m.selectedIdx < 0 || m.selectedIdx >= len(m.order) {
		return nil, false
	}
	return m.tasks[m.order[m.selectedIdx]], true
}

func (m *TaskPaneModel) refreshIfSelected(name string) {
	if task, ok := m.Selected(); ok && task.Name == name {
		m.refresh()
	}
}

// refresh shows the selected task's log, scrolled to the end.
func (m *TaskPaneModel) refresh() {
	task, ok := m.Selected()
	if !ok {
		m.viewport.SetContent("Waiting for tasks...")
		return
	}
	m.viewport.SetContent(strings.Join(task.Log, "\n"))
	m.viewport.GotoBottom()
}

// SetSize updates the pane dimensions.
func (m *TaskPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	m.viewport.Width = max(m.width-listWidth-4, 10)
	m.viewport.Height = max(m.height-4, 5)
}

// SetFocused updates the focus state.
func (m *TaskPaneModel) SetFocused(focused bool) {
	m.focused = focused
}
