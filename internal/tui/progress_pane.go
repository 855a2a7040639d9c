package tui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/taskflow/internal/events"
)

// ProgressPaneModel shows per-status counts, the current round and the final outcome.
type ProgressPaneModel struct {
	workflow  string
	round     int
	roundSize int
	total     int
	completed int
	running   int
	failed    int
	cancelled int
	pending   int
	finished  bool
	finishErr error
	duration  time.Duration
	width     int
	height    int
	focused   bool
}

// NewProgressPaneModel creates an empty progress pane.
func NewProgressPaneModel() ProgressPaneModel {
	return ProgressPaneModel{}
}

// Update handles workflow events.
func (m ProgressPaneModel) Update(msg tea.Msg) (ProgressPaneModel, tea.Cmd) {
	switch msg := msg.(type) {
	case events.RoundStartedEvent:
		m.workflow = msg.Workflow
		m.round = msg.Round
		m.roundSize = len(msg.Tasks)
		// dispatched tasks are running until the next progress event
		m.running += len(msg.Tasks)
		m.pending = max(m.pending-len(msg.Tasks), 0)

	case events.ProgressEvent:
		m.workflow = msg.Workflow
		m.total = msg.Total
		m.completed = msg.Completed
		m.running = msg.Running
		m.failed = msg.Failed
		m.cancelled = msg.Cancelled
		m.pending = msg.Pending

	case events.WorkflowFinishedEvent:
		m.workflow = msg.Workflow
		m.finished = true
		m.finishErr = msg.Err
		m.duration = msg.Duration
	}
	return m, nil
}

// View renders the progress pane.
func (m ProgressPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	var b strings.Builder

	title := StyleTitle.Render("Progress")
	if m.workflow != "" {
		title = StyleTitle.Render("Progress: " + m.workflow)
	}
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", lipgloss.Width(title)))
	b.WriteString("\n\n")

	fmt.Fprintf(&b, "Round:     %d (%d tasks)\n", m.round, m.roundSize)
	fmt.Fprintf(&b, "Total:     %d\n", m.total)
	fmt.Fprintf(&b, "Completed: %s\n", StyleStatusComplete.Render(fmt.Sprint(m.completed)))
	fmt.Fprintf(&b, "Running:   %s\n", StyleStatusRunning.Render(fmt.Sprint(m.running)))
	fmt.Fprintf(&b, "Failed:    %s\n", StyleStatusFailed.Render(fmt.Sprint(m.failed)))
	fmt.Fprintf(&b, "Cancelled: %s\n", StyleStatusPending.Render(fmt.Sprint(m.cancelled)))
	fmt.Fprintf(&b, "Pending:   %s\n", StyleStatusPending.Render(fmt.Sprint(m.pending)))
	b.WriteString("\n")

	if m.total > 0 {
		b.WriteString(m.bar(min(m.width-4, 40)))
		b.WriteString("\n")
	}

	if m.finished {
		b.WriteString("\n")
		if m.finishErr != nil {
			b.WriteString(StyleStatusFailed.Render(fmt.Sprintf("Stopped after %v: %v", m.duration.Round(time.Millisecond), m.finishErr)))
		} else {
			b.WriteString(StyleStatusComplete.Render(fmt.Sprintf("Finished in %v", m.duration.Round(time.Millisecond))))
		}
		b.WriteString("\n")
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

// bar draws a width-character progress bar followed by done/total.
func (m ProgressPaneModel) bar(width int) string {
	completedWidth := (m.completed * width) / m.total
	failedWidth := ((m.failed + m.cancelled) * width) / m.total
	runningWidth := (m.running * width) / m.total
	pendingWidth := max(width-completedWidth-failedWidth-runningWidth, 0)

	bar := StyleStatusComplete.Render(strings.Repeat("=", completedWidth))
	bar += StyleStatusFailed.Render(strings.Repeat("!", failedWidth))
	bar += StyleStatusRunning.Render(strings.Repeat("-", runningWidth))
	bar += StyleStatusPending.Render(strings.Repeat(".", pendingWidth))

	done := m.completed + m.failed + m.cancelled
	return fmt.Sprintf("[%s]  %d/%d", bar, done, m.total)
}

// Finished reports whether the run has ended.
func (m ProgressPaneModel) Finished() bool { return m.finished }

// SetSize updates the pane dimensions.
func (m *ProgressPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
}

// SetFocused updates the focus state.
func (m *ProgressPaneModel) SetFocused(focused bool) {
	m.focused = focused
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
