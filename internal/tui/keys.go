package tui

import (
	"strings"

	"github.com/charmbracelet/bubbles/key"
)

type keyMap struct {
	Quit     key.Binding
	Next     key.Binding
	Prev     key.Binding
	Tasks    key.Binding
	Progress key.Binding
	Down     key.Binding
	Up       key.Binding
}

var keys = keyMap{
	Quit:     key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	Next:     key.NewBinding(key.WithKeys("tab"), key.WithHelp("tab", "cycle focus")),
	Prev:     key.NewBinding(key.WithKeys("shift+tab")),
	Tasks:    key.NewBinding(key.WithKeys("1"), key.WithHelp("1/2", "jump to pane")),
	Progress: key.NewBinding(key.WithKeys("2")),
	Down:     key.NewBinding(key.WithKeys("j", "down"), key.WithHelp("j/k", "select task")),
	Up:       key.NewBinding(key.WithKeys("k", "up")),
}

// HelpView renders the help bar. Once the run has finished only selection
// and exit remain useful.
func HelpView(finished bool) string {
	bindings := []key.Binding{keys.Next, keys.Tasks, keys.Down, keys.Quit}
	prefix := ""
	if finished {
		bindings = []key.Binding{keys.Down, keys.Quit}
		prefix = "Run finished | "
	}

	parts := make([]string, 0, len(bindings))
	for _, b := range bindings {
		h := b.Help()
		parts = append(parts, h.Key+": "+h.Desc)
	}
	return StyleHelp.Render(prefix + strings.Join(parts, " | "))
}
