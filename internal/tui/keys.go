package tui

import (
	"github.com/charmbracelet/bubbles/key"

	"cocoview/internal/view"
)

// KeyMap defines the dashboard key bindings.
type KeyMap struct {
	Views [5]key.Binding // one per tab, in view.All() order
	Next  key.Binding
	Prev  key.Binding

	Up       key.Binding
	Down     key.Binding
	PageUp   key.Binding
	PageDown key.Binding
	Bottom   key.Binding

	Reset key.Binding
	Quit  key.Binding
}

var DefaultKeyMap = KeyMap{
	Views: [5]key.Binding{
		key.NewBinding(key.WithKeys("1"), key.WithHelp("1", view.Activities.Title())),
		key.NewBinding(key.WithKeys("2"), key.WithHelp("2", view.Tasks.Title())),
		key.NewBinding(key.WithKeys("3"), key.WithHelp("3", view.Statistics.Title())),
		key.NewBinding(key.WithKeys("4"), key.WithHelp("4", view.Graphs.Title())),
		key.NewBinding(key.WithKeys("5"), key.WithHelp("5", view.Console.Title())),
	},
	Next: key.NewBinding(
		key.WithKeys("tab", "right", "l"),
		key.WithHelp("tab/→", "next view"),
	),
	Prev: key.NewBinding(
		key.WithKeys("shift+tab", "left", "h"),
		key.WithHelp("S-tab/←", "prev view"),
	),
	Up:       key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("k/↑", "up")),
	Down:     key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("j/↓", "down")),
	PageUp:   key.NewBinding(key.WithKeys("pgup", "ctrl+u"), key.WithHelp("C-u", "page up")),
	PageDown: key.NewBinding(key.WithKeys("pgdown", "ctrl+d"), key.WithHelp("C-d", "page down")),
	Bottom:   key.NewBinding(key.WithKeys("G", "end"), key.WithHelp("G", "follow")),
	Reset: key.NewBinding(
		key.WithKeys("r"),
		key.WithHelp("r", "reset stats"),
	),
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
}

// ShortHelp implements help.KeyMap.
func (k KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Next, k.Prev, k.Reset, k.Quit}
}

// FullHelp implements help.KeyMap.
func (k KeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		k.Views[:],
		{k.Next, k.Prev},
		{k.Up, k.Down, k.PageUp, k.PageDown, k.Bottom},
		{k.Reset, k.Quit},
	}
}
