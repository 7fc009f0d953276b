package ui

import "github.com/charmbracelet/bubbles/key"

// keyMap defines the [key.Binding] mapping for the TUI.
type keyMap struct {
	up       key.Binding
	down     key.Binding
	enter    key.Binding
	toggle   key.Binding
	back     key.Binding
	yes      key.Binding
	no       key.Binding
	open     key.Binding
	report   key.Binding
	next     key.Binding
	prev     key.Binding
	pageSize key.Binding
	restart  key.Binding
	quit     key.Binding
}

func newKeyMap() keyMap {
	return keyMap{
		up:       key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
		down:     key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
		enter:    key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "select")),
		toggle:   key.NewBinding(key.WithKeys(" ", "x"), key.WithHelp("space/x", "toggle")),
		back:     key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "back")),
		yes:      key.NewBinding(key.WithKeys("y"), key.WithHelp("y", "yes")),
		no:       key.NewBinding(key.WithKeys("n"), key.WithHelp("n", "no")),
		open:     key.NewBinding(key.WithKeys("o"), key.WithHelp("o", "open video")),
		report:   key.NewBinding(key.WithKeys("p"), key.WithHelp("p", "report")),
		next:     key.NewBinding(key.WithKeys("right", "l"), key.WithHelp("→/l", "next page")),
		prev:     key.NewBinding(key.WithKeys("left", "h"), key.WithHelp("←/h", "prev page")),
		pageSize: key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "page size")),
		restart:  key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "new file")),
		quit:     key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	}
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.up, k.down, k.enter, k.toggle},
		{k.back, k.yes, k.no},
		{k.open, k.report, k.next, k.prev, k.pageSize},
		{k.restart, k.quit},
	}
}
