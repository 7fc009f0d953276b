package ui

import (
	"github.com/charmbracelet/bubbles/list"
)

var (
	_ list.Item = moduleItem{}
	_ list.Item = classItem{}
)

// moduleItem wraps a processing module name to implement [list.Item]. The zero value means "no module".
type moduleItem struct {
	name string
}

func (i moduleItem) FilterValue() string { return i.name }
func (i moduleItem) Title() string {
	if i.name == "" {
		return "(none)"
	}
	return i.name
}
func (i moduleItem) Description() string {
	if i.name == "" {
		return "run the default pipeline without class filtering"
	}
	return "select classes to detect"
}

// classItem wraps a detectable class to implement [list.Item].
type classItem struct {
	name     string
	selected bool
}

func (i classItem) FilterValue() string { return i.name }
func (i classItem) Title() string {
	if i.selected {
		return "[x] " + i.name
	}
	return "[ ] " + i.name
}
func (i classItem) Description() string { return "" }
