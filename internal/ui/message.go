package ui

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/detectx/internal/formatter"
	"github.com/desertthunder/detectx/internal/models"
)

// MsgKind enumerates all message types in the application.
type MsgKind int

// Msg represents all possible messages in the TUI (Elm-style message union).
type Msg struct {
	kind MsgKind
	data any
}

var (
	_ tea.Msg = Msg{}
)

const (
	MsgModulesFetched MsgKind = iota
	MsgClassesFetched
	MsgStateChanged
	MsgPipelineDone
	MsgReportLoaded
	MsgOpened
)

type fetched struct {
	names []string
	err   error
}

type reportLoaded struct {
	report *formatter.Report
	err    error
}

// modulesFetchedMsg is the constructor for [MsgModulesFetched]
func modulesFetchedMsg(modules []string, err error) Msg {
	return Msg{kind: MsgModulesFetched, data: fetched{modules, err}}
}

// classesFetchedMsg is the constructor for [MsgClassesFetched]
func classesFetchedMsg(classes []string, err error) Msg {
	return Msg{kind: MsgClassesFetched, data: fetched{classes, err}}
}

// stateChangedMsg is the constructor for [MsgStateChanged]
func stateChangedMsg(state models.SessionState) Msg {
	return Msg{kind: MsgStateChanged, data: state}
}

// pipelineDoneMsg is the constructor for [MsgPipelineDone]. err is nil once the task is running.
func pipelineDoneMsg(err error) Msg {
	return Msg{kind: MsgPipelineDone, data: err}
}

// reportLoadedMsg is the constructor for [MsgReportLoaded]
func reportLoadedMsg(report *formatter.Report, err error) Msg {
	return Msg{kind: MsgReportLoaded, data: reportLoaded{report, err}}
}

// openedMsg is the constructor for [MsgOpened]
func openedMsg(err error) Msg {
	return Msg{kind: MsgOpened, data: err}
}
