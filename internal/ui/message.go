package ui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/desertthunder/bulkup/internal/broadcast"
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
	MsgBroadcast MsgKind = iota
	MsgCommandDone
	MsgStreamClosed
)

type commandResult struct {
	action string
	err    error
}

// broadcastMsg is the constructor for [MsgBroadcast]
func broadcastMsg(m broadcast.Message) Msg {
	return Msg{kind: MsgBroadcast, data: m}
}

// commandDoneMsg is the constructor for [MsgCommandDone]
func commandDoneMsg(action string, err error) Msg {
	return Msg{kind: MsgCommandDone, data: commandResult{action: action, err: err}}
}

// streamClosedMsg is the constructor for [MsgStreamClosed]
func streamClosedMsg() Msg {
	return Msg{kind: MsgStreamClosed}
}
