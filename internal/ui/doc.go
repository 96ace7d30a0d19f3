// Package ui implements the live backup monitor using bubbletea's Elm architecture.
//
// The [Model] drives an [Engine] in-process: it subscribes to the engine's status broadcaster
// and re-reads the published snapshot whenever a message arrives, so the screen never holds
// state the engine does not.
// Log messages are appended to a short tail below the directory list.
//
// Keys: s start, p pause, x stop, space toggles the highlighted directory's selection,
// r retries the highlighted directory, o switches between name and size order, q quits.
// Engine calls run as tea.Cmds and report back through [MsgCommandDone]; a failed call is shown
// until the next command.
package ui
