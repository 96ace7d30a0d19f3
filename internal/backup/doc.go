// Package backup is the session state machine.
//
// A single goroutine ([Manager.Run]) owns the [models.Session]. Control calls such as
// [Manager.Start] and [Manager.Stop] are sent to it as commands and answered over a reply channel;
// the worker pool reports through an unbounded inbox. Nothing else writes session state.
//
// States:
//
//	Stopped --start--> Running --pause--> Paused --start--> Running
//	Running|Paused --stop--> Stopped
//	Running --(nothing queued or transferring)--> Stopped
//
// Status changes are checkpointed through a background writer that coalesces to the newest copy.
// Progress ticks are saved on the checkpoint interval. After each change the owner builds a new
// immutable [models.SessionView]; [Manager.Snapshot] returns it and subscribers receive the same pointer.
package backup
