// Package tasks runs directory transfers on a resizable pool of workers with streamed progress reporting.
//
// # Core Types
//
//  1. [Pool] : Priority queue plus an arena of worker slots
//     - Dispatches the highest priority [Task] to an idle slot, ties broken by display order
//     - [Pool.Rescale] is the only place slots are created or retired
//     - Busy slots are never interrupted by scale-down; they drain and retire when their task ends
//     - [Pool.StopAll] terminates every transfer and waits for all of them
//
//  2. [Worker] : Runs rsync as a child process in its own process group
//     - Output is consumed as a stream of '\r'/'\n' separated records
//     - Unrecognised lines are kept in a bounded ring for error diagnostics
//     - Exit status maps to [OutcomeCompleted], [OutcomeCancelled] or [OutcomeError]
//
//  3. [Parser] : Interprets progress2, itemize and stats lines
//
// # Events
//
// Pool and workers report through a single post function which must not block.
// Each task produces one [EventDispatched], zero or more [EventProgress] and exactly one [EventFinished], in that order.
// Progress events are debounced: one is sent when the integer percent changes, or at most once per progress interval.
package tasks
