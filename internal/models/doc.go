// Package models defines the domain entities of the bulk backup engine.
//
// The package contains three categories of types:
//
// 1. Persistent state: owned by the backup manager and checkpointed to the session store
//   - [Session] : One backup run with its ordered directory units and size totals
//   - [DirectoryRecord] : One top-level directory with status, progress and last error
//   - [SessionSummary] : Archived outcome of a finished or stopped session
//
// 2. Ephemeral inputs and views
//   - [ResourceSnapshot] : Host CPU/memory sample feeding worker sizing
//   - [ProgressSample] : Instantaneous transfer rate used for smoothing
//   - [SessionView] : Immutable snapshot served by polling and pushed to subscribers
//   - [SlotView] : Worker slot state for status output
//   - [LogEntry] : User-facing backup log line
//
// 3. Enumerations with a single canonical wire form
//   - [SessionState], [DirectoryStatus], [Order], [SlotState], [SummaryStatus]
//
// Every enum marshals to a lower snake_case string through MarshalText and parses the same string back,
// so JSON, the SQLite payload and the status stream all agree.
package models
