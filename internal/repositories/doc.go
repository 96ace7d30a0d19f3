// Package repositories implements SQLite persistence for backup sessions, history and logs.
//
// Key Implementations:
//   - [SessionRepository] : Session documents stored as JSON, upserted on every checkpoint
//   - [HistoryRepository] : Archived session summaries ordered by run sequence
//   - [LogRepository] : User-facing backup log lines per session
//
// The session store keeps one row per session. The most recently updated row is the one restored on startup.
// History entries carry a sequence number from [NextSequence], which increments a dedicated counter table.
package repositories
