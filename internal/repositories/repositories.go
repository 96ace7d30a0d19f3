package repositories

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/desertthunder/bulkup/internal/models"
)

// Store groups the repositories backed by one database handle.
//
// LogRetention caps the persisted log lines kept per session; 0 keeps everything.
type Store struct {
	Sessions     *SessionRepository
	History      *HistoryRepository
	Logs         *LogRepository
	LogRetention int
}

// NewStore creates all repositories over db.
func NewStore(db *sql.DB) *Store {
	return &Store{
		Sessions: NewSessionRepository(db),
		History:  NewHistoryRepository(db),
		Logs:     NewLogRepository(db),
	}
}

// LoadLatest returns the most recently checkpointed session.
func (s *Store) LoadLatest(ctx context.Context) (*models.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.Sessions.LoadLatest()
}

// Save checkpoints a session document.
func (s *Store) Save(ctx context.Context, sess *models.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.Sessions.Save(sess)
}

// AppendHistory archives a session summary.
func (s *Store) AppendHistory(ctx context.Context, sum models.SessionSummary) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.History.Append(&sum)
}

// AppendLogs persists backup log lines.
func (s *Store) AppendLogs(ctx context.Context, entries []models.LogEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.Logs.Append(entries); err != nil {
		return err
	}
	if s.LogRetention <= 0 {
		return nil
	}

	seen := make(map[string]bool)
	for _, e := range entries {
		if seen[e.SessionID] {
			continue
		}
		seen[e.SessionID] = true
		if _, err := s.Logs.Prune(e.SessionID, s.LogRetention); err != nil {
			return err
		}
	}
	return nil
}

// sequenceTables lists the counters created by migrations.
var sequenceTables = map[string]bool{
	"history": true,
}

// NextSequence atomically increments and returns the next sequence number for the given table.
//
// Sequence numbers give history entries a stable, human-readable order (run #42) independent of UUIDs.
func NextSequence(db *sql.DB, table string) (int, error) {
	if !sequenceTables[table] {
		return 0, fmt.Errorf("no sequence for table %q", table)
	}

	tx, err := db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	sequenceTable := table + "_sequence"

	if _, err := tx.Exec(fmt.Sprintf("UPDATE %s SET value = value + 1 WHERE id = 1", sequenceTable)); err != nil {
		return 0, fmt.Errorf("failed to increment sequence: %w", err)
	}

	var sequence int
	if err := tx.QueryRow(fmt.Sprintf("SELECT value FROM %s WHERE id = 1", sequenceTable)).Scan(&sequence); err != nil {
		return 0, fmt.Errorf("failed to get sequence value: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit sequence transaction: %w", err)
	}

	return sequence, nil
}
