package repositories

import (
	"database/sql"
	"fmt"

	"github.com/desertthunder/bulkup/internal/models"
)

// LogRepository persists user-facing backup log lines.
type LogRepository struct {
	db *sql.DB
}

// NewLogRepository creates a new LogRepository with the given database connection
func NewLogRepository(db *sql.DB) *LogRepository {
	return &LogRepository{db: db}
}

// Append writes entries in a single transaction, assigning their IDs.
func (r *LogRepository) Append(entries []models.LogEntry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO backup_logs (session_id, level, message, directory, created_at) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare log insert: %w", err)
	}
	defer stmt.Close()

	for i := range entries {
		e := &entries[i]
		var dir any
		if e.Directory != "" {
			dir = e.Directory
		}
		res, err := stmt.Exec(e.SessionID, e.Level, e.Message, dir, e.At)
		if err != nil {
			return fmt.Errorf("failed to insert log entry: %w", err)
		}
		if id, err := res.LastInsertId(); err == nil {
			e.ID = id
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit log entries: %w", err)
	}
	return nil
}

// List returns the last limit entries of a session in chronological order.
func (r *LogRepository) List(sessionID string, limit int) ([]models.LogEntry, error) {
	if limit <= 0 {
		limit = 1000
	}

	query := `
		SELECT id, session_id, level, message, directory, created_at FROM (
			SELECT id, session_id, level, message, directory, created_at
			FROM backup_logs
			WHERE session_id = ?
			ORDER BY id DESC
			LIMIT ?
		) ORDER BY id ASC
	`
	rows, err := r.db.Query(query, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query logs: %w", err)
	}
	defer rows.Close()

	var entries []models.LogEntry
	for rows.Next() {
		var (
			e   models.LogEntry
			dir sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Level, &e.Message, &dir, &e.At); err != nil {
			return nil, fmt.Errorf("failed to scan log entry: %w", err)
		}
		e.Directory = dir.String
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return entries, nil
}

// Prune deletes all but the newest keep entries of a session.
func (r *LogRepository) Prune(sessionID string, keep int) (int64, error) {
	query := `
		DELETE FROM backup_logs
		WHERE session_id = ? AND id NOT IN (
			SELECT id FROM backup_logs WHERE session_id = ? ORDER BY id DESC LIMIT ?
		)
	`
	res, err := r.db.Exec(query, sessionID, sessionID, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune logs: %w", err)
	}
	return res.RowsAffected()
}
