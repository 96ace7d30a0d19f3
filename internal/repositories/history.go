package repositories

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/bulkup/internal/models"
	"github.com/desertthunder/bulkup/internal/shared"
)

// HistoryRepository persists archived [models.SessionSummary] entries.
type HistoryRepository struct {
	db *sql.DB
}

// NewHistoryRepository creates a new HistoryRepository with the given database connection
func NewHistoryRepository(db *sql.DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

const historyColumns = `id, sequence, session_id, status, started_at, completed_at, total_size, completed_size,
	directories_count, completed_count, errors_count, skipped_count`

// Append inserts a summary with a generated ID and sequence, filling both on sum.
func (r *HistoryRepository) Append(sum *models.SessionSummary) error {
	sequence, err := NextSequence(r.db, "history")
	if err != nil {
		return fmt.Errorf("failed to generate sequence: %w", err)
	}

	id := shared.GenerateID()

	var startedAt any
	if sum.StartedAt != nil {
		startedAt = *sum.StartedAt
	}

	query := `INSERT INTO backup_history (` + historyColumns + `, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = r.db.Exec(query,
		id,
		sequence,
		sum.SessionID,
		sum.Status.String(),
		startedAt,
		sum.CompletedAt,
		sum.TotalSize,
		sum.CompletedSize,
		sum.Directories,
		sum.Completed,
		sum.Errors,
		sum.Skipped,
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert history entry: %w", err)
	}

	sum.ID = id
	sum.Sequence = sequence
	return nil
}

// Get retrieves a history entry by ID.
func (r *HistoryRepository) Get(id string) (*models.SessionSummary, error) {
	row := r.db.QueryRow(`SELECT `+historyColumns+` FROM backup_history WHERE id = ?`, id)
	sum, err := scanSummary(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", shared.ErrHistoryNotFound, id)
	}
	return sum, err
}

// List returns up to limit entries, newest first. A non-positive limit returns all of them.
func (r *HistoryRepository) List(limit int) ([]*models.SessionSummary, error) {
	query := `SELECT ` + historyColumns + ` FROM backup_history ORDER BY sequence DESC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var entries []*models.SessionSummary
	for rows.Next() {
		sum, err := scanSummary(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, sum)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return entries, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSummary(row scanner) (*models.SessionSummary, error) {
	var (
		sum       models.SessionSummary
		status    string
		startedAt sql.NullTime
	)

	err := row.Scan(
		&sum.ID, &sum.Sequence, &sum.SessionID, &status, &startedAt, &sum.CompletedAt,
		&sum.TotalSize, &sum.CompletedSize, &sum.Directories, &sum.Completed, &sum.Errors, &sum.Skipped,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan history entry: %w", err)
	}

	if err := sum.Status.UnmarshalText([]byte(status)); err != nil {
		return nil, fmt.Errorf("history entry %s: %w", sum.ID, err)
	}
	if startedAt.Valid {
		t := startedAt.Time
		sum.StartedAt = &t
	}
	return &sum, nil
}
