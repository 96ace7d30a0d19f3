package repositories

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/bulkup/internal/models"
	"github.com/desertthunder/bulkup/internal/shared"
)

// SessionRepository persists [models.Session] documents.
type SessionRepository struct {
	db *sql.DB
}

// NewSessionRepository creates a new SessionRepository with the given database connection
func NewSessionRepository(db *sql.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Save inserts or replaces the session document.
//
// The write is atomic: a reader sees either the previous document or the new one.
func (r *SessionRepository) Save(s *models.Session) error {
	if s == nil || s.ID == "" {
		return fmt.Errorf("%w: session without id", shared.ErrInvalidInput)
	}

	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	updated := s.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}

	query := `
		INSERT INTO backup_sessions (id, state, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET state = excluded.state, data = excluded.data, updated_at = excluded.updated_at
	`
	if _, err := r.db.Exec(query, s.ID, s.State.String(), string(data), s.CreatedAt, updated); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// Get retrieves a session by ID.
func (r *SessionRepository) Get(id string) (*models.Session, error) {
	return r.scanOne(r.db.QueryRow(`SELECT data FROM backup_sessions WHERE id = ?`, id))
}

// LoadLatest returns the most recently updated session, or [shared.ErrSessionNotFound] when none exists.
func (r *SessionRepository) LoadLatest() (*models.Session, error) {
	return r.scanOne(r.db.QueryRow(`SELECT data FROM backup_sessions ORDER BY updated_at DESC, rowid DESC LIMIT 1`))
}

// List returns up to limit sessions, newest first. A non-positive limit returns all of them.
func (r *SessionRepository) List(limit int) ([]*models.Session, error) {
	query := `SELECT data FROM backup_sessions ORDER BY updated_at DESC, rowid DESC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*models.Session
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		s, err := decodeSession(data)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return sessions, nil
}

// Delete removes a session document.
func (r *SessionRepository) Delete(id string) error {
	result, err := r.db.Exec(`DELETE FROM backup_sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", shared.ErrSessionNotFound, id)
	}
	return nil
}

func (r *SessionRepository) scanOne(row *sql.Row) (*models.Session, error) {
	var data string
	err := row.Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, shared.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}
	return decodeSession(data)
}

func decodeSession(data string) (*models.Session, error) {
	var s models.Session
	if err := json.Unmarshal([]byte(data), &s); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	return &s, nil
}
