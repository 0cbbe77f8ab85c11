package store

import (
	"database/sql"
	"errors"
	"fmt"
)

// CreateSession is idempotent: insert-or-ignore on the external key
// followed by a select, so concurrent callers never see duplicate rows
// (§4.2 "Create-session").
func (s *Store) CreateSession(externalKey, project string, firstPrompt *string) (*Session, error) {
	if project == "" {
		project = UnknownProject
	}

	_, err := s.db.Exec(
		`INSERT INTO sessions (external_key, project, first_prompt, prompt_count, status, created_at)
		 VALUES (?, ?, ?, 0, ?, ?)
		 ON CONFLICT(external_key) DO NOTHING`,
		externalKey, project, firstPrompt, SessionActive, now(),
	)
	if err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}

	return s.GetSessionByKey(externalKey)
}

// GetSessionByKey looks up a session by its external key.
func (s *Store) GetSessionByKey(externalKey string) (*Session, error) {
	row := s.db.QueryRow(
		`SELECT id, external_key, project, first_prompt, prompt_count, status, created_at, completed_at
		 FROM sessions WHERE external_key = ?`, externalKey)
	return scanSession(row)
}

// GetSessionByID looks up a session by its surrogate id.
func (s *Store) GetSessionByID(id int64) (*Session, error) {
	row := s.db.QueryRow(
		`SELECT id, external_key, project, first_prompt, prompt_count, status, created_at, completed_at
		 FROM sessions WHERE id = ?`, id)
	return scanSession(row)
}

func scanSession(row *sql.Row) (*Session, error) {
	var sess Session
	var status string
	err := row.Scan(&sess.ID, &sess.ExternalKey, &sess.Project, &sess.FirstPrompt,
		&sess.PromptCount, &status, &sess.CreatedAt, &sess.CompletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning session: %w", err)
	}
	sess.Status = SessionStatus(status)
	return &sess, nil
}

// BackfillProject sets a session's project if it is currently unknown.
func (s *Store) BackfillProject(sessionID int64, project string) error {
	if project == "" || project == UnknownProject {
		return nil
	}
	_, err := s.db.Exec(
		`UPDATE sessions SET project = ? WHERE id = ? AND project = ?`,
		project, sessionID, UnknownProject,
	)
	if err != nil {
		return fmt.Errorf("backfilling project: %w", err)
	}
	return nil
}

// IncrementPromptCount atomically bumps a session's prompt counter and
// returns the new value.
func (s *Store) IncrementPromptCount(sessionID int64) (int, error) {
	_, err := s.db.Exec(`UPDATE sessions SET prompt_count = prompt_count + 1 WHERE id = ?`, sessionID)
	if err != nil {
		return 0, fmt.Errorf("incrementing prompt count: %w", err)
	}
	var count int
	if err := s.db.QueryRow(`SELECT prompt_count FROM sessions WHERE id = ?`, sessionID).Scan(&count); err != nil {
		return 0, fmt.Errorf("reading prompt count: %w", err)
	}
	return count, nil
}

// UpdateSessionStatus advances a session along active -> summarizing ->
// completed. completed also stamps completed_at.
func (s *Store) UpdateSessionStatus(sessionID int64, status SessionStatus) error {
	if status == SessionCompleted {
		_, err := s.db.Exec(`UPDATE sessions SET status = ?, completed_at = ? WHERE id = ?`, status, now(), sessionID)
		if err != nil {
			return fmt.Errorf("completing session: %w", err)
		}
		return nil
	}
	_, err := s.db.Exec(`UPDATE sessions SET status = ? WHERE id = ?`, status, sessionID)
	if err != nil {
		return fmt.Errorf("updating session status: %w", err)
	}
	return nil
}

// ListSessions returns sessions newest-first, optionally scoped to a
// project, with offset/limit pagination.
func (s *Store) ListSessions(project string, limit, offset int) ([]Session, error) {
	var rows *sql.Rows
	var err error
	if project != "" {
		rows, err = s.db.Query(
			`SELECT id, external_key, project, first_prompt, prompt_count, status, created_at, completed_at
			 FROM sessions WHERE project = ? ORDER BY created_at DESC LIMIT ? OFFSET ?`,
			project, limit, offset)
	} else {
		rows, err = s.db.Query(
			`SELECT id, external_key, project, first_prompt, prompt_count, status, created_at, completed_at
			 FROM sessions ORDER BY created_at DESC LIMIT ? OFFSET ?`,
			limit, offset)
	}
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var sess Session
		var status string
		if err := rows.Scan(&sess.ID, &sess.ExternalKey, &sess.Project, &sess.FirstPrompt,
			&sess.PromptCount, &status, &sess.CreatedAt, &sess.CompletedAt); err != nil {
			return nil, fmt.Errorf("scanning session row: %w", err)
		}
		sess.Status = SessionStatus(status)
		out = append(out, sess)
	}
	return out, rows.Err()
}
