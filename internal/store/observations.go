package store

import (
	"crypto/hmac"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
)

// computeHMAC signs compressed + "\n" + narrative with the store's HMAC
// key (§3 Observation, §4.2 "HMAC").
func (s *Store) computeHMAC(compressed, narrative string) string {
	mac := hmac.New(sha256.New, s.hmacKey)
	mac.Write([]byte(compressed))
	mac.Write([]byte("\n"))
	mac.Write([]byte(narrative))
	return hex.EncodeToString(mac.Sum(nil))
}

// verifyHMAC recomputes the tag and compares it in constant time.
// Missing HMACs (legacy rows) verify as ok, matching §4.2.
func (s *Store) verifyHMAC(o *Observation) bool {
	if o.HMAC == nil || *o.HMAC == "" {
		return true
	}
	want := s.computeHMAC(o.Compressed, o.Narrative)
	return hmac.Equal([]byte(want), []byte(*o.HMAC))
}

// InsertObservation computes and stores the HMAC tag before insert.
// obsType is coerced to "other" if it falls outside the controlled
// vocabulary (§9 "Tag-based variant").
func (s *Store) InsertObservation(o Observation) (*Observation, error) {
	if !ValidObservationType(string(o.ObsType)) {
		o.ObsType = ObsOther
	}
	if o.Compressed == "" {
		return nil, fmt.Errorf("inserting observation: compressed field must not be empty")
	}

	tag := s.computeHMAC(o.Compressed, o.Narrative)
	ts := now()

	res, err := s.db.Exec(
		`INSERT INTO observations (session_id, prompt_num, tool_name, raw_input, compressed, obs_type, title, narrative, hmac, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.SessionID, o.PromptNum, o.ToolName, o.RawInput, o.Compressed, string(o.ObsType), o.Title, o.Narrative, tag, ts,
	)
	if err != nil {
		return nil, fmt.Errorf("inserting observation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reading observation id: %w", err)
	}

	o.ID = id
	o.HMAC = &tag
	o.CreatedAt = ts
	o.HMACVerified = true
	return &o, nil
}

// GetObservation reads a single observation by id, verifying its HMAC
// (mismatch is logged, not fatal — the row is still returned, §4.2).
func (s *Store) GetObservation(id int64) (*Observation, error) {
	row := s.db.QueryRow(
		`SELECT id, session_id, prompt_num, tool_name, raw_input, compressed, obs_type, title, narrative, hmac, created_at
		 FROM observations WHERE id = ?`, id)
	return s.scanObservationRow(row)
}

func (s *Store) scanObservationRow(row *sql.Row) (*Observation, error) {
	var o Observation
	var obsType string
	err := row.Scan(&o.ID, &o.SessionID, &o.PromptNum, &o.ToolName, &o.RawInput, &o.Compressed,
		&obsType, &o.Title, &o.Narrative, &o.HMAC, &o.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning observation: %w", err)
	}
	o.ObsType = ObservationType(obsType)
	o.HMACVerified = s.verifyHMAC(&o)
	if !o.HMACVerified {
		slog.Warn("observation HMAC mismatch", "observation_id", o.ID)
	}
	return &o, nil
}

// GetObservationsByIDs returns full rows for the given ids via a
// parameterized IN clause, ordered by created_at ascending (Search
// Layer 3, §4.3).
func (s *Store) GetObservationsByIDs(ids []int64) ([]Observation, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := make([]interface{}, len(ids))
	query := `SELECT id, session_id, prompt_num, tool_name, raw_input, compressed, obs_type, title, narrative, hmac, created_at
		 FROM observations WHERE id IN (`
	for i, id := range ids {
		if i > 0 {
			query += ", "
		}
		query += "?"
		placeholders[i] = id
	}
	query += ") ORDER BY created_at ASC"

	rows, err := s.db.Query(query, placeholders...)
	if err != nil {
		return nil, fmt.Errorf("getting observations by ids: %w", err)
	}
	defer rows.Close()

	return s.scanObservationRows(rows)
}

// ListObservationsBySession returns every observation for a session,
// ascending by created_at, used by Search Layer 2 (getTimeline).
func (s *Store) ListObservationsBySession(sessionID int64) ([]Observation, error) {
	rows, err := s.db.Query(
		`SELECT id, session_id, prompt_num, tool_name, raw_input, compressed, obs_type, title, narrative, hmac, created_at
		 FROM observations WHERE session_id = ? ORDER BY created_at ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("listing observations by session: %w", err)
	}
	defer rows.Close()
	return s.scanObservationRows(rows)
}

// ListObservations returns observations newest-first, optionally scoped
// to a project (joined through sessions), with pagination.
func (s *Store) ListObservations(project string, limit, offset int) ([]Observation, error) {
	var rows *sql.Rows
	var err error
	if project != "" {
		rows, err = s.db.Query(
			`SELECT o.id, o.session_id, o.prompt_num, o.tool_name, o.raw_input, o.compressed, o.obs_type, o.title, o.narrative, o.hmac, o.created_at
			 FROM observations o JOIN sessions s ON s.id = o.session_id
			 WHERE s.project = ? ORDER BY o.created_at DESC LIMIT ? OFFSET ?`,
			project, limit, offset)
	} else {
		rows, err = s.db.Query(
			`SELECT id, session_id, prompt_num, tool_name, raw_input, compressed, obs_type, title, narrative, hmac, created_at
			 FROM observations ORDER BY created_at DESC LIMIT ? OFFSET ?`,
			limit, offset)
	}
	if err != nil {
		return nil, fmt.Errorf("listing observations: %w", err)
	}
	defer rows.Close()
	return s.scanObservationRows(rows)
}

func (s *Store) scanObservationRows(rows *sql.Rows) ([]Observation, error) {
	var out []Observation
	for rows.Next() {
		var o Observation
		var obsType string
		if err := rows.Scan(&o.ID, &o.SessionID, &o.PromptNum, &o.ToolName, &o.RawInput, &o.Compressed,
			&obsType, &o.Title, &o.Narrative, &o.HMAC, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning observation row: %w", err)
		}
		o.ObsType = ObservationType(obsType)
		o.HMACVerified = s.verifyHMAC(&o)
		if !o.HMACVerified {
			slog.Warn("observation HMAC mismatch", "observation_id", o.ID)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
