package store

import "fmt"

// InsertSummary records a session-level rollup. Immutable after insert
// (§3 Summary).
func (s *Store) InsertSummary(sum Summary) (*Summary, error) {
	ts := now()
	res, err := s.db.Exec(
		`INSERT INTO summaries (session_id, request, investigated, learned, completed, next_steps, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sum.SessionID, sum.Request, sum.Investigated, sum.Learned, sum.Completed, sum.NextSteps, ts,
	)
	if err != nil {
		return nil, fmt.Errorf("inserting summary: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reading summary id: %w", err)
	}
	sum.ID = id
	sum.CreatedAt = ts
	return &sum, nil
}

// ListRecentSummaries returns the most recent session summaries for a
// project, newest-first, capped at limit (Context Builder §4.7).
func (s *Store) ListRecentSummaries(project string, limit int) ([]Summary, error) {
	rows, err := s.db.Query(
		`SELECT sm.id, sm.session_id, sm.request, sm.investigated, sm.learned, sm.completed, sm.next_steps, sm.created_at
		 FROM summaries sm JOIN sessions se ON se.id = sm.session_id
		 WHERE se.project = ? ORDER BY sm.created_at DESC LIMIT ?`,
		project, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing recent summaries: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var sm Summary
		if err := rows.Scan(&sm.ID, &sm.SessionID, &sm.Request, &sm.Investigated, &sm.Learned, &sm.Completed, &sm.NextSteps, &sm.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning summary row: %w", err)
		}
		out = append(out, sm)
	}
	return out, rows.Err()
}
