package store

import (
	"fmt"
	"strings"
)

// escapeFTSQuery wraps trimmed input in double quotes, doubling any
// internal double quotes, so it can be passed as an FTS5 MATCH literal
// without being interpreted as query syntax (§4.2 "Parameterized queries
// only"). Empty input yields "" (callers treat that as "no query").
func escapeFTSQuery(q string) string {
	trimmed := strings.TrimSpace(q)
	if trimmed == "" {
		return ""
	}
	escaped := strings.ReplaceAll(trimmed, `"`, `""`)
	return `"` + escaped + `"`
}

// SearchFTS runs a BM25-ranked full-text search over title/narrative/
// compressed/tool_name, optionally scoped to a project, returning full
// observation rows ordered by ascending rank (lower is better).
func (s *Store) SearchFTS(query, project string, limit int) ([]Observation, error) {
	escaped := escapeFTSQuery(query)
	if escaped == "" {
		return nil, nil
	}

	base := `SELECT o.id, o.session_id, o.prompt_num, o.tool_name, o.raw_input, o.compressed, o.obs_type, o.title, o.narrative, o.hmac, o.created_at
		FROM observations_fts f
		JOIN observations o ON o.id = f.rowid
		JOIN sessions s ON s.id = o.session_id
		WHERE observations_fts MATCH ?`

	args := []interface{}{escaped}
	if project != "" {
		base += " AND s.project = ?"
		args = append(args, project)
	}
	base += " ORDER BY bm25(observations_fts) ASC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(base, args...)
	if err != nil {
		return nil, fmt.Errorf("searching fts: %w", err)
	}
	defer rows.Close()
	return s.scanObservationRows(rows)
}

// SearchIndexRow is the compact Layer-1 progressive-disclosure row
// (§4.3).
type SearchIndexRow struct {
	ID        int64
	Title     string
	Type      ObservationType
	CreatedAt int64
	SessionID int64
}

// SearchIndex returns compact rows for a keyword query, capped at 50
// (Search Layer 1, §4.3).
func (s *Store) SearchIndex(query, project string, limit int) ([]SearchIndexRow, error) {
	escaped := escapeFTSQuery(query)
	if escaped == "" {
		return nil, nil
	}
	if limit <= 0 || limit > 50 {
		limit = 50
	}

	base := `SELECT o.id, o.title, o.obs_type, o.created_at, o.session_id
		FROM observations_fts f
		JOIN observations o ON o.id = f.rowid
		JOIN sessions s ON s.id = o.session_id
		WHERE observations_fts MATCH ?`
	args := []interface{}{escaped}
	if project != "" {
		base += " AND s.project = ?"
		args = append(args, project)
	}
	base += " ORDER BY bm25(observations_fts) ASC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(base, args...)
	if err != nil {
		return nil, fmt.Errorf("searching index: %w", err)
	}
	defer rows.Close()

	var out []SearchIndexRow
	for rows.Next() {
		var r SearchIndexRow
		var obsType string
		if err := rows.Scan(&r.ID, &r.Title, &obsType, &r.CreatedAt, &r.SessionID); err != nil {
			return nil, fmt.Errorf("scanning search index row: %w", err)
		}
		r.Type = ObservationType(obsType)
		out = append(out, r)
	}
	return out, rows.Err()
}

// SearchByType returns observations matching obsType, optionally scoped
// to a project, newest-first.
func (s *Store) SearchByType(obsType, project string, limit int) ([]Observation, error) {
	base := `SELECT o.id, o.session_id, o.prompt_num, o.tool_name, o.raw_input, o.compressed, o.obs_type, o.title, o.narrative, o.hmac, o.created_at
		FROM observations o JOIN sessions s ON s.id = o.session_id
		WHERE o.obs_type = ?`
	args := []interface{}{obsType}
	if project != "" {
		base += " AND s.project = ?"
		args = append(args, project)
	}
	base += " ORDER BY o.created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(base, args...)
	if err != nil {
		return nil, fmt.Errorf("searching by type: %w", err)
	}
	defer rows.Close()
	return s.scanObservationRows(rows)
}

// SearchByDateRange returns observations with created_at in [from, to],
// ascending, optionally scoped to a project.
func (s *Store) SearchByDateRange(from, to int64, project string, limit int) ([]Observation, error) {
	base := `SELECT o.id, o.session_id, o.prompt_num, o.tool_name, o.raw_input, o.compressed, o.obs_type, o.title, o.narrative, o.hmac, o.created_at
		FROM observations o JOIN sessions s ON s.id = o.session_id
		WHERE o.created_at >= ? AND o.created_at <= ?`
	args := []interface{}{from, to}
	if project != "" {
		base += " AND s.project = ?"
		args = append(args, project)
	}
	base += " ORDER BY o.created_at ASC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(base, args...)
	if err != nil {
		return nil, fmt.Errorf("searching by date range: %w", err)
	}
	defer rows.Close()
	return s.scanObservationRows(rows)
}

// ProjectStats computes per-project row counts for /api/stats.
func (s *Store) ProjectStats(project string) (ProjectStats, error) {
	var stats ProjectStats
	row := s.db.QueryRow(
		`SELECT
			(SELECT COUNT(*) FROM observations o JOIN sessions s ON s.id = o.session_id WHERE s.project = ?),
			(SELECT COUNT(*) FROM summaries sm JOIN sessions s ON s.id = sm.session_id WHERE s.project = ?),
			(SELECT COUNT(*) FROM sessions WHERE project = ?)`,
		project, project, project,
	)
	if err := row.Scan(&stats.Observations, &stats.Summaries, &stats.Sessions); err != nil {
		return ProjectStats{}, fmt.Errorf("computing project stats: %w", err)
	}
	return stats, nil
}
