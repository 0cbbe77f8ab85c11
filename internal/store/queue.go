package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/open-mem/cmem-worker/internal/scrub"
)

// Enqueue validates, size-caps, and inserts a queue row. Size-cap
// violations and JSON-parse failures are fatal to the request (§4.2
// "Failure semantics").
func (s *Store) Enqueue(sessionID int64, itemType QueueItemType, payload string) (*QueueItem, error) {
	if len(payload) > scrub.QueuePayloadByteLimit {
		return nil, ErrPayloadTooLarge
	}
	if !json.Valid([]byte(payload)) {
		return nil, ErrInvalidJSON
	}

	ts := now()
	res, err := s.db.Exec(
		`INSERT INTO queue_items (session_id, type, payload, status, retry_count, created_at)
		 VALUES (?, ?, ?, ?, 0, ?)`,
		sessionID, string(itemType), payload, string(QueuePending), ts,
	)
	if err != nil {
		return nil, fmt.Errorf("enqueueing item: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reading queue item id: %w", err)
	}

	return &QueueItem{
		ID: id, SessionID: sessionID, Type: itemType, Payload: payload,
		Status: QueuePending, CreatedAt: ts,
	}, nil
}

// ListPending returns pending queue rows oldest-first.
func (s *Store) ListPending(limit int) ([]QueueItem, error) {
	rows, err := s.db.Query(
		`SELECT id, session_id, type, payload, status, retry_count, error, created_at, started_at, completed_at
		 FROM queue_items WHERE status = ? ORDER BY created_at ASC LIMIT ?`,
		string(QueuePending), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing pending queue items: %w", err)
	}
	defer rows.Close()
	return scanQueueRows(rows)
}

// DequeuePending is an alias of ListPending kept for call-site clarity
// at the Queue Engine's refill boundary (§4.2 "dequeue-pending").
func (s *Store) DequeuePending(limit int) ([]QueueItem, error) {
	return s.ListPending(limit)
}

// MarkProcessing transitions a queue row to processing and stamps
// started_at.
func (s *Store) MarkProcessing(id int64) error {
	res, err := s.db.Exec(
		`UPDATE queue_items SET status = ?, started_at = ? WHERE id = ? AND status = ?`,
		string(QueueProcessing), now(), id, string(QueuePending),
	)
	if err != nil {
		return fmt.Errorf("marking queue item processing: %w", err)
	}
	return checkRowsAffected(res)
}

// MarkProcessed transitions a queue row to its terminal processed state.
func (s *Store) MarkProcessed(id int64) error {
	_, err := s.db.Exec(
		`UPDATE queue_items SET status = ?, completed_at = ? WHERE id = ?`,
		string(QueueProcessed), now(), id,
	)
	if err != nil {
		return fmt.Errorf("marking queue item processed: %w", err)
	}
	return nil
}

// MarkFailed transitions a queue row to its terminal failed state with
// an error message, incrementing retry_count for the final attempt so a
// terminally-failed row's stored count always equals the retry budget
// that was spent on it (§8 "retry count equals the max").
func (s *Store) MarkFailed(id int64, reason string) error {
	_, err := s.db.Exec(
		`UPDATE queue_items SET status = ?, error = ?, retry_count = retry_count + 1, completed_at = ? WHERE id = ?`,
		string(QueueFailed), reason, now(), id,
	)
	if err != nil {
		return fmt.Errorf("marking queue item failed: %w", err)
	}
	return nil
}

// RequeuePending moves a queue row back to pending after a retryable
// failure, incrementing its retry count.
func (s *Store) RequeuePending(id int64) error {
	_, err := s.db.Exec(
		`UPDATE queue_items SET status = ?, retry_count = retry_count + 1, started_at = NULL WHERE id = ?`,
		string(QueuePending), id,
	)
	if err != nil {
		return fmt.Errorf("requeuing item: %w", err)
	}
	return nil
}

// GetRetryCount reads the current retry count for a queue row.
func (s *Store) GetRetryCount(id int64) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT retry_count FROM queue_items WHERE id = ?`, id).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	return n, err
}

// ListStuck returns processing rows older than thresholdSeconds (§4.2
// "list-stuck").
func (s *Store) ListStuck(thresholdSeconds int64) ([]QueueItem, error) {
	cutoff := now() - thresholdSeconds
	rows, err := s.db.Query(
		`SELECT id, session_id, type, payload, status, retry_count, error, created_at, started_at, completed_at
		 FROM queue_items WHERE status = ? AND started_at IS NOT NULL AND started_at <= ?`,
		string(QueueProcessing), cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("listing stuck queue items: %w", err)
	}
	defer rows.Close()
	return scanQueueRows(rows)
}

// ResetProcessingToPending is the zero-threshold stuck recovery run at
// Queue Engine startup (§4.5 "start(processor)").
func (s *Store) ResetProcessingToPending() (int64, error) {
	res, err := s.db.Exec(
		`UPDATE queue_items SET status = ?, started_at = NULL WHERE status = ?`,
		string(QueuePending), string(QueueProcessing),
	)
	if err != nil {
		return 0, fmt.Errorf("resetting processing items: %w", err)
	}
	return res.RowsAffected()
}

// QueueCounts reports the number of pending, processing, failed and
// stuck rows (processed rows are not counted), used by GET /health and
// GET /api/queue.
type QueueCounts struct {
	Pending    int
	Processing int
	Failed     int
	Stuck      int
}

// QueueStats computes QueueCounts, treating stuckThresholdSeconds as the
// cutoff for the "stuck" bucket (a subset of processing rows).
func (s *Store) QueueStats(stuckThresholdSeconds int64) (QueueCounts, error) {
	var counts QueueCounts
	row := s.db.QueryRow(
		`SELECT
			(SELECT COUNT(*) FROM queue_items WHERE status = ?),
			(SELECT COUNT(*) FROM queue_items WHERE status = ?),
			(SELECT COUNT(*) FROM queue_items WHERE status = ?),
			(SELECT COUNT(*) FROM queue_items WHERE status = ? AND started_at IS NOT NULL AND started_at <= ?)`,
		string(QueuePending), string(QueueProcessing), string(QueueFailed),
		string(QueueProcessing), now()-stuckThresholdSeconds,
	)
	if err := row.Scan(&counts.Pending, &counts.Processing, &counts.Failed, &counts.Stuck); err != nil {
		return QueueCounts{}, fmt.Errorf("computing queue stats: %w", err)
	}
	return counts, nil
}

func scanQueueRows(rows *sql.Rows) ([]QueueItem, error) {
	var out []QueueItem
	for rows.Next() {
		var q QueueItem
		var itemType, status string
		if err := rows.Scan(&q.ID, &q.SessionID, &itemType, &q.Payload, &status, &q.RetryCount,
			&q.Error, &q.CreatedAt, &q.StartedAt, &q.CompletedAt); err != nil {
			return nil, fmt.Errorf("scanning queue row: %w", err)
		}
		q.Type = QueueItemType(itemType)
		q.Status = QueueStatus(status)
		out = append(out, q)
	}
	return out, rows.Err()
}

func checkRowsAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrInvalidTransition
	}
	return nil
}
