package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/bxtxh/seiji-watch-sub000/internal/domain"
	"github.com/bxtxh/seiji-watch-sub000/internal/ports"
)

var (
	_ ports.BatchStore      = (*Store)(nil)
	_ ports.CheckpointStore = (*Store)(nil)
)

// ReplaceForWindow installs the batch in its (subscriber, window) slot. A
// sent batch already occupying the slot is immutable and wins: the call
// reports false. A pending or failed predecessor is replaced together with
// its event membership, in one transaction.
func (s *Store) ReplaceForWindow(ctx context.Context, batch domain.DigestBatch) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin batch tx: %w", err)
	}
	defer tx.Rollback()

	var existingID, status string
	err = tx.QueryRowContext(ctx, `
		SELECT batch_id, status FROM digest_batches
		WHERE subscriber_id = ? AND window_start = ? AND window_end = ?`,
		batch.SubscriberID, encodeTime(batch.WindowStart), encodeTime(batch.WindowEnd)).
		Scan(&existingID, &status)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return false, fmt.Errorf("read existing batch: %w", err)
	case status == string(domain.BatchSent):
		return false, nil
	default:
		if _, err := tx.ExecContext(ctx, `DELETE FROM digest_batch_events WHERE batch_id = ?`, existingID); err != nil {
			return false, fmt.Errorf("clear batch events: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM digest_batches WHERE batch_id = ?`, existingID); err != nil {
			return false, fmt.Errorf("clear batch: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO digest_batches (batch_id, subscriber_id, window_start, window_end, status)
		VALUES (?, ?, ?, ?, ?)`,
		batch.BatchID, batch.SubscriberID, encodeTime(batch.WindowStart), encodeTime(batch.WindowEnd),
		string(domain.BatchPending)); err != nil {
		return false, fmt.Errorf("insert batch %s: %w", batch.BatchID, err)
	}

	for i, eventID := range batch.EventIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO digest_batch_events (batch_id, event_id, position) VALUES (?, ?, ?)`,
			batch.BatchID, eventID, i); err != nil {
			return false, fmt.Errorf("insert batch event %s: %w", eventID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit batch %s: %w", batch.BatchID, err)
	}
	return true, nil
}

// ListPending returns batches awaiting dispatch with their ordered event
// membership.
func (s *Store) ListPending(ctx context.Context) ([]domain.DigestBatch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT batch_id, subscriber_id, window_start, window_end
		FROM digest_batches WHERE status = ? ORDER BY window_start, subscriber_id`,
		string(domain.BatchPending))
	if err != nil {
		return nil, fmt.Errorf("query pending batches: %w", err)
	}
	defer rows.Close()

	var batches []domain.DigestBatch
	for rows.Next() {
		var b domain.DigestBatch
		var start, end string
		if err := rows.Scan(&b.BatchID, &b.SubscriberID, &start, &end); err != nil {
			return nil, fmt.Errorf("scan batch: %w", err)
		}
		b.WindowStart = decodeTime(start)
		b.WindowEnd = decodeTime(end)
		b.Status = domain.BatchPending
		batches = append(batches, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate batches: %w", err)
	}

	for i := range batches {
		ids, err := s.batchEventIDs(ctx, batches[i].BatchID)
		if err != nil {
			return nil, err
		}
		batches[i].EventIDs = ids
	}
	return batches, nil
}

func (s *Store) batchEventIDs(ctx context.Context, batchID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id FROM digest_batch_events WHERE batch_id = ? ORDER BY position`, batchID)
	if err != nil {
		return nil, fmt.Errorf("query batch events %s: %w", batchID, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan batch event: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// MarkSent transitions the batch to sent and stamps processed_at on every
// included event, in one transaction. A batch that is no longer pending is
// left untouched.
func (s *Store) MarkSent(ctx context.Context, batchID string, at time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin sent tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE digest_batches SET status = ?, dispatched_at = ?
		WHERE batch_id = ? AND status = ?`,
		string(domain.BatchSent), encodeTime(at), batchID, string(domain.BatchPending))
	if err != nil {
		return fmt.Errorf("mark batch sent %s: %w", batchID, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("mark sent rows: %w", err)
	} else if n == 0 {
		return nil
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE change_events SET processed_at = ?
		WHERE processed_at IS NULL AND event_id IN (
			SELECT event_id FROM digest_batch_events WHERE batch_id = ?)`,
		encodeTime(at), batchID); err != nil {
		return fmt.Errorf("mark events processed %s: %w", batchID, err)
	}

	return tx.Commit()
}

// MarkFailed records a delivery failure. Events keep processed_at = null so
// the next aggregation run re-includes them.
func (s *Store) MarkFailed(ctx context.Context, batchID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE digest_batches SET status = ? WHERE batch_id = ? AND status = ?`,
		string(domain.BatchFailed), batchID, string(domain.BatchPending))
	if err != nil {
		return fmt.Errorf("mark batch failed %s: %w", batchID, err)
	}
	return nil
}

// Status returns the checkpoint status for a sub-range key.
func (s *Store) Status(ctx context.Context, rangeKey string) (string, bool, error) {
	var status string
	err := s.db.QueryRowContext(ctx, `SELECT status FROM ingest_checkpoints WHERE range_key = ?`, rangeKey).Scan(&status)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read checkpoint %s: %w", rangeKey, err)
	}
	return status, true, nil
}

// MarkCompleted checkpoints a finished sub-range.
func (s *Store) MarkCompleted(ctx context.Context, rangeKey string) error {
	return s.setCheckpoint(ctx, rangeKey, domain.CheckpointCompleted)
}

// MarkDeferred records a sub-range skipped because its connector circuit was
// open; a later run retries it.
func (s *Store) MarkDeferred(ctx context.Context, rangeKey string) error {
	return s.setCheckpoint(ctx, rangeKey, domain.CheckpointDeferred)
}

func (s *Store) setCheckpoint(ctx context.Context, rangeKey, status string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ingest_checkpoints (range_key, status, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(range_key) DO UPDATE SET status = excluded.status, updated_at = excluded.updated_at`,
		rangeKey, status, encodeTime(time.Now()))
	if err != nil {
		return fmt.Errorf("set checkpoint %s: %w", rangeKey, err)
	}
	return nil
}
