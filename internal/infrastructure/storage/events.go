package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/bxtxh/seiji-watch-sub000/internal/domain"
	"github.com/bxtxh/seiji-watch-sub000/internal/ports"
)

var (
	_ ports.EventStore = (*Store)(nil)
	_ ports.TokenStore = (*Store)(nil)
)

// Append persists the event unless its fingerprint is already present. The
// conditional insert is a single statement, so concurrent detector runs
// cannot both store the same logical change.
func (s *Store) Append(ctx context.Context, ev domain.ChangeEvent) (bool, error) {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return false, fmt.Errorf("marshal event payload: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO change_events (event_id, subject_id, event_type, topic, payload, fingerprint, detected_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(fingerprint) DO NOTHING`,
		ev.EventID, ev.SubjectID, string(ev.Type), ev.Topic, string(payload), ev.Fingerprint, encodeTime(ev.DetectedAt))
	if err != nil {
		return false, fmt.Errorf("append event %s: %w", ev.Fingerprint, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("append event rows: %w", err)
	}
	return n > 0, nil
}

// ListUnprocessed returns events not yet covered by a sent digest, oldest
// first.
func (s *Store) ListUnprocessed(ctx context.Context) ([]domain.ChangeEvent, error) {
	query, args, err := s.eventSelect().
		Where("processed_at IS NULL").
		OrderBy("detected_at", "event_id").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build unprocessed query: %w", err)
	}
	return s.queryEvents(ctx, query, args)
}

// GetEvents returns the named events in detection order.
func (s *Store) GetEvents(ctx context.Context, eventIDs []string) ([]domain.ChangeEvent, error) {
	if len(eventIDs) == 0 {
		return nil, nil
	}
	query, args, err := s.eventSelect().
		Where(sq.Eq{"event_id": eventIDs}).
		OrderBy("detected_at", "event_id").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build events query: %w", err)
	}
	return s.queryEvents(ctx, query, args)
}

func (s *Store) eventSelect() sq.SelectBuilder {
	return s.sb.Select("event_id", "subject_id", "event_type", "topic", "payload", "fingerprint", "detected_at", "processed_at").
		From("change_events")
}

func (s *Store) queryEvents(ctx context.Context, query string, args []any) ([]domain.ChangeEvent, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []domain.ChangeEvent
	for rows.Next() {
		var ev domain.ChangeEvent
		var evType, payload, detected string
		var processed sql.NullString
		if err := rows.Scan(&ev.EventID, &ev.SubjectID, &evType, &ev.Topic, &payload, &ev.Fingerprint, &detected, &processed); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if err := json.Unmarshal([]byte(payload), &ev.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal event payload: %w", err)
		}
		ev.Type = domain.EventType(evType)
		ev.DetectedAt = decodeTime(detected)
		ev.ProcessedAt = decodeNullTime(processed)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// ConsumeNonce spends a single-use token nonce, reporting false when it was
// already used.
func (s *Store) ConsumeNonce(ctx context.Context, nonce string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO used_tokens (nonce, used_at) VALUES (?, ?)`,
		nonce, encodeTime(time.Now()))
	if err != nil {
		return false, fmt.Errorf("consume nonce: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("consume nonce rows: %w", err)
	}
	return n > 0, nil
}
