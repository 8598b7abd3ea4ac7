package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/bxtxh/seiji-watch-sub000/internal/domain"
	"github.com/bxtxh/seiji-watch-sub000/internal/ports"
)

var _ ports.SubscriptionStore = (*Store)(nil)

// Create inserts the subscription row; an existing (subscriber, topic) pair
// is left untouched.
func (s *Store) Create(ctx context.Context, sub domain.Subscription) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO subscriptions (subscriber_id, topic_id, created_at)
		VALUES (?, ?, ?)`,
		sub.SubscriberID, sub.TopicID, encodeTime(sub.CreatedAt))
	if err != nil {
		return fmt.Errorf("create subscription %s/%s: %w", sub.SubscriberID, sub.TopicID, err)
	}
	return nil
}

// Get returns the subscription row, if present.
func (s *Store) Get(ctx context.Context, subscriberID, topicID string) (domain.Subscription, bool, error) {
	var sub domain.Subscription
	var created string
	var confirmed, unsubscribed sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT subscriber_id, topic_id, created_at, confirmed_at, unsubscribed_at
		FROM subscriptions WHERE subscriber_id = ? AND topic_id = ?`,
		subscriberID, topicID).
		Scan(&sub.SubscriberID, &sub.TopicID, &created, &confirmed, &unsubscribed)
	if err == sql.ErrNoRows {
		return domain.Subscription{}, false, nil
	}
	if err != nil {
		return domain.Subscription{}, false, fmt.Errorf("get subscription: %w", err)
	}
	sub.CreatedAt = decodeTime(created)
	sub.ConfirmedAt = decodeNullTime(confirmed)
	sub.UnsubscribedAt = decodeNullTime(unsubscribed)
	return sub, true, nil
}

// Confirm stamps confirmed_at once; already-confirmed or unsubscribed rows
// are untouched.
func (s *Store) Confirm(ctx context.Context, subscriberID, topicID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE subscriptions SET confirmed_at = ?
		WHERE subscriber_id = ? AND topic_id = ? AND confirmed_at IS NULL AND unsubscribed_at IS NULL`,
		encodeTime(at), subscriberID, topicID)
	if err != nil {
		return fmt.Errorf("confirm subscription %s/%s: %w", subscriberID, topicID, err)
	}
	return nil
}

// Unsubscribe stamps unsubscribed_at; the state is terminal.
func (s *Store) Unsubscribe(ctx context.Context, subscriberID, topicID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE subscriptions SET unsubscribed_at = ?
		WHERE subscriber_id = ? AND topic_id = ? AND unsubscribed_at IS NULL`,
		encodeTime(at), subscriberID, topicID)
	if err != nil {
		return fmt.Errorf("unsubscribe %s/%s: %w", subscriberID, topicID, err)
	}
	return nil
}

// UnsubscribeAll terminates every topic for a subscriber.
func (s *Store) UnsubscribeAll(ctx context.Context, subscriberID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE subscriptions SET unsubscribed_at = ?
		WHERE subscriber_id = ? AND unsubscribed_at IS NULL`,
		encodeTime(at), subscriberID)
	if err != nil {
		return fmt.Errorf("unsubscribe all %s: %w", subscriberID, err)
	}
	return nil
}

// ListActive returns confirmed, non-unsubscribed subscriptions.
func (s *Store) ListActive(ctx context.Context) ([]domain.Subscription, error) {
	query, args, err := s.sb.Select("subscriber_id", "topic_id", "created_at", "confirmed_at").
		From("subscriptions").
		Where("confirmed_at IS NOT NULL").
		Where("unsubscribed_at IS NULL").
		OrderBy("subscriber_id", "topic_id").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build active query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query active subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []domain.Subscription
	for rows.Next() {
		var sub domain.Subscription
		var created string
		var confirmed sql.NullString
		if err := rows.Scan(&sub.SubscriberID, &sub.TopicID, &created, &confirmed); err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		sub.CreatedAt = decodeTime(created)
		sub.ConfirmedAt = decodeNullTime(confirmed)
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}
