package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/juju/clock"

	"github.com/bxtxh/seiji-watch-sub000/internal/domain"
	"github.com/bxtxh/seiji-watch-sub000/internal/ports"
	"github.com/bxtxh/seiji-watch-sub000/internal/token"
)

// SubscriptionManagerDeps wires the subscription manager.
type SubscriptionManagerDeps struct {
	Subscriptions ports.SubscriptionStore
	Signer        *token.Signer
	Clock         clock.Clock
	Logger        *slog.Logger
}

// SubscriptionManager owns subscriber/topic relationships and their
// confirmation state. New subscriptions stay inert until confirmed through
// a signed single-use token.
type SubscriptionManager struct {
	subs   ports.SubscriptionStore
	signer *token.Signer
	clk    clock.Clock
	logger *slog.Logger
}

// NewSubscriptionManager constructs the manager.
func NewSubscriptionManager(deps SubscriptionManagerDeps) *SubscriptionManager {
	return &SubscriptionManager{
		subs:   deps.Subscriptions,
		signer: deps.Signer,
		clk:    deps.Clock,
		logger: deps.Logger,
	}
}

// Subscribe registers an unconfirmed subscription and returns the
// confirmation token to send to the subscriber.
func (m *SubscriptionManager) Subscribe(ctx context.Context, subscriberID, topicID string) (string, error) {
	if subscriberID == "" || topicID == "" {
		return "", fmt.Errorf("subscriber and topic are required")
	}

	sub := domain.Subscription{
		SubscriberID: subscriberID,
		TopicID:      topicID,
		CreatedAt:    m.clk.Now(),
	}
	if err := m.subs.Create(ctx, sub); err != nil {
		return "", err
	}

	confirmToken, err := m.signer.Issue(token.ActionConfirm, subscriberID, topicID)
	if err != nil {
		return "", fmt.Errorf("issue confirmation token: %w", err)
	}

	m.logger.Info("subscription created", "subscriber", subscriberID, "topic", topicID)
	return confirmToken, nil
}

// Confirm verifies a confirmation token and activates the subscription.
func (m *SubscriptionManager) Confirm(ctx context.Context, rawToken string) error {
	claims, err := m.signer.Verify(ctx, rawToken, token.ActionConfirm)
	if err != nil {
		return err
	}
	if err := m.subs.Confirm(ctx, claims.SubscriberID, claims.TopicID, m.clk.Now()); err != nil {
		return err
	}
	m.logger.Info("subscription confirmed", "subscriber", claims.SubscriberID, "topic", claims.TopicID)
	return nil
}

// Unsubscribe verifies an unsubscribe token and terminates the subscription.
// A token without a topic unsubscribes the subscriber from everything.
func (m *SubscriptionManager) Unsubscribe(ctx context.Context, rawToken string) error {
	claims, err := m.signer.Verify(ctx, rawToken, token.ActionUnsubscribe)
	if err != nil {
		return err
	}

	now := m.clk.Now()
	if claims.TopicID == "" {
		err = m.subs.UnsubscribeAll(ctx, claims.SubscriberID, now)
	} else {
		err = m.subs.Unsubscribe(ctx, claims.SubscriberID, claims.TopicID, now)
	}
	if err != nil {
		return err
	}
	m.logger.Info("unsubscribed", "subscriber", claims.SubscriberID, "topic", claims.TopicID)
	return nil
}
