package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/bxtxh/seiji-watch-sub000/internal/domain"
	"github.com/bxtxh/seiji-watch-sub000/internal/ports"
)

// AggregatorDeps wires the digest aggregator.
type AggregatorDeps struct {
	Events        ports.EventStore
	Subscriptions ports.SubscriptionStore
	Batches       ports.BatchStore
	Window        time.Duration
	Logger        *slog.Logger
}

// Aggregator groups unprocessed events by subscriber into one digest batch
// per subscriber per window. Only events still processed_at = null are
// selected, so a crash or a failed dispatch simply feeds the next run.
type Aggregator struct {
	events  ports.EventStore
	subs    ports.SubscriptionStore
	batches ports.BatchStore
	window  time.Duration
	logger  *slog.Logger
}

// NewAggregator constructs the aggregator; window defaults to 24h.
func NewAggregator(deps AggregatorDeps) *Aggregator {
	window := deps.Window
	if window <= 0 {
		window = 24 * time.Hour
	}
	return &Aggregator{
		events:  deps.Events,
		subs:    deps.Subscriptions,
		batches: deps.Batches,
		window:  window,
		logger:  deps.Logger,
	}
}

// RunOnce builds digest batches for the window containing now. An empty
// group produces no batch; a sent batch for the same window is never
// replaced.
func (a *Aggregator) RunOnce(ctx context.Context, now time.Time) ([]domain.DigestBatch, error) {
	events, err := a.events.ListUnprocessed(ctx)
	if err != nil {
		return nil, fmt.Errorf("list unprocessed events: %w", err)
	}
	if len(events) == 0 {
		return nil, nil
	}

	subs, err := a.subs.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active subscriptions: %w", err)
	}

	subscribers := map[string][]string{}
	byTopic := topicIndex(subs)
	for _, ev := range events {
		for _, subscriberID := range byTopic[ev.Topic] {
			subscribers[subscriberID] = append(subscribers[subscriberID], ev.EventID)
		}
	}

	windowStart := now.UTC().Truncate(a.window)
	windowEnd := windowStart.Add(a.window)

	var created []domain.DigestBatch
	for subscriberID, eventIDs := range subscribers {
		batch := domain.DigestBatch{
			BatchID:      uuid.NewString(),
			SubscriberID: subscriberID,
			WindowStart:  windowStart,
			WindowEnd:    windowEnd,
			EventIDs:     eventIDs,
			Status:       domain.BatchPending,
		}
		ok, err := a.batches.ReplaceForWindow(ctx, batch)
		if err != nil {
			return created, fmt.Errorf("create batch for %s: %w", subscriberID, err)
		}
		if !ok {
			a.logger.Info("window already sent, batch skipped",
				"subscriber", subscriberID, "window_start", windowStart)
			continue
		}
		created = append(created, batch)
	}

	a.logger.Info("aggregation done", "batches", len(created), "events", len(events))
	return created, nil
}

// topicIndex maps each topic to the subscribers actively watching it.
func topicIndex(subs []domain.Subscription) map[string][]string {
	index := map[string][]string{}
	for _, sub := range subs {
		if !sub.Active() {
			continue
		}
		index[sub.TopicID] = append(index[sub.TopicID], sub.SubscriberID)
	}
	return index
}
