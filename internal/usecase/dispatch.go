package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/juju/clock"
	"github.com/juju/ratelimit"

	"github.com/bxtxh/seiji-watch-sub000/internal/domain"
	"github.com/bxtxh/seiji-watch-sub000/internal/ports"
	"github.com/bxtxh/seiji-watch-sub000/internal/token"
)

// DispatcherDeps wires the notification dispatcher.
type DispatcherDeps struct {
	Batches           ports.BatchStore
	Events            ports.EventStore
	Delivery          ports.DeliveryClient
	Signer            *token.Signer
	MessagesPerMinute float64
	Burst             int64
	BaseURL           string
	Clock             clock.Clock
	Logger            *slog.Logger
}

// Dispatcher delivers pending digest batches under its own rate ceiling.
// Failure handling is achieved by not advancing state: a failed batch keeps
// its events processed_at = null and the next aggregation run re-includes
// them.
type Dispatcher struct {
	batches  ports.BatchStore
	events   ports.EventStore
	delivery ports.DeliveryClient
	signer   *token.Signer
	bucket   *ratelimit.Bucket
	baseURL  string
	clk      clock.Clock
	logger   *slog.Logger
}

// NewDispatcher constructs the dispatcher with a messages/minute bucket.
func NewDispatcher(deps DispatcherDeps) *Dispatcher {
	burst := deps.Burst
	if burst <= 0 {
		burst = 1
	}
	perSecond := deps.MessagesPerMinute / 60
	if perSecond <= 0 {
		perSecond = 1
	}
	return &Dispatcher{
		batches:  deps.Batches,
		events:   deps.Events,
		delivery: deps.Delivery,
		signer:   deps.Signer,
		bucket:   ratelimit.NewBucketWithRate(perSecond, burst),
		baseURL:  strings.TrimSuffix(deps.BaseURL, "/"),
		clk:      deps.Clock,
		logger:   deps.Logger,
	}
}

// DispatchReport summarizes one dispatch pass.
type DispatchReport struct {
	Sent   int
	Failed int
}

// RunOnce delivers every pending batch.
func (d *Dispatcher) RunOnce(ctx context.Context) (DispatchReport, error) {
	report := DispatchReport{}

	pending, err := d.batches.ListPending(ctx)
	if err != nil {
		return report, fmt.Errorf("list pending batches: %w", err)
	}

	for _, batch := range pending {
		if err := d.waitToken(ctx); err != nil {
			return report, err
		}

		msg, err := d.render(ctx, batch)
		if err != nil {
			return report, err
		}

		if err := d.delivery.Send(ctx, msg); err != nil {
			d.logger.Warn("digest delivery failed",
				"batch", batch.BatchID, "subscriber", batch.SubscriberID, "error", err)
			if err := d.batches.MarkFailed(ctx, batch.BatchID); err != nil {
				return report, err
			}
			report.Failed++
			continue
		}

		if err := d.batches.MarkSent(ctx, batch.BatchID, d.clk.Now()); err != nil {
			return report, err
		}
		report.Sent++
	}

	d.logger.Info("dispatch pass done", "sent", report.Sent, "failed", report.Failed)
	return report, nil
}

func (d *Dispatcher) waitToken(ctx context.Context) error {
	wait := d.bucket.Take(1)
	if wait <= 0 {
		return nil
	}
	select {
	case <-d.clk.After(wait):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) render(ctx context.Context, batch domain.DigestBatch) (domain.DigestMessage, error) {
	events, err := d.events.GetEvents(ctx, batch.EventIDs)
	if err != nil {
		return domain.DigestMessage{}, fmt.Errorf("load batch events %s: %w", batch.BatchID, err)
	}

	unsubToken, err := d.signer.Issue(token.ActionUnsubscribe, batch.SubscriberID, "")
	if err != nil {
		return domain.DigestMessage{}, fmt.Errorf("issue unsubscribe token: %w", err)
	}

	return domain.DigestMessage{
		Recipient:        batch.SubscriberID,
		Subject:          fmt.Sprintf("Diet update digest: %d change(s)", len(events)),
		Body:             buildDigestBody(events, d.baseURL, unsubToken),
		UnsubscribeToken: unsubToken,
	}, nil
}

func buildDigestBody(events []domain.ChangeEvent, baseURL, unsubToken string) string {
	var b strings.Builder
	for _, ev := range events {
		switch ev.Type {
		case domain.EventStageChange:
			fmt.Fprintf(&b, "- %s moved from %s to %s\n",
				ev.SubjectID, ev.Payload["old_stage"], ev.Payload["new_stage"])
		case domain.EventMeetingCreated:
			fmt.Fprintf(&b, "- New %s meeting of %s on %s\n",
				ev.Payload["chamber"], ev.Payload["committee"], ev.Payload["date"])
		}
		fmt.Fprintf(&b, "  detected %s\n", ev.DetectedAt.Format(time.RFC3339))
	}
	fmt.Fprintf(&b, "\nUnsubscribe: %s/subscriptions/unsubscribe?token=%s\n", baseURL, unsubToken)
	return b.String()
}
