package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/juju/clock"

	"github.com/bxtxh/seiji-watch-sub000/internal/domain"
	"github.com/bxtxh/seiji-watch-sub000/internal/ports"
)

// DetectorDeps wires the change event detector.
type DetectorDeps struct {
	Canonical ports.CanonicalStore
	Snapshots ports.SnapshotStore
	Events    ports.EventStore
	Clock     clock.Clock
	Logger    *slog.Logger
}

// Detector diffs canonical state against the persisted last-seen snapshot
// and appends fingerprinted change events. The fingerprint check-and-insert
// is the single idempotency guarantee: re-running detection at any point
// never creates a second logical event for the same change.
type Detector struct {
	canonical ports.CanonicalStore
	snapshots ports.SnapshotStore
	events    ports.EventStore
	clk       clock.Clock
	logger    *slog.Logger
}

// NewDetector constructs the detector.
func NewDetector(deps DetectorDeps) *Detector {
	return &Detector{
		canonical: deps.Canonical,
		snapshots: deps.Snapshots,
		events:    deps.Events,
		clk:       deps.Clock,
		logger:    deps.Logger,
	}
}

// DetectReport summarizes one detection pass.
type DetectReport struct {
	StageChanges int
	NewMeetings  int
	Duplicates   int
	Baselined    int
}

// RunOnce performs one detection pass over all tracked items and meetings.
func (d *Detector) RunOnce(ctx context.Context) (DetectReport, error) {
	report := DetectReport{}

	items, err := d.canonical.ListItems(ctx)
	if err != nil {
		return report, fmt.Errorf("list items: %w", err)
	}
	for _, item := range items {
		if err := d.detectItem(ctx, item, &report); err != nil {
			return report, err
		}
	}

	meetings, err := d.canonical.ListMeetings(ctx)
	if err != nil {
		return report, fmt.Errorf("list meetings: %w", err)
	}
	for _, m := range meetings {
		if err := d.detectMeeting(ctx, m, &report); err != nil {
			return report, err
		}
	}

	d.logger.Info("detection pass done",
		"stage_changes", report.StageChanges,
		"new_meetings", report.NewMeetings,
		"duplicates", report.Duplicates)
	return report, nil
}

func (d *Detector) detectItem(ctx context.Context, item domain.LegislativeItem, report *DetectReport) error {
	last, seen, err := d.snapshots.LastStage(ctx, item.ItemID)
	if err != nil {
		return fmt.Errorf("snapshot %s: %w", item.ItemID, err)
	}
	if !seen {
		// First observation is the baseline, not a change.
		report.Baselined++
		return d.snapshots.SetStage(ctx, item.ItemID, item.Stage)
	}
	if last == item.Stage {
		return nil
	}

	ev := domain.NewStageChange(item.ItemID, last, item.Stage, d.clk.Now())
	inserted, err := d.events.Append(ctx, ev)
	if err != nil {
		return fmt.Errorf("append stage change %s: %w", item.ItemID, err)
	}
	if inserted {
		report.StageChanges++
		d.logger.Info("stage change detected",
			"item", item.ItemID, "from", last, "to", item.Stage)
	} else {
		report.Duplicates++
	}

	// Snapshot advances after the event is durable: a crash in between
	// re-detects the same change, which the fingerprint discards.
	return d.snapshots.SetStage(ctx, item.ItemID, item.Stage)
}

func (d *Detector) detectMeeting(ctx context.Context, m domain.CanonicalMeeting, report *DetectReport) error {
	observed, err := d.snapshots.MeetingObserved(ctx, m.MeetingID)
	if err != nil {
		return fmt.Errorf("observed %s: %w", m.MeetingID, err)
	}
	if observed {
		return nil
	}

	ev := domain.NewMeetingCreated(m, d.clk.Now())
	inserted, err := d.events.Append(ctx, ev)
	if err != nil {
		return fmt.Errorf("append meeting created %s: %w", m.MeetingID, err)
	}
	if inserted {
		report.NewMeetings++
	} else {
		report.Duplicates++
	}

	return d.snapshots.MarkMeetingObserved(ctx, m.MeetingID)
}
