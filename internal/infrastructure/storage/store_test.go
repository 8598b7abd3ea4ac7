package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/bxtxh/seiji-watch-sub000/internal/domain"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestUpsertMeetingIdempotent(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	m := domain.CanonicalMeeting{
		MeetingID:     "M-217-yosan-12",
		Date:          time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC),
		Chamber:       "衆議院",
		Committee:     "予算委員会",
		SessionNumber: 217,
	}
	if err := s.UpsertMeeting(ctx, m); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	m.Committee = "本会議"
	if err := s.UpsertMeeting(ctx, m); err != nil {
		t.Fatalf("upsert again: %v", err)
	}

	meetings, err := s.ListMeetings(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(meetings) != 1 {
		t.Fatalf("expected 1 meeting, got %d", len(meetings))
	}
	if meetings[0].Committee != "本会議" {
		t.Fatalf("update not applied: %q", meetings[0].Committee)
	}
}

func TestInsertSpeechDeduplicates(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	confidence := 0.9
	first := domain.CanonicalSpeech{
		SpeechID:   domain.SpeechID("M-1", 1),
		MeetingID:  "M-1",
		SpeakerRef: "member-001",
		Order:      1,
		Text:       "first version",
		Timestamp:  time.Now(),
	}
	if err := s.InsertSpeech(ctx, first); err != nil {
		t.Fatalf("insert: %v", err)
	}

	// Rerun with the same (meeting, order) key must not duplicate or mutate.
	second := first
	second.Text = "second version"
	second.Confidence = &confidence
	if err := s.InsertSpeech(ctx, second); err != nil {
		t.Fatalf("insert duplicate: %v", err)
	}

	var count int
	var body string
	if err := s.db.QueryRow(`SELECT COUNT(*), MIN(body) FROM speeches WHERE meeting_id = 'M-1'`).Scan(&count, &body); err != nil {
		t.Fatalf("count speeches: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 speech, got %d", count)
	}
	if body != "first version" {
		t.Fatalf("existing speech mutated: %q", body)
	}
}

func TestRecordStageHistoryAppendOnly(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	at := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	steps := []domain.Stage{
		domain.StageDeliberating,
		domain.StageDeliberating, // unchanged, must be a no-op
		domain.StageVotePending,
		domain.StageDeliberating, // regression is still a recorded transition
	}
	for i, stage := range steps {
		err := s.RecordStage(ctx, domain.ItemStageUpdate{
			ItemID: "B-217-014", Stage: stage, RecordedAt: at.Add(time.Duration(i) * time.Hour),
		})
		if err != nil {
			t.Fatalf("record stage %d: %v", i, err)
		}
	}

	history, err := s.ItemHistory(ctx, "B-217-014")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	want := []domain.Stage{domain.StageDeliberating, domain.StageVotePending, domain.StageDeliberating}
	if len(history) != len(want) {
		t.Fatalf("expected %d history entries, got %d", len(want), len(history))
	}
	for i, entry := range history {
		if entry.Stage != want[i] {
			t.Fatalf("history[%d] = %s, want %s", i, entry.Stage, want[i])
		}
	}

	items, err := s.ListItems(ctx)
	if err != nil {
		t.Fatalf("list items: %v", err)
	}
	if len(items) != 1 || items[0].Stage != domain.StageDeliberating {
		t.Fatalf("current stage mismatch: %+v", items)
	}
}

func TestAliasCreateNeverMutates(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	alias := domain.SpeakerAlias{
		RawName: "山田太郎", Source: "minutes",
		MemberID: "member-001", Resolved: true, CreatedAt: time.Now(),
	}
	if err := s.CreateAlias(ctx, alias); err != nil {
		t.Fatalf("create: %v", err)
	}

	clobber := alias
	clobber.MemberID = "member-999"
	if err := s.CreateAlias(ctx, clobber); err != nil {
		t.Fatalf("create again: %v", err)
	}

	got, ok, err := s.Lookup(ctx, "山田太郎", "minutes")
	if err != nil || !ok {
		t.Fatalf("lookup: %v ok=%v", err, ok)
	}
	if got.MemberID != "member-001" {
		t.Fatalf("existing alias mutated: %q", got.MemberID)
	}

	// The same raw name in the other source is an independent row.
	if _, ok, _ := s.Lookup(ctx, "山田太郎", "transcript"); ok {
		t.Fatal("alias leaked across sources")
	}
}

func TestAppendEventFingerprintUnique(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	ev := domain.NewStageChange("B-217-014", domain.StageDeliberating, domain.StageVotePending, time.Now())
	inserted, err := s.Append(ctx, ev)
	if err != nil || !inserted {
		t.Fatalf("first append: %v inserted=%v", err, inserted)
	}

	// A re-detection has a fresh event id but the same fingerprint.
	dup := domain.NewStageChange("B-217-014", domain.StageDeliberating, domain.StageVotePending, time.Now())
	inserted, err = s.Append(ctx, dup)
	if err != nil {
		t.Fatalf("duplicate append: %v", err)
	}
	if inserted {
		t.Fatal("duplicate fingerprint inserted")
	}

	events, err := s.ListUnprocessed(ctx)
	if err != nil {
		t.Fatalf("list unprocessed: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Payload["new_stage"] != "vote_pending" {
		t.Fatalf("payload lost: %v", events[0].Payload)
	}
}

func TestSnapshots(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	if _, seen, err := s.LastStage(ctx, "B-1"); err != nil || seen {
		t.Fatalf("unseen item: seen=%v err=%v", seen, err)
	}
	if err := s.SetStage(ctx, "B-1", domain.StageDeliberating); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.SetStage(ctx, "B-1", domain.StageVotePending); err != nil {
		t.Fatalf("set again: %v", err)
	}
	stage, seen, err := s.LastStage(ctx, "B-1")
	if err != nil || !seen || stage != domain.StageVotePending {
		t.Fatalf("snapshot mismatch: %s seen=%v err=%v", stage, seen, err)
	}

	if observed, _ := s.MeetingObserved(ctx, "M-1"); observed {
		t.Fatal("meeting observed before mark")
	}
	if err := s.MarkMeetingObserved(ctx, "M-1"); err != nil {
		t.Fatalf("mark: %v", err)
	}
	if observed, _ := s.MeetingObserved(ctx, "M-1"); !observed {
		t.Fatal("meeting not observed after mark")
	}
}

func TestSubscriptionLifecycle(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	sub := domain.Subscription{SubscriberID: "alice", TopicID: "item/B-1", CreatedAt: now}
	if err := s.Create(ctx, sub); err != nil {
		t.Fatalf("create: %v", err)
	}

	// Unconfirmed subscriptions never appear active.
	active, err := s.ListActive(ctx)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("unconfirmed subscription listed active: %+v", active)
	}

	if err := s.Confirm(ctx, "alice", "item/B-1", now); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	active, _ = s.ListActive(ctx)
	if len(active) != 1 {
		t.Fatalf("expected 1 active, got %d", len(active))
	}

	if err := s.Unsubscribe(ctx, "alice", "item/B-1", now); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	active, _ = s.ListActive(ctx)
	if len(active) != 0 {
		t.Fatal("unsubscribed subscription still active")
	}

	// Unsubscribed is terminal: confirming again must not resurrect it.
	if err := s.Confirm(ctx, "alice", "item/B-1", now.Add(time.Hour)); err != nil {
		t.Fatalf("re-confirm: %v", err)
	}
	active, _ = s.ListActive(ctx)
	if len(active) != 0 {
		t.Fatal("terminal unsubscribe was resurrected")
	}
}

func TestUnsubscribeAll(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	for _, topic := range []string{"item/B-1", "committee/予算委員会"} {
		if err := s.Create(ctx, domain.Subscription{SubscriberID: "bob", TopicID: topic, CreatedAt: now}); err != nil {
			t.Fatalf("create: %v", err)
		}
		if err := s.Confirm(ctx, "bob", topic, now); err != nil {
			t.Fatalf("confirm: %v", err)
		}
	}

	if err := s.UnsubscribeAll(ctx, "bob", now); err != nil {
		t.Fatalf("unsubscribe all: %v", err)
	}
	active, err := s.ListActive(ctx)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("expected no active subscriptions, got %d", len(active))
	}
}

func TestCheckpoints(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	if _, ok, err := s.Status(ctx, "minutes:a:b"); err != nil || ok {
		t.Fatalf("unexpected checkpoint: ok=%v err=%v", ok, err)
	}

	if err := s.MarkDeferred(ctx, "minutes:a:b"); err != nil {
		t.Fatalf("defer: %v", err)
	}
	status, ok, _ := s.Status(ctx, "minutes:a:b")
	if !ok || status != domain.CheckpointDeferred {
		t.Fatalf("expected deferred, got %q ok=%v", status, ok)
	}

	if err := s.MarkCompleted(ctx, "minutes:a:b"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	status, _, _ = s.Status(ctx, "minutes:a:b")
	if status != domain.CheckpointCompleted {
		t.Fatalf("expected completed, got %q", status)
	}
}

func TestConsumeNonceSingleUse(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	fresh, err := s.ConsumeNonce(ctx, "nonce-1")
	if err != nil || !fresh {
		t.Fatalf("first consume: fresh=%v err=%v", fresh, err)
	}
	fresh, err = s.ConsumeNonce(ctx, "nonce-1")
	if err != nil {
		t.Fatalf("second consume: %v", err)
	}
	if fresh {
		t.Fatal("nonce consumed twice")
	}
}
