package usecase

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/bxtxh/seiji-watch-sub000/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeConnector serves pre-scripted pages keyed by start record, or fails
// every call with err.
type fakeConnector struct {
	name  string
	pages map[int]domain.FetchPage
	err   error

	mu      sync.Mutex
	queries []domain.FetchQuery
}

func (c *fakeConnector) Name() string { return c.name }

func (c *fakeConnector) Fetch(_ context.Context, q domain.FetchQuery) (domain.FetchPage, error) {
	c.mu.Lock()
	c.queries = append(c.queries, q)
	c.mu.Unlock()
	if c.err != nil {
		return domain.FetchPage{}, c.err
	}
	return c.pages[q.StartRecord], nil
}

// passNormalizer maps raw fields straight into canonical records. A record
// with fields["invalid"] set is rejected with a validation error.
type passNormalizer struct {
	source string
}

func (n *passNormalizer) Source() string { return n.source }

func (n *passNormalizer) Normalize(_ context.Context, rec domain.RawRecord) (domain.Normalized, error) {
	if rec.Fields["invalid"] != "" {
		return domain.Normalized{}, &domain.ValidationError{Field: rec.Fields["invalid"], Reason: "missing"}
	}
	if rec.Kind == domain.RawKindItem {
		return domain.Normalized{
			Item: &domain.ItemStageUpdate{
				ItemID:     rec.Fields["item_id"],
				Stage:      domain.Stage(rec.Fields["stage"]),
				RecordedAt: time.Now(),
			},
		}, nil
	}
	return domain.Normalized{
		Meeting: &domain.CanonicalMeeting{MeetingID: rec.Fields["meeting_id"]},
		Speech: &domain.CanonicalSpeech{
			SpeechID:  domain.SpeechID(rec.Fields["meeting_id"], len(rec.Fields)),
			MeetingID: rec.Fields["meeting_id"],
		},
	}, nil
}

type memCanonical struct {
	mu       sync.Mutex
	meetings map[string]domain.CanonicalMeeting
	speeches []domain.CanonicalSpeech
	items    map[string]domain.Stage
}

func newMemCanonical() *memCanonical {
	return &memCanonical{
		meetings: map[string]domain.CanonicalMeeting{},
		items:    map[string]domain.Stage{},
	}
}

func (s *memCanonical) UpsertMeeting(_ context.Context, m domain.CanonicalMeeting) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.meetings[m.MeetingID] = m
	return nil
}

func (s *memCanonical) InsertSpeech(_ context.Context, sp domain.CanonicalSpeech) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.speeches = append(s.speeches, sp)
	return nil
}

func (s *memCanonical) RecordStage(_ context.Context, upd domain.ItemStageUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[upd.ItemID] = upd.Stage
	return nil
}

func (s *memCanonical) ListItems(_ context.Context) ([]domain.LegislativeItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.items))
	for id := range s.items {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	items := make([]domain.LegislativeItem, 0, len(ids))
	for _, id := range ids {
		items = append(items, domain.LegislativeItem{ItemID: id, Stage: s.items[id]})
	}
	return items, nil
}

func (s *memCanonical) ItemHistory(_ context.Context, itemID string) ([]domain.StageEntry, error) {
	return nil, nil
}

func (s *memCanonical) ListMeetings(_ context.Context) ([]domain.CanonicalMeeting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.meetings))
	for id := range s.meetings {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	meetings := make([]domain.CanonicalMeeting, 0, len(ids))
	for _, id := range ids {
		meetings = append(meetings, s.meetings[id])
	}
	return meetings, nil
}

type memCheckpoints struct {
	mu       sync.Mutex
	statuses map[string]string
}

func newMemCheckpoints() *memCheckpoints {
	return &memCheckpoints{statuses: map[string]string{}}
}

func (s *memCheckpoints) Status(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	status, ok := s.statuses[key]
	return status, ok, nil
}

func (s *memCheckpoints) MarkCompleted(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[key] = domain.CheckpointCompleted
	return nil
}

func (s *memCheckpoints) MarkDeferred(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[key] = domain.CheckpointDeferred
	return nil
}

type memSnapshots struct {
	mu       sync.Mutex
	stages   map[string]domain.Stage
	observed map[string]bool
}

func newMemSnapshots() *memSnapshots {
	return &memSnapshots{stages: map[string]domain.Stage{}, observed: map[string]bool{}}
}

func (s *memSnapshots) LastStage(_ context.Context, itemID string) (domain.Stage, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stage, ok := s.stages[itemID]
	return stage, ok, nil
}

func (s *memSnapshots) SetStage(_ context.Context, itemID string, stage domain.Stage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stages[itemID] = stage
	return nil
}

func (s *memSnapshots) MeetingObserved(_ context.Context, meetingID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.observed[meetingID], nil
}

func (s *memSnapshots) MarkMeetingObserved(_ context.Context, meetingID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observed[meetingID] = true
	return nil
}

type memEvents struct {
	mu     sync.Mutex
	events []domain.ChangeEvent
	byFP   map[string]bool
}

func newMemEvents() *memEvents {
	return &memEvents{byFP: map[string]bool{}}
}

func (s *memEvents) Append(_ context.Context, ev domain.ChangeEvent) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.byFP[ev.Fingerprint] {
		return false, nil
	}
	s.byFP[ev.Fingerprint] = true
	s.events = append(s.events, ev)
	return true, nil
}

func (s *memEvents) ListUnprocessed(_ context.Context) ([]domain.ChangeEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.ChangeEvent
	for _, ev := range s.events {
		if ev.ProcessedAt == nil {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (s *memEvents) GetEvents(_ context.Context, ids []string) ([]domain.ChangeEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := map[string]bool{}
	for _, id := range ids {
		want[id] = true
	}
	var out []domain.ChangeEvent
	for _, ev := range s.events {
		if want[ev.EventID] {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (s *memEvents) markProcessed(ids []string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := map[string]bool{}
	for _, id := range ids {
		want[id] = true
	}
	for i := range s.events {
		if want[s.events[i].EventID] && s.events[i].ProcessedAt == nil {
			t := at
			s.events[i].ProcessedAt = &t
		}
	}
}

type memSubscriptions struct {
	mu   sync.Mutex
	subs map[string]domain.Subscription
}

func newMemSubscriptions() *memSubscriptions {
	return &memSubscriptions{subs: map[string]domain.Subscription{}}
}

func (s *memSubscriptions) key(subscriberID, topicID string) string {
	return subscriberID + "|" + topicID
}

func (s *memSubscriptions) Create(_ context.Context, sub domain.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := s.key(sub.SubscriberID, sub.TopicID)
	if _, ok := s.subs[k]; !ok {
		s.subs[k] = sub
	}
	return nil
}

func (s *memSubscriptions) Get(_ context.Context, subscriberID, topicID string) (domain.Subscription, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[s.key(subscriberID, topicID)]
	return sub, ok, nil
}

func (s *memSubscriptions) Confirm(_ context.Context, subscriberID, topicID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := s.key(subscriberID, topicID)
	sub, ok := s.subs[k]
	if ok && sub.ConfirmedAt == nil && sub.UnsubscribedAt == nil {
		sub.ConfirmedAt = &at
		s.subs[k] = sub
	}
	return nil
}

func (s *memSubscriptions) Unsubscribe(_ context.Context, subscriberID, topicID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := s.key(subscriberID, topicID)
	sub, ok := s.subs[k]
	if ok && sub.UnsubscribedAt == nil {
		sub.UnsubscribedAt = &at
		s.subs[k] = sub
	}
	return nil
}

func (s *memSubscriptions) UnsubscribeAll(_ context.Context, subscriberID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, sub := range s.subs {
		if sub.SubscriberID == subscriberID && sub.UnsubscribedAt == nil {
			sub.UnsubscribedAt = &at
			s.subs[k] = sub
		}
	}
	return nil
}

func (s *memSubscriptions) ListActive(_ context.Context) ([]domain.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.subs))
	for k := range s.subs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var out []domain.Subscription
	for _, k := range keys {
		if s.subs[k].Active() {
			out = append(out, s.subs[k])
		}
	}
	return out, nil
}

func (s *memSubscriptions) addActive(subscriberID, topicID string) {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[s.key(subscriberID, topicID)] = domain.Subscription{
		SubscriberID: subscriberID,
		TopicID:      topicID,
		CreatedAt:    now,
		ConfirmedAt:  &now,
	}
}

type memBatches struct {
	events *memEvents

	mu      sync.Mutex
	batches map[string]domain.DigestBatch
}

func newMemBatches(events *memEvents) *memBatches {
	return &memBatches{events: events, batches: map[string]domain.DigestBatch{}}
}

func (s *memBatches) windowKey(b domain.DigestBatch) string {
	return b.SubscriberID + "|" + b.WindowStart.UTC().String()
}

func (s *memBatches) ReplaceForWindow(_ context.Context, batch domain.DigestBatch) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := s.windowKey(batch)
	if existing, ok := s.batches[k]; ok && existing.Status == domain.BatchSent {
		return false, nil
	}
	batch.Status = domain.BatchPending
	s.batches[k] = batch
	return true, nil
}

func (s *memBatches) ListPending(_ context.Context) ([]domain.DigestBatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.batches))
	for k := range s.batches {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var out []domain.DigestBatch
	for _, k := range keys {
		if s.batches[k].Status == domain.BatchPending {
			out = append(out, s.batches[k])
		}
	}
	return out, nil
}

func (s *memBatches) MarkSent(_ context.Context, batchID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, b := range s.batches {
		if b.BatchID == batchID && b.Status == domain.BatchPending {
			b.Status = domain.BatchSent
			b.DispatchedAt = &at
			s.batches[k] = b
			if s.events != nil {
				s.events.markProcessed(b.EventIDs, at)
			}
		}
	}
	return nil
}

func (s *memBatches) MarkFailed(_ context.Context, batchID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, b := range s.batches {
		if b.BatchID == batchID && b.Status == domain.BatchPending {
			b.Status = domain.BatchFailed
			s.batches[k] = b
		}
	}
	return nil
}

// flakyDelivery fails the first failures sends, then succeeds.
type flakyDelivery struct {
	mu       sync.Mutex
	failures int
	sent     []domain.DigestMessage
}

func (d *flakyDelivery) Send(_ context.Context, msg domain.DigestMessage) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failures > 0 {
		d.failures--
		return domain.Transient(errDeliveryDown)
	}
	d.sent = append(d.sent, msg)
	return nil
}
