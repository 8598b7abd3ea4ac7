package ports

import (
	"context"
	"time"

	"github.com/bxtxh/seiji-watch-sub000/internal/domain"
)

// Fetcher is a raw upstream client for one source: one page per call.
type Fetcher interface {
	Name() string
	Fetch(ctx context.Context, q domain.FetchQuery) (domain.FetchPage, error)
}

// Connector is a Fetcher behind rate limiting, retry and circuit breaking.
type Connector interface {
	Name() string
	Fetch(ctx context.Context, q domain.FetchQuery) (domain.FetchPage, error)
}

// Normalizer maps one source's raw schema into canonical records.
type Normalizer interface {
	Source() string
	Normalize(ctx context.Context, rec domain.RawRecord) (domain.Normalized, error)
}

// CanonicalStore persists meetings, speeches and legislative items via
// upsert-by-key calls; canonical records are never deleted.
type CanonicalStore interface {
	UpsertMeeting(ctx context.Context, m domain.CanonicalMeeting) error
	InsertSpeech(ctx context.Context, s domain.CanonicalSpeech) error
	RecordStage(ctx context.Context, upd domain.ItemStageUpdate) error
	ListItems(ctx context.Context) ([]domain.LegislativeItem, error)
	ItemHistory(ctx context.Context, itemID string) ([]domain.StageEntry, error)
	ListMeetings(ctx context.Context) ([]domain.CanonicalMeeting, error)
}

// AliasStore maintains raw-name to member mappings per source. Existing
// mappings are never silently mutated.
type AliasStore interface {
	Lookup(ctx context.Context, rawName, source string) (domain.SpeakerAlias, bool, error)
	CreateAlias(ctx context.Context, alias domain.SpeakerAlias) error
	ListUnresolved(ctx context.Context) ([]domain.SpeakerAlias, error)
}

// EventStore is append-only, fingerprint-unique persistence for change
// events. Append is a single conditional insert: it reports false when the
// fingerprint was already present.
type EventStore interface {
	Append(ctx context.Context, ev domain.ChangeEvent) (bool, error)
	ListUnprocessed(ctx context.Context) ([]domain.ChangeEvent, error)
	GetEvents(ctx context.Context, eventIDs []string) ([]domain.ChangeEvent, error)
}

// SnapshotStore keeps the last-observed state the detector diffs against.
type SnapshotStore interface {
	LastStage(ctx context.Context, itemID string) (domain.Stage, bool, error)
	SetStage(ctx context.Context, itemID string, stage domain.Stage) error
	MeetingObserved(ctx context.Context, meetingID string) (bool, error)
	MarkMeetingObserved(ctx context.Context, meetingID string) error
}

// SubscriptionStore tracks subscriber/topic relationships.
type SubscriptionStore interface {
	Create(ctx context.Context, sub domain.Subscription) error
	Get(ctx context.Context, subscriberID, topicID string) (domain.Subscription, bool, error)
	Confirm(ctx context.Context, subscriberID, topicID string, at time.Time) error
	Unsubscribe(ctx context.Context, subscriberID, topicID string, at time.Time) error
	UnsubscribeAll(ctx context.Context, subscriberID string, at time.Time) error
	ListActive(ctx context.Context) ([]domain.Subscription, error)
}

// BatchStore persists digest batches. ReplaceForWindow creates the batch for
// its (subscriber, window) slot, replacing a pending or failed predecessor;
// it reports false when a sent batch already occupies the slot. MarkSent
// transitions the batch and stamps processed_at on every included event in
// one transaction.
type BatchStore interface {
	ReplaceForWindow(ctx context.Context, batch domain.DigestBatch) (bool, error)
	ListPending(ctx context.Context) ([]domain.DigestBatch, error)
	MarkSent(ctx context.Context, batchID string, at time.Time) error
	MarkFailed(ctx context.Context, batchID string) error
}

// CheckpointStore records per-sub-range ingestion progress so reruns skip
// completed work and retry deferred work.
type CheckpointStore interface {
	Status(ctx context.Context, rangeKey string) (string, bool, error)
	MarkCompleted(ctx context.Context, rangeKey string) error
	MarkDeferred(ctx context.Context, rangeKey string) error
}

// TokenStore enforces single use of signed tokens. ConsumeNonce reports
// false when the nonce was already spent.
type TokenStore interface {
	ConsumeNonce(ctx context.Context, nonce string) (bool, error)
}

// DeliveryClient hands a rendered digest to the external delivery
// collaborator.
type DeliveryClient interface {
	Send(ctx context.Context, msg domain.DigestMessage) error
}

// Scheduler controls when recurring jobs execute.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}
