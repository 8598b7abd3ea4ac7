package domain

import "time"

// Record kinds produced by upstream sources.
const (
	RawKindSpeech = "speech"
	RawKindItem   = "item"
)

// RawRecord is one source-schema record before normalization. Fields carries
// the source-specific columns; normalizers map them into canonical records.
type RawRecord struct {
	Source string
	Kind   string
	Fields map[string]string
}

// FetchQuery addresses one page of an upstream date-range query.
type FetchQuery struct {
	From        time.Time
	To          time.Time
	StartRecord int
}

// FetchPage is one page of upstream results. NextStart addresses the
// following page when HasMore is set.
type FetchPage struct {
	Records   []RawRecord
	NextStart int
	HasMore   bool
}

// Checkpoint statuses for ingestion sub-ranges.
const (
	CheckpointCompleted = "completed"
	CheckpointDeferred  = "deferred"
)

// Normalized is the outcome of normalizing one raw record. Any subset of the
// pointers may be set: a speech record yields its meeting (for upsert) plus
// the speech; an item record yields a stage update.
type Normalized struct {
	Meeting *CanonicalMeeting
	Speech  *CanonicalSpeech
	Item    *ItemStageUpdate
}

// ItemStageUpdate is a stage observation for a legislative item.
type ItemStageUpdate struct {
	ItemID     string
	Stage      Stage
	RecordedAt time.Time
}
