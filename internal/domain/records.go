package domain

import (
	"fmt"
	"time"
)

// CanonicalMeeting is the unified meeting record, independent of which
// upstream source produced it. Meetings are upserted by key and never deleted.
type CanonicalMeeting struct {
	MeetingID     string
	Date          time.Time
	Chamber       string
	Committee     string
	SessionNumber int
}

// CanonicalSpeech is one utterance within a meeting. Confidence is nil for
// text-sourced records and carries the transcription score otherwise.
// (MeetingID, Order) is the dedup key.
type CanonicalSpeech struct {
	SpeechID   string
	MeetingID  string
	SpeakerRef string
	Order      int
	Text       string
	Timestamp  time.Time
	Confidence *float64
}

// SpeechID derives the stable speech key from its meeting and order.
func SpeechID(meetingID string, order int) string {
	return fmt.Sprintf("%s-%04d", meetingID, order)
}

// SpeakerAlias maps a raw speaker name as it appears in one source to a
// canonical member identifier. Unresolved rows (no or ambiguous match) are
// queued for manual confirmation and never guessed at.
type SpeakerAlias struct {
	RawName   string
	Source    string
	MemberID  string
	Resolved  bool
	CreatedAt time.Time
}

// Stage is the deliberation state of a legislative item.
type Stage string

const (
	StagePreDeliberation Stage = "pre_deliberation"
	StageDeliberating    Stage = "deliberating"
	StageVotePending     Stage = "vote_pending"
	StageEnacted         Stage = "enacted"
	StageRejected        Stage = "rejected"
)

// Valid reports whether s is one of the known stages.
func (s Stage) Valid() bool {
	switch s {
	case StagePreDeliberation, StageDeliberating, StageVotePending, StageEnacted, StageRejected:
		return true
	}
	return false
}

// StageEntry is one recorded transition in an item's history.
type StageEntry struct {
	Stage      Stage
	RecordedAt time.Time
}

// LegislativeItem is a tracked bill or motion. StageHistory is append-only;
// the current Stage always equals the last history entry. Transitions may
// skip or regress stages but are always recorded, never overwritten.
type LegislativeItem struct {
	ItemID       string
	Stage        Stage
	StageHistory []StageEntry
}
