package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// EventType discriminates the kinds of tracked state changes.
type EventType string

const (
	EventStageChange    EventType = "stage_change"
	EventMeetingCreated EventType = "meeting_created"
)

// ChangeEvent records one detected state change. Fingerprint is globally
// unique: a second detection of the same logical change is a no-op, not a
// duplicate row. ProcessedAt stays nil until the event has been dispatched
// inside a sent digest.
type ChangeEvent struct {
	EventID     string
	SubjectID   string
	Type        EventType
	Topic       string
	Payload     map[string]string
	Fingerprint string
	DetectedAt  time.Time
	ProcessedAt *time.Time
}

// Fingerprint hashes the event type, subject id and the changed field values
// into a deterministic uniqueness key.
func Fingerprint(eventType EventType, subjectID string, fields ...string) string {
	h := sha256.New()
	h.Write([]byte(eventType))
	h.Write([]byte{0x1f})
	h.Write([]byte(subjectID))
	for _, f := range fields {
		h.Write([]byte{0x1f})
		h.Write([]byte(f))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// NewStageChange builds a stage_change candidate for a legislative item.
func NewStageChange(itemID string, oldStage, newStage Stage, detectedAt time.Time) ChangeEvent {
	return ChangeEvent{
		EventID:   uuid.NewString(),
		SubjectID: itemID,
		Type:      EventStageChange,
		Topic:     "item/" + itemID,
		Payload: map[string]string{
			"old_stage": string(oldStage),
			"new_stage": string(newStage),
		},
		Fingerprint: Fingerprint(EventStageChange, itemID, string(oldStage), string(newStage)),
		DetectedAt:  detectedAt,
	}
}

// NewMeetingCreated builds a meeting_created candidate for a meeting seen for
// the first time.
func NewMeetingCreated(m CanonicalMeeting, detectedAt time.Time) ChangeEvent {
	return ChangeEvent{
		EventID:   uuid.NewString(),
		SubjectID: m.MeetingID,
		Type:      EventMeetingCreated,
		Topic:     "committee/" + m.Committee,
		Payload: map[string]string{
			"committee": m.Committee,
			"chamber":   m.Chamber,
			"date":      m.Date.Format("2006-01-02"),
		},
		Fingerprint: Fingerprint(EventMeetingCreated, m.MeetingID),
		DetectedAt:  detectedAt,
	}
}
