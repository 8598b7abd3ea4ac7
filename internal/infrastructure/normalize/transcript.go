package normalize

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/juju/clock"

	"github.com/bxtxh/seiji-watch-sub000/internal/config"
	"github.com/bxtxh/seiji-watch-sub000/internal/domain"
	"github.com/bxtxh/seiji-watch-sub000/internal/ports"
)

// TranscriptNormalizer maps source B segments into canonical form, carrying
// the transcription confidence score through.
type TranscriptNormalizer struct {
	base
}

var _ ports.Normalizer = (*TranscriptNormalizer)(nil)

// NewTranscriptNormalizer wires the alias store, member directory and label table.
func NewTranscriptNormalizer(aliases ports.AliasStore, members []config.MemberConfig, labels map[string]string, clk clock.Clock, logger *slog.Logger) *TranscriptNormalizer {
	return &TranscriptNormalizer{base: newBase("transcript", aliases, members, labels, clk, logger)}
}

// Source identifies the upstream this normalizer handles.
func (n *TranscriptNormalizer) Source() string { return "transcript" }

// Normalize converts one transcript segment into canonical records.
func (n *TranscriptNormalizer) Normalize(ctx context.Context, rec domain.RawRecord) (domain.Normalized, error) {
	if rec.Kind == domain.RawKindItem {
		return n.itemUpdate(rec)
	}

	meetingID, err := requireField(rec.Fields, "meeting_id")
	if err != nil {
		return domain.Normalized{}, err
	}
	order, err := parseOrder(rec.Fields["order"])
	if err != nil {
		return domain.Normalized{}, err
	}
	text, err := requireField(rec.Fields, "text")
	if err != nil {
		return domain.Normalized{}, err
	}
	dateRaw, err := requireField(rec.Fields, "date")
	if err != nil {
		return domain.Normalized{}, err
	}
	date := parseTimestamp(dateRaw, n.clk.Now())

	confidence, err := strconv.ParseFloat(rec.Fields["confidence"], 64)
	if err != nil || confidence < 0 || confidence > 1 {
		return domain.Normalized{}, &domain.ValidationError{Field: "confidence", Reason: "not in [0,1]"}
	}

	speakerRef, err := n.resolveSpeaker(ctx, rec.Fields["speaker"])
	if err != nil {
		return domain.Normalized{}, err
	}

	session, _ := strconv.Atoi(rec.Fields["session"])

	meeting := &domain.CanonicalMeeting{
		MeetingID:     meetingID,
		Date:          date,
		Chamber:       n.mapLabel(rec.Fields["chamber"]),
		Committee:     n.mapLabel(rec.Fields["committee"]),
		SessionNumber: session,
	}

	speech := &domain.CanonicalSpeech{
		SpeechID:   domain.SpeechID(meetingID, order),
		MeetingID:  meetingID,
		SpeakerRef: speakerRef,
		Order:      order,
		Text:       text,
		Timestamp:  parseTimestamp(rec.Fields["timestamp"], date),
		Confidence: &confidence,
	}

	return domain.Normalized{Meeting: meeting, Speech: speech}, nil
}
