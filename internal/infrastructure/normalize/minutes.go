package normalize

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/juju/clock"

	"github.com/bxtxh/seiji-watch-sub000/internal/config"
	"github.com/bxtxh/seiji-watch-sub000/internal/domain"
	"github.com/bxtxh/seiji-watch-sub000/internal/ports"
)

// MinutesNormalizer maps source A records into canonical form. Speech bodies
// from the historical archive may carry HTML markup, which is stripped to
// plain text. Text-sourced speeches carry no confidence score.
type MinutesNormalizer struct {
	base
}

var _ ports.Normalizer = (*MinutesNormalizer)(nil)

// NewMinutesNormalizer wires the alias store, member directory and label table.
func NewMinutesNormalizer(aliases ports.AliasStore, members []config.MemberConfig, labels map[string]string, clk clock.Clock, logger *slog.Logger) *MinutesNormalizer {
	return &MinutesNormalizer{base: newBase("minutes", aliases, members, labels, clk, logger)}
}

// Source identifies the upstream this normalizer handles.
func (n *MinutesNormalizer) Source() string { return "minutes" }

// Normalize converts one raw minutes record into canonical records.
func (n *MinutesNormalizer) Normalize(ctx context.Context, rec domain.RawRecord) (domain.Normalized, error) {
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
		Text:       stripMarkup(text),
		Timestamp:  parseTimestamp(rec.Fields["timestamp"], date),
	}

	return domain.Normalized{Meeting: meeting, Speech: speech}, nil
}

// stripMarkup flattens any HTML markup in archived speech bodies to plain
// text. Plain input passes through unchanged.
func stripMarkup(text string) string {
	if !strings.Contains(text, "<") {
		return text
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fmt.Sprintf("<div>%s</div>", text)))
	if err != nil {
		return text
	}
	return strings.TrimSpace(doc.Text())
}
