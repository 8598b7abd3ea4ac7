// Package normalize maps each source's raw schema into canonical records:
// speaker-name cleanup, alias resolution, party/committee label mapping and
// dedup-key computation. A record failing required-field validation is
// quarantined by the caller, never the whole batch.
package normalize

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/juju/clock"

	"github.com/bxtxh/seiji-watch-sub000/internal/config"
	"github.com/bxtxh/seiji-watch-sub000/internal/domain"
	"github.com/bxtxh/seiji-watch-sub000/internal/ports"
)

// "Mrs." must precede "Mr." so the longer prefix wins.
var honorificPrefixes = []string{"○", "◯", "Mrs.", "Mr.", "Ms.", "Dr.", "Hon."}

var honorificSuffixes = []string{"君", "氏", "議員", "委員", "先生", "さん"}

// stageLabels maps source stage wording onto canonical stages. Canonical
// names pass through unchanged.
var stageLabels = map[string]domain.Stage{
	"付託前":  domain.StagePreDeliberation,
	"審議中":  domain.StageDeliberating,
	"採決待ち": domain.StageVotePending,
	"成立":   domain.StageEnacted,
	"否決":   domain.StageRejected,
}

// CleanSpeakerName strips honorific and formatting noise from a raw speaker
// name: list markers, honorific prefixes/suffixes and parenthetical roles.
func CleanSpeakerName(raw string) string {
	name := strings.TrimSpace(raw)
	for _, p := range honorificPrefixes {
		name = strings.TrimSpace(strings.TrimPrefix(name, p))
	}
	if i := strings.IndexAny(name, "(（"); i > 0 {
		name = strings.TrimSpace(name[:i])
	}
	for _, s := range honorificSuffixes {
		name = strings.TrimSpace(strings.TrimSuffix(name, s))
	}
	return strings.Join(strings.Fields(name), " ")
}

// base carries the resolution machinery shared by both normalizers.
type base struct {
	source  string
	aliases ports.AliasStore
	members map[string][]config.MemberConfig
	labels  map[string]string
	clk     clock.Clock
	logger  *slog.Logger
}

func newBase(source string, aliases ports.AliasStore, members []config.MemberConfig, labels map[string]string, clk clock.Clock, logger *slog.Logger) base {
	index := make(map[string][]config.MemberConfig, len(members))
	for _, m := range members {
		index[m.Name] = append(index[m.Name], m)
	}
	return base{
		source:  source,
		aliases: aliases,
		members: index,
		labels:  labels,
		clk:     clk,
		logger:  logger,
	}
}

// resolveSpeaker maps a raw speaker name to a member identifier through the
// alias table. An unseen name gets a new alias row: resolved when exactly
// one directory entry matches, otherwise unresolved and queued for manual
// confirmation. Existing mappings are never mutated.
func (b base) resolveSpeaker(ctx context.Context, rawName string) (string, error) {
	clean := CleanSpeakerName(rawName)
	if clean == "" {
		return "", &domain.ValidationError{Field: "speaker", Reason: "empty after cleanup"}
	}

	alias, ok, err := b.aliases.Lookup(ctx, clean, b.source)
	if err != nil {
		return "", fmt.Errorf("lookup alias %s: %w", clean, err)
	}
	if ok {
		if alias.Resolved {
			return alias.MemberID, nil
		}
		return clean, nil
	}

	matches := b.members[clean]
	newAlias := domain.SpeakerAlias{
		RawName:   clean,
		Source:    b.source,
		CreatedAt: b.clk.Now(),
	}
	if len(matches) == 1 {
		newAlias.MemberID = matches[0].ID
		newAlias.Resolved = true
	} else if len(matches) > 1 {
		b.logger.Warn("ambiguous speaker match queued for manual resolution",
			"speaker", clean, "source", b.source, "candidates", len(matches))
	}
	if err := b.aliases.CreateAlias(ctx, newAlias); err != nil {
		return "", fmt.Errorf("create alias %s: %w", clean, err)
	}
	if newAlias.Resolved {
		return newAlias.MemberID, nil
	}
	return clean, nil
}

// mapLabel translates a source-specific party/committee label through the
// configured alias table, passing unknown labels through unchanged.
func (b base) mapLabel(raw string) string {
	if mapped, ok := b.labels[raw]; ok {
		return mapped
	}
	return raw
}

func (b base) itemUpdate(rec domain.RawRecord) (domain.Normalized, error) {
	itemID := rec.Fields["item_id"]
	if itemID == "" {
		return domain.Normalized{}, &domain.ValidationError{Field: "item_id", Reason: "missing"}
	}
	stage := stageFromLabel(rec.Fields["stage"])
	if !stage.Valid() {
		return domain.Normalized{}, &domain.ValidationError{Field: "stage", Reason: "unknown value " + rec.Fields["stage"]}
	}
	at := parseTimestamp(rec.Fields["timestamp"], b.clk.Now())
	return domain.Normalized{
		Item: &domain.ItemStageUpdate{ItemID: itemID, Stage: stage, RecordedAt: at},
	}, nil
}

func stageFromLabel(raw string) domain.Stage {
	if stage, ok := stageLabels[strings.TrimSpace(raw)]; ok {
		return stage
	}
	return domain.Stage(strings.TrimSpace(raw))
}

func requireField(fields map[string]string, name string) (string, error) {
	v := strings.TrimSpace(fields[name])
	if v == "" {
		return "", &domain.ValidationError{Field: name, Reason: "missing"}
	}
	return v, nil
}

func parseOrder(raw string) (int, error) {
	order, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || order < 0 {
		return 0, &domain.ValidationError{Field: "order", Reason: "not a non-negative integer"}
	}
	return order, nil
}

func parseTimestamp(raw string, fallback time.Time) time.Time {
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, strings.TrimSpace(raw)); err == nil {
			return t
		}
	}
	return fallback
}
