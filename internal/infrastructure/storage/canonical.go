package storage

import (
	"context"
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/bxtxh/seiji-watch-sub000/internal/domain"
	"github.com/bxtxh/seiji-watch-sub000/internal/ports"
)

var (
	_ ports.CanonicalStore = (*Store)(nil)
	_ ports.AliasStore     = (*Store)(nil)
	_ ports.SnapshotStore  = (*Store)(nil)
)

// UpsertMeeting creates or updates the meeting row. Meetings are never
// deleted.
func (s *Store) UpsertMeeting(ctx context.Context, m domain.CanonicalMeeting) error {
	unlock := s.lockMeeting(m.MeetingID)
	defer unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO meetings (meeting_id, meeting_date, chamber, committee, session_number)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(meeting_id) DO UPDATE SET
			meeting_date = excluded.meeting_date,
			chamber = excluded.chamber,
			committee = excluded.committee,
			session_number = excluded.session_number`,
		m.MeetingID, encodeTime(m.Date), m.Chamber, m.Committee, m.SessionNumber)
	if err != nil {
		return fmt.Errorf("upsert meeting %s: %w", m.MeetingID, err)
	}
	return nil
}

// InsertSpeech inserts the speech unless its (meeting_id, order) key already
// exists, making ingestion reruns produce no duplicate rows.
func (s *Store) InsertSpeech(ctx context.Context, sp domain.CanonicalSpeech) error {
	unlock := s.lockMeeting(sp.MeetingID)
	defer unlock()

	var confidence any
	if sp.Confidence != nil {
		confidence = *sp.Confidence
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO speeches (speech_id, meeting_id, speaker_ref, speech_order, body, spoken_at, confidence)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sp.SpeechID, sp.MeetingID, sp.SpeakerRef, sp.Order, sp.Text, encodeTime(sp.Timestamp), confidence)
	if err != nil {
		return fmt.Errorf("insert speech %s: %w", sp.SpeechID, err)
	}
	return nil
}

// RecordStage appends a stage transition for the item. An unchanged stage is
// a no-op; history entries are never overwritten.
func (s *Store) RecordStage(ctx context.Context, upd domain.ItemStageUpdate) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin stage tx: %w", err)
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx, `SELECT stage FROM items WHERE item_id = ?`, upd.ItemID).Scan(&current)
	switch {
	case err == sql.ErrNoRows:
		if _, err := tx.ExecContext(ctx, `INSERT INTO items (item_id, stage) VALUES (?, ?)`,
			upd.ItemID, string(upd.Stage)); err != nil {
			return fmt.Errorf("insert item %s: %w", upd.ItemID, err)
		}
	case err != nil:
		return fmt.Errorf("read item %s: %w", upd.ItemID, err)
	case current == string(upd.Stage):
		return nil
	default:
		if _, err := tx.ExecContext(ctx, `UPDATE items SET stage = ? WHERE item_id = ?`,
			string(upd.Stage), upd.ItemID); err != nil {
			return fmt.Errorf("update item %s: %w", upd.ItemID, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO item_stage_history (item_id, stage, recorded_at) VALUES (?, ?, ?)`,
		upd.ItemID, string(upd.Stage), encodeTime(upd.RecordedAt)); err != nil {
		return fmt.Errorf("append stage history %s: %w", upd.ItemID, err)
	}

	return tx.Commit()
}

// ListItems returns all tracked items with their current stage.
func (s *Store) ListItems(ctx context.Context) ([]domain.LegislativeItem, error) {
	query, args, err := s.sb.Select("item_id", "stage").From("items").OrderBy("item_id").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build items query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	defer rows.Close()

	var items []domain.LegislativeItem
	for rows.Next() {
		var item domain.LegislativeItem
		var stage string
		if err := rows.Scan(&item.ItemID, &stage); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		item.Stage = domain.Stage(stage)
		items = append(items, item)
	}
	return items, rows.Err()
}

// ItemHistory returns the ordered stage history for one item.
func (s *Store) ItemHistory(ctx context.Context, itemID string) ([]domain.StageEntry, error) {
	query, args, err := s.sb.Select("stage", "recorded_at").
		From("item_stage_history").
		Where(sq.Eq{"item_id": itemID}).
		OrderBy("id").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build history query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query history %s: %w", itemID, err)
	}
	defer rows.Close()

	var entries []domain.StageEntry
	for rows.Next() {
		var stage, at string
		if err := rows.Scan(&stage, &at); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		entries = append(entries, domain.StageEntry{Stage: domain.Stage(stage), RecordedAt: decodeTime(at)})
	}
	return entries, rows.Err()
}

// ListMeetings returns all canonical meetings.
func (s *Store) ListMeetings(ctx context.Context) ([]domain.CanonicalMeeting, error) {
	query, args, err := s.sb.Select("meeting_id", "meeting_date", "chamber", "committee", "session_number").
		From("meetings").OrderBy("meeting_date", "meeting_id").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build meetings query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query meetings: %w", err)
	}
	defer rows.Close()

	var meetings []domain.CanonicalMeeting
	for rows.Next() {
		var m domain.CanonicalMeeting
		var date string
		if err := rows.Scan(&m.MeetingID, &date, &m.Chamber, &m.Committee, &m.SessionNumber); err != nil {
			return nil, fmt.Errorf("scan meeting: %w", err)
		}
		m.Date = decodeTime(date)
		meetings = append(meetings, m)
	}
	return meetings, rows.Err()
}

// Lookup finds the alias row for a raw name within one source.
func (s *Store) Lookup(ctx context.Context, rawName, source string) (domain.SpeakerAlias, bool, error) {
	var alias domain.SpeakerAlias
	var resolved int
	var created string
	err := s.db.QueryRowContext(ctx, `
		SELECT raw_name, source, member_id, resolved, created_at
		FROM speaker_aliases WHERE raw_name = ? AND source = ?`, rawName, source).
		Scan(&alias.RawName, &alias.Source, &alias.MemberID, &resolved, &created)
	if err == sql.ErrNoRows {
		return domain.SpeakerAlias{}, false, nil
	}
	if err != nil {
		return domain.SpeakerAlias{}, false, fmt.Errorf("lookup alias: %w", err)
	}
	alias.Resolved = resolved != 0
	alias.CreatedAt = decodeTime(created)
	return alias, true, nil
}

// CreateAlias inserts a new alias row. An existing mapping is left untouched.
func (s *Store) CreateAlias(ctx context.Context, alias domain.SpeakerAlias) error {
	resolved := 0
	if alias.Resolved {
		resolved = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO speaker_aliases (raw_name, source, member_id, resolved, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		alias.RawName, alias.Source, alias.MemberID, resolved, encodeTime(alias.CreatedAt))
	if err != nil {
		return fmt.Errorf("create alias %s: %w", alias.RawName, err)
	}
	return nil
}

// ListUnresolved returns aliases queued for manual resolution.
func (s *Store) ListUnresolved(ctx context.Context) ([]domain.SpeakerAlias, error) {
	query, args, err := s.sb.Select("raw_name", "source", "member_id", "created_at").
		From("speaker_aliases").
		Where(sq.Eq{"resolved": 0}).
		OrderBy("created_at").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build unresolved query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query unresolved aliases: %w", err)
	}
	defer rows.Close()

	var aliases []domain.SpeakerAlias
	for rows.Next() {
		var a domain.SpeakerAlias
		var created string
		if err := rows.Scan(&a.RawName, &a.Source, &a.MemberID, &created); err != nil {
			return nil, fmt.Errorf("scan alias: %w", err)
		}
		a.CreatedAt = decodeTime(created)
		aliases = append(aliases, a)
	}
	return aliases, rows.Err()
}

// LastStage returns the persisted last-observed stage for an item.
func (s *Store) LastStage(ctx context.Context, itemID string) (domain.Stage, bool, error) {
	var stage string
	err := s.db.QueryRowContext(ctx, `SELECT stage FROM item_snapshots WHERE item_id = ?`, itemID).Scan(&stage)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read snapshot %s: %w", itemID, err)
	}
	return domain.Stage(stage), true, nil
}

// SetStage records the last-observed stage for an item.
func (s *Store) SetStage(ctx context.Context, itemID string, stage domain.Stage) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO item_snapshots (item_id, stage) VALUES (?, ?)
		ON CONFLICT(item_id) DO UPDATE SET stage = excluded.stage`,
		itemID, string(stage))
	if err != nil {
		return fmt.Errorf("set snapshot %s: %w", itemID, err)
	}
	return nil
}

// MeetingObserved reports whether the detector has already seen the meeting.
func (s *Store) MeetingObserved(ctx context.Context, meetingID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM observed_meetings WHERE meeting_id = ?`, meetingID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read observed meeting %s: %w", meetingID, err)
	}
	return true, nil
}

// MarkMeetingObserved records the meeting as seen.
func (s *Store) MarkMeetingObserved(ctx context.Context, meetingID string) error {
	_, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO observed_meetings (meeting_id) VALUES (?)`, meetingID)
	if err != nil {
		return fmt.Errorf("mark meeting observed %s: %w", meetingID, err)
	}
	return nil
}
