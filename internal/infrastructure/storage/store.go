// Package storage persists canonical records, change events, subscriptions,
// digest batches and ingestion checkpoints in SQLite.
package storage

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS meetings (
	meeting_id     TEXT PRIMARY KEY,
	meeting_date   TEXT NOT NULL,
	chamber        TEXT NOT NULL,
	committee      TEXT NOT NULL,
	session_number INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS speeches (
	speech_id    TEXT PRIMARY KEY,
	meeting_id   TEXT NOT NULL,
	speaker_ref  TEXT NOT NULL,
	speech_order INTEGER NOT NULL,
	body         TEXT NOT NULL,
	spoken_at    TEXT NOT NULL,
	confidence   REAL,
	UNIQUE(meeting_id, speech_order)
);

CREATE TABLE IF NOT EXISTS speaker_aliases (
	raw_name   TEXT NOT NULL,
	source     TEXT NOT NULL,
	member_id  TEXT NOT NULL DEFAULT '',
	resolved   INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL,
	PRIMARY KEY(raw_name, source)
);

CREATE TABLE IF NOT EXISTS items (
	item_id TEXT PRIMARY KEY,
	stage   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS item_stage_history (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	item_id     TEXT NOT NULL,
	stage       TEXT NOT NULL,
	recorded_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_stage_history_item ON item_stage_history(item_id, id);

CREATE TABLE IF NOT EXISTS item_snapshots (
	item_id TEXT PRIMARY KEY,
	stage   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS observed_meetings (
	meeting_id TEXT PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS change_events (
	event_id     TEXT PRIMARY KEY,
	subject_id   TEXT NOT NULL,
	event_type   TEXT NOT NULL,
	topic        TEXT NOT NULL,
	payload      TEXT NOT NULL,
	fingerprint  TEXT NOT NULL UNIQUE,
	detected_at  TEXT NOT NULL,
	processed_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_events_unprocessed ON change_events(processed_at, detected_at);

CREATE TABLE IF NOT EXISTS subscriptions (
	subscriber_id   TEXT NOT NULL,
	topic_id        TEXT NOT NULL,
	created_at      TEXT NOT NULL,
	confirmed_at    TEXT,
	unsubscribed_at TEXT,
	PRIMARY KEY(subscriber_id, topic_id)
);

CREATE TABLE IF NOT EXISTS digest_batches (
	batch_id      TEXT PRIMARY KEY,
	subscriber_id TEXT NOT NULL,
	window_start  TEXT NOT NULL,
	window_end    TEXT NOT NULL,
	status        TEXT NOT NULL,
	dispatched_at TEXT,
	UNIQUE(subscriber_id, window_start, window_end)
);

CREATE TABLE IF NOT EXISTS digest_batch_events (
	batch_id TEXT NOT NULL,
	event_id TEXT NOT NULL,
	position INTEGER NOT NULL,
	PRIMARY KEY(batch_id, event_id)
);

CREATE TABLE IF NOT EXISTS ingest_checkpoints (
	range_key  TEXT PRIMARY KEY,
	status     TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS used_tokens (
	nonce   TEXT PRIMARY KEY,
	used_at TEXT NOT NULL
);
`

// Store backs every persistence port with one SQLite database.
type Store struct {
	db *sql.DB
	sb sq.StatementBuilderType

	mu           sync.Mutex
	meetingLocks map[string]*sync.Mutex
}

// Open opens (creating if needed) the database at path and applies the schema.
func Open(path string) (*Store, error) {
	dsn := "file:" + path + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{
		db:           db,
		sb:           sq.StatementBuilder.PlaceholderFormat(sq.Question),
		meetingLocks: map[string]*sync.Mutex{},
	}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// lockMeeting serializes canonical writes for one meeting_id. The lock is
// never held across a network call.
func (s *Store) lockMeeting(meetingID string) func() {
	s.mu.Lock()
	l, ok := s.meetingLocks[meetingID]
	if !ok {
		l = &sync.Mutex{}
		s.meetingLocks[meetingID] = l
	}
	s.mu.Unlock()

	l.Lock()
	return l.Unlock
}

func encodeTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func decodeTime(raw string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}

func decodeNullTime(raw sql.NullString) *time.Time {
	if !raw.Valid {
		return nil
	}
	t := decodeTime(raw.String)
	return &t
}
