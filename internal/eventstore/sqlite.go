package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

const runLogSchema = `
CREATE TABLE IF NOT EXISTS run_events (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id      TEXT    NOT NULL,
	stream      TEXT    NOT NULL DEFAULT '',
	event_type  TEXT    NOT NULL,
	occurred_at INTEGER NOT NULL,
	payload     TEXT    NOT NULL,
	metadata    TEXT
);
CREATE INDEX IF NOT EXISTS run_events_run ON run_events(run_id, seq);
CREATE INDEX IF NOT EXISTS run_events_stream ON run_events(stream, seq) WHERE stream <> '';
CREATE INDEX IF NOT EXISTS run_events_time ON run_events(occurred_at);
`

const selectRunEvents = `SELECT seq, run_id, stream, event_type, occurred_at, payload, metadata FROM run_events`

// SQLiteStore keeps the run log in a SQLite database.
type SQLiteStore struct {
	db  *sql.DB
	mu  sync.RWMutex
	now func() time.Time
}

// NewSQLiteStore opens (and creates if needed) the run log at dbPath.
// ":memory:" gives a private in-memory log.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(runLogSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

// Append records ev. Events without a timestamp are stamped with the store clock.
func (s *SQLiteStore) Append(ctx context.Context, ev Event) error {
	var meta []byte
	if m := ev.Metadata(); m != nil {
		var err error
		if meta, err = json.Marshal(m); err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
	}
	at := ev.Timestamp()
	if at.IsZero() {
		at = s.now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_events (run_id, stream, event_type, occurred_at, payload, metadata) VALUES (?, ?, ?, ?, ?, ?)`,
		ev.RunID(), ev.Stream(), ev.Type(), at.UnixMilli(), string(ev.Payload()), meta)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrEventAppendFailed, err)
	}
	return nil
}

func (s *SQLiteStore) GetByRunID(ctx context.Context, runID string) ([]Event, error) {
	return s.query(ctx, ` WHERE run_id = ? ORDER BY seq`, runID)
}

func (s *SQLiteStore) GetByStream(ctx context.Context, stream string) ([]Event, error) {
	return s.query(ctx, ` WHERE stream = ? ORDER BY seq`, stream)
}

func (s *SQLiteStore) GetRange(ctx context.Context, start, end time.Time) ([]Event, error) {
	return s.query(ctx, ` WHERE occurred_at BETWEEN ? AND ? ORDER BY seq`, start.UnixMilli(), end.UnixMilli())
}

func (s *SQLiteStore) query(ctx context.Context, where string, args ...any) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, selectRunEvents+where, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEventQueryFailed, err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			e       BaseEvent
			atMilli int64
			payload string
			meta    []byte
		)
		if err := rows.Scan(&e.Seq, &e.Run, &e.StreamName, &e.Kind, &atMilli, &payload, &meta); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.At = time.UnixMilli(atMilli)
		e.Data = []byte(payload)
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &e.Meta); err != nil {
				return nil, fmt.Errorf("unmarshal metadata: %w", err)
			}
		}
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return events, nil
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}
