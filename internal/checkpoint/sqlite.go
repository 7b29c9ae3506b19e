package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps state documents in a SQLite table.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates the database at dbPath. Use ":memory:" in tests.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// A single connection keeps ":memory:" databases shared across calls.
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db}
	if err := store.initialize(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) initialize() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS checkpoints (
		stream TEXT PRIMARY KEY,
		document BLOB NOT NULL,
		updated_at INTEGER NOT NULL
	);`)
	return err
}

func (s *SQLiteStore) Load(ctx context.Context, stream string) ([]byte, error) {
	var doc []byte
	err := s.db.QueryRowContext(ctx, "SELECT document FROM checkpoints WHERE stream = ?", stream).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query checkpoint: %w", err)
	}
	return doc, nil
}

func (s *SQLiteStore) Save(ctx context.Context, stream string, doc []byte) error {
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO checkpoints (stream, document, updated_at) VALUES (?, ?, ?)
	ON CONFLICT(stream) DO UPDATE SET document = excluded.document, updated_at = excluded.updated_at`,
		stream, doc, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("upsert checkpoint: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
