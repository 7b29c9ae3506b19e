package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"git.home.luguber.info/inful/insightsync/internal/foundation/errors"
	"git.home.luguber.info/inful/insightsync/internal/model"
)

// DefaultBatchSize bounds the number of upserts sent in one round trip.
const DefaultBatchSize = 200

// DB is the subset of *pgxpool.Pool the sink uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

type pgTable struct {
	name string
	pk   []string
	sql  string
}

// Postgres upserts records into one table per stream. Primary key columns are
// stored as text; the whole record is kept in a jsonb column.
type Postgres struct {
	db        DB
	closeFn   func()
	prefix    string
	batchSize int

	mu      sync.Mutex
	tables  map[string]*pgTable
	pending []queued
}

type queued struct {
	table *pgTable
	args  []any
}

// PostgresOption configures a Postgres sink.
type PostgresOption func(*Postgres)

// WithBatchSize overrides DefaultBatchSize.
func WithBatchSize(n int) PostgresOption {
	return func(p *Postgres) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

// NewPostgres wraps an existing connection. closeFn may be nil.
func NewPostgres(db DB, tablePrefix string, closeFn func(), opts ...PostgresOption) *Postgres {
	p := &Postgres{
		db:        db,
		closeFn:   closeFn,
		prefix:    tablePrefix,
		batchSize: DefaultBatchSize,
		tables:    make(map[string]*pgTable),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// OpenPostgres connects a pool to dsn.
func OpenPostgres(ctx context.Context, dsn, tablePrefix string, opts ...PostgresOption) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, errors.WrapError(err, errors.CategoryConfig, "invalid postgres dsn").Fatal().Build()
	}
	cfg.MaxConns = 2
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, errors.WrapError(err, errors.CategorySink, "failed to connect to postgres").Fatal().Build()
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.WrapError(err, errors.CategorySink, "failed to connect to postgres").Fatal().Build()
	}
	return NewPostgres(pool, tablePrefix, pool.Close, opts...), nil
}

func quoteIdent(s string) string {
	return pgx.Identifier{s}.Sanitize()
}

// Prepare creates the stream table if it does not exist.
func (p *Postgres) Prepare(ctx context.Context, info StreamInfo) error {
	if len(info.PrimaryKey) == 0 {
		return errors.ValidationError("stream has no primary key").WithContext("stream", info.Name).Build()
	}
	t := &pgTable{name: quoteIdent(p.prefix + info.Name), pk: info.PrimaryKey}

	cols := make([]string, 0, len(t.pk))
	keys := make([]string, 0, len(t.pk))
	placeholders := make([]string, 0, len(t.pk)+1)
	for i, k := range t.pk {
		cols = append(cols, quoteIdent(k)+" text NOT NULL")
		keys = append(keys, quoteIdent(k))
		placeholders = append(placeholders, fmt.Sprintf("$%d", i+1))
	}
	placeholders = append(placeholders, fmt.Sprintf("$%d", len(t.pk)+1))

	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (%s, data jsonb NOT NULL, synced_at timestamptz NOT NULL DEFAULT now(), PRIMARY KEY (%s))`,
		t.name, strings.Join(cols, ", "), strings.Join(keys, ", "))
	if _, err := p.db.Exec(ctx, ddl); err != nil {
		return errors.WrapError(err, errors.CategorySink, "failed to create table").
			WithContext("table", t.name).
			Build()
	}

	t.sql = fmt.Sprintf(`INSERT INTO %s (%s, data) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET data = EXCLUDED.data, synced_at = now()`,
		t.name, strings.Join(keys, ", "), strings.Join(placeholders, ", "), strings.Join(keys, ", "))

	p.mu.Lock()
	p.tables[info.Name] = t
	p.mu.Unlock()
	return nil
}

// WriteRecord queues an upsert. Records missing a key column are stored with an
// empty key value; rows the transformer passed always carry the key.
func (p *Postgres) WriteRecord(ctx context.Context, stream string, rec model.Record) error {
	p.mu.Lock()
	t, ok := p.tables[stream]
	p.mu.Unlock()
	if !ok {
		return errors.InternalError("stream not prepared").WithContext("stream", stream).Build()
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	args := make([]any, 0, len(t.pk)+1)
	for _, k := range t.pk {
		args = append(args, keyText(rec[k]))
	}
	args = append(args, data)

	p.mu.Lock()
	p.pending = append(p.pending, queued{table: t, args: args})
	full := len(p.pending) >= p.batchSize
	p.mu.Unlock()

	if full {
		return p.Commit(ctx)
	}
	return nil
}

func keyText(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return fmt.Sprintf("%.0f", x)
	default:
		return fmt.Sprint(x)
	}
}

// Commit sends all queued upserts in batches.
func (p *Postgres) Commit(ctx context.Context) error {
	p.mu.Lock()
	pending := p.pending
	p.pending = nil
	p.mu.Unlock()

	for i := 0; i < len(pending); i += p.batchSize {
		j := min(i+p.batchSize, len(pending))
		b := &pgx.Batch{}
		for _, q := range pending[i:j] {
			b.Queue(q.table.sql, q.args...)
		}
		if err := p.send(ctx, b); err != nil {
			return errors.WrapError(err, errors.CategorySink, "failed to upsert records").
				WithContext("batch", j-i).
				Build()
		}
	}
	return nil
}

func (p *Postgres) send(ctx context.Context, b *pgx.Batch) error {
	br := p.db.SendBatch(ctx, b)
	for range b.Len() {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return err
		}
	}
	return br.Close()
}

// WriteState is a no-op; checkpoints live in the checkpoint store.
func (p *Postgres) WriteState(context.Context, string, json.RawMessage) error { return nil }

func (p *Postgres) Close() error {
	if p.closeFn != nil {
		p.closeFn()
	}
	return nil
}
