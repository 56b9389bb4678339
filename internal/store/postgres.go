package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const createRecordsTable = `
CREATE TABLE IF NOT EXISTS verification_records (
key text PRIMARY KEY,
fields jsonb NOT NULL,
expires_at timestamptz,
updated_at timestamptz NOT NULL
)
`

const upsertRecord = `
INSERT INTO verification_records (key, fields, expires_at, updated_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (key) DO UPDATE
SET fields = EXCLUDED.fields,
expires_at = EXCLUDED.expires_at,
updated_at = EXCLUDED.updated_at
`

const selectRecord = `
SELECT fields
FROM verification_records
WHERE key = $1 AND (expires_at IS NULL OR expires_at > $2)
`

var ErrNotConfigured = errors.New("postgres store requires a non-nil pool")

type Postgres struct {
	pool *pgxpool.Pool
	ttl  time.Duration
	now  func() time.Time
}

var _ Store = (*Postgres)(nil)

func NewPostgres(pool *pgxpool.Pool, ttl time.Duration) (*Postgres, error) {
	if pool == nil {
		return nil, ErrNotConfigured
	}
	return &Postgres{pool: pool, ttl: ttl, now: time.Now}, nil
}

// EnsureSchema creates the records table when missing.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, createRecordsTable); err != nil {
		return fmt.Errorf("create verification_records: %w", err)
	}
	return nil
}

func (p *Postgres) Put(ctx context.Context, key string, rec Record) error {
	fields, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	now := p.now().UTC()
	var expiresAt *time.Time
	if p.ttl > 0 {
		t := now.Add(p.ttl)
		expiresAt = &t
	}

	if _, err := p.pool.Exec(ctx, upsertRecord, key, fields, expiresAt, now); err != nil {
		return fmt.Errorf("upsert record: %w", err)
	}
	return nil
}

func (p *Postgres) Get(ctx context.Context, key string) (Record, error) {
	var fields []byte
	if err := p.pool.QueryRow(ctx, selectRecord, key, p.now().UTC()).Scan(&fields); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("select record: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(fields, &rec); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return rec, nil
}

func (p *Postgres) Ping(ctx context.Context) error { return p.pool.Ping(ctx) }

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
