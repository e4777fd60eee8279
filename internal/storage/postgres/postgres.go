// Package postgres stores the run manifest in PostgreSQL through pgx.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/FranksOps/imgfetch/internal/storage"
	"github.com/jackc/pgx/v5/pgxpool"
)

var _ storage.Backend = (*backend)(nil)

type backend struct {
	pool *pgxpool.Pool
}

const schema = `
CREATE TABLE IF NOT EXISTS image_records (
	id TEXT PRIMARY KEY,
	run_id TEXT NOT NULL,
	query TEXT NOT NULL,
	idx INTEGER NOT NULL,
	source_url TEXT NOT NULL,
	path TEXT NOT NULL,
	width INTEGER NOT NULL,
	height INTEGER NOT NULL,
	bytes BIGINT NOT NULL,
	duration_ms BIGINT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	error TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS image_records_run ON image_records (run_id, idx);
`

// New connects to dsn, verifies the connection and ensures the schema.
func New(ctx context.Context, dsn string) (storage.Backend, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: schema: %w", err)
	}
	return &backend{pool: pool}, nil
}

func (b *backend) Save(ctx context.Context, r *storage.Record) error {
	_, err := b.pool.Exec(ctx, `
	INSERT INTO image_records (
		id, run_id, query, idx, source_url, path, width, height, bytes, duration_ms, created_at, error
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		r.ID, r.RunID, r.Query, r.Index, r.SourceURL, r.Path,
		r.Width, r.Height, r.Bytes, r.Duration.Milliseconds(), r.CreatedAt, r.Error,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert %s: %w", r.ID, err)
	}
	return nil
}

func (b *backend) Query(ctx context.Context, f storage.Filter) ([]*storage.Record, error) {
	q := `SELECT id, run_id, query, idx, source_url, path, width, height, bytes, duration_ms, created_at, error
	FROM image_records WHERE 1=1`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.RunID != "" {
		q += ` AND run_id = ` + arg(f.RunID)
	}
	if f.Query != "" {
		q += ` AND query = ` + arg(f.Query)
	}
	if f.Failed != nil {
		if *f.Failed {
			q += ` AND error <> ''`
		} else {
			q += ` AND error = ''`
		}
	}
	if f.Since != nil {
		q += ` AND created_at >= ` + arg(*f.Since)
	}

	q += ` ORDER BY created_at DESC, idx DESC`

	if f.Limit > 0 {
		q += ` LIMIT ` + arg(f.Limit)
	}
	if f.Offset > 0 {
		q += ` OFFSET ` + arg(f.Offset)
	}

	rows, err := b.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query: %w", err)
	}
	defer rows.Close()

	var out []*storage.Record
	for rows.Next() {
		var r storage.Record
		var ms int64
		if err := rows.Scan(&r.ID, &r.RunID, &r.Query, &r.Index, &r.SourceURL, &r.Path,
			&r.Width, &r.Height, &r.Bytes, &ms, &r.CreatedAt, &r.Error); err != nil {
			return nil, fmt.Errorf("postgres: scan: %w", err)
		}
		r.Duration = time.Duration(ms) * time.Millisecond
		out = append(out, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows: %w", err)
	}
	return out, nil
}

func (b *backend) Close() error {
	b.pool.Close()
	return nil
}
