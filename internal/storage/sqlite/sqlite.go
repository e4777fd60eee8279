// Package sqlite stores the run manifest in a SQLite database via the
// pure-Go modernc driver.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/FranksOps/imgfetch/internal/storage"
	_ "modernc.org/sqlite"
)

var _ storage.Backend = (*backend)(nil)

type backend struct {
	db *sql.DB
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
	bytes INTEGER NOT NULL,
	duration_ms INTEGER NOT NULL,
	created_at DATETIME NOT NULL,
	error TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS image_records_run ON image_records (run_id, idx);
`

// New opens (creating if needed) the database at dsn.
func New(dsn string) (storage.Backend, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: schema: %w", err)
	}
	return &backend{db: db}, nil
}

func (b *backend) Save(ctx context.Context, r *storage.Record) error {
	_, err := b.db.ExecContext(ctx, `
	INSERT INTO image_records (
		id, run_id, query, idx, source_url, path, width, height, bytes, duration_ms, created_at, error
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.RunID, r.Query, r.Index, r.SourceURL, r.Path,
		r.Width, r.Height, r.Bytes, r.Duration.Milliseconds(), r.CreatedAt.UTC(), r.Error,
	)
	if err != nil {
		return fmt.Errorf("sqlite: insert %s: %w", r.ID, err)
	}
	return nil
}

func (b *backend) Query(ctx context.Context, f storage.Filter) ([]*storage.Record, error) {
	q := `SELECT id, run_id, query, idx, source_url, path, width, height, bytes, duration_ms, created_at, error
	FROM image_records WHERE 1=1`
	var args []any

	if f.RunID != "" {
		q += ` AND run_id = ?`
		args = append(args, f.RunID)
	}
	if f.Query != "" {
		q += ` AND query = ?`
		args = append(args, f.Query)
	}
	if f.Failed != nil {
		if *f.Failed {
			q += ` AND error != ''`
		} else {
			q += ` AND error = ''`
		}
	}
	if f.Since != nil {
		q += ` AND created_at >= ?`
		args = append(args, f.Since.UTC())
	}

	q += ` ORDER BY created_at DESC, idx DESC`

	if f.Limit > 0 || f.Offset > 0 {
		limit := f.Limit
		if limit <= 0 {
			limit = -1
		}
		q += ` LIMIT ? OFFSET ?`
		args = append(args, limit, f.Offset)
	}

	rows, err := b.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query: %w", err)
	}
	defer rows.Close()

	var out []*storage.Record
	for rows.Next() {
		var r storage.Record
		var ms int64
		if err := rows.Scan(&r.ID, &r.RunID, &r.Query, &r.Index, &r.SourceURL, &r.Path,
			&r.Width, &r.Height, &r.Bytes, &ms, &r.CreatedAt, &r.Error); err != nil {
			return nil, fmt.Errorf("sqlite: scan: %w", err)
		}
		r.Duration = time.Duration(ms) * time.Millisecond
		out = append(out, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: rows: %w", err)
	}
	return out, nil
}

func (b *backend) Close() error {
	return b.db.Close()
}
