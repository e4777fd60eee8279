// Package csvbackend writes the run manifest as a CSV file, convenient for
// opening a batch's provenance in a spreadsheet.
package csvbackend

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/FranksOps/imgfetch/internal/storage"
)

var _ storage.Backend = (*backend)(nil)

var columns = []string{
	"id", "run_id", "query", "index", "source_url", "path",
	"width", "height", "bytes", "duration_ms", "created_at", "error",
}

type backend struct {
	mu   sync.Mutex
	file *os.File
}

// New opens path for appending and writes the header row into a new file.
func New(path string) (storage.Backend, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("csvbackend: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("csvbackend: %w", err)
	}
	if info.Size() == 0 {
		if err := writeRow(f, columns); err != nil {
			f.Close()
			return nil, err
		}
	}
	return &backend{file: f}, nil
}

func writeRow(w io.Writer, row []string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(row); err != nil {
		return fmt.Errorf("csvbackend: write: %w", err)
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("csvbackend: flush: %w", err)
	}
	return nil
}

func (b *backend) Save(ctx context.Context, r *storage.Record) error {
	row := []string{
		r.ID,
		r.RunID,
		r.Query,
		strconv.Itoa(r.Index),
		r.SourceURL,
		r.Path,
		strconv.Itoa(r.Width),
		strconv.Itoa(r.Height),
		strconv.FormatInt(r.Bytes, 10),
		strconv.FormatInt(r.Duration.Milliseconds(), 10),
		r.CreatedAt.UTC().Format(time.RFC3339Nano),
		r.Error,
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	return writeRow(b.file, row)
}

func (b *backend) Query(ctx context.Context, f storage.Filter) ([]*storage.Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, err := b.file.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("csvbackend: %w", err)
	}
	defer b.file.Seek(0, io.SeekEnd)

	cr := csv.NewReader(b.file)
	cr.FieldsPerRecord = len(columns)
	if _, err := cr.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			return []*storage.Record{}, nil
		}
		return nil, fmt.Errorf("csvbackend: header: %w", err)
	}

	var matched []*storage.Record
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("csvbackend: read: %w", err)
		}
		r, err := parseRow(row)
		if err != nil {
			return nil, err
		}
		if f.Match(r) {
			matched = append(matched, r)
		}
	}
	return f.Page(matched), nil
}

func parseRow(row []string) (*storage.Record, error) {
	r := &storage.Record{
		ID:        row[0],
		RunID:     row[1],
		Query:     row[2],
		SourceURL: row[4],
		Path:      row[5],
		Error:     row[11],
	}

	var err error
	atoi := func(s string) int {
		n, e := strconv.Atoi(s)
		if e != nil && err == nil {
			err = e
		}
		return n
	}
	r.Index = atoi(row[3])
	r.Width = atoi(row[6])
	r.Height = atoi(row[7])
	r.Bytes = int64(atoi(row[8]))
	r.Duration = time.Duration(atoi(row[9])) * time.Millisecond
	if err != nil {
		return nil, fmt.Errorf("csvbackend: record %s: %w", r.ID, err)
	}

	r.CreatedAt, err = time.Parse(time.RFC3339Nano, row[10])
	if err != nil {
		return nil, fmt.Errorf("csvbackend: record %s: %w", r.ID, err)
	}
	return r, nil
}

func (b *backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.file.Close()
}
