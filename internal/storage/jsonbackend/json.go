// Package jsonbackend appends manifest records to a newline-delimited JSON
// file. The CLI defaults it to imgfetch.jsonl in the working directory.
package jsonbackend

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/FranksOps/imgfetch/internal/storage"
)

var _ storage.Backend = (*backend)(nil)

type backend struct {
	mu   sync.Mutex
	file *os.File
}

// New opens path for appending, creating it if needed.
func New(path string) (storage.Backend, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("jsonbackend: %w", err)
	}
	return &backend{file: f}, nil
}

func (b *backend) Save(ctx context.Context, r *storage.Record) error {
	line, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("jsonbackend: encode %s: %w", r.ID, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, err := b.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("jsonbackend: write: %w", err)
	}
	return nil
}

func (b *backend) Query(ctx context.Context, f storage.Filter) ([]*storage.Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, err := b.file.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("jsonbackend: %w", err)
	}
	defer b.file.Seek(0, io.SeekEnd)

	var matched []*storage.Record
	sc := bufio.NewScanner(b.file)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		if len(sc.Bytes()) == 0 {
			continue
		}
		var r storage.Record
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			return nil, fmt.Errorf("jsonbackend: decode: %w", err)
		}
		if f.Match(&r) {
			matched = append(matched, &r)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("jsonbackend: read: %w", err)
	}
	return f.Page(matched), nil
}

func (b *backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.file.Close()
}
