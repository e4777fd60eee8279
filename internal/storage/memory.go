package storage

import (
	"context"
	"errors"
	"sync"
)

// Memory keeps records in process. The CLI uses it to summarise the current
// run regardless of which persistent backend is configured.
type Memory struct {
	mu      sync.Mutex
	records []*Record
}

var _ Backend = (*Memory)(nil)

// NewMemory returns an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Save(_ context.Context, r *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.records = append(m.records, &cp)
	return nil
}

func (m *Memory) Query(_ context.Context, f Filter) ([]*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matched []*Record
	for _, r := range m.records {
		if f.Match(r) {
			matched = append(matched, r)
		}
	}
	return f.Page(matched), nil
}

func (m *Memory) Close() error { return nil }

// Multi writes every record to all backends in order and stops at the first
// error. Query is served by the first backend.
func Multi(backends ...Backend) Backend {
	return multi(backends)
}

type multi []Backend

func (m multi) Save(ctx context.Context, r *Record) error {
	for _, b := range m {
		if err := b.Save(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

func (m multi) Query(ctx context.Context, f Filter) ([]*Record, error) {
	if len(m) == 0 {
		return nil, nil
	}
	return m[0].Query(ctx, f)
}

func (m multi) Close() error {
	var errs []error
	for _, b := range m {
		errs = append(errs, b.Close())
	}
	return errors.Join(errs...)
}
