// Package storage defines the run manifest: one Record per image the fetcher
// processed, and the Backend interface the manifest is written through.
package storage

import (
	"context"
	"time"
)

// Record describes one processed search result.
type Record struct {
	ID        string        `json:"id"`
	RunID     string        `json:"run_id"`
	Query     string        `json:"query"`
	Index     int           `json:"index"` // 1-based position in the provider's result order
	SourceURL string        `json:"source_url"`
	Path      string        `json:"path"`
	Width     int           `json:"width"`
	Height    int           `json:"height"`
	Bytes     int64         `json:"bytes"`
	Duration  time.Duration `json:"duration"`
	CreatedAt time.Time     `json:"created_at"`
	Error     string        `json:"error,omitempty"` // set when this item aborted the run
}

// Failed reports whether the record describes the item that aborted a run.
func (r *Record) Failed() bool {
	return r.Error != ""
}

// Filter narrows a Query. Zero values match everything.
type Filter struct {
	RunID  string
	Query  string
	Failed *bool
	Since  *time.Time
	Limit  int
	Offset int
}

// Match applies the field filters (not Limit/Offset) to r.
func (f Filter) Match(r *Record) bool {
	if f.RunID != "" && r.RunID != f.RunID {
		return false
	}
	if f.Query != "" && r.Query != f.Query {
		return false
	}
	if f.Failed != nil && r.Failed() != *f.Failed {
		return false
	}
	if f.Since != nil && r.CreatedAt.Before(*f.Since) {
		return false
	}
	return true
}

// Page orders records newest first and applies Offset and Limit. File
// backends use it; SQL backends push the same work into the query.
func (f Filter) Page(records []*Record) []*Record {
	out := make([]*Record, 0, len(records))
	for i := len(records) - 1; i >= 0; i-- {
		out = append(out, records[i])
	}
	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return []*Record{}
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && f.Limit < len(out) {
		out = out[:f.Limit]
	}
	return out
}

// Backend persists manifest records.
type Backend interface {
	Save(ctx context.Context, rec *Record) error
	Query(ctx context.Context, filter Filter) ([]*Record, error)
	Close() error
}
