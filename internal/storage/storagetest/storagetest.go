// Package storagetest holds the behaviour every storage.Backend must share.
package storagetest

import (
	"context"
	"slices"
	"testing"
	"time"

	"github.com/FranksOps/imgfetch/internal/storage"
)

// Run saves a small two-run manifest into b and checks the filters, ordering
// and paging a backend must support. b must be empty.
func Run(t *testing.T, b storage.Backend) {
	t.Helper()
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	recs := []*storage.Record{
		{ID: "a1", RunID: "run-a", Query: "red pandas", Index: 1, SourceURL: "https://img.test/1.png", Path: "/out/1.png", Width: 500, Height: 500, Bytes: 1200, Duration: 40 * time.Millisecond, CreatedAt: base},
		{ID: "a2", RunID: "run-a", Query: "red pandas", Index: 2, SourceURL: "https://img.test/2.png", Path: "/out/2.png", Width: 500, Height: 500, Bytes: 900, Duration: 55 * time.Millisecond, CreatedAt: base.Add(time.Second)},
		{ID: "a3", RunID: "run-a", Query: "red pandas", Index: 3, SourceURL: "https://img.test/3.png", CreatedAt: base.Add(2 * time.Second), Error: "decode: unknown format"},
		{ID: "b1", RunID: "run-b", Query: "otters", Index: 1, SourceURL: "https://img.test/o.png", Path: "/out/o.png", Width: 500, Height: 500, Bytes: 700, CreatedAt: base.Add(3 * time.Second)},
	}
	for _, r := range recs {
		if err := b.Save(ctx, r); err != nil {
			t.Fatalf("save %s: %v", r.ID, err)
		}
	}

	all, err := b.Query(ctx, storage.Filter{})
	if err != nil {
		t.Fatalf("query all: %v", err)
	}
	if got := ids(all); !slices.Equal(got, []string{"b1", "a3", "a2", "a1"}) {
		t.Errorf("expected newest first, got %v", got)
	}

	first := find(all, "a1")
	if first == nil {
		t.Fatal("record a1 missing")
	}
	if first.Query != "red pandas" || first.Index != 1 || first.SourceURL != recs[0].SourceURL ||
		first.Path != "/out/1.png" || first.Width != 500 || first.Height != 500 || first.Bytes != 1200 {
		t.Errorf("a1 round-tripped wrong: %+v", first)
	}
	if first.Duration.Milliseconds() != 40 {
		t.Errorf("expected 40ms duration, got %v", first.Duration)
	}
	if !first.CreatedAt.Equal(base) {
		t.Errorf("expected created_at %v, got %v", base, first.CreatedAt)
	}

	runA, err := b.Query(ctx, storage.Filter{RunID: "run-a"})
	if err != nil {
		t.Fatalf("query run-a: %v", err)
	}
	if len(runA) != 3 {
		t.Errorf("expected 3 records for run-a, got %d", len(runA))
	}

	failed := true
	bad, err := b.Query(ctx, storage.Filter{Failed: &failed})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if got := ids(bad); !slices.Equal(got, []string{"a3"}) {
		t.Errorf("expected only a3 to be failed, got %v", got)
	}

	ok := false
	good, err := b.Query(ctx, storage.Filter{Failed: &ok, Query: "red pandas"})
	if err != nil {
		t.Fatalf("query succeeded: %v", err)
	}
	if len(good) != 2 {
		t.Errorf("expected 2 successful red panda records, got %d", len(good))
	}

	since := base.Add(2 * time.Second)
	recent, err := b.Query(ctx, storage.Filter{Since: &since})
	if err != nil {
		t.Fatalf("query since: %v", err)
	}
	if len(recent) != 2 {
		t.Errorf("expected 2 records since %v, got %d", since, len(recent))
	}

	page, err := b.Query(ctx, storage.Filter{Limit: 2, Offset: 1})
	if err != nil {
		t.Fatalf("query page: %v", err)
	}
	if got := ids(page); !slices.Equal(got, []string{"a3", "a2"}) {
		t.Errorf("expected page [a3 a2], got %v", got)
	}
}

func ids(rs []*storage.Record) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.ID
	}
	return out
}

func find(rs []*storage.Record, id string) *storage.Record {
	for _, r := range rs {
		if r.ID == id {
			return r
		}
	}
	return nil
}
