package storage_test

import (
	"context"
	"errors"
	"testing"

	"github.com/FranksOps/imgfetch/internal/storage"
	"github.com/FranksOps/imgfetch/internal/storage/storagetest"
)

func TestMemory(t *testing.T) {
	storagetest.Run(t, storage.NewMemory())
}

type failing struct{ storage.Backend }

func (failing) Save(context.Context, *storage.Record) error { return errors.New("disk full") }
func (failing) Close() error                                { return errors.New("close failed") }

func TestMulti(t *testing.T) {
	ctx := context.Background()
	a, b := storage.NewMemory(), storage.NewMemory()
	m := storage.Multi(a, b)

	if err := m.Save(ctx, &storage.Record{ID: "x", Query: "cats"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	for _, mem := range []*storage.Memory{a, b} {
		got, _ := mem.Query(ctx, storage.Filter{})
		if len(got) != 1 || got[0].ID != "x" {
			t.Errorf("backend got %v", got)
		}
	}
	if err := m.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}

	bad := storage.Multi(failing{}, a)
	if err := bad.Save(ctx, &storage.Record{ID: "y"}); err == nil {
		t.Error("expected save error")
	}
	if got, _ := a.Query(ctx, storage.Filter{}); len(got) != 1 {
		t.Errorf("save continued past failing backend: %d records", len(got))
	}
	if err := bad.Close(); err == nil {
		t.Error("expected close error")
	}
}
