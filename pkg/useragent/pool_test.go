package useragent

import (
	"sync"
	"testing"
)

func TestPool_NextRoundRobin(t *testing.T) {
	p := NewPool([]string{"A", "B", "C"})

	for i, want := range []string{"A", "B", "C", "A"} {
		if got := p.Next(); got != want {
			t.Errorf("call %d: expected %s, got %s", i, want, got)
		}
	}
}

func TestPool_Default(t *testing.T) {
	p := NewPool(nil)
	if p.Len() != len(DefaultAgents) {
		t.Errorf("expected %d agents, got %d", len(DefaultAgents), p.Len())
	}
	if got := p.Next(); got != DefaultAgents[0] {
		t.Errorf("expected %s, got %s", DefaultAgents[0], got)
	}
}

func TestPool_CopiesInput(t *testing.T) {
	in := []string{"A"}
	p := NewPool(in)
	in[0] = "mutated"

	if got := p.Next(); got != "A" {
		t.Errorf("pool should not observe caller mutation, got %s", got)
	}
}

func TestPool_Random(t *testing.T) {
	p := NewPool([]string{"A", "B"})

	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		got := p.Random()
		if got != "A" && got != "B" {
			t.Fatalf("unexpected agent %q", got)
		}
		seen[got] = true
	}
	if !seen["A"] || !seen["B"] {
		t.Errorf("expected both agents to be picked, saw %v", seen)
	}
}

func TestPool_NextConcurrent(t *testing.T) {
	p := NewPool([]string{"A", "B"})

	var wg sync.WaitGroup
	var mu sync.Mutex
	counts := map[string]int{}
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ua := p.Next()
			mu.Lock()
			counts[ua]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	if counts["A"] != 50 || counts["B"] != 50 {
		t.Errorf("expected an even split, got %v", counts)
	}
}
