package vectorstore

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	"chatd/internal/embedding"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "idx", "index.db"), Collection("mistral"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func mustAdd(t *testing.T, s Store, input, output string, v embedding.Vector) {
	t.Helper()
	if _, err := s.Add(context.Background(), input, output, v); err != nil {
		t.Fatalf("add %q: %v", input, err)
	}
}

func mustCount(t *testing.T, s Store) int {
	t.Helper()
	n, err := s.Count(context.Background())
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

func TestAddQueryTopK(t *testing.T) {
	s := newTestStore(t)
	mustAdd(t, s, "x", "about x", embedding.Vector{1, 0, 0})
	mustAdd(t, s, "y", "about y", embedding.Vector{0, 1, 0})
	mustAdd(t, s, "xy", "about xy", embedding.Vector{1, 1, 0})
	mustAdd(t, s, "z", "about z", embedding.Vector{0, 0, 1})
	if n := mustCount(t, s); n != 4 {
		t.Fatalf("count=%d", n)
	}

	got, err := s.Query(context.Background(), embedding.Vector{1, 0.1, 0}, 3)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 matches, got %d", len(got))
	}
	for i, want := range []string{"x", "xy", "y"} {
		if got[i].Input != want {
			t.Fatalf("match %d = %q, want %q", i, got[i].Input, want)
		}
	}
	if math.Abs(got[0].Score-1.0) > 0.01 {
		t.Fatalf("top score=%v", got[0].Score)
	}
	if e := got[0].Embedding; len(e) != 3 || e[0] != 1 || e[1] != 0 || e[2] != 0 {
		t.Fatalf("embedding not round-tripped: %v", e)
	}
	if got[0].CreatedAt.IsZero() {
		t.Fatalf("missing created_at")
	}
}

func TestQueryEmptyAndDimensionMismatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if got, err := s.Query(ctx, embedding.Vector{1, 0}, 3); err != nil || len(got) != 0 {
		t.Fatalf("empty index: %v %v", got, err)
	}
	mustAdd(t, s, "a", "b", embedding.Vector{1, 0, 0})
	if got, err := s.Query(ctx, embedding.Vector{1, 0}, 3); err != nil || len(got) != 0 {
		t.Fatalf("dimension mismatch matched: %v %v", got, err)
	}
	if _, err := s.Add(ctx, "a", "b", nil); err == nil {
		t.Fatalf("empty vector accepted")
	}
}

func TestPoolReusesAndPersists(t *testing.T) {
	dir := t.TempDir()
	p, err := NewPool(dir)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	a, err := p.Open("mistral")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	b, err := p.Open("mistral")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if a != b {
		t.Fatalf("pool returned a second store for the same model")
	}
	mustAdd(t, a, "hello", "hi", embedding.Vector{0.5, 0.5})
	if _, err := os.Stat(filepath.Join(dir, "vector_memory_mistral", "index.db")); err != nil {
		t.Fatalf("index file: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	p2, err := NewPool(dir)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	defer p2.Close()
	c, err := p2.Open("mistral")
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if n := mustCount(t, c); n != 1 {
		t.Fatalf("persisted count=%d", n)
	}
	other, err := p2.Open("tinyllama")
	if err != nil {
		t.Fatalf("open other: %v", err)
	}
	if n := mustCount(t, other); n != 0 {
		t.Fatalf("other model count=%d", n)
	}
}

func TestPoolSeparatesSimilarModelIDs(t *testing.T) {
	p, err := NewPool(t.TempDir())
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	defer p.Close()
	if DBPath("d", "llama3:8b") == DBPath("d", "llama3_8b") || Collection("llama3:8b") == Collection("llama3_8b") {
		t.Fatalf("distinct models share an index")
	}
	a, err := p.Open("llama3:8b")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	b, err := p.Open("llama3_8b")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if a == b {
		t.Fatalf("pool returned one store for two models")
	}
	mustAdd(t, a, "hi", "hello", embedding.Vector{1, 0})
	if n := mustCount(t, b); n != 0 {
		t.Fatalf("llama3_8b sees %d exchanges of llama3:8b", n)
	}
}
