package embedding

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name     string
		a, b     Vector
		expected float64
	}{
		{"identical", Vector{1, 0, 0}, Vector{1, 0, 0}, 1.0},
		{"orthogonal", Vector{1, 0, 0}, Vector{0, 1, 0}, 0.0},
		{"opposite", Vector{1, 0, 0}, Vector{-1, 0, 0}, -1.0},
		{"similar", Vector{1, 1, 0}, Vector{1, 0, 0}, 0.7071},
		{"empty", Vector{}, Vector{}, 0.0},
		{"different lengths", Vector{1, 0}, Vector{1, 0, 0}, 0.0},
		{"zero vector", Vector{0, 0, 0}, Vector{1, 0, 0}, 0.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CosineSimilarity(tt.a, tt.b); math.Abs(got-tt.expected) > 0.001 {
				t.Errorf("CosineSimilarity(%v, %v) = %f, want %f", tt.a, tt.b, got, tt.expected)
			}
		})
	}
}

func TestHashEmbedderRanksSharedWords(t *testing.T) {
	e := NewHashEmbedder(512)
	ctx := context.Background()
	q, _ := e.Embed(ctx, "What is the capital of France?")
	near, _ := e.Embed(ctx, "the capital of France is Paris")
	far, _ := e.Embed(ctx, "bananas grow on tropical trees")
	if len(q) != 512 || e.Dims() != 512 {
		t.Fatalf("dims=%d", len(q))
	}
	if CosineSimilarity(q, near) <= CosineSimilarity(q, far) {
		t.Fatalf("expected shared-word text to score higher")
	}
	again, _ := e.Embed(ctx, "what is the CAPITAL of france")
	if math.Abs(CosineSimilarity(q, again)-1) > 1e-5 {
		t.Fatalf("expected deterministic, case-insensitive embedding")
	}
}

func TestOllamaEmbedder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embeddings" {
			http.NotFound(w, r)
			return
		}
		var req ollamaRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Model != "all-minilm" || req.Prompt != "hello" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(ollamaResponse{Embedding: []float32{0.1, 0.2, 0.3}})
	}))
	defer srv.Close()

	e := NewOllamaEmbedder(srv.URL, "")
	if e.Dims() != 384 {
		t.Fatalf("dims=%d", e.Dims())
	}
	v, err := e.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(v) != 3 || v[2] != 0.3 {
		t.Fatalf("unexpected vector %v", v)
	}
	if _, err := e.Embed(context.Background(), "other"); err == nil {
		t.Fatalf("expected error on non-200")
	}
}

func TestNewProviders(t *testing.T) {
	if e, err := New("hash", "", ""); err != nil || e.Dims() != 256 {
		t.Fatalf("hash: %v %v", e, err)
	}
	if e, err := New("", "nomic-embed-text", ""); err != nil || e.Dims() != 768 {
		t.Fatalf("ollama: %v %v", e, err)
	}
	if _, err := New("word2vec", "", ""); err == nil {
		t.Fatalf("expected unknown provider error")
	}
}
