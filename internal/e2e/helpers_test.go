package e2e

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"chatd/internal/chat"
	"chatd/internal/embedding"
	"chatd/internal/history"
	"chatd/internal/httpapi"
	"chatd/internal/instance"
	"chatd/internal/llm"
	"chatd/internal/memory"
	"chatd/internal/prompt"
	"chatd/internal/vectorstore"
)

// fakeOllama serves /api/chat and /api/embeddings the way a local Ollama
// daemon does. Streamed replies are NDJSON, one fragment per line.
type fakeOllama struct {
	tokens    []string
	streamErr string
	// truncate closes the stream without the final done chunk.
	truncate bool

	mu    sync.Mutex
	chats []fakeChatRequest
}

type fakeChatRequest struct {
	Model    string        `json:"model"`
	Messages []llm.Message `json:"messages"`
	Stream   bool          `json:"stream"`
}

func (f *fakeOllama) lastChat(t *testing.T) fakeChatRequest {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.chats) == 0 {
		t.Fatalf("no chat request reached the fake backend")
	}
	return f.chats[len(f.chats)-1]
}

func (f *fakeOllama) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/api/embeddings":
		var req struct {
			Prompt string `json:"prompt"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"embedding": []float32{1, float32(len(req.Prompt)%7) / 7, 0.5}})
	case "/api/chat":
		var req fakeChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.chats = append(f.chats, req)
		f.mu.Unlock()
		if req.Model == "missing" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"model 'missing' not found"}`))
			return
		}
		w.Header().Set("Content-Type", "application/x-ndjson")
		enc := json.NewEncoder(w)
		if !req.Stream {
			_ = enc.Encode(map[string]any{
				"message": llm.Message{Role: llm.RoleAssistant, Content: strings.Join(f.tokens, "")},
				"done":    true,
			})
			return
		}
		fl, _ := w.(http.Flusher)
		for _, tok := range f.tokens {
			_ = enc.Encode(map[string]any{"message": llm.Message{Role: llm.RoleAssistant, Content: tok}, "done": false})
			if fl != nil {
				fl.Flush()
			}
		}
		if f.streamErr != "" {
			_ = enc.Encode(map[string]any{"error": f.streamErr})
			return
		}
		if f.truncate {
			return
		}
		_ = enc.Encode(map[string]any{"message": llm.Message{Role: llm.RoleAssistant}, "done": true, "done_reason": "stop"})
	default:
		http.NotFound(w, r)
	}
}

type stack struct {
	srv     *httptest.Server
	ollama  *fakeOllama
	history *history.FileStore
	service *chat.Service
}

// newStack wires the full service against a fake Ollama daemon.
func newStack(t *testing.T, fo *fakeOllama) stack {
	t.Helper()
	upstream := httptest.NewServer(fo)
	t.Cleanup(upstream.Close)
	s := wireStack(t, upstream.URL)
	s.ollama = fo
	return s
}

// wireStack builds the service graph the same way the chatd binary does.
func wireStack(t *testing.T, ollamaURL string) stack {
	t.Helper()
	hs, err := history.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	pool, err := vectorstore.NewPool(t.TempDir())
	if err != nil {
		t.Fatalf("vector pool: %v", err)
	}
	t.Cleanup(func() { _ = pool.Close() })
	emb, err := embedding.New("ollama", "all-minilm", ollamaURL)
	if err != nil {
		t.Fatalf("embedder: %v", err)
	}

	backend := llm.NewOllamaBackend(ollamaURL, 0, 0, zerolog.Nop())
	svc := chat.NewService(chat.Options{
		Registry:  instance.NewRegistry(backend, zerolog.Nop()),
		Templates: prompt.NewCache(),
		Memory: memory.NewLoader(memory.LoaderOptions{
			History:  hs,
			Pool:     pool,
			Embedder: emb,
		}),
		Logger: zerolog.Nop(),
	})
	svc.Preload([]string{"mistral", "tinyllama"}, 0.3)

	srv := httptest.NewServer(httpapi.NewMux(svc))
	t.Cleanup(srv.Close)
	return stack{srv: srv, history: hs, service: svc}
}
