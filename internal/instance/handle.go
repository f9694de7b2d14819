// Package instance keeps one live inference handle per model identifier.
package instance

import (
	"context"
	"sync"
	"time"

	"chatd/internal/llm"
)

// Fixed decoding parameters for every handle.
const (
	DefaultTopK = 40
	DefaultTopP = 0.9

	// CachedMaxTokens bounds replies produced by registry handles.
	CachedMaxTokens = 400
	// StreamingMaxTokens bounds replies produced by dedicated streaming handles.
	StreamingMaxTokens = 500
)

// Handle is a configured reference to one model on the backend. Only the
// temperature changes after construction; it is read at invocation time.
type Handle struct {
	modelID   string
	topK      int
	topP      float64
	maxTokens int
	streaming bool
	backend   llm.Backend
	created   time.Time

	mu          sync.RWMutex
	temperature float64
}

func newHandle(b llm.Backend, modelID string, temperature float64, maxTokens int, streaming bool) *Handle {
	return &Handle{
		modelID:     modelID,
		topK:        DefaultTopK,
		topP:        DefaultTopP,
		maxTokens:   maxTokens,
		streaming:   streaming,
		backend:     b,
		created:     time.Now(),
		temperature: temperature,
	}
}

func (h *Handle) ModelID() string { return h.modelID }

// Streaming reports whether the handle was built for the streaming path.
func (h *Handle) Streaming() bool { return h.streaming }

func (h *Handle) MaxTokens() int { return h.maxTokens }

func (h *Handle) CreatedAt() time.Time { return h.created }

// Temperature returns the sampling temperature that the next invocation will use.
func (h *Handle) Temperature() float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.temperature
}

// SetTemperature replaces the sampling temperature in place.
func (h *Handle) SetTemperature(t float64) {
	h.mu.Lock()
	h.temperature = t
	h.mu.Unlock()
}

// Options snapshots the decoding options for one invocation.
func (h *Handle) Options() llm.Options {
	return llm.Options{
		Temperature: h.Temperature(),
		TopK:        h.topK,
		TopP:        h.topP,
		MaxTokens:   h.maxTokens,
	}
}

// Invoke runs one generation. With onToken nil the call blocks until the
// full reply is available; otherwise tokens are delivered in order as they
// are produced.
func (h *Handle) Invoke(ctx context.Context, msgs []llm.Message, onToken llm.TokenFunc) (llm.Result, error) {
	return h.backend.Chat(ctx, llm.Request{
		Model:    h.modelID,
		Messages: msgs,
		Options:  h.Options(),
	}, onToken)
}
