package instance

import (
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"chatd/internal/llm"
	"chatd/pkg/types"
)

// Registry maps model identifiers to handles. Handles are created on first
// use and never evicted.
type Registry struct {
	backend llm.Backend
	log     zerolog.Logger

	mu      sync.RWMutex
	handles map[string]*Handle

	// onCreate, when set, is called after a new handle is stored.
	onCreate func(size int)
}

func NewRegistry(b llm.Backend, log zerolog.Logger) *Registry {
	return &Registry{
		backend: b,
		log:     log.With().Str("component", "registry").Logger(),
		handles: make(map[string]*Handle),
	}
}

// OnCreate installs a hook observed after each handle creation.
func (r *Registry) OnCreate(fn func(size int)) { r.onCreate = fn }

// GetOrCreate returns the handle for modelID, creating it with temperature
// if absent. An existing handle has its temperature overwritten and is
// returned as the same pointer.
func (r *Registry) GetOrCreate(modelID string, temperature float64) *Handle {
	r.mu.RLock()
	h, ok := r.handles[modelID]
	r.mu.RUnlock()
	if ok {
		h.SetTemperature(temperature)
		return h
	}

	r.mu.Lock()
	if h2, ok2 := r.handles[modelID]; ok2 {
		r.mu.Unlock()
		h2.SetTemperature(temperature)
		return h2
	}
	h = newHandle(r.backend, modelID, temperature, CachedMaxTokens, false)
	r.handles[modelID] = h
	size := len(r.handles)
	r.mu.Unlock()

	r.log.Info().Str("event", "handle_created").Str("model", modelID).Float64("temperature", temperature).Int("size", size).Msg("registry")
	if r.onCreate != nil {
		r.onCreate(size)
	}
	return h
}

// Preload creates handles for ids ahead of the first request.
func (r *Registry) Preload(ids []string, temperature float64) {
	for _, id := range ids {
		if id == "" {
			continue
		}
		r.GetOrCreate(id, temperature)
	}
}

// NewDedicated builds a streaming handle that is not stored in the registry.
func (r *Registry) NewDedicated(modelID string, temperature float64) *Handle {
	return newHandle(r.backend, modelID, temperature, StreamingMaxTokens, true)
}

// Len reports the number of cached handles.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handles)
}

// Snapshot lists cached handles ordered by model identifier.
func (r *Registry) Snapshot() []types.HandleStatus {
	r.mu.RLock()
	out := make([]types.HandleStatus, 0, len(r.handles))
	for _, h := range r.handles {
		out = append(out, types.HandleStatus{
			ModelID:     h.modelID,
			Temperature: h.Temperature(),
			TopK:        h.topK,
			TopP:        h.topP,
			MaxTokens:   h.maxTokens,
			CreatedUnix: h.created.Unix(),
		})
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ModelID < out[j].ModelID })
	return out
}

// Backend returns the backend shared by every handle.
func (r *Registry) Backend() llm.Backend { return r.backend }
