// Package memory exposes the per-model conversation context to a turn:
// either a window over the message log or the most similar past exchanges.
package memory

import (
	"context"
	"errors"
	"fmt"

	"chatd/internal/embedding"
	"chatd/internal/history"
	"chatd/internal/llm"
	"chatd/internal/vectorstore"
)

// Defaults for the window and retrieval sizes.
const (
	DefaultWindowK    = 3
	DefaultRetrievalK = 3
)

// Memory is the conversation context for one request.
type Memory interface {
	// Recall returns role-tagged history for input, oldest first.
	Recall(ctx context.Context, input string) ([]llm.Message, error)
	// Save records one completed exchange.
	Save(ctx context.Context, input, output string) error
	Clear(ctx context.Context) error
}

// WindowMemory exposes the last K exchanges of the model's message log.
type WindowMemory struct {
	store   history.Store
	modelID string
	k       int
}

func NewWindowMemory(store history.Store, modelID string, k int) *WindowMemory {
	if k < 0 {
		k = 0
	}
	return &WindowMemory{store: store, modelID: modelID, k: k}
}

// Recall ignores input; the window is positional.
func (m *WindowMemory) Recall(ctx context.Context, _ string) ([]llm.Message, error) {
	if m.k == 0 {
		return nil, nil
	}
	all, err := m.store.ReadAll(ctx, m.modelID)
	if err != nil {
		return nil, err
	}
	if n := 2 * m.k; len(all) > n {
		all = all[len(all)-n:]
	}
	return all, nil
}

func (m *WindowMemory) Save(ctx context.Context, input, output string) error {
	return m.store.AppendExchange(ctx, m.modelID, input, output)
}

func (m *WindowMemory) Clear(ctx context.Context) error {
	return m.store.Clear(ctx, m.modelID)
}

// RetrievalMemory exposes the K stored exchanges most similar to the input.
type RetrievalMemory struct {
	index    vectorstore.Store
	embedder embedding.Embedder
	k        int
}

func NewRetrievalMemory(index vectorstore.Store, e embedding.Embedder, k int) *RetrievalMemory {
	if k < 0 {
		k = 0
	}
	return &RetrievalMemory{index: index, embedder: e, k: k}
}

// Recall returns matching exchanges as user/assistant pairs, least similar
// first so the closest exchange sits next to the new input.
func (m *RetrievalMemory) Recall(ctx context.Context, input string) ([]llm.Message, error) {
	if m.k == 0 {
		return nil, nil
	}
	vec, err := m.embedder.Embed(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("embed input: %w", err)
	}
	matches, err := m.index.Query(ctx, vec, m.k)
	if err != nil {
		return nil, err
	}
	out := make([]llm.Message, 0, 2*len(matches))
	for i := len(matches) - 1; i >= 0; i-- {
		out = append(out,
			llm.Message{Role: llm.RoleUser, Content: matches[i].Input},
			llm.Message{Role: llm.RoleAssistant, Content: matches[i].Output},
		)
	}
	return out, nil
}

func (m *RetrievalMemory) Save(ctx context.Context, input, output string) error {
	vec, err := m.embedder.Embed(ctx, input+"\n"+output)
	if err != nil {
		return fmt.Errorf("embed exchange: %w", err)
	}
	_, err = m.index.Add(ctx, input, output, vec)
	return err
}

// Clear leaves the index untouched; stored exchanges outlive a reset.
func (m *RetrievalMemory) Clear(context.Context) error { return nil }

// Loader selects and builds a Memory per request.
type Loader struct {
	history    history.Store
	pool       *vectorstore.Pool
	embedder   embedding.Embedder
	windowK    int
	retrievalK int
}

// LoaderOptions configures a Loader. Zero sizes take the defaults; pool and
// embedder may be nil when retrieval is not used.
type LoaderOptions struct {
	History    history.Store
	Pool       *vectorstore.Pool
	Embedder   embedding.Embedder
	WindowK    int
	RetrievalK int
}

func NewLoader(o LoaderOptions) *Loader {
	if o.WindowK <= 0 {
		o.WindowK = DefaultWindowK
	}
	if o.RetrievalK <= 0 {
		o.RetrievalK = DefaultRetrievalK
	}
	return &Loader{
		history:    o.History,
		pool:       o.Pool,
		embedder:   o.Embedder,
		windowK:    o.WindowK,
		retrievalK: o.RetrievalK,
	}
}

// ErrRetrievalDisabled is returned when similarity memory is requested but
// no index or embedder is configured.
var ErrRetrievalDisabled = errors.New("similarity memory is not configured")

// Load returns a fresh Memory for modelID. useSimilarity selects the
// retrieval variant; otherwise the windowed log is used.
func (l *Loader) Load(ctx context.Context, modelID string, useSimilarity bool) (Memory, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !useSimilarity {
		return NewWindowMemory(l.history, modelID, l.windowK), nil
	}
	if l.pool == nil || l.embedder == nil {
		return nil, ErrRetrievalDisabled
	}
	idx, err := l.pool.Open(modelID)
	if err != nil {
		return nil, err
	}
	return NewRetrievalMemory(idx, l.embedder, l.retrievalK), nil
}

// Reset clears the persisted message log for modelID. The similarity index
// is kept.
func (l *Loader) Reset(ctx context.Context, modelID string) error {
	return l.history.Clear(ctx, modelID)
}
