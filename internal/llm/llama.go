//go:build llama

package llm

import (
	"context"
	"errors"
	"strings"
	"sync"

	llama "github.com/go-skynet/go-llama.cpp"

	"chatd/pkg/types"
)

// LlamaBackend runs models in-process through go-llama.cpp. Model identifiers
// resolve to *.gguf files via the catalog; loaded models stay resident.
type LlamaBackend struct {
	ctxSize int
	threads int
	catalog map[string]types.Model

	mu     sync.Mutex
	models map[string]*llamaModel
}

// llamaModel owns one loaded model. The token callback is per model, so
// generations on the same model are serialized.
type llamaModel struct {
	mu    sync.Mutex
	model *llama.LLama
}

func NewLlamaBackend(catalog []types.Model, ctxSize, threads int) *LlamaBackend {
	byID := make(map[string]types.Model, len(catalog))
	for _, m := range catalog {
		byID[m.ID] = m
	}
	return &LlamaBackend{
		ctxSize: ctxSize,
		threads: threads,
		catalog: byID,
		models:  make(map[string]*llamaModel),
	}
}

func (b *LlamaBackend) Name() string { return "llama" }

func (b *LlamaBackend) load(modelID string) (*llamaModel, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if lm, ok := b.models[modelID]; ok {
		return lm, nil
	}
	mdl, ok := b.catalog[modelID]
	if !ok || strings.TrimSpace(mdl.Path) == "" {
		return nil, &StatusError{Backend: "llama", Code: 404, Body: "model not found: " + modelID}
	}
	m, err := llama.New(mdl.Path, llama.SetContext(b.ctxSize))
	if err != nil {
		return nil, err
	}
	lm := &llamaModel{model: m}
	b.models[modelID] = lm
	return lm, nil
}

func (b *LlamaBackend) Chat(ctx context.Context, req Request, onToken TokenFunc) (Result, error) {
	lm, err := b.load(req.Model)
	if err != nil {
		return Result{}, err
	}
	lm.mu.Lock()
	defer lm.mu.Unlock()
	if lm.model == nil {
		return Result{}, errors.New("llama model not initialized")
	}

	var cbErr error
	lm.model.SetTokenCallback(func(tok string) bool {
		select {
		case <-ctx.Done():
			return false
		default:
		}
		if onToken == nil {
			return true
		}
		if err := onToken(tok); err != nil {
			cbErr = err
			return false
		}
		return true
	})
	text, err := lm.model.Predict(RenderPrompt(req.Messages), predictOptions(req.Options, b.threads)...)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		return Result{}, err
	}
	if cbErr != nil {
		return Result{Content: text}, cbErr
	}
	if ctx.Err() != nil {
		return Result{Content: text}, ctx.Err()
	}
	return Result{Content: strings.TrimSpace(text), FinishReason: "stop"}, nil
}

// Close frees every loaded model.
func (b *LlamaBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, lm := range b.models {
		lm.mu.Lock()
		if lm.model != nil {
			lm.model.Free()
			lm.model = nil
		}
		lm.mu.Unlock()
		delete(b.models, id)
	}
	return nil
}

func zn(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

func zf(v float64, def float32) float32 {
	if v > 0 {
		return float32(v)
	}
	return def
}

// predictOptions converts decoding options into go-llama.cpp options.
func predictOptions(o Options, threads int) []llama.PredictOption {
	return []llama.PredictOption{
		llama.SetTokens(zn(o.MaxTokens, 400)),
		llama.SetThreads(zn(threads, 1)),
		llama.SetTopP(zf(o.TopP, llama.DefaultOptions.TopP)),
		llama.SetTopK(zn(o.TopK, llama.DefaultOptions.TopK)),
		// Temperature 0 is a valid greedy setting, so it is passed through as is.
		llama.SetTemperature(float32(o.Temperature)),
		llama.SetStopWords(StopWords()...),
	}
}
