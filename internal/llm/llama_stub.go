//go:build !llama

package llm

// This file provides a no-CGO stub for the llama backend. It is compiled when
// the 'llama' build tag is NOT set, keeping default builds CGO-free.

import (
	"context"

	"chatd/pkg/types"
)

// LlamaBackend refuses to run inference without the 'llama' build tag.
type LlamaBackend struct {
	catalog []types.Model
}

func NewLlamaBackend(catalog []types.Model, ctxSize, threads int) *LlamaBackend {
	return &LlamaBackend{catalog: catalog}
}

func (b *LlamaBackend) Name() string { return "llama" }

func (b *LlamaBackend) Chat(ctx context.Context, req Request, onToken TokenFunc) (Result, error) {
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	default:
	}
	return Result{}, ErrDependencyUnavailable("llama support not built (missing 'llama' build tag)")
}

// Close is a no-op in the stub.
func (b *LlamaBackend) Close() error { return nil }
