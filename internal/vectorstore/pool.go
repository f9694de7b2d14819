package vectorstore

import (
	"fmt"
	"sync"

	"chatd/internal/common/fsutil"
)

// Pool keeps one open SQLiteStore per model under a base directory.
type Pool struct {
	dir string

	mu     sync.Mutex
	stores map[string]*SQLiteStore
}

func NewPool(dir string) (*Pool, error) {
	abs, err := fsutil.ResolveDir(dir)
	if err != nil {
		return nil, fmt.Errorf("vector dir: %w", err)
	}
	return &Pool{dir: abs, stores: make(map[string]*SQLiteStore)}, nil
}

// Open returns the index for modelID, creating it on first use.
func (p *Pool) Open(modelID string) (*SQLiteStore, error) {
	key := fsutil.SafeName(modelID)
	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.stores[key]; ok {
		return s, nil
	}
	s, err := OpenSQLite(DBPath(p.dir, modelID), Collection(modelID))
	if err != nil {
		return nil, err
	}
	p.stores[key] = s
	return s, nil
}

// Close closes every open index.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var first error
	for k, s := range p.stores {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
		delete(p.stores, k)
	}
	return first
}
