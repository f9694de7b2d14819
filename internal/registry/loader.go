// Package registry builds the local model catalog used by the in-process
// backend: a model identifier maps to a *.gguf file on disk.
package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"chatd/internal/common/fsutil"
	"chatd/pkg/types"
)

// LoadDir scans dir for *.gguf files. The model ID is the file name without
// its extension, so "mistral.gguf" serves requests for model "mistral".
// A missing directory yields an empty catalog.
func LoadDir(dir string) ([]types.Model, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, nil
	}
	base, err := fsutil.ExpandHome(dir)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("abs path: %w", err)
	}
	if !fsutil.PathExists(abs) {
		return nil, nil
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	var models []types.Model
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		ext := filepath.Ext(name)
		if !strings.EqualFold(ext, ".gguf") {
			continue
		}
		m := types.Model{ID: strings.TrimSuffix(name, ext), Path: filepath.Join(abs, name)}
		if info, err := e.Info(); err == nil {
			m.SizeMB = int(info.Size() / (1 << 20))
		}
		models = append(models, m)
	}
	sort.Slice(models, func(i, j int) bool { return models[i].ID < models[j].ID })
	return models, nil
}
