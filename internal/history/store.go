// Package history persists the per-model conversation log as a flat JSON
// file, one file per model identifier.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"chatd/internal/common/fsutil"
	"chatd/internal/llm"
)

// Store is the append-only message log keyed by model identifier.
type Store interface {
	Append(ctx context.Context, modelID string, msgs ...llm.Message) error
	AppendExchange(ctx context.Context, modelID, input, output string) error
	ReadAll(ctx context.Context, modelID string) ([]llm.Message, error)
	Clear(ctx context.Context, modelID string) error
}

// record is the on-disk shape of one message:
// {"type":"human","data":{"type":"human","content":"..."}}.
type record struct {
	Type string     `json:"type"`
	Data recordData `json:"data"`
}

type recordData struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

func roleToType(role llm.Role) string {
	switch role {
	case llm.RoleUser:
		return "human"
	case llm.RoleAssistant:
		return "ai"
	default:
		return string(role)
	}
}

func typeToRole(typ string) llm.Role {
	switch typ {
	case "human":
		return llm.RoleUser
	case "ai":
		return llm.RoleAssistant
	default:
		return llm.Role(typ)
	}
}

// FileStore keeps chat_<model>_memory.json files under a directory. Writes
// to the same model are serialized in-process; a read-modify-write spanning
// two requests is not transactional and the last writer wins.
type FileStore struct {
	dir string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewFileStore resolves dir (creating it if needed) and returns a store over it.
func NewFileStore(dir string) (*FileStore, error) {
	abs, err := fsutil.ResolveDir(dir)
	if err != nil {
		return nil, fmt.Errorf("history dir: %w", err)
	}
	return &FileStore{dir: abs, locks: make(map[string]*sync.Mutex)}, nil
}

// Path returns the log file backing modelID.
func (s *FileStore) Path(modelID string) string {
	return filepath.Join(s.dir, "chat_"+fsutil.SafeName(modelID)+"_memory.json")
}

func (s *FileStore) lockFor(modelID string) *sync.Mutex {
	key := fsutil.SafeName(modelID)
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

func (s *FileStore) read(path string) ([]record, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	if len(b) == 0 {
		return nil, nil
	}
	var recs []record
	if err := json.Unmarshal(b, &recs); err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return recs, nil
}

// ReadAll returns every message in the log, oldest first. An absent log is empty.
func (s *FileStore) ReadAll(ctx context.Context, modelID string) ([]llm.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l := s.lockFor(modelID)
	l.Lock()
	recs, err := s.read(s.Path(modelID))
	l.Unlock()
	if err != nil {
		return nil, err
	}
	out := make([]llm.Message, 0, len(recs))
	for _, r := range recs {
		out = append(out, llm.Message{Role: typeToRole(r.Type), Content: r.Data.Content})
	}
	return out, nil
}

// Append adds msgs to the end of the log.
func (s *FileStore) Append(ctx context.Context, modelID string, msgs ...llm.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(msgs) == 0 {
		return nil
	}
	l := s.lockFor(modelID)
	l.Lock()
	defer l.Unlock()
	path := s.Path(modelID)
	recs, err := s.read(path)
	if err != nil {
		return err
	}
	for _, m := range msgs {
		typ := roleToType(m.Role)
		recs = append(recs, record{Type: typ, Data: recordData{Type: typ, Content: m.Content}})
	}
	b, err := json.Marshal(recs)
	if err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(path, b, 0o644)
}

// AppendExchange records one user/assistant pair.
func (s *FileStore) AppendExchange(ctx context.Context, modelID, input, output string) error {
	return s.Append(ctx, modelID,
		llm.Message{Role: llm.RoleUser, Content: input},
		llm.Message{Role: llm.RoleAssistant, Content: output},
	)
}

// Clear empties the log. Clearing an absent log succeeds.
func (s *FileStore) Clear(ctx context.Context, modelID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l := s.lockFor(modelID)
	l.Lock()
	defer l.Unlock()
	path := s.Path(modelID)
	if !fsutil.PathExists(path) {
		return nil
	}
	return fsutil.WriteFileAtomic(path, []byte("[]"), 0o644)
}
