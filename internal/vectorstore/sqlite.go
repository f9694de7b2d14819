// Package vectorstore persists conversation exchanges with their embeddings
// and answers top-k similarity queries. Each model gets its own SQLite file.
package vectorstore

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"chatd/internal/common/fsutil"
	"chatd/internal/embedding"
)

// Exchange is one stored input/output pair.
type Exchange struct {
	ID        string
	Input     string
	Output    string
	Embedding embedding.Vector
	CreatedAt time.Time
}

// Match is an exchange scored against a query vector.
type Match struct {
	Exchange
	Score float64
}

// Store is the similarity index for one collection.
type Store interface {
	Add(ctx context.Context, input, output string, vec embedding.Vector) (Exchange, error)
	Query(ctx context.Context, vec embedding.Vector, k int) ([]Match, error)
	Count(ctx context.Context) (int, error)
}

// SQLiteStore implements Store over one SQLite database.
type SQLiteStore struct {
	db         *sql.DB
	collection string

	entMu   sync.Mutex
	entropy *rand.Rand
}

// Collection returns the collection name used for modelID.
func Collection(modelID string) string {
	return "chat_memory_" + fsutil.SafeName(modelID)
}

// DBPath returns the database file holding modelID's index under dir.
func DBPath(dir, modelID string) string {
	return filepath.Join(dir, "vector_memory_"+fsutil.SafeName(modelID), "index.db")
}

// OpenSQLite opens or creates the database at dbPath for collection.
func OpenSQLite(dbPath, collection string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create index dir: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	s := &SQLiteStore{
		db:         db,
		collection: collection,
		entropy:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS exchanges (
		id         TEXT PRIMARY KEY,
		collection TEXT NOT NULL,
		input      TEXT NOT NULL,
		output     TEXT NOT NULL,
		embedding  BLOB NOT NULL,
		dims       INTEGER NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_exchanges_collection ON exchanges(collection);
	`)
	return err
}

func (s *SQLiteStore) newID(t time.Time) string {
	s.entMu.Lock()
	defer s.entMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), s.entropy).String()
}

// Add stores an exchange with its embedding.
func (s *SQLiteStore) Add(ctx context.Context, input, output string, vec embedding.Vector) (Exchange, error) {
	if len(vec) == 0 {
		return Exchange{}, errors.New("vectorstore: empty embedding")
	}
	now := time.Now().UTC()
	ex := Exchange{ID: s.newID(now), Input: input, Output: output, Embedding: vec, CreatedAt: now}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO exchanges (id, collection, input, output, embedding, dims, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ex.ID, s.collection, input, output, encodeVector(vec), len(vec), now.Format(time.RFC3339Nano))
	if err != nil {
		return Exchange{}, fmt.Errorf("insert exchange: %w", err)
	}
	return ex, nil
}

// Query returns up to k exchanges ordered by descending cosine similarity
// to vec. Stored vectors whose dimension differs from vec are skipped.
func (s *SQLiteStore) Query(ctx context.Context, vec embedding.Vector, k int) ([]Match, error) {
	if k <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, input, output, embedding, created_at FROM exchanges WHERE collection = ? AND dims = ?`,
		s.collection, len(vec))
	if err != nil {
		return nil, fmt.Errorf("query exchanges: %w", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var (
			m       Match
			blob    []byte
			created string
		)
		if err := rows.Scan(&m.ID, &m.Input, &m.Output, &blob, &created); err != nil {
			return nil, err
		}
		m.Embedding = decodeVector(blob)
		m.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		m.Score = embedding.CosineSimilarity(vec, m.Embedding)
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ID > matches[j].ID
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// Count reports the number of exchanges in the collection.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM exchanges WHERE collection = ?`, s.collection).Scan(&n)
	return n, err
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func encodeVector(v embedding.Vector) []byte {
	b := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(b[4*i:], math.Float32bits(x))
	}
	return b
}

func decodeVector(b []byte) embedding.Vector {
	v := make(embedding.Vector, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v
}
