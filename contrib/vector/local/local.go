// Package local persists an in-memory vector store to disk as a gob
// snapshot, giving single-node deployments durable storage without an
// external database.
package local

import (
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/defensa-digital/contratos-rag/contrib/vector/inmemory"
	"github.com/defensa-digital/contratos-rag/vector"
)

// Store wraps the in-memory store and writes a snapshot after each mutation.
type Store struct {
	mu   sync.Mutex
	path string
	mem  *inmemory.Store
}

type snapshot struct {
	Embeddings []*vector.Embedding
}

// Open loads the snapshot at path if present, otherwise starts empty.
func Open(path string) (*Store, error) {
	s := &Store{path: path, mem: inmemory.New()}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	f, err := os.Open(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open vector snapshot: %w", err)
	}
	defer f.Close()

	var snap snapshot
	if err := gob.NewDecoder(f).Decode(&snap); err != nil {
		return fmt.Errorf("decode vector snapshot %s: %w", s.path, err)
	}
	s.mem.Load(snap.Embeddings)
	return nil
}

// flush writes the snapshot atomically via a sibling temp file.
func (s *Store) flush() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".vector-*.gob")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	snap := snapshot{Embeddings: s.mem.All()}
	if err := gob.NewEncoder(tmp).Encode(&snap); err != nil {
		tmp.Close()
		return fmt.Errorf("encode vector snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}

func (s *Store) Add(ctx context.Context, embedding *vector.Embedding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.mem.Add(ctx, embedding); err != nil {
		return err
	}
	return s.flush()
}

func (s *Store) Search(ctx context.Context, queryVector []float32, topK int, filter *vector.Filter) ([]*vector.Result, error) {
	return s.mem.Search(ctx, queryVector, topK, filter)
}

func (s *Store) Get(ctx context.Context, id string) (*vector.Embedding, error) {
	return s.mem.Get(ctx, id)
}

func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.mem.Delete(ctx, id); err != nil {
		return err
	}
	return s.flush()
}

func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.mem.Clear(ctx); err != nil {
		return err
	}
	return s.flush()
}

func (s *Store) Count(ctx context.Context) (int, error) {
	return s.mem.Count(ctx)
}

// AddBatch upserts several embeddings with a single snapshot write.
func (s *Store) AddBatch(ctx context.Context, embeddings []*vector.Embedding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, emb := range embeddings {
		if err := s.mem.Add(ctx, emb); err != nil {
			return err
		}
	}
	return s.flush()
}
