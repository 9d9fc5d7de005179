// Package inmemory provides a process-local vector store backed by a
// mutex-guarded map with brute-force cosine search.
package inmemory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	apierrors "github.com/defensa-digital/contratos-rag/errors"
	"github.com/defensa-digital/contratos-rag/vector"
)

// Store is a thread-safe in-memory vector store.
type Store struct {
	mu         sync.RWMutex
	embeddings map[string]*vector.Embedding
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{embeddings: make(map[string]*vector.Embedding)}
}

func (s *Store) Add(_ context.Context, embedding *vector.Embedding) error {
	if embedding == nil || embedding.ID == "" {
		return fmt.Errorf("%w: embedding requires an id", apierrors.ErrInvalidInput)
	}
	if len(embedding.Vector) == 0 {
		return fmt.Errorf("%w: embedding %q has no vector", apierrors.ErrInvalidInput, embedding.ID)
	}
	if err := vector.ValidateMetadata(embedding.Metadata); err != nil {
		return fmt.Errorf("%w: %v", apierrors.ErrInvalidInput, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.embeddings[embedding.ID] = cloneEmbedding(embedding)
	return nil
}

func (s *Store) Search(_ context.Context, queryVector []float32, topK int, filter *vector.Filter) ([]*vector.Result, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("%w: topK must be positive", apierrors.ErrInvalidInput)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]*vector.Result, 0, len(s.embeddings))
	for _, emb := range s.embeddings {
		if !filter.Matches(emb.Metadata) {
			continue
		}
		results = append(results, &vector.Result{
			Embedding: cloneEmbedding(emb),
			Distance:  vector.CosineDistance(queryVector, emb.Vector),
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Distance != results[j].Distance {
			return results[i].Distance < results[j].Distance
		}
		return results[i].Embedding.ID < results[j].Embedding.ID
	})

	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

func (s *Store) Get(_ context.Context, id string) (*vector.Embedding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	emb, ok := s.embeddings[id]
	if !ok {
		return nil, fmt.Errorf("%w: embedding %q", apierrors.ErrNotFound, id)
	}
	return cloneEmbedding(emb), nil
}

func (s *Store) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.embeddings[id]; !ok {
		return fmt.Errorf("%w: embedding %q", apierrors.ErrNotFound, id)
	}
	delete(s.embeddings, id)
	return nil
}

func (s *Store) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.embeddings = make(map[string]*vector.Embedding)
	return nil
}

func (s *Store) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.embeddings), nil
}

// All returns a snapshot of every stored embedding. Used by persistence
// wrappers.
func (s *Store) All() []*vector.Embedding {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*vector.Embedding, 0, len(s.embeddings))
	for _, emb := range s.embeddings {
		out = append(out, cloneEmbedding(emb))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Load replaces the store contents with the given embeddings.
func (s *Store) Load(embeddings []*vector.Embedding) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.embeddings = make(map[string]*vector.Embedding, len(embeddings))
	for _, emb := range embeddings {
		if emb == nil || emb.ID == "" {
			continue
		}
		s.embeddings[emb.ID] = cloneEmbedding(emb)
	}
}

func cloneEmbedding(in *vector.Embedding) *vector.Embedding {
	out := &vector.Embedding{
		ID:     in.ID,
		Text:   in.Text,
		Vector: make([]float32, len(in.Vector)),
	}
	copy(out.Vector, in.Vector)
	if in.Metadata != nil {
		out.Metadata = make(map[string]any, len(in.Metadata))
		for k, v := range in.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}
