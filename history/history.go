// Package history keeps per-thread conversational memory: the question and
// answer pairs the context rewriter uses to resolve follow-ups.
package history

import (
	"context"
	"sync"
	"time"
)

// DefaultWindow is how many recent turns the pipeline injects into prompts.
const DefaultWindow = 5

// maxRetained bounds how many turns a thread keeps in storage.
const maxRetained = 50

// Turn is one completed question/answer exchange.
type Turn struct {
	Question  string    `json:"question" bson:"question"`
	Answer    string    `json:"answer" bson:"answer"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
}

// Store persists turns per thread. Threads are fully isolated: a thread id
// never sees another thread's turns.
type Store interface {
	Append(ctx context.Context, threadID string, turn Turn) error
	// Recent returns up to n most recent turns, oldest first.
	Recent(ctx context.Context, threadID string, n int) ([]Turn, error)
	Clear(ctx context.Context, threadID string) error
}

// MemoryStore is the in-process default.
type MemoryStore struct {
	mu      sync.RWMutex
	threads map[string][]Turn
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{threads: make(map[string][]Turn)}
}

func (s *MemoryStore) Append(_ context.Context, threadID string, turn Turn) error {
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	turns := append(s.threads[threadID], turn)
	if len(turns) > maxRetained {
		turns = turns[len(turns)-maxRetained:]
	}
	s.threads[threadID] = turns
	return nil
}

func (s *MemoryStore) Recent(_ context.Context, threadID string, n int) ([]Turn, error) {
	if n <= 0 {
		n = DefaultWindow
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	turns := s.threads[threadID]
	if len(turns) > n {
		turns = turns[len(turns)-n:]
	}
	out := make([]Turn, len(turns))
	copy(out, turns)
	return out, nil
}

func (s *MemoryStore) Clear(_ context.Context, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.threads, threadID)
	return nil
}
