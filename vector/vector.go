// Package vector defines the embedding store contract shared by the
// in-memory, on-disk, and pgvector backends.
package vector

import (
	"context"
	"fmt"
	"math"
)

// Embedding represents a stored chunk embedding with its flat metadata.
// Metadata values must be scalar (bool, int, float64, string); the chunker
// serializes anything else before storage.
type Embedding struct {
	ID       string
	Vector   []float32
	Text     string
	Metadata map[string]any
}

// Filter restricts a search by metadata. Eq entries require equality; In
// entries require membership ($in).
type Filter struct {
	Eq map[string]any
	In map[string][]any
}

// Empty reports whether the filter imposes no restriction.
func (f *Filter) Empty() bool {
	return f == nil || (len(f.Eq) == 0 && len(f.In) == 0)
}

// Matches applies the filter to a metadata map.
func (f *Filter) Matches(meta map[string]any) bool {
	if f.Empty() {
		return true
	}
	for key, want := range f.Eq {
		if !scalarEqual(meta[key], want) {
			return false
		}
	}
	for key, options := range f.In {
		got, ok := meta[key]
		if !ok {
			return false
		}
		matched := false
		for _, opt := range options {
			if scalarEqual(got, opt) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

// scalarEqual compares scalars across the int/float boundary so that a
// filter built from JSON (floats) still matches stored ints.
func scalarEqual(a, b any) bool {
	if a == b {
		return true
	}
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	return aok && bok && af == bf
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// ValidateMetadata rejects non-scalar metadata values before storage.
func ValidateMetadata(meta map[string]any) error {
	for key, val := range meta {
		switch val.(type) {
		case nil:
			return fmt.Errorf("metadata key %q is nil", key)
		case string, bool, int, int32, int64, float32, float64:
		default:
			return fmt.Errorf("metadata key %q has non-scalar type %T", key, val)
		}
	}
	return nil
}

// Store is the contract for vector storage and similarity search.
type Store interface {
	// Add upserts an embedding.
	Add(ctx context.Context, embedding *Embedding) error

	// Search finds the topK embeddings nearest the query vector, optionally
	// restricted by a metadata filter. Results carry a distance where lower
	// is better.
	Search(ctx context.Context, queryVector []float32, topK int, filter *Filter) ([]*Result, error)

	// Get retrieves an embedding by ID.
	Get(ctx context.Context, id string) (*Embedding, error)

	// Delete removes an embedding by ID.
	Delete(ctx context.Context, id string) error

	// Clear removes all embeddings and recreates the collection.
	Clear(ctx context.Context) error

	// Count returns the number of embeddings.
	Count(ctx context.Context) (int, error)
}

// Result pairs an embedding with its query distance.
type Result struct {
	Embedding *Embedding
	Distance  float64
}

// CosineSimilarity calculates the cosine similarity between two vectors.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float32
	for i := 0; i < len(a); i++ {
		dotProduct += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (float32(math.Sqrt(float64(normA)*float64(normB))) + 1e-8)
}

// CosineDistance converts similarity to a distance where lower is better.
func CosineDistance(a, b []float32) float64 {
	return 1 - float64(CosineSimilarity(a, b))
}

// Normalize scales the vector to unit length (L2 norm).
func Normalize(vec []float32) []float32 {
	if len(vec) == 0 {
		return vec
	}
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return vec
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range vec {
		vec[i] *= inv
	}
	return vec
}
