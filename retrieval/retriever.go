// Package retrieval implements hybrid search over the contract corpus:
// dense vector search and lexical BM25 fused with reciprocal rank fusion,
// plus a hierarchical mode that diversifies results across contracts.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"unicode/utf8"

	"github.com/defensa-digital/contratos-rag/bm25"
	"github.com/defensa-digital/contratos-rag/document"
	"github.com/defensa-digital/contratos-rag/pkg/logging"
	"github.com/defensa-digital/contratos-rag/vector"
)

// Embedder turns texts into vectors. *llm.Gateway satisfies it.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

const (
	sourceTopK      = 20
	rrfK            = 60
	dedupePrefixLen = 100
	rerankThreshold = 10
)

// Retriever fuses the two indices.
type Retriever struct {
	store    vector.Store
	keyword  *bm25.Index
	embedder Embedder
	reranker Reranker
	logger   *slog.Logger
}

// Option customises the retriever.
type Option func(*Retriever)

// WithReranker overrides the default cosine reranker.
func WithReranker(r Reranker) Option {
	return func(rt *Retriever) {
		if r != nil {
			rt.reranker = r
		}
	}
}

// New builds a retriever over both indices.
func New(store vector.Store, keyword *bm25.Index, embedder Embedder, opts ...Option) *Retriever {
	r := &Retriever{
		store:    store,
		keyword:  keyword,
		embedder: embedder,
		logger:   logging.WithComponent("retrieval"),
	}
	r.reranker = NewCosineReranker(embedder)
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// HybridSearch runs dense and lexical search in parallel and fuses the two
// rankings with RRF. Near-duplicate chunks collapse onto one entry keyed by
// their leading text.
func (r *Retriever) HybridSearch(ctx context.Context, query string, topK int) ([]document.Chunk, error) {
	if topK <= 0 {
		topK = 5
	}

	var (
		wg      sync.WaitGroup
		vecHits []*vector.Result
		vecErr  error
		bmHits  []bm25.Result
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		vecs, err := r.embedder.Embed(ctx, []string{query})
		if err != nil {
			vecErr = fmt.Errorf("embed query: %w", err)
			return
		}
		vecHits, vecErr = r.store.Search(ctx, vecs[0], sourceTopK, nil)
	}()
	go func() {
		defer wg.Done()
		bmHits = r.keyword.Search(query, sourceTopK)
	}()
	wg.Wait()

	if vecErr != nil {
		return nil, vecErr
	}

	type fused struct {
		chunk document.Chunk
		score float64
	}
	byKey := make(map[string]*fused)

	for rank, hit := range vecHits {
		chunk := ChunkFromEmbedding(hit.Embedding)
		chunk.Distance = hit.Distance
		key := dedupeKey(chunk.Text)
		entry, ok := byKey[key]
		if !ok {
			entry = &fused{chunk: chunk}
			byKey[key] = entry
		}
		entry.score += 1.0 / float64(rrfK+rank+1)
	}
	for rank, hit := range bmHits {
		key := dedupeKey(hit.Chunk.Text)
		entry, ok := byKey[key]
		if !ok {
			entry = &fused{chunk: hit.Chunk}
			byKey[key] = entry
		}
		entry.chunk.BM25Score = hit.Score
		entry.score += 1.0 / float64(rrfK+rank+1)
	}

	results := make([]document.Chunk, 0, len(byKey))
	for _, entry := range byKey {
		entry.chunk.RRFScore = entry.score
		results = append(results, entry.chunk)
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].RRFScore != results[j].RRFScore {
			return results[i].RRFScore > results[j].RRFScore
		}
		return results[i].ID < results[j].ID
	})
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// Rerank reorders candidates with the configured reranker. Small candidate
// sets skip the rerank pass; a reranker failure falls back to the incoming
// order.
func (r *Retriever) Rerank(ctx context.Context, query string, chunks []document.Chunk, topK int) []document.Chunk {
	if topK <= 0 || len(chunks) == 0 {
		return nil
	}
	if len(chunks) <= rerankThreshold {
		if len(chunks) > topK {
			return chunks[:topK]
		}
		return chunks
	}

	ranked, err := r.reranker.Rerank(ctx, query, chunks, topK)
	if err != nil {
		r.logger.Warn("rerank failed, keeping fusion order", "error", err)
		if len(chunks) > topK {
			return chunks[:topK]
		}
		return chunks
	}
	return ranked
}

// ChunkFromEmbedding rebuilds a chunk from its stored form. Metadata that
// crossed a JSON boundary comes back with float64 numbers, so integer fields
// are coerced.
func ChunkFromEmbedding(emb *vector.Embedding) document.Chunk {
	meta := emb.Metadata
	chunk := document.Chunk{
		ID:       emb.ID,
		Text:     emb.Text,
		Metadata: meta,
	}
	if meta == nil {
		return chunk
	}
	chunk.ContractID, _ = meta["contract_id"].(string)
	chunk.Section, _ = meta["seccion"].(string)
	if st, ok := meta["tipo_seccion"].(string); ok {
		chunk.SectionType = document.SectionType(st)
	}
	chunk.Ordinal = metaInt(meta, "ordinal")
	chunk.Page = metaInt(meta, "pagina")
	return chunk
}

func metaInt(meta map[string]any, key string) int {
	switch v := meta[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

// dedupeKey is the leading text cut on a rune boundary so accented chunks
// never key on half a UTF-8 sequence.
func dedupeKey(text string) string {
	if len(text) <= dedupePrefixLen {
		return text
	}
	cut := dedupePrefixLen
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}
