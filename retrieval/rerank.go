package retrieval

import (
	"context"
	"fmt"
	"sort"

	"github.com/defensa-digital/contratos-rag/document"
	"github.com/defensa-digital/contratos-rag/vector"
)

// Reranker reorders retrieval candidates against the query.
type Reranker interface {
	Rerank(ctx context.Context, query string, chunks []document.Chunk, topK int) ([]document.Chunk, error)
}

// CosineReranker embeds the query and candidate texts and ranks by cosine
// similarity.
type CosineReranker struct {
	embedder Embedder
}

// NewCosineReranker creates the default reranker.
func NewCosineReranker(embedder Embedder) *CosineReranker {
	return &CosineReranker{embedder: embedder}
}

// Rerank implements Reranker.
func (r *CosineReranker) Rerank(ctx context.Context, query string, chunks []document.Chunk, topK int) ([]document.Chunk, error) {
	texts := make([]string, 0, len(chunks)+1)
	texts = append(texts, query)
	for _, c := range chunks {
		texts = append(texts, c.Text)
	}

	vecs, err := r.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed rerank candidates: %w", err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), len(texts))
	}
	queryVec := vecs[0]

	ranked := make([]document.Chunk, len(chunks))
	for i, c := range chunks {
		out := c.Clone()
		out.RerankScore = float64(vector.CosineSimilarity(queryVec, vecs[i+1]))
		ranked[i] = out
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].RerankScore != ranked[j].RerankScore {
			return ranked[i].RerankScore > ranked[j].RerankScore
		}
		return ranked[i].ID < ranked[j].ID
	})
	if len(ranked) > topK {
		ranked = ranked[:topK]
	}
	return ranked, nil
}
