package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/defensa-digital/contratos-rag/document"
	"github.com/defensa-digital/contratos-rag/vector"
)

const (
	hierarchicalInitialK = 50
	bestChunksPerDoc     = 3
)

// queryFilters maps query keywords to content-flag filters. Checked in
// order; the first group with a hit wins.
var queryFilters = []struct {
	flag     string
	keywords []string
}{
	{document.FlagAval, []string{"aval", "fianza", "garantia bancaria", "garantía bancaria"}},
	{document.FlagClasificacion, []string{"clasificac", "confidencial", "reservado", "secreto", "difusion limitada", "difusión limitada"}},
	{document.FlagNSN, []string{"nsn", "catalogac"}},
	{document.FlagSTANAG, []string{"stanag", "pecal", "aqap", "normativ"}},
	{document.FlagPenalizacion, []string{"penaliza", "sancion", "sanción", "demora"}},
	{document.FlagSubcontratacion, []string{"subcontrat"}},
	{document.FlagImporte, []string{"importe", "economic", "económic", "precio", "coste", "cuantia", "cuantía", "pago"}},
	{document.FlagFecha, []string{"fecha", "plazo", "vencimiento", "entrega", "duracion", "duración"}},
}

// FilterFromQuery derives a metadata filter from query keywords, or nil when
// no group matches.
func FilterFromQuery(query string) *vector.Filter {
	lower := strings.ToLower(query)
	for _, group := range queryFilters {
		for _, kw := range group.keywords {
			if strings.Contains(lower, kw) {
				return &vector.Filter{Eq: map[string]any{group.flag: true}}
			}
		}
	}
	return nil
}

// SmartHierarchical searches a wide candidate pool, scores contracts by the
// mean of their best chunks, and returns the best chunks of the top
// contracts. This keeps multi-contract questions from being dominated by a
// single document.
func (r *Retriever) SmartHierarchical(ctx context.Context, query string, topDocs, chunksPerDoc int) ([]document.Chunk, error) {
	if topDocs <= 0 {
		topDocs = 3
	}
	if chunksPerDoc <= 0 {
		chunksPerDoc = 3
	}

	vecs, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	queryVec := vecs[0]

	// The candidate pool scales with the requested spread so wide
	// aggregation calls are not starved of contracts.
	initialK := hierarchicalInitialK
	if n := topDocs * chunksPerDoc * 4; n > initialK {
		initialK = n
	}

	filter := FilterFromQuery(query)
	hits, err := r.store.Search(ctx, queryVec, initialK, filter)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 && filter != nil {
		r.logger.Debug("flag filter matched nothing, widening search", "query", query)
		hits, err = r.store.Search(ctx, queryVec, initialK, nil)
		if err != nil {
			return nil, err
		}
	}

	type scoredChunk struct {
		chunk      document.Chunk
		similarity float64
	}
	byContract := make(map[string][]scoredChunk)
	for _, hit := range hits {
		chunk := ChunkFromEmbedding(hit.Embedding)
		chunk.Distance = hit.Distance
		if chunk.ContractID == "" {
			continue
		}
		byContract[chunk.ContractID] = append(byContract[chunk.ContractID], scoredChunk{
			chunk:      chunk,
			similarity: 1 - hit.Distance,
		})
	}

	type scoredDoc struct {
		contractID string
		score      float64
		chunks     []scoredChunk
	}
	docs := make([]scoredDoc, 0, len(byContract))
	for contractID, chunks := range byContract {
		sort.Slice(chunks, func(i, j int) bool {
			if chunks[i].similarity != chunks[j].similarity {
				return chunks[i].similarity > chunks[j].similarity
			}
			return chunks[i].chunk.ID < chunks[j].chunk.ID
		})
		n := min(bestChunksPerDoc, len(chunks))
		var sum float64
		for _, sc := range chunks[:n] {
			sum += sc.similarity
		}
		docs = append(docs, scoredDoc{
			contractID: contractID,
			score:      sum / float64(n),
			chunks:     chunks,
		})
	}

	sort.Slice(docs, func(i, j int) bool {
		if docs[i].score != docs[j].score {
			return docs[i].score > docs[j].score
		}
		return docs[i].contractID < docs[j].contractID
	})
	if len(docs) > topDocs {
		docs = docs[:topDocs]
	}

	var results []document.Chunk
	for _, doc := range docs {
		n := min(chunksPerDoc, len(doc.chunks))
		for _, sc := range doc.chunks[:n] {
			results = append(results, sc.chunk)
		}
	}
	return results, nil
}
