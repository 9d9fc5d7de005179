package pipeline

import (
	"context"
	"crypto/sha256"
	"sync"
	"time"

	"github.com/defensa-digital/contratos-rag/document"
	"github.com/defensa-digital/contratos-rag/graph"
)

const maxParallelRetrieval = 5

// Aggregation questions span the corpus, so their single broad sub-query
// pulls fewer chunks from many more contracts than the default spread.
const (
	aggregationTopDocs      = 12
	aggregationChunksPerDoc = 2
)

// retrieveNode fans the sub-queries to hierarchical retrieval with a bounded
// worker pool and merges the results deterministically in sub-query order.
// Chunks accumulate across corrective retries; duplicates collapse on a
// content hash.
func (p *Pipeline) retrieveNode(ctx context.Context, s graph.State) (graph.State, error) {
	ps, err := fromGraph(s)
	if err != nil {
		return nil, err
	}
	started := time.Now()

	type result struct {
		chunks []document.Chunk
		err    error
	}
	results := make([]result, len(ps.SubQueries))

	topDocs, chunksPerDoc := p.topDocs, p.chunksPerDoc
	if ps.Complexity == ComplexityAggregation {
		topDocs, chunksPerDoc = aggregationTopDocs, aggregationChunksPerDoc
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, maxParallelRetrieval)
	for i, sq := range ps.SubQueries {
		wg.Add(1)
		go func(i int, query string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			chunks, err := p.retriever.SmartHierarchical(ctx, query, topDocs, chunksPerDoc)
			results[i] = result{chunks: chunks, err: err}
		}(i, sq.Query)
	}
	wg.Wait()

	for i, sq := range ps.SubQueries {
		res := results[i]
		finding := Finding{SubQuery: sq.Query, Chunks: len(res.chunks)}
		switch {
		case res.err != nil:
			finding.Status = FindingError
			finding.Error = res.err.Error()
			p.logger.Warn("sub-query retrieval failed", "query", sq.Query, "error", res.err)
		case len(res.chunks) >= 5:
			finding.Status = FindingFound
		case len(res.chunks) >= 1:
			finding.Status = FindingPartial
		default:
			finding.Status = FindingNotFound
		}
		ps.Findings = append(ps.Findings, finding)

		for _, chunk := range res.chunks {
			hash := contentHash(chunk.Text)
			if _, dup := ps.seen[hash]; dup {
				continue
			}
			ps.seen[hash] = struct{}{}
			ps.Chunks = append(ps.Chunks, chunk)
		}
	}

	ps.RetrievalTime += time.Since(started)
	p.logger.Info("retrieval pass done",
		"sub_queries", len(ps.SubQueries),
		"accumulated_chunks", len(ps.Chunks),
		"retry", ps.Retries,
	)
	return s, nil
}

func contentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return string(sum[:])
}
