// Package bm25 implements the lexical half of the hybrid retriever: an
// Okapi BM25 index over chunk text, persisted as a single gob file alongside
// the vector store.
package bm25

import (
	"math"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/defensa-digital/contratos-rag/document"
)

const (
	defaultK1 = 1.6
	defaultB  = 0.75
)

var tokenRegex = regexp.MustCompile(`\p{L}[\p{L}\p{M}]*|\p{N}+`)

// Result is one scored hit.
type Result struct {
	Chunk document.Chunk
	Score float64
}

// Index is a thread-safe BM25 index that also stores the chunks themselves,
// so lexical hits come back with full metadata.
type Index struct {
	mu       sync.RWMutex
	postings map[string]map[string]int
	docFreq  map[string]int
	length   map[string]int
	chunks   map[string]document.Chunk
	totalLen int
	k1       float64
	b        float64
}

// New creates an empty index.
func New() *Index {
	return &Index{
		postings: make(map[string]map[string]int),
		docFreq:  make(map[string]int),
		length:   make(map[string]int),
		chunks:   make(map[string]document.Chunk),
		k1:       defaultK1,
		b:        defaultB,
	}
}

// Add indexes the chunk. Re-adding an existing id replaces it. Chunks whose
// text yields no terms are still registered so the index stays in step with
// the vector store; they simply never match a query.
func (ix *Index) Add(chunk document.Chunk) {
	terms := Tokenize(chunk.Text)

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if _, exists := ix.chunks[chunk.ID]; exists {
		ix.removeLocked(chunk.ID)
	}

	ix.chunks[chunk.ID] = chunk.Clone()
	ix.length[chunk.ID] = len(terms)
	ix.totalLen += len(terms)

	seen := make(map[string]struct{})
	for _, term := range terms {
		if _, ok := ix.postings[term]; !ok {
			ix.postings[term] = make(map[string]int)
		}
		ix.postings[term][chunk.ID]++
		if _, dup := seen[term]; !dup {
			ix.docFreq[term]++
			seen[term] = struct{}{}
		}
	}
}

func (ix *Index) removeLocked(id string) {
	for term, posting := range ix.postings {
		if _, ok := posting[id]; !ok {
			continue
		}
		delete(posting, id)
		ix.docFreq[term]--
		if ix.docFreq[term] <= 0 {
			delete(ix.docFreq, term)
			delete(ix.postings, term)
		}
	}
	ix.totalLen -= ix.length[id]
	delete(ix.length, id)
	delete(ix.chunks, id)
}

// Search scores the query against the index. Only positive scores are
// returned, ordered by score descending with id ascending as tie-break so
// results are stable across runs.
func (ix *Index) Search(query string, topK int) []Result {
	terms := uniqueTerms(Tokenize(query))
	if len(terms) == 0 || topK <= 0 {
		return nil
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	docCount := len(ix.chunks)
	if docCount == 0 {
		return nil
	}
	avgLen := float64(ix.totalLen) / float64(docCount)

	scores := make(map[string]float64)
	for _, term := range terms {
		posting := ix.postings[term]
		if len(posting) == 0 {
			continue
		}
		df := float64(ix.docFreq[term])
		idf := math.Log((float64(docCount)-df+0.5)/(df+0.5) + 1)
		for id, tf := range posting {
			docLen := float64(ix.length[id])
			numerator := float64(tf) * (ix.k1 + 1)
			denominator := float64(tf) + ix.k1*(1-ix.b+ix.b*(docLen/avgLen))
			scores[id] += idf * (numerator / denominator)
		}
	}

	results := make([]Result, 0, len(scores))
	for id, score := range scores {
		if score <= 0 {
			continue
		}
		chunk := ix.chunks[id].Clone()
		chunk.BM25Score = score
		results = append(results, Result{Chunk: chunk, Score: score})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Chunk.ID < results[j].Chunk.ID
	})
	if len(results) > topK {
		results = results[:topK]
	}
	return results
}

// Count returns the number of indexed chunks.
func (ix *Index) Count() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.chunks)
}

// Clear empties the index.
func (ix *Index) Clear() {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.postings = make(map[string]map[string]int)
	ix.docFreq = make(map[string]int)
	ix.length = make(map[string]int)
	ix.chunks = make(map[string]document.Chunk)
	ix.totalLen = 0
}

// Tokenize lowercases and extracts letter and number runs.
func Tokenize(text string) []string {
	return tokenRegex.FindAllString(strings.ToLower(text), -1)
}

func uniqueTerms(tokens []string) []string {
	seen := make(map[string]struct{}, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if _, ok := seen[tok]; ok {
			continue
		}
		seen[tok] = struct{}{}
		out = append(out, tok)
	}
	return out
}
