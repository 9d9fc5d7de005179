package pipeline

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/defensa-digital/contratos-rag/document"
	"github.com/defensa-digital/contratos-rag/graph"
	"github.com/defensa-digital/contratos-rag/llm"
	"github.com/defensa-digital/contratos-rag/message"
)

const (
	contextTokenBudget = 20000
	rerankCandidates   = 15
)

// synthesizeNode builds the evidence context and asks the heavy model for a
// cited answer. Context blocks are numbered "Documento N" and the references
// are substituted with real file labels afterwards.
func (p *Pipeline) synthesizeNode(ctx context.Context, s graph.State) (graph.State, error) {
	ps, err := fromGraph(s)
	if err != nil {
		return nil, err
	}
	started := time.Now()

	selected := p.selectContext(ctx, ps)
	if len(selected) == 0 {
		ps.Answer = p.noEvidenceAnswer(ps)
		ps.GenerationTime += time.Since(started)
		return s, nil
	}
	ps.Chunks = selected

	var b strings.Builder
	labels := make([]string, len(selected))
	for i, chunk := range selected {
		labels[i] = chunk.Source()
		fmt.Fprintf(&b, "Documento %d (%s, sección %s):\n%s\n\n", i+1, labels[i], chunk.Section, chunk.Text)
	}
	fmt.Fprintf(&b, "Pregunta: %s", ps.Rewritten)
	if ps.Evaluation != nil && len(ps.Evaluation.MissingInfo) > 0 {
		fmt.Fprintf(&b, "\n\nNota: no se localizó en el corpus: %s. Indícalo en la respuesta si afecta a la pregunta.",
			strings.Join(ps.Evaluation.MissingInfo, "; "))
	}

	messages := []*message.Message{
		message.NewMessage(message.RoleSystem, synthesizerPrompt),
	}
	for _, turn := range ps.History {
		messages = append(messages,
			message.NewMessage(message.RoleUser, turn.Question),
			message.NewMessage(message.RoleAssistant, turn.Answer),
		)
	}
	messages = append(messages, message.NewMessage(message.RoleUser, b.String()))

	resp, err := p.gateway.Generate(ctx, llm.RoleHeavy, &llm.GenerateRequest{
		Messages:    messages,
		MaxTokens:   4096,
		Temperature: 0.1,
	})
	if err != nil {
		return nil, fmt.Errorf("synthesis: %w", err)
	}
	ps.addUsage(resp.Usage)

	ps.Answer = substituteSources(resp.Message.Text(), labels)
	ps.Sources = collectSources(selected)
	ps.GenerationTime += time.Since(started)
	return s, nil
}

// selectContext reranks large candidate sets, keeps the best chunks within
// the token budget, and U-shape reorders them so the strongest evidence sits
// at the edges of the prompt.
func (p *Pipeline) selectContext(ctx context.Context, ps *pipelineState) []document.Chunk {
	candidates := ps.Chunks
	if len(candidates) == 0 {
		return nil
	}

	candidates = p.retriever.Rerank(ctx, ps.Rewritten, candidates, rerankCandidates)

	sorted := make([]document.Chunk, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		return chunkScore(sorted[i]) > chunkScore(sorted[j])
	})

	var kept []document.Chunk
	budget := contextTokenBudget
	for _, chunk := range sorted {
		cost := p.tokenizer.CountTokens(chunk.Text)
		if cost > budget {
			continue
		}
		budget -= cost
		kept = append(kept, chunk)
	}
	return uShape(kept)
}

func chunkScore(c document.Chunk) float64 {
	if c.RerankScore != 0 {
		return c.RerankScore
	}
	if c.RRFScore != 0 {
		return c.RRFScore
	}
	return 1 - c.Distance
}

// uShape moves the third-best chunk to the end, countering the model's
// weaker attention to the middle of long contexts.
func uShape(chunks []document.Chunk) []document.Chunk {
	if len(chunks) <= 3 {
		return chunks
	}
	out := make([]document.Chunk, 0, len(chunks))
	out = append(out, chunks[0], chunks[1])
	out = append(out, chunks[3:]...)
	out = append(out, chunks[2])
	return out
}

var docRefPattern = regexp.MustCompile(`(?i)documento\s+(\d+)`)

// substituteSources replaces "Documento N" references with the real source
// labels so the user sees file names and pages.
func substituteSources(answer string, labels []string) string {
	return docRefPattern.ReplaceAllStringFunc(answer, func(ref string) string {
		m := docRefPattern.FindStringSubmatch(ref)
		n, err := strconv.Atoi(m[1])
		if err != nil || n < 1 || n > len(labels) {
			return ref
		}
		return labels[n-1]
	})
}

func collectSources(chunks []document.Chunk) []Source {
	type pages struct {
		seen  map[int]struct{}
		order []int
	}
	byFile := make(map[string]*pages)
	var files []string

	for _, chunk := range chunks {
		archivo, _ := chunk.Metadata["archivo"].(string)
		if archivo == "" {
			archivo = chunk.ContractID
		}
		entry, ok := byFile[archivo]
		if !ok {
			entry = &pages{seen: make(map[int]struct{})}
			byFile[archivo] = entry
			files = append(files, archivo)
		}
		if chunk.Page > 0 {
			if _, dup := entry.seen[chunk.Page]; !dup {
				entry.seen[chunk.Page] = struct{}{}
				entry.order = append(entry.order, chunk.Page)
			}
		}
	}

	out := make([]Source, 0, len(files))
	for _, archivo := range files {
		entry := byFile[archivo]
		sort.Ints(entry.order)
		out = append(out, Source{Archivo: archivo, Paginas: entry.order})
	}
	return out
}

func (p *Pipeline) noEvidenceAnswer(ps *pipelineState) string {
	var missing string
	if ps.Evaluation != nil && len(ps.Evaluation.MissingInfo) > 0 {
		missing = " Información buscada sin éxito: " + strings.Join(ps.Evaluation.MissingInfo, "; ") + "."
	}
	return "No se encontró información en el corpus de contratos para responder a esta pregunta." + missing
}
