package pipeline

import (
	"fmt"
	"time"

	"github.com/defensa-digital/contratos-rag/document"
	"github.com/defensa-digital/contratos-rag/graph"
	"github.com/defensa-digital/contratos-rag/history"
	"github.com/defensa-digital/contratos-rag/llm"
)

const stateKey = "__contratos_pipeline_state"

// pipelineState is the per-turn record threaded through the graph.
type pipelineState struct {
	ThreadID  string
	Query     string
	Rewritten string
	History   []history.Turn

	Complexity Complexity
	SubQueries []SubQuery

	// Chunks accumulates across corrective retries; seen holds content
	// hashes for dedup.
	Chunks   []document.Chunk
	seen     map[string]struct{}
	Findings []Finding

	Evaluation *Evaluation
	Retries    int

	Answer     string
	Sources    []Source
	Validation *Validation
	Confidence *Confidence

	Usage          llm.Usage
	RetrievalTime  time.Duration
	GenerationTime time.Duration
	ValidationTime time.Duration
}

func newState(query, threadID string) graph.State {
	return graph.State{stateKey: &pipelineState{
		ThreadID: threadID,
		Query:    query,
		seen:     make(map[string]struct{}),
	}}
}

func fromGraph(s graph.State) (*pipelineState, error) {
	ps, ok := s[stateKey].(*pipelineState)
	if !ok || ps == nil {
		return nil, fmt.Errorf("pipeline state missing")
	}
	return ps, nil
}

func (ps *pipelineState) addUsage(u llm.Usage) {
	ps.Usage.PromptTokens += u.PromptTokens
	ps.Usage.CompletionTokens += u.CompletionTokens
}
