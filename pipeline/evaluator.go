package pipeline

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/defensa-digital/contratos-rag/graph"
	"github.com/defensa-digital/contratos-rag/llm"
	"github.com/defensa-digital/contratos-rag/message"
)

const (
	condensedChunkLen  = 200
	maxCondensedChunks = 30
)

// evaluateNode asks the fast model whether the accumulated context can
// answer the question. An unparseable verdict counts as INSUFFICIENT so a
// broken evaluator triggers the corrective loop instead of a blind answer.
func (p *Pipeline) evaluateNode(ctx context.Context, s graph.State) (graph.State, error) {
	ps, err := fromGraph(s)
	if err != nil {
		return nil, err
	}

	if len(ps.Chunks) == 0 {
		ps.Evaluation = &Evaluation{
			Status:      EvalInsufficient,
			Reasoning:   "no se recuperó ningún fragmento",
			MissingInfo: []string{ps.Rewritten},
		}
		return s, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Pregunta: %s\n\nFragmentos recuperados:\n", ps.Rewritten)
	for i, chunk := range ps.Chunks {
		if i == maxCondensedChunks {
			break
		}
		text := clipRunes(chunk.Text, condensedChunkLen)
		fmt.Fprintf(&b, "[%d] %s (%s): %s\n", i+1, chunk.Source(), chunk.Section, text)
	}

	resp, err := p.gateway.Generate(ctx, llm.RoleFast, &llm.GenerateRequest{
		Messages: []*message.Message{
			message.NewMessage(message.RoleSystem, evaluatorPrompt),
			message.NewMessage(message.RoleUser, b.String()),
		},
		Temperature: 0,
	})
	if err != nil {
		return nil, fmt.Errorf("evaluator: %w", err)
	}
	ps.addUsage(resp.Usage)

	eval, decodeErr := decodeJSON[Evaluation](resp.Message.Text())
	if decodeErr != nil {
		p.logger.Warn("evaluator verdict unparseable", "error", decodeErr)
		ps.Evaluation = &Evaluation{Status: EvalInsufficient, Reasoning: "veredicto no interpretable", Score: 0}
		return s, nil
	}

	switch eval.Status {
	case EvalSufficient, EvalPartial, EvalInsufficient:
	default:
		eval.Status = EvalInsufficient
	}
	ps.Evaluation = eval
	return s, nil
}

// evaluationGate routes to synthesis when the context suffices or the retry
// budget is spent, otherwise into the corrective loop.
func (p *Pipeline) evaluationGate(_ context.Context, s graph.State) (string, error) {
	ps, err := fromGraph(s)
	if err != nil {
		return "", err
	}
	if ps.Evaluation == nil {
		return "", fmt.Errorf("evaluation missing from state")
	}
	if ps.Evaluation.Status == EvalSufficient || ps.Retries >= p.maxRetries {
		return "synthesis", nil
	}
	return "retry", nil
}

// clipRunes cuts s at limit bytes, backing up so no UTF-8 sequence is split.
func clipRunes(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit]
}
