package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/defensa-digital/contratos-rag/graph"
	"github.com/defensa-digital/contratos-rag/llm"
	"github.com/defensa-digital/contratos-rag/message"
)

// rewriteNode turns follow-up questions into standalone queries using the
// recent thread history. Without history, or on any model failure, the
// original query passes through untouched.
func (p *Pipeline) rewriteNode(ctx context.Context, s graph.State) (graph.State, error) {
	ps, err := fromGraph(s)
	if err != nil {
		return nil, err
	}

	turns, err := p.history.Recent(ctx, ps.ThreadID, p.historyWindow)
	if err != nil {
		p.logger.Warn("cannot load thread history", "thread", ps.ThreadID, "error", err)
		turns = nil
	}
	ps.History = turns

	if len(turns) == 0 {
		ps.Rewritten = ps.Query
		return s, nil
	}

	var b strings.Builder
	for _, turn := range turns {
		fmt.Fprintf(&b, "Usuario: %s\nAsistente: %s\n", turn.Question, turn.Answer)
	}
	fmt.Fprintf(&b, "\nNueva pregunta: %s", ps.Query)

	resp, err := p.gateway.Generate(ctx, llm.RoleFast, &llm.GenerateRequest{
		Messages: []*message.Message{
			message.NewMessage(message.RoleSystem, rewriterPrompt),
			message.NewMessage(message.RoleUser, b.String()),
		},
		Temperature: 0,
	})
	if err != nil {
		p.logger.Warn("rewrite failed, using original query", "error", err)
		ps.Rewritten = ps.Query
		return s, nil
	}
	ps.addUsage(resp.Usage)

	rewritten := strings.TrimSpace(resp.Message.Text())
	if rewritten == "" {
		rewritten = ps.Query
	}
	ps.Rewritten = rewritten
	return s, nil
}
