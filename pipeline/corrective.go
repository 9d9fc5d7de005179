package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/defensa-digital/contratos-rag/graph"
	"github.com/defensa-digital/contratos-rag/llm"
	"github.com/defensa-digital/contratos-rag/message"
)

const maxRefinedQueries = 3

// correctiveNode turns the evaluator's missing_info into refined sub-queries
// and sends the flow back to retrieval. If the model cannot produce them,
// the missing items themselves become keyword queries.
func (p *Pipeline) correctiveNode(ctx context.Context, s graph.State) (graph.State, error) {
	ps, err := fromGraph(s)
	if err != nil {
		return nil, err
	}
	ps.Retries++

	missing := ps.Evaluation.MissingInfo
	if len(missing) == 0 {
		missing = []string{ps.Rewritten}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Pregunta original: %s\n\nInformación que falta:\n", ps.Rewritten)
	for _, item := range missing {
		fmt.Fprintf(&b, "- %s\n", item)
	}

	refined := p.refineQueries(ctx, ps, b.String())
	if len(refined) == 0 {
		for i, item := range missing {
			if i == maxRefinedQueries {
				break
			}
			refined = append(refined, SubQuery{
				ID:    fmt.Sprintf("r%d-%d", ps.Retries, i+1),
				Query: item,
			})
		}
	}

	ps.SubQueries = refined
	p.logger.Info("corrective pass", "retry", ps.Retries, "refined_queries", len(refined))
	return s, nil
}

func (p *Pipeline) refineQueries(ctx context.Context, ps *pipelineState, userPrompt string) []SubQuery {
	resp, err := p.gateway.Generate(ctx, llm.RoleFast, &llm.GenerateRequest{
		Messages: []*message.Message{
			message.NewMessage(message.RoleSystem, fmt.Sprintf(correctivePrompt, maxRefinedQueries)),
			message.NewMessage(message.RoleUser, userPrompt),
		},
		Temperature: 0,
	})
	if err != nil {
		p.logger.Warn("corrective generation failed", "error", err)
		return nil
	}
	ps.addUsage(resp.Usage)

	out, err := decodeJSON[struct {
		Queries []string `json:"queries"`
	}](resp.Message.Text())
	if err != nil {
		p.logger.Warn("corrective output invalid", "error", err)
		return nil
	}

	var refined []SubQuery
	for i, q := range out.Queries {
		q = strings.TrimSpace(q)
		if q == "" {
			continue
		}
		if len(refined) == maxRefinedQueries {
			break
		}
		refined = append(refined, SubQuery{
			ID:    fmt.Sprintf("r%d-%d", ps.Retries, i+1),
			Query: q,
		})
	}
	return refined
}
