package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/defensa-digital/contratos-rag/graph"
	"github.com/defensa-digital/contratos-rag/llm"
	"github.com/defensa-digital/contratos-rag/message"
)

const maxSubQueries = 4

// planNode classifies the query and decomposes complex ones into
// sub-queries. Any model or parse failure falls back to a single sub-query
// holding the rewritten question.
func (p *Pipeline) planNode(ctx context.Context, s graph.State) (graph.State, error) {
	ps, err := fromGraph(s)
	if err != nil {
		return nil, err
	}

	ps.Complexity = p.classify(ctx, ps)

	if ps.Complexity == ComplexitySimple {
		ps.SubQueries = []SubQuery{{ID: "s1", Query: ps.Rewritten}}
		return s, nil
	}

	resp, err := p.gateway.Generate(ctx, llm.RoleFast, &llm.GenerateRequest{
		Messages: []*message.Message{
			message.NewMessage(message.RoleSystem, fmt.Sprintf(plannerPrompt, maxSubQueries)),
			message.NewMessage(message.RoleUser, ps.Rewritten),
		},
		Temperature: 0,
	})
	if err != nil {
		p.logger.Warn("planner failed, using single sub-query", "error", err)
		ps.SubQueries = []SubQuery{{ID: "s1", Query: ps.Rewritten}}
		return s, nil
	}
	ps.addUsage(resp.Usage)

	plan, err := decodeJSON[struct {
		Steps []SubQuery `json:"steps"`
	}](resp.Message.Text())
	if err != nil || len(plan.Steps) == 0 {
		p.logger.Warn("planner output invalid, using single sub-query", "error", err)
		ps.SubQueries = []SubQuery{{ID: "s1", Query: ps.Rewritten}}
		return s, nil
	}

	steps := plan.Steps
	if len(steps) > maxSubQueries {
		steps = steps[:maxSubQueries]
	}
	for i := range steps {
		if steps[i].ID == "" {
			steps[i].ID = fmt.Sprintf("s%d", i+1)
		}
		if strings.TrimSpace(steps[i].Query) == "" {
			steps[i].Query = ps.Rewritten
		}
	}
	ps.SubQueries = steps
	return s, nil
}

func (p *Pipeline) classify(ctx context.Context, ps *pipelineState) Complexity {
	resp, err := p.gateway.Generate(ctx, llm.RoleFast, &llm.GenerateRequest{
		Messages: []*message.Message{
			message.NewMessage(message.RoleSystem, classifierPrompt),
			message.NewMessage(message.RoleUser, ps.Rewritten),
		},
		Temperature: 0,
	})
	if err != nil {
		p.logger.Warn("classifier failed, assuming simple", "error", err)
		return ComplexitySimple
	}
	ps.addUsage(resp.Usage)

	verdict := strings.ToLower(resp.Message.Text())
	switch {
	case strings.Contains(verdict, "aggregation"):
		return ComplexityAggregation
	case strings.Contains(verdict, "multi_hop"), strings.Contains(verdict, "multi-hop"):
		return ComplexityMultiHop
	default:
		return ComplexitySimple
	}
}
