package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/defensa-digital/contratos-rag/document"
	"github.com/defensa-digital/contratos-rag/graph"
	"github.com/defensa-digital/contratos-rag/history"
	"github.com/defensa-digital/contratos-rag/llm"
	"github.com/defensa-digital/contratos-rag/pkg/logging"
	"github.com/defensa-digital/contratos-rag/tokenizer"
)

// ContextRetriever is the retrieval surface the pipeline depends on.
// *retrieval.Retriever satisfies it.
type ContextRetriever interface {
	SmartHierarchical(ctx context.Context, query string, topDocs, chunksPerDoc int) ([]document.Chunk, error)
	Rerank(ctx context.Context, query string, chunks []document.Chunk, topK int) []document.Chunk
}

// Pipeline wires the query workflow: rewrite, plan, retrieve, evaluate,
// correct, synthesize, validate.
type Pipeline struct {
	gateway   *llm.Gateway
	retriever ContextRetriever
	history   history.Store
	tokenizer tokenizer.Tokenizer
	graph     *graph.Graph
	logger    *slog.Logger

	maxRetries    int
	topDocs       int
	chunksPerDoc  int
	historyWindow int
}

// Option customises the pipeline.
type Option func(*Pipeline)

// WithMaxRetries sets the corrective loop budget.
func WithMaxRetries(n int) Option {
	return func(p *Pipeline) {
		if n >= 0 {
			p.maxRetries = n
		}
	}
}

// WithTopDocs sets how many contracts each sub-query pulls.
func WithTopDocs(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.topDocs = n
		}
	}
}

// WithChunksPerDoc sets how many chunks each contract contributes.
func WithChunksPerDoc(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.chunksPerDoc = n
		}
	}
}

// WithTokenizer overrides the context budget tokenizer.
func WithTokenizer(tok tokenizer.Tokenizer) Option {
	return func(p *Pipeline) {
		if tok != nil {
			p.tokenizer = tok
		}
	}
}

// New builds the pipeline and its workflow graph.
func New(gateway *llm.Gateway, retriever ContextRetriever, hist history.Store, opts ...Option) *Pipeline {
	p := &Pipeline{
		gateway:       gateway,
		retriever:     retriever,
		history:       hist,
		tokenizer:     tokenizer.NewDefault(),
		logger:        logging.WithComponent("pipeline"),
		maxRetries:    2,
		topDocs:       3,
		chunksPerDoc:  3,
		historyWindow: history.DefaultWindow,
	}
	for _, opt := range opts {
		opt(p)
	}

	p.graph = graph.NewBuilder().
		AddNode("inicio", graph.NodeTypeStart, p.startNode).
		AddNode("reescritura", graph.NodeTypeAgent, p.rewriteNode).
		AddNode("planificacion", graph.NodeTypeAgent, p.planNode).
		AddNode("recuperacion", graph.NodeTypeAgent, p.retrieveNode).
		AddNode("evaluacion", graph.NodeTypeAgent, p.evaluateNode).
		AddConditionNode("decision", p.evaluationGate, map[string]string{
			"synthesis": "sintesis",
			"retry":     "correccion",
		}).
		AddNode("correccion", graph.NodeTypeAgent, p.correctiveNode).
		AddNode("sintesis", graph.NodeTypeAgent, p.synthesizeNode).
		AddNode("validacion", graph.NodeTypeAgent, p.validateNode).
		AddNode("fin", graph.NodeTypeEnd, nil).
		AddEdge("inicio", "reescritura").
		AddEdge("reescritura", "planificacion").
		AddEdge("planificacion", "recuperacion").
		AddEdge("recuperacion", "evaluacion").
		AddEdge("evaluacion", "decision").
		AddEdge("correccion", "recuperacion").
		AddEdge("sintesis", "validacion").
		AddEdge("validacion", "fin").
		SetStart("inicio").
		Build()

	return p
}

func (p *Pipeline) startNode(_ context.Context, s graph.State) (graph.State, error) {
	return s, nil
}

// Run answers one query in the given thread. Pipeline failures other than
// context cancellation degrade to an apology with confidence zero rather
// than an error, so a conversational caller always has something to show.
func (p *Pipeline) Run(ctx context.Context, query, threadID string) (*Answer, error) {
	state, err := p.graph.Execute(ctx, newState(query, threadID))
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		p.logger.Error("pipeline failed", "thread", threadID, "error", err)
		return &Answer{
			Text: "Lo siento, no he podido procesar la consulta por un error interno. Inténtalo de nuevo.",
			Confidence: Confidence{
				Score:          0,
				Recommendation: "Error interno del sistema: respuesta no disponible",
			},
		}, nil
	}

	ps, err := fromGraph(state)
	if err != nil {
		return nil, err
	}

	answer := &Answer{
		Text:           ps.Answer,
		Sources:        ps.Sources,
		Complexity:     ps.Complexity,
		Retries:        ps.Retries,
		SubQueries:     ps.SubQueries,
		Findings:       ps.Findings,
		Chunks:         ps.Chunks,
		Usage:          ps.Usage,
		RetrievalTime:  ps.RetrievalTime,
		GenerationTime: ps.GenerationTime,
		ValidationTime: ps.ValidationTime,
	}
	if ps.Validation != nil {
		answer.Validation = *ps.Validation
	}
	if ps.Evaluation != nil {
		answer.Evaluation = *ps.Evaluation
	}
	if ps.Confidence != nil {
		answer.Confidence = *ps.Confidence
	}

	if err := p.history.Append(ctx, threadID, history.Turn{
		Question:  query,
		Answer:    ps.Answer,
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		p.logger.Warn("cannot persist turn", "thread", threadID, "error", err)
	}
	return answer, nil
}
