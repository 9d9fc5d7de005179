// Package engine wires configuration, providers, stores, and the agentic
// pipeline into the public surface the CLI and the MCP server consume.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/defensa-digital/contratos-rag/audit"
	"github.com/defensa-digital/contratos-rag/bm25"
	"github.com/defensa-digital/contratos-rag/chunking"
	"github.com/defensa-digital/contratos-rag/config"
	"github.com/defensa-digital/contratos-rag/contrib/vector/local"
	"github.com/defensa-digital/contratos-rag/contrib/vector/pg"
	"github.com/defensa-digital/contratos-rag/document"
	"github.com/defensa-digital/contratos-rag/history"
	historystore "github.com/defensa-digital/contratos-rag/history/store"
	"github.com/defensa-digital/contratos-rag/ingest"
	"github.com/defensa-digital/contratos-rag/llm"
	"github.com/defensa-digital/contratos-rag/llm/anthropic"
	"github.com/defensa-digital/contratos-rag/llm/openai"
	"github.com/defensa-digital/contratos-rag/normalize"
	"github.com/defensa-digital/contratos-rag/pipeline"
	"github.com/defensa-digital/contratos-rag/pkg/logging"
	"github.com/defensa-digital/contratos-rag/pkg/telemetry"
	"github.com/defensa-digital/contratos-rag/querylog"
	"github.com/defensa-digital/contratos-rag/retrieval"
	"github.com/defensa-digital/contratos-rag/tokenizer"
	"github.com/defensa-digital/contratos-rag/vector"
)

// Engine is the assembled system.
type Engine struct {
	cfg       *config.Config
	gateway   *llm.Gateway
	store     vector.Store
	keyword   *bm25.Index
	retriever *retrieval.Retriever
	pipe      *pipeline.Pipeline
	hist      history.Store
	ingestor  *ingest.Ingestor
	qlog      *querylog.Logger
	logger    *slog.Logger

	shutdown []func(context.Context) error
}

// New assembles an Engine from the configuration. Call Close when done.
func New(ctx context.Context, cfg *config.Config) (*Engine, error) {
	e := &Engine{cfg: cfg, logger: logging.WithComponent("engine")}

	stop, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: "contratos-rag",
		Disable:     cfg.Tracing == "off",
	})
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	e.shutdown = append(e.shutdown, stop)

	embedProvider := openai.New(openai.Config{
		APIKey:         cfg.OpenAIAPIKey,
		BaseURL:        cfg.OpenAIBaseURL,
		EmbeddingModel: cfg.ModelEmbeddings,
		EmbeddingDim:   cfg.EmbeddingDim,
	})
	var chat llm.Client = embedProvider
	if cfg.ChatProvider == "anthropic" {
		chat = anthropic.New(anthropic.Config{
			APIKey:  cfg.AnthropicAPIKey,
			BaseURL: cfg.AnthropicBaseURL,
		})
	}
	e.gateway = llm.NewGateway(chat, embedProvider, llm.Selector{
		Chatbot:    cfg.ModelChatbot,
		Fast:       cfg.ModelFast,
		Normalizer: cfg.ModelNormalizer,
	})

	if err := e.openStores(ctx); err != nil {
		return nil, err
	}
	if err := e.openHistory(); err != nil {
		return nil, err
	}

	e.retriever = retrieval.New(e.store, e.keyword, e.gateway)

	tok := tokenizer.NewDefault()
	e.pipe = pipeline.New(e.gateway, e.retriever, e.hist,
		pipeline.WithMaxRetries(cfg.MaxRetries),
		pipeline.WithTokenizer(tok),
	)

	chunker := chunking.New(tok, cfg.SectionDelimiter,
		chunking.WithMaxTokens(cfg.ChunkMaxTokens),
		chunking.WithOverlap(cfg.ChunkOverlap),
	)
	e.ingestor = ingest.New(
		normalize.New(e.gateway, cfg.SectionDelimiter),
		audit.New(e.gateway, audit.NewReviewQueue(cfg.ReviewQueuePath())),
		chunker,
		e.gateway,
		e.store,
		e.keyword,
		ingest.WithNormalizedDir(cfg.NormalizedDir()),
		ingest.WithBM25Path(cfg.BM25Path()),
	)
	e.qlog = querylog.New(cfg.QueryLogPath())

	return e, nil
}

func (e *Engine) openStores(_ context.Context) error {
	if e.cfg.PGDSN != "" {
		store, err := pg.Open(pg.Config{
			DSN:       e.cfg.PGDSN,
			Dimension: e.cfg.EmbeddingDim,
			TableName: e.cfg.CollectionName,
		})
		if err != nil {
			return fmt.Errorf("open pgvector store: %w", err)
		}
		e.store = store
		e.shutdown = append(e.shutdown, func(context.Context) error { return store.Close() })
	} else {
		store, err := local.Open(e.cfg.VectorStorePath)
		if err != nil {
			return fmt.Errorf("open local vector store: %w", err)
		}
		e.store = store
	}

	keyword, err := bm25.Load(e.cfg.BM25Path())
	if err != nil {
		return fmt.Errorf("load lexical index: %w", err)
	}
	e.keyword = keyword
	return nil
}

func (e *Engine) openHistory() error {
	switch e.cfg.HistoryBackend {
	case "redis":
		store := historystore.NewRedisStore(&historystore.RedisConfig{Addr: e.cfg.RedisAddr})
		e.hist = store
		e.shutdown = append(e.shutdown, func(context.Context) error { return store.Close() })
	case "mongo":
		cfg := historystore.DefaultMongoConfig()
		if e.cfg.MongoURI != "" {
			cfg.URI = e.cfg.MongoURI
		}
		store, err := historystore.NewMongoStore(cfg)
		if err != nil {
			return fmt.Errorf("open mongo history: %w", err)
		}
		e.hist = store
		e.shutdown = append(e.shutdown, store.Close)
	default:
		e.hist = history.NewMemoryStore()
	}
	return nil
}

var tracer = otel.Tracer("contratos-rag/engine")

// Ingest rebuilds both indices from the PDFs under corpusRoot. An empty root
// falls back to the configured contracts directory.
func (e *Engine) Ingest(ctx context.Context, corpusRoot string) (*ingest.Report, error) {
	if corpusRoot == "" {
		corpusRoot = e.cfg.ContractsDir()
	}
	ctx, span := tracer.Start(ctx, "engine.ingest")
	started := time.Now()
	report, err := e.ingestor.Run(ctx, corpusRoot)
	telemetry.End(span, err)
	if err != nil {
		return report, err
	}
	e.logger.Info("corpus reindexed",
		"contracts", report.Contracts,
		"chunks", report.Chunks,
		"failures", len(report.Failures),
		"elapsed", time.Since(started).Round(time.Millisecond),
	)
	return report, nil
}

// Chat answers one query in the given thread and logs the served query.
func (e *Engine) Chat(ctx context.Context, query, threadID string) (*pipeline.Answer, error) {
	ctx, span := tracer.Start(ctx, "engine.chat")
	started := time.Now()
	answer, err := e.pipe.Run(ctx, query, threadID)
	telemetry.End(span, err)
	if err != nil {
		return nil, err
	}
	model := e.gateway.Models().Model(llm.RoleHeavy)
	if err := e.qlog.Record(query, threadID, model, answer, time.Since(started)); err != nil {
		e.logger.Warn("cannot log served query", "error", err)
	}
	return answer, nil
}

// Retrieve exposes hybrid retrieval without the agentic pipeline.
func (e *Engine) Retrieve(ctx context.Context, query string, k int) ([]document.Chunk, error) {
	ctx, span := tracer.Start(ctx, "engine.retrieve")
	chunks, err := e.retriever.HybridSearch(ctx, query, k)
	telemetry.End(span, err)
	return chunks, err
}

// ClearHistory wipes one conversation thread.
func (e *Engine) ClearHistory(ctx context.Context, threadID string) error {
	return e.hist.Clear(ctx, threadID)
}

// Close releases every resource the engine opened.
func (e *Engine) Close(ctx context.Context) error {
	var first error
	for i := len(e.shutdown) - 1; i >= 0; i-- {
		if err := e.shutdown[i](ctx); err != nil && first == nil {
			first = err
		}
	}
	return first
}
