package llm

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	apperrors "github.com/defensa-digital/contratos-rag/errors"
	"github.com/defensa-digital/contratos-rag/message"
	"github.com/defensa-digital/contratos-rag/pkg/logging"
)

// Role selects which configured model serves a request.
type Role string

const (
	RoleHeavy      Role = "heavy"
	RoleFast       Role = "fast"
	RoleNormalizer Role = "normalizer"
)

// GenerateRequest bundles inputs for an LLM invocation.
type GenerateRequest struct {
	Messages    []*message.Message
	Model       string
	MaxTokens   int64
	Temperature float64
}

// Usage reports token consumption for cost accounting.
type Usage struct {
	PromptTokens     int64
	CompletionTokens int64
}

// GenerateResponse captures the LLM reply.
type GenerateResponse struct {
	Message *message.Message
	Usage   Usage
}

// Client is the chat contract providers implement.
type Client interface {
	Generate(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error)
	// GenerateStream yields incremental responses; the final element carries
	// the accumulated message.
	GenerateStream(ctx context.Context, req *GenerateRequest) iter.Seq2[*GenerateResponse, error]
}

// Embedder is the embedding contract providers implement.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// Selector maps request roles to configured model names.
type Selector struct {
	Chatbot    string
	Fast       string
	Normalizer string
}

// Model resolves a role to a model name, falling back to the chatbot model.
func (s Selector) Model(role Role) string {
	switch role {
	case RoleFast:
		if s.Fast != "" {
			return s.Fast
		}
	case RoleNormalizer:
		if s.Normalizer != "" {
			return s.Normalizer
		}
	}
	return s.Chatbot
}

const (
	defaultTimeout  = 30 * time.Second
	retryBase       = 1 * time.Second
	retryCap        = 10 * time.Second
	maxAttempts     = 3
	embedBatchSize  = 64
	defaultMaxToken = 2048
)

// Gateway wraps a chat client and an embedder with model routing, per-attempt
// timeouts, and exponential backoff on rate-limit failures. Other provider
// errors surface unchanged.
type Gateway struct {
	chat     Client
	embedder Embedder
	models   Selector
	timeout  time.Duration
	logger   *slog.Logger
}

// Option customises the gateway.
type Option func(*Gateway)

// WithTimeout overrides the per-attempt provider timeout.
func WithTimeout(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// WithLogger overrides the gateway logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) {
		if l != nil {
			g.logger = l
		}
	}
}

// NewGateway builds a gateway around the provider clients.
func NewGateway(chat Client, embedder Embedder, models Selector, opts ...Option) *Gateway {
	g := &Gateway{
		chat:     chat,
		embedder: embedder,
		models:   models,
		timeout:  defaultTimeout,
		logger:   logging.WithComponent("llm_gateway"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Models exposes the configured selector.
func (g *Gateway) Models() Selector {
	return g.models
}

// Generate routes the request to the model configured for role and retries
// rate-limit failures.
func (g *Gateway) Generate(ctx context.Context, role Role, req *GenerateRequest) (*GenerateResponse, error) {
	if req == nil {
		return nil, apperrors.ErrInvalidInput
	}
	if req.Model == "" {
		req.Model = g.models.Model(role)
	}
	if req.MaxTokens <= 0 {
		req.MaxTokens = defaultMaxToken
	}
	return retryRateLimited(ctx, g.logger, "generate", func(ctx context.Context) (*GenerateResponse, error) {
		attemptCtx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()
		return g.chat.Generate(attemptCtx, req)
	})
}

// GenerateStream routes a streaming request. Retries are not applied once the
// stream has started; rate limits on stream setup surface to the caller.
func (g *Gateway) GenerateStream(ctx context.Context, role Role, req *GenerateRequest) iter.Seq2[*GenerateResponse, error] {
	if req != nil && req.Model == "" {
		req.Model = g.models.Model(role)
	}
	return g.chat.GenerateStream(ctx, req)
}

// Embed converts texts to embeddings in bounded batches, retrying each batch
// on rate limits.
func (g *Gateway) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += embedBatchSize {
		end := min(start+embedBatchSize, len(texts))
		batch := texts[start:end]
		vectors, err := retryRateLimited(ctx, g.logger, "embed", func(ctx context.Context) ([][]float32, error) {
			attemptCtx, cancel := context.WithTimeout(ctx, g.timeout)
			defer cancel()
			return g.embedder.Embed(attemptCtx, batch)
		})
		if err != nil {
			return nil, err
		}
		out = append(out, vectors...)
	}
	return out, nil
}

// Dimension reports the embedding dimensionality.
func (g *Gateway) Dimension() int {
	return g.embedder.Dimension()
}

func retryRateLimited[T any](ctx context.Context, logger *slog.Logger, op string, fn func(context.Context) (T, error)) (T, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = retryBase
	bo.MaxInterval = retryCap

	return backoff.Retry(ctx, func() (T, error) {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, apperrors.ErrRateLimited) {
			return result, err
		}
		return result, backoff.Permanent(err)
	},
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(maxAttempts),
		backoff.WithNotify(func(err error, sleep time.Duration) {
			logger.Warn("rate limited, backing off", "op", op, "sleep", sleep, "error", err)
		}),
	)
}
