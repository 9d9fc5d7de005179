// Package openai adapts the official OpenAI SDK to the gateway contracts.
package openai

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"strings"

	apperrors "github.com/defensa-digital/contratos-rag/errors"
	"github.com/defensa-digital/contratos-rag/llm"
	"github.com/defensa-digital/contratos-rag/message"
	openaisdk "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"
)

// Config holds OpenAI provider configuration.
type Config struct {
	APIKey         string
	BaseURL        string
	EmbeddingModel string
	EmbeddingDim   int
}

// Provider implements llm.Client and llm.Embedder with a single SDK client.
type Provider struct {
	config Config
	client openaisdk.Client
}

// New creates an OpenAI provider using the official SDK.
func New(config Config) *Provider {
	opts := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if strings.TrimSpace(config.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}
	if config.EmbeddingDim <= 0 {
		config.EmbeddingDim = 3072
	}
	return &Provider{
		config: config,
		client: openaisdk.NewClient(opts...),
	}
}

// Generate implements llm.Client.
func (p *Provider) Generate(ctx context.Context, req *llm.GenerateRequest) (*llm.GenerateResponse, error) {
	if req == nil {
		return nil, fmt.Errorf("generate request cannot be nil")
	}

	params := p.chatParams(req)
	completion, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, wrapError(err)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices returned", apperrors.ErrProvider)
	}

	responseMsg := message.NewMessage(message.RoleAssistant, completion.Choices[0].Message.Content)
	return &llm.GenerateResponse{
		Message: responseMsg,
		Usage: llm.Usage{
			PromptTokens:     completion.Usage.PromptTokens,
			CompletionTokens: completion.Usage.CompletionTokens,
		},
	}, nil
}

// GenerateStream implements llm.Client for streaming responses. Intermediate
// elements carry content deltas; the final element carries the accumulated
// message.
func (p *Provider) GenerateStream(ctx context.Context, req *llm.GenerateRequest) iter.Seq2[*llm.GenerateResponse, error] {
	return func(yield func(*llm.GenerateResponse, error) bool) {
		if req == nil {
			yield(nil, fmt.Errorf("stream request cannot be nil"))
			return
		}

		params := p.chatParams(req)
		stream := p.client.Chat.Completions.NewStreaming(ctx, params)
		defer stream.Close()

		finalMsg := message.NewMessage(message.RoleAssistant, "")
		for stream.Next() {
			event := stream.Current()
			if len(event.Choices) == 0 {
				continue
			}
			delta := event.Choices[0].Delta.Content
			if delta == "" {
				continue
			}
			finalMsg.AppendText(delta)
			chunk := message.NewMessage(message.RoleAssistant, delta)
			if !yield(&llm.GenerateResponse{Message: chunk}, nil) {
				return
			}
		}
		if err := stream.Err(); err != nil {
			yield(nil, wrapError(err))
			return
		}
		yield(&llm.GenerateResponse{Message: finalMsg}, nil)
	}
}

// Embed implements llm.Embedder.
func (p *Provider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	params := openaisdk.EmbeddingNewParams{
		Model: openaisdk.EmbeddingModel(p.config.EmbeddingModel),
		Input: openaisdk.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: texts,
		},
	}
	resp, err := p.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, wrapError(err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("%w: expected %d embeddings, got %d", apperrors.ErrProvider, len(texts), len(resp.Data))
	}

	out := make([][]float32, len(resp.Data))
	for i, emb := range resp.Data {
		out[i] = convertVector(emb.Embedding, p.config.EmbeddingDim)
	}
	return out, nil
}

// Dimension returns the embedding dimensionality.
func (p *Provider) Dimension() int {
	return p.config.EmbeddingDim
}

func (p *Provider) chatParams(req *llm.GenerateRequest) openaisdk.ChatCompletionNewParams {
	msgs := make([]openaisdk.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, msg := range req.Messages {
		switch msg.Role {
		case message.RoleSystem:
			msgs = append(msgs, openaisdk.SystemMessage(msg.Text()))
		case message.RoleUser:
			msgs = append(msgs, openaisdk.UserMessage(msg.Text()))
		case message.RoleAssistant:
			msgs = append(msgs, openaisdk.AssistantMessage(msg.Text()))
		}
	}

	params := openaisdk.ChatCompletionNewParams{
		Messages: msgs,
		Model:    openaisdk.ChatModel(req.Model),
	}
	if req.Temperature > 0 {
		params.Temperature = param.NewOpt(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(req.MaxTokens)
	}
	return params
}

func wrapError(err error) error {
	var apierr *openaisdk.Error
	if errors.As(err, &apierr) && apierr.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %v", apperrors.ErrRateLimited, err)
	}
	return fmt.Errorf("openai: %w", err)
}

func convertVector(input []float64, expected int) []float32 {
	vec := make([]float32, expected)
	for i := 0; i < len(input) && i < expected; i++ {
		vec[i] = float32(input[i])
	}
	return vec
}
