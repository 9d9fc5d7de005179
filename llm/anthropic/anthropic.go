// Package anthropic adapts the official Anthropic SDK to the gateway chat
// contract. It carries no embedder; deployments pairing it with the gateway
// keep the OpenAI-compatible provider for embeddings.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"strings"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/param"
	apperrors "github.com/defensa-digital/contratos-rag/errors"
	"github.com/defensa-digital/contratos-rag/llm"
	"github.com/defensa-digital/contratos-rag/message"
)

// Config holds Anthropic provider configuration.
type Config struct {
	APIKey  string
	BaseURL string
}

// Provider implements llm.Client for Anthropic models.
type Provider struct {
	config Config
	client anthropicsdk.Client
}

// New creates an Anthropic provider using the official SDK.
func New(config Config) *Provider {
	opts := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if strings.TrimSpace(config.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}
	return &Provider{
		config: config,
		client: anthropicsdk.NewClient(opts...),
	}
}

// Generate implements llm.Client.
func (p *Provider) Generate(ctx context.Context, req *llm.GenerateRequest) (*llm.GenerateResponse, error) {
	if req == nil {
		return nil, fmt.Errorf("generate request cannot be nil")
	}

	params := p.messageParams(req)
	apiMessage, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, wrapError(err)
	}

	var responseText string
	for _, content := range apiMessage.Content {
		if content.Type == "text" {
			responseText += content.Text
		}
	}
	return &llm.GenerateResponse{
		Message: message.NewMessage(message.RoleAssistant, responseText),
		Usage: llm.Usage{
			PromptTokens:     apiMessage.Usage.InputTokens,
			CompletionTokens: apiMessage.Usage.OutputTokens,
		},
	}, nil
}

// GenerateStream implements llm.Client for streaming responses.
func (p *Provider) GenerateStream(ctx context.Context, req *llm.GenerateRequest) iter.Seq2[*llm.GenerateResponse, error] {
	return func(yield func(*llm.GenerateResponse, error) bool) {
		if req == nil {
			yield(nil, fmt.Errorf("stream request cannot be nil"))
			return
		}

		params := p.messageParams(req)
		stream := p.client.Messages.NewStreaming(ctx, params)
		defer stream.Close()

		finalMsg := message.NewMessage(message.RoleAssistant, "")
		for stream.Next() {
			event := stream.Current()
			if event.Type != "content_block_delta" {
				continue
			}
			delta := event.AsContentBlockDelta()
			if delta.Delta.Type != "text_delta" || delta.Delta.Text == "" {
				continue
			}
			finalMsg.AppendText(delta.Delta.Text)
			chunk := message.NewMessage(message.RoleAssistant, delta.Delta.Text)
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

func (p *Provider) messageParams(req *llm.GenerateRequest) anthropicsdk.MessageNewParams {
	var systemPrompts []string
	conversation := make([]anthropicsdk.MessageParam, 0, len(req.Messages))
	for _, msg := range req.Messages {
		switch msg.Role {
		case message.RoleSystem:
			systemPrompts = append(systemPrompts, msg.Content)
		case message.RoleUser:
			conversation = append(conversation,
				anthropicsdk.NewUserMessage(anthropicsdk.NewTextBlock(msg.Content)))
		case message.RoleAssistant:
			conversation = append(conversation,
				anthropicsdk.NewAssistantMessage(anthropicsdk.NewTextBlock(msg.Content)))
		}
	}

	params := anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.Model(req.Model),
		Messages:  conversation,
		MaxTokens: req.MaxTokens,
	}
	if len(systemPrompts) > 0 {
		params.System = []anthropicsdk.TextBlockParam{
			{Text: strings.Join(systemPrompts, "\n")},
		}
	}
	if req.Temperature > 0 {
		params.Temperature = param.NewOpt(req.Temperature)
	}
	return params
}

func wrapError(err error) error {
	var apierr *anthropicsdk.Error
	if errors.As(err, &apierr) && apierr.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %v", apperrors.ErrRateLimited, err)
	}
	return fmt.Errorf("anthropic: %w", err)
}
