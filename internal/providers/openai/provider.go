// Package openai adapts the OpenAI API to the engine's completion and
// embedding interfaces.
package openai

import (
	"context"
	"errors"
	"fmt"

	"github.com/sashabaranov/go-openai"

	"github.com/pawpal/pawpal-context/internal/config"
	"github.com/pawpal/pawpal-context/internal/models"
	"github.com/pawpal/pawpal-context/internal/providers"
)

// Provider implements both CompletionService and EmbeddingService.
type Provider struct {
	client         *openai.Client
	model          string
	embeddingModel string
}

// NewProvider creates a new OpenAI provider.
func NewProvider(cfg config.OpenAIConfig) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("OpenAI API key is required")
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &Provider{
		client:         openai.NewClientWithConfig(clientCfg),
		model:          cfg.Model,
		embeddingModel: cfg.EmbeddingModel,
	}, nil
}

// Complete performs a non-streaming chat completion.
func (p *Provider) Complete(ctx context.Context, systemPrompt string, messages []models.ContextMessage, maxTokens int, temperature float32) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:       p.model,
		MaxTokens:   maxTokens,
		Temperature: temperature,
	}

	if systemPrompt != "" {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: systemPrompt,
		})
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", classify(err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: empty completion response", providers.ErrService)
	}
	return resp.Choices[0].Message.Content, nil
}

// Embed computes an embedding vector for the text.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(p.embeddingModel),
	})
	if err != nil {
		return nil, classify(err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("%w: empty embedding response", providers.ErrService)
	}
	return resp.Data[0].Embedding, nil
}

// classify maps SDK errors onto the shared provider error classes.
func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", providers.ErrTimeout, err)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == 429:
			return fmt.Errorf("%w: %v", providers.ErrRateLimited, err)
		case apiErr.HTTPStatusCode >= 500:
			return fmt.Errorf("%w: %v", providers.ErrService, err)
		}
		return err
	}

	return fmt.Errorf("%w: %v", providers.ErrService, err)
}
