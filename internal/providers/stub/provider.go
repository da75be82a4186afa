// Package stub is a scriptable in-process provider for tests.
package stub

import (
	"context"
	"sync"

	"github.com/pawpal/pawpal-context/internal/models"
)

// Call records one completion request the stub received.
type Call struct {
	SystemPrompt string
	Messages     []models.ContextMessage
	MaxTokens    int
	Temperature  float32
}

// Provider implements CompletionService and EmbeddingService with scripted
// behavior. FailuresLeft errors are consumed before Response is returned.
type Provider struct {
	mu           sync.Mutex
	Response     string
	FailuresLeft int
	FailWith     error
	Calls        []Call
	EmbedCalls   []string
	Vector       []float32
}

func (p *Provider) Complete(ctx context.Context, systemPrompt string, messages []models.ContextMessage, maxTokens int, temperature float32) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.Calls = append(p.Calls, Call{
		SystemPrompt: systemPrompt,
		Messages:     append([]models.ContextMessage(nil), messages...),
		MaxTokens:    maxTokens,
		Temperature:  temperature,
	})

	if err := ctx.Err(); err != nil {
		return "", err
	}
	if p.FailuresLeft > 0 {
		p.FailuresLeft--
		return "", p.FailWith
	}
	return p.Response, nil
}

func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.EmbedCalls = append(p.EmbedCalls, text)
	if p.FailuresLeft > 0 {
		p.FailuresLeft--
		return nil, p.FailWith
	}
	if p.Vector == nil {
		return []float32{0.1, 0.2, 0.3}, nil
	}
	return p.Vector, nil
}

// CallCount returns how many completion calls the stub has seen.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}
