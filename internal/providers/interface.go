// Package providers defines the narrow interfaces to the external completion
// and embedding services and the shared error taxonomy their adapters map
// provider failures into.
package providers

import (
	"context"
	"errors"

	"github.com/pawpal/pawpal-context/internal/models"
)

// CompletionService is the single capability the engine needs from a language
// model provider.
type CompletionService interface {
	Complete(ctx context.Context, systemPrompt string, messages []models.ContextMessage, maxTokens int, temperature float32) (string, error)
}

// EmbeddingService computes a semantic vector for a text.
type EmbeddingService interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Provider failure classes. Adapters wrap raw provider errors with one of
// these so callers can match with errors.Is without knowing the SDK.
var (
	ErrRateLimited = errors.New("provider rate limited")
	ErrTimeout     = errors.New("provider timeout")
	ErrService     = errors.New("provider service error")
)

// IsRetryable reports whether a classified provider error is worth another
// attempt with backoff.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrService) || errors.Is(err, ErrTimeout)
}
