package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/pawpal/pawpal-context/internal/config"
	"github.com/pawpal/pawpal-context/internal/models"
	"github.com/pawpal/pawpal-context/internal/providers"
	"github.com/pawpal/pawpal-context/internal/store"
	"github.com/pawpal/pawpal-context/internal/tokens"
)

const summarySystemPrompt = `You compress chat history for an assistant that helps families care for their pets.

Write a concise summary that can replace the full messages in the assistant's context. Include ONLY what is needed for continuity:
- Key facts established (pets, family members, health issues)
- Important decisions made
- The current task or question being worked on
- User preferences discovered

If a prior summary is given, fold it in: nothing it covers may be lost. Reply with the summary text only.`

// SummarizerService compresses session history into Tier-2 summaries and
// rebuilds Tier-3 profiles. All provider calls are retried with bounded
// exponential backoff; on exhaustion the prior record wins.
type SummarizerService struct {
	store       *store.TieredStore
	completion  providers.CompletionService
	embedding   providers.EmbeddingService
	counter     tokens.Counter
	cfg         config.CompactionConfig
	temperature float32
	log         *logrus.Entry
}

func NewSummarizerService(tiered *store.TieredStore, completion providers.CompletionService, embedding providers.EmbeddingService, counter tokens.Counter, cfg config.CompactionConfig, temperature float32) *SummarizerService {
	return &SummarizerService{
		store:       tiered,
		completion:  completion,
		embedding:   embedding,
		counter:     counter,
		cfg:         cfg,
		temperature: temperature,
		log:         logrus.WithField("component", "summarizer"),
	}
}

// SummarizeSession folds all turns newer than the prior summary's coverage
// into a fresh summary with strictly non-decreasing coverage. On provider
// failure it returns the prior summary unchanged, wrapped in
// ErrSummarizationDegraded — it never fabricates a summary from only the new
// turns, which would silently drop coverage of older ones.
func (s *SummarizerService) SummarizeSession(ctx context.Context, sessionID string) (*models.SessionSummary, error) {
	prior, err := s.store.GetSummary(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	var coveredTo, generation int64
	priorText := ""
	if prior != nil {
		coveredTo = prior.CoversUpToTurnID
		generation = prior.Generation
		priorText = prior.Text
	}

	newTurns, err := s.store.GetTurnsAfter(ctx, sessionID, coveredTo)
	if err != nil {
		return nil, err
	}
	if len(newTurns) == 0 {
		return prior, nil
	}

	included := s.boundTurns(newTurns, s.cfg.InputTokenCeiling-s.counter.Count(priorText))
	prompt := buildSummaryPrompt(priorText, included)

	text, err := s.completeWithRetry(ctx, sessionID, summarySystemPrompt, prompt, s.cfg.SummaryMaxTokens)
	if err != nil {
		s.log.WithError(err).WithField("session_id", sessionID).Warn("summarization degraded, keeping prior summary")
		return prior, fmt.Errorf("%w: %v", models.ErrSummarizationDegraded, err)
	}

	newSummary := models.SessionSummary{
		ID:               uuid.NewString(),
		SessionID:        sessionID,
		Text:             text,
		Tokens:           s.counter.Count(text),
		CoversUpToTurnID: included[len(included)-1].TurnID,
		Generation:       generation + 1,
		UpdatedAt:        time.Now().UTC(),
	}

	if err := s.store.PutSummary(ctx, newSummary); err != nil {
		if errors.Is(err, models.ErrStaleSummary) {
			// A concurrent summarizer finished with fresher coverage; its
			// record is the right one.
			return s.store.GetSummary(ctx, sessionID)
		}
		return prior, err
	}
	return &newSummary, nil
}

// boundTurns drops oldest-first until the batch fits the input ceiling. The
// newest turn always stays so coverage still advances.
func (s *SummarizerService) boundTurns(turns []models.Turn, budget int) []models.Turn {
	total := 0
	for _, t := range turns {
		total += t.Tokens
	}
	for len(turns) > 1 && total > budget {
		total -= turns[0].Tokens
		turns = turns[1:]
	}
	return turns
}

func buildSummaryPrompt(priorText string, turns []models.Turn) string {
	var sb strings.Builder
	if priorText != "" {
		sb.WriteString("Prior summary:\n")
		sb.WriteString(priorText)
		sb.WriteString("\n\n")
	}
	sb.WriteString("New messages:\n")
	for _, t := range turns {
		if t.Role == models.RoleAssistant {
			sb.WriteString("Assistant: ")
		} else {
			sb.WriteString("User: ")
		}
		sb.WriteString(t.Text)
		sb.WriteString("\n\n")
	}
	return sb.String()
}

// completeWithRetry calls the completion service with bounded exponential
// backoff. Returns the last classified error once attempts are exhausted.
func (s *SummarizerService) completeWithRetry(ctx context.Context, sessionID, systemPrompt, prompt string, maxTokens int) (string, error) {
	attempts := s.cfg.RetryAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	backoff := s.cfg.RetryBackoff
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return "", fmt.Errorf("%w: %v", providers.ErrTimeout, ctx.Err())
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		text, err := s.completion.Complete(ctx, systemPrompt, []models.ContextMessage{
			{Kind: models.KindTurn, Role: models.RoleUser, Content: prompt},
		}, maxTokens, s.temperature)
		if err == nil {
			return text, nil
		}
		lastErr = err
		s.log.WithError(err).WithFields(logrus.Fields{
			"session_id": sessionID,
			"attempt":    attempt,
		}).Warn("completion call failed")
		if !providers.IsRetryable(err) {
			break
		}
	}
	return "", lastErr
}
