package services

import (
	"context"

	"github.com/pawpal/pawpal-context/internal/config"
	"github.com/pawpal/pawpal-context/internal/models"
	"github.com/pawpal/pawpal-context/internal/store"
	"github.com/pawpal/pawpal-context/internal/tokens"
)

// BuilderService assembles the final message list from the three tiers under
// a hard token budget. Pure computation over store reads; no provider calls.
type BuilderService struct {
	store   *store.TieredStore
	counter tokens.Counter
	cfg     config.BuilderConfig
}

func NewBuilderService(tiered *store.TieredStore, counter tokens.Counter, cfg config.BuilderConfig) *BuilderService {
	return &BuilderService{
		store:   tiered,
		counter: counter,
		cfg:     cfg,
	}
}

// Build allocates the budget across profile, summary and recent turns, fills
// each part newest-first, and returns messages ordered profile, summary, then
// recent turns oldest to newest. CountMessages over the output never exceeds
// the budget.
func (b *BuilderService) Build(ctx context.Context, sessionID, userID, personaID string, budget int) ([]models.ContextMessage, error) {
	available := budget - tokens.PrimingCost()
	if available <= 0 {
		return nil, models.ErrBudgetExceeded
	}

	profile, err := b.store.GetProfile(ctx, userID, personaID)
	if err != nil {
		return nil, err
	}
	summary, err := b.store.GetSummary(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	recent, err := b.store.GetRecent(ctx, sessionID, b.cfg.MaxRecentTurns)
	if err != nil {
		return nil, err
	}

	profileBudget := int(float64(budget) * b.cfg.ProfileFraction)
	summaryBudget := int(float64(budget) * b.cfg.SummaryFraction)

	used := 0
	var profileMsg, summaryMsg *models.ContextMessage

	if profile != nil && profile.Text != "" {
		m := models.ContextMessage{
			Kind:    models.KindProfile,
			Role:    "system",
			Content: "What is known about this user: " + profile.Text,
		}
		m.Tokens = b.counter.Count(m.Content)
		if cost := tokens.MessageCost(b.counter, m); cost <= profileBudget && used+cost <= available {
			profileMsg = &m
			used += cost
		}
	}

	if summary != nil && summary.Text != "" {
		m := models.ContextMessage{
			Kind:    models.KindSummary,
			Role:    "system",
			Content: "Summary of the conversation so far: " + summary.Text,
		}
		m.Tokens = b.counter.Count(m.Content)
		if cost := tokens.MessageCost(b.counter, m); cost <= summaryBudget && used+cost <= available {
			summaryMsg = &m
			used += cost
		}
	}

	// Whatever the fixed tiers did not claim flows to the recent-turn slice,
	// including the whole allocation of an absent profile or summary.
	recentBudget := available - used

	chosen := make([]models.ContextMessage, 0, len(recent))
	for i := len(recent) - 1; i >= 0; i-- {
		m := models.TurnMessage(recent[i])
		cost := tokens.MessageCost(b.counter, m)
		if cost > recentBudget {
			break
		}
		recentBudget -= cost
		chosen = append(chosen, m)
	}

	if len(chosen) == 0 && len(recent) > 0 {
		// Not even the newest turn fits: the caller must shrink or reject it.
		return nil, models.ErrBudgetExceeded
	}

	out := make([]models.ContextMessage, 0, len(chosen)+2)
	if profileMsg != nil {
		out = append(out, *profileMsg)
	}
	if summaryMsg != nil {
		out = append(out, *summaryMsg)
	}
	// chosen was filled newest-first; emit oldest to newest.
	for i := len(chosen) - 1; i >= 0; i-- {
		out = append(out, chosen[i])
	}
	return out, nil
}
