package services

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pawpal/pawpal-context/internal/models"
	"github.com/pawpal/pawpal-context/internal/tokens"
)

func TestBuilder_ShortSessionStaysVerbatim(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	texts := []string{
		"My dog Rex has been limping since yesterday",
		"How old is Rex and which leg is it?",
		"He is six, it is the back left leg",
		"Any swelling you can see around the knee?",
		"A little, and he will not put weight on it",
	}
	for i, text := range texts {
		role := models.RoleUser
		if i%2 == 1 {
			role = models.RoleAssistant
		}
		f.appendTurn(t, "s1", role, text)
	}

	out, err := f.builder.Build(ctx, "s1", "u1", "p1", 10000)
	require.NoError(t, err)

	// Well under budget: every turn verbatim, nothing summarized.
	require.Len(t, out, 5)
	for i, m := range out {
		assert.Equal(t, models.KindTurn, m.Kind)
		assert.Equal(t, texts[i], m.Content)
	}
}

func TestBuilder_TierOrdering(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.tiered.PutProfile(ctx, models.UserProfile{
		UserID:    "u1",
		PersonaID: "p1",
		Text:      "Owns a golden retriever named Rex.",
	}))
	require.NoError(t, f.tiered.PutSummary(ctx, models.SessionSummary{
		SessionID:        "s1",
		Text:             "Rex had knee surgery in June and is recovering.",
		CoversUpToTurnID: 2,
		Generation:       1,
	}))
	f.appendTurn(t, "s1", models.RoleUser, "old question about food")
	f.appendTurn(t, "s1", models.RoleAssistant, "old answer about food")
	f.appendTurn(t, "s1", models.RoleUser, "is swimming okay for him now")

	out, err := f.builder.Build(ctx, "s1", "u1", "p1", 10000)
	require.NoError(t, err)
	require.Len(t, out, 5)

	assert.Equal(t, models.KindProfile, out[0].Kind)
	assert.Equal(t, "system", out[0].Role)
	assert.Contains(t, out[0].Content, "golden retriever")

	assert.Equal(t, models.KindSummary, out[1].Kind)
	assert.Contains(t, out[1].Content, "knee surgery")

	// Turns follow, oldest to newest.
	var lastID int64
	for _, m := range out[2:] {
		assert.Equal(t, models.KindTurn, m.Kind)
		assert.Greater(t, m.TurnID, lastID)
		lastID = m.TurnID
	}
}

func TestBuilder_OversizedSummaryYieldsToRecentTurns(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	// Far over the summary's fractional allocation at this budget.
	require.NoError(t, f.tiered.PutSummary(ctx, models.SessionSummary{
		SessionID:        "s1",
		Text:             strings.Repeat("pet care notes ", 14),
		CoversUpToTurnID: 1,
		Generation:       1,
	}))
	for i := 0; i < 10; i++ {
		f.appendTurn(t, "s1", models.RoleUser, strings.Repeat("q", 40))
	}

	out, err := f.builder.Build(ctx, "s1", "u1", "p1", 200)
	require.NoError(t, err)

	// The summary's unused allocation flows to the recent tier.
	require.Len(t, out, 10)
	for _, m := range out {
		assert.Equal(t, models.KindTurn, m.Kind)
	}
}

func TestBuilder_NeverExceedsBudget(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c := tokens.HeuristicCounter{}

	for i := 0; i < 10; i++ {
		f.appendTurn(t, "s1", models.RoleUser, strings.Repeat("q", 40))
	}

	budgets := []int{60, 100, 150, 500}
	for _, budget := range budgets {
		out, err := f.builder.Build(ctx, "s1", "u1", "p1", budget)
		require.NoError(t, err)
		require.NotEmpty(t, out)
		assert.LessOrEqual(t, c.CountMessages(out), budget, "budget %d", budget)

		// Greedy fill keeps the newest turns.
		assert.Equal(t, int64(10), out[len(out)-1].TurnID)
	}
}

func TestBuilder_BudgetExceeded(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.appendTurn(t, "s1", models.RoleUser, strings.Repeat("q", 40))

	t.Run("newest turn does not fit", func(t *testing.T) {
		_, err := f.builder.Build(ctx, "s1", "u1", "p1", 10)
		assert.ErrorIs(t, err, models.ErrBudgetExceeded)
	})

	t.Run("budget below reply priming", func(t *testing.T) {
		_, err := f.builder.Build(ctx, "s1", "u1", "p1", 3)
		assert.ErrorIs(t, err, models.ErrBudgetExceeded)
	})
}

func TestBuilder_EmptySession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	out, err := f.builder.Build(ctx, "empty", "u1", "p1", 100)
	require.NoError(t, err)
	assert.Empty(t, out)
}
