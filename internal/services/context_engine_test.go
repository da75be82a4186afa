package services

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pawpal/pawpal-context/internal/models"
	"github.com/pawpal/pawpal-context/internal/providers"
)

func TestEngine_ShortConversationEndToEnd(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	texts := []string{
		"My dog Rex has been limping since yesterday",
		"He is six years old",
		"It is the back left leg",
		"There is a little swelling",
		"He will not put weight on it",
	}

	var out []models.ContextMessage
	for _, text := range texts {
		var err error
		out, err = f.engine.PrepareContext(ctx, "s1", "u1", "p1", IncomingTurn{Text: text}, 10000)
		require.NoError(t, err)
		require.NotEmpty(t, out)
	}

	// Under budget the whole conversation rides along verbatim and the
	// provider is never called.
	require.Len(t, out, 5)
	for i, m := range out {
		assert.Equal(t, models.KindTurn, m.Kind)
		assert.Equal(t, texts[i], m.Content)
	}
	assert.Equal(t, 0, f.provider.CallCount())

	// The session is discoverable for later profile builds.
	sessions, err := f.tiered.ListSessions(ctx, "u1", "p1")
	require.NoError(t, err)
	assert.Equal(t, []string{"s1"}, sessions)
}

func TestEngine_TurnRoleDefaultsToUser(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.engine.PrepareContext(ctx, "s1", "u1", "p1", IncomingTurn{Text: "hello"}, 10000)
	require.NoError(t, err)

	turns, err := f.tiered.GetRecent(ctx, "s1", 1)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, models.RoleUser, turns[0].Role)
}

func TestEngine_SummarizerOutageDegradesWithoutFailing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	cfg := f.compaction
	cfg.RealtimeTokenThreshold = 50
	f.retune(cfg)

	// A session with an established summary and enough uncovered history to
	// keep the trigger firing.
	prior := models.SessionSummary{
		SessionID:        "s1",
		Text:             "Rex the dog has a sore back left knee.",
		CoversUpToTurnID: 0,
		Generation:       1,
	}
	require.NoError(t, f.tiered.PutSummary(ctx, prior))
	f.appendTurn(t, "s1", models.RoleUser, strings.Repeat("x", 400))

	f.provider.FailuresLeft = 100
	f.provider.FailWith = providers.ErrService

	// Three consecutive turns during the outage: each one still gets context.
	for i := 0; i < 3; i++ {
		out, err := f.engine.PrepareContext(ctx, "s1", "u1", "p1", IncomingTurn{Text: "is he getting worse"}, 10000)
		require.NoError(t, err, "turn %d must not fail", i+1)
		require.NotEmpty(t, out)

		// The stale summary keeps serving.
		assert.Equal(t, models.KindSummary, out[0].Kind)
		assert.Contains(t, out[0].Content, prior.Text)
	}

	// The provider was retried on every trigger but the record never changed.
	assert.GreaterOrEqual(t, f.provider.CallCount(), 3)
	stored, err := f.tiered.GetSummary(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, prior.Text, stored.Text)
	assert.Equal(t, prior.Generation, stored.Generation)

	// Once the outage clears, the next trigger catches the session up.
	f.provider.FailuresLeft = 0
	f.provider.Response = "Rex is worse; owner checking in repeatedly."
	_, err = f.engine.PrepareContext(ctx, "s1", "u1", "p1", IncomingTurn{Text: "he seems worse today"}, 10000)
	require.NoError(t, err)

	stored, err = f.tiered.GetSummary(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "Rex is worse; owner checking in repeatedly.", stored.Text)
	assert.Equal(t, prior.Generation+1, stored.Generation)
}

func TestEngine_RealtimeCompressionKeepsContextUnderBudget(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	cfg := f.compaction
	cfg.RealtimeTokenThreshold = 150
	f.retune(cfg)
	f.provider.Response = "Long discussion about Rex's recovery plan."

	for i := 0; i < 6; i++ {
		out, err := f.engine.PrepareContext(ctx, "s1", "u1", "p1", IncomingTurn{Text: strings.Repeat("x", 200)}, 10000)
		require.NoError(t, err)
		require.NotEmpty(t, out)
	}

	// The threshold was crossed at least once and the summary kept up.
	assert.Greater(t, f.provider.CallCount(), 0)
	summary, err := f.tiered.GetSummary(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, summary)
	assert.Greater(t, summary.CoversUpToTurnID, int64(0))
}
