package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pawpal/pawpal-context/internal/config"
	"github.com/pawpal/pawpal-context/internal/kv/memory"
	"github.com/pawpal/pawpal-context/internal/models"
	"github.com/pawpal/pawpal-context/internal/providers/stub"
	"github.com/pawpal/pawpal-context/internal/store"
	"github.com/pawpal/pawpal-context/internal/tokens"
)

// fixture wires the whole service graph over the in-memory store and the
// scriptable provider. Backoff is shrunk so degradation paths run in
// milliseconds.
type fixture struct {
	kv         *memory.Store
	tiered     *store.TieredStore
	provider   *stub.Provider
	summarizer *SummarizerService
	scheduler  *SchedulerService
	builder    *BuilderService
	engine     *ContextEngine
	compaction config.CompactionConfig
	batch      config.BatchConfig
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	kvStore := memory.NewStore()
	counter := tokens.HeuristicCounter{}
	tiered := store.NewTieredStore(kvStore, counter, 0)

	compaction := config.CompactionConfig{
		RealtimeTokenThreshold: 4000,
		RealtimeTimeout:        2 * time.Second,
		BatchIntervalTurns:     4,
		IdleThreshold:          30 * time.Minute,
		InputTokenCeiling:      6000,
		SummaryMaxTokens:       100,
		ProfileMaxTokens:       100,
		RetryAttempts:          3,
		RetryBackoff:           time.Millisecond,
		LockTTL:                time.Minute,
		MarkerTTL:              time.Hour,
	}
	builderCfg := config.BuilderConfig{
		ProfileFraction: 0.05,
		SummaryFraction: 0.15,
		MaxRecentTurns:  200,
	}
	batchCfg := config.BatchConfig{
		Concurrency:     2,
		SessionDeadline: 5 * time.Second,
	}

	provider := &stub.Provider{Response: "stub summary"}
	summarizer := NewSummarizerService(tiered, provider, provider, counter, compaction, 0.2)
	scheduler := NewSchedulerService(tiered, summarizer, counter, compaction, batchCfg, nil)
	builder := NewBuilderService(tiered, counter, builderCfg)
	engine := NewContextEngine(tiered, scheduler, builder)

	return &fixture{
		kv:         kvStore,
		tiered:     tiered,
		provider:   provider,
		summarizer: summarizer,
		scheduler:  scheduler,
		builder:    builder,
		engine:     engine,
		compaction: compaction,
		batch:      batchCfg,
	}
}

// retune rebuilds the provider-facing services with new trigger tunables.
func (f *fixture) retune(compaction config.CompactionConfig) {
	f.compaction = compaction
	f.summarizer = NewSummarizerService(f.tiered, f.provider, f.provider, tokens.HeuristicCounter{}, compaction, 0.2)
	f.scheduler = NewSchedulerService(f.tiered, f.summarizer, tokens.HeuristicCounter{}, compaction, f.batch, nil)
	f.engine = NewContextEngine(f.tiered, f.scheduler, f.builder)
}

func (f *fixture) appendTurn(t *testing.T, sessionID, role, text string) models.Turn {
	t.Helper()
	turn := models.Turn{SessionID: sessionID, Role: role, Text: text}
	require.NoError(t, f.tiered.AppendTurn(context.Background(), &turn))
	return turn
}

func (f *fixture) appendTurnAt(t *testing.T, sessionID, role, text string, at time.Time) models.Turn {
	t.Helper()
	turn := models.Turn{SessionID: sessionID, Role: role, Text: text, CreatedAt: at}
	require.NoError(t, f.tiered.AppendTurn(context.Background(), &turn))
	return turn
}
