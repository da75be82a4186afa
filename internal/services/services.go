package services

import (
	"github.com/pawpal/pawpal-context/internal/config"
	"github.com/pawpal/pawpal-context/internal/kv"
	"github.com/pawpal/pawpal-context/internal/providers"
	"github.com/pawpal/pawpal-context/internal/store"
	"github.com/pawpal/pawpal-context/internal/tokens"
)

// Services wires the context engine's components together.
type Services struct {
	Counter    tokens.Counter
	Tiered     *store.TieredStore
	Summarizer *SummarizerService
	Scheduler  *SchedulerService
	Builder    *BuilderService
	Engine     *ContextEngine
}

// NewServices builds the full service graph on top of a kv backend and the
// external completion/embedding services.
func NewServices(kvStore kv.Store, completion providers.CompletionService, embedding providers.EmbeddingService, cfg *config.Config) *Services {
	counter := tokens.NewCounter(cfg.OpenAI.Model)
	tiered := store.NewTieredStore(kvStore, counter, cfg.Store.TurnTTL)
	summarizer := NewSummarizerService(tiered, completion, embedding, counter, cfg.Compaction, cfg.OpenAI.Temperature)

	// The sweep throttles itself against the completion service's quota; one
	// bucket per service, refilled per minute.
	var limiter providers.RateLimiter
	if cfg.Batch.LimiterRate > 0 {
		limiter = providers.NewTokenBucketLimiter(cfg.Batch.LimiterRate, cfg.Batch.LimiterBurst)
	}
	scheduler := NewSchedulerService(tiered, summarizer, counter, cfg.Compaction, cfg.Batch, limiter)
	builder := NewBuilderService(tiered, counter, cfg.Builder)
	engine := NewContextEngine(tiered, scheduler, builder)

	return &Services{
		Counter:    counter,
		Tiered:     tiered,
		Summarizer: summarizer,
		Scheduler:  scheduler,
		Builder:    builder,
		Engine:     engine,
	}
}
