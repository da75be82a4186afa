package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/pawpal/pawpal-context/internal/models"
)

// IncomingTurn is the turn the chat pipeline hands the engine before calling
// the completion service.
type IncomingTurn struct {
	Role     string          `json:"role"`
	Text     string          `json:"text"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

// ContextEngine is the single entry point the rest of the application uses:
// trigger check, any needed summarization, the Tier-1 append, and final
// context assembly, in that order.
type ContextEngine struct {
	store     turnStore
	scheduler *SchedulerService
	builder   *BuilderService
	log       *logrus.Entry
}

// turnStore is the slice of the tiered store the engine touches directly.
type turnStore interface {
	AppendTurn(ctx context.Context, turn *models.Turn) error
	RegisterSession(ctx context.Context, userID, personaID, sessionID string) error
}

func NewContextEngine(store turnStore, scheduler *SchedulerService, builder *BuilderService) *ContextEngine {
	return &ContextEngine{
		store:     store,
		scheduler: scheduler,
		builder:   builder,
		log:       logrus.WithField("component", "context_engine"),
	}
}

// PrepareContext evaluates compression triggers, appends the incoming turn
// and returns the assembled context. Summarizer failures degrade silently;
// losing the turn write breaks the ordering invariant, so append failures are
// fatal to the turn and propagate.
func (e *ContextEngine) PrepareContext(ctx context.Context, sessionID, userID, personaID string, incoming IncomingTurn, budget int) ([]models.ContextMessage, error) {
	if err := e.store.RegisterSession(ctx, userID, personaID, sessionID); err != nil {
		return nil, fmt.Errorf("failed to register session: %w", err)
	}

	if err := e.scheduler.EvaluateTurn(ctx, sessionID, userID, personaID); err != nil {
		// Trigger evaluation is best-effort: a stale-but-present summary is
		// always preferable to blocking the user.
		e.log.WithError(err).WithField("session_id", sessionID).Warn("trigger evaluation failed")
	}

	role := incoming.Role
	if role == "" {
		role = models.RoleUser
	}
	turn := &models.Turn{
		SessionID: sessionID,
		Role:      role,
		Text:      incoming.Text,
		Metadata:  incoming.Metadata,
	}
	if err := e.store.AppendTurn(ctx, turn); err != nil {
		return nil, fmt.Errorf("failed to append turn: %w", err)
	}

	return e.builder.Build(ctx, sessionID, userID, personaID, budget)
}

// RunBatchSweep runs one batch compression pass and returns the number of
// sessions processed. Intended to be invoked by an external job runner.
func (e *ContextEngine) RunBatchSweep(ctx context.Context) (int, error) {
	return e.scheduler.RunBatchSweep(ctx)
}
