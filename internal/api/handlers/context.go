package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/pawpal/pawpal-context/internal/models"
	"github.com/pawpal/pawpal-context/internal/services"
)

// ContextHandler exposes the engine's two entry points to the chat pipeline
// and the job runner. No business logic lives here.
type ContextHandler struct {
	engine *services.ContextEngine
}

func NewContextHandler(engine *services.ContextEngine) *ContextHandler {
	return &ContextHandler{engine: engine}
}

type prepareContextRequest struct {
	SessionID string                `json:"session_id"`
	UserID    string                `json:"user_id"`
	PersonaID string                `json:"persona_id"`
	Turn      services.IncomingTurn `json:"turn"`
	Budget    int                   `json:"budget"`
}

// PrepareContext handles POST /api/v1/context/prepare
func (h *ContextHandler) PrepareContext(c *fiber.Ctx) error {
	var req prepareContextRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if req.SessionID == "" || req.UserID == "" || req.PersonaID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "session_id, user_id and persona_id are required",
		})
	}
	if req.Budget <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "budget must be positive",
		})
	}

	messages, err := h.engine.PrepareContext(c.Context(), req.SessionID, req.UserID, req.PersonaID, req.Turn, req.Budget)
	if err != nil {
		if errors.Is(err, models.ErrBudgetExceeded) {
			return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
				"error": "Context budget exceeded",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   "Failed to prepare context",
			"details": err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"messages": messages,
	})
}

// RunBatchSweep handles POST /api/v1/batch/sweep
func (h *ContextHandler) RunBatchSweep(c *fiber.Ctx) error {
	processed, err := h.engine.RunBatchSweep(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   "Batch sweep failed",
			"details": err.Error(),
		})
	}
	return c.JSON(fiber.Map{
		"sessions_processed": processed,
	})
}
