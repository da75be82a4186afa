package api

import (
	"github.com/gofiber/fiber/v2"

	"github.com/pawpal/pawpal-context/internal/api/handlers"
	"github.com/pawpal/pawpal-context/internal/kv"
	"github.com/pawpal/pawpal-context/internal/services"
)

// SetupRoutes registers the engine's HTTP surface.
func SetupRoutes(app *fiber.App, svc *services.Services, kvStore kv.Store) {
	contextHandler := handlers.NewContextHandler(svc.Engine)

	app.Get("/health", func(c *fiber.Ctx) error {
		if err := kvStore.Ping(c.Context()); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"status": "degraded",
				"error":  err.Error(),
			})
		}
		return c.JSON(fiber.Map{"status": "ok"})
	})

	v1 := app.Group("/api/v1")
	v1.Post("/context/prepare", contextHandler.PrepareContext)
	v1.Post("/batch/sweep", contextHandler.RunBatchSweep)
}
