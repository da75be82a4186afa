package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/pawpal/pawpal-context/internal/api"
	"github.com/pawpal/pawpal-context/internal/config"
	"github.com/pawpal/pawpal-context/internal/kv"
	kvpostgres "github.com/pawpal/pawpal-context/internal/kv/postgres"
	kvredis "github.com/pawpal/pawpal-context/internal/kv/redis"
	"github.com/pawpal/pawpal-context/internal/providers/openai"
	"github.com/pawpal/pawpal-context/internal/services"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}

	kvStore, err := newStore(cfg)
	if err != nil {
		log.Fatal("Failed to connect to store:", err)
	}
	defer kvStore.Close()

	provider, err := openai.NewProvider(cfg.OpenAI)
	if err != nil {
		log.Fatal("Failed to initialize OpenAI provider:", err)
	}

	svc := services.NewServices(kvStore, provider, provider, cfg)

	app := fiber.New(fiber.Config{
		AppName:      "PawPal Context Engine",
		ErrorHandler: customErrorHandler,
	})
	app.Use(recover.New())
	app.Use(logger.New())

	api.SetupRoutes(app, svc, kvStore)

	// Off-peak batch compression; an external job runner can also trigger it
	// through POST /api/v1/batch/sweep.
	c := cron.New()
	if _, err := c.AddFunc(cfg.Batch.Schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()
		processed, err := svc.Engine.RunBatchSweep(ctx)
		if err != nil {
			logrus.WithError(err).Error("scheduled batch sweep failed")
			return
		}
		logrus.WithField("sessions_processed", processed).Info("scheduled batch sweep finished")
	}); err != nil {
		log.Fatal("Invalid batch schedule:", err)
	}
	c.Start()
	defer c.Stop()

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	log.Printf("PawPal context engine starting on %s", addr)
	if err := app.Listen(addr); err != nil {
		log.Fatal("Failed to start server:", err)
	}
}

func newStore(cfg *config.Config) (kv.Store, error) {
	switch cfg.Store.Backend {
	case "postgres":
		return kvpostgres.NewStore(cfg.Database)
	case "redis", "":
		return kvredis.NewStore(cfg.Redis)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
	}

	return c.Status(code).JSON(fiber.Map{
		"error": err.Error(),
		"code":  code,
	})
}
