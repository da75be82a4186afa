// Maintenance CLI: one-shot batch sweeps and retention cleanup, for
// operators and external job runners that prefer a process over an HTTP
// call.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/pawpal/pawpal-context/internal/config"
	"github.com/pawpal/pawpal-context/internal/kv"
	kvpostgres "github.com/pawpal/pawpal-context/internal/kv/postgres"
	kvredis "github.com/pawpal/pawpal-context/internal/kv/redis"
	"github.com/pawpal/pawpal-context/internal/providers/openai"
	"github.com/pawpal/pawpal-context/internal/services"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}

	kvStore, err := newStore(cfg)
	if err != nil {
		log.Fatal("Failed to connect to store:", err)
	}
	defer kvStore.Close()

	switch os.Args[1] {
	case "sweep":
		runSweep(cfg, kvStore)
	case "expire":
		runExpire(cfg, kvStore)
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: tools <sweep|expire>")
	fmt.Fprintln(os.Stderr, "  sweep   run one batch compression pass")
	fmt.Fprintln(os.Stderr, "  expire  physically delete turns past the retention window")
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

func runSweep(cfg *config.Config, kvStore kv.Store) {
	provider, err := openai.NewProvider(cfg.OpenAI)
	if err != nil {
		log.Fatal("Failed to initialize OpenAI provider:", err)
	}
	svc := services.NewServices(kvStore, provider, provider, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	processed, err := svc.Engine.RunBatchSweep(ctx)
	if err != nil {
		log.Fatal("Batch sweep failed:", err)
	}
	fmt.Printf("processed %d sessions\n", processed)
}

func runExpire(cfg *config.Config, kvStore kv.Store) {
	if cfg.Store.TurnTTL <= 0 {
		fmt.Println("turn retention disabled, nothing to do")
		return
	}

	// The provider is not needed for retention; wire the service graph with
	// no completion calls possible.
	svc := services.NewServices(kvStore, nil, nil, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	cutoff := time.Now().Add(-cfg.Store.TurnTTL)

	keys, err := kvStore.Scan(ctx, "session:")
	if err != nil {
		log.Fatal("Failed to scan sessions:", err)
	}

	trimmed := 0
	for _, key := range keys {
		if !strings.HasSuffix(key, ":last") {
			continue
		}
		sessionID := strings.TrimSuffix(strings.TrimPrefix(key, "session:"), ":last")
		n, err := svc.Tiered.TrimExpiredTurns(ctx, sessionID, cutoff)
		if err != nil {
			log.Printf("failed to trim session %s: %v", sessionID, err)
			continue
		}
		trimmed += n
	}

	removed, err := kvStore.CleanupExpired(ctx)
	if err != nil {
		log.Fatal("Failed to cleanup expired records:", err)
	}
	fmt.Printf("trimmed %d turns, removed %d expired records\n", trimmed, removed)
}
