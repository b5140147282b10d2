package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jonboulle/clockwork"

	httpapi "github.com/agroclim/matopiba-eto/internal/api/http"
	"github.com/agroclim/matopiba-eto/internal/cache"
	"github.com/agroclim/matopiba-eto/internal/config"
	"github.com/agroclim/matopiba-eto/internal/observability"
	"github.com/agroclim/matopiba-eto/internal/orchestrator"
	"github.com/agroclim/matopiba-eto/internal/scheduler"
	"github.com/agroclim/matopiba-eto/internal/store"
	"github.com/agroclim/matopiba-eto/internal/weather"
	"github.com/agroclim/matopiba-eto/internal/weather/providers"
)

func main() {
	// Load configuration (reads .env if present).
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	metrics := observability.NewMetrics()

	// Shared HTTP client for outbound data source calls.
	httpClient := &http.Client{
		Timeout: 30 * time.Second,
	}

	// Tiered cache: Redis when reachable, file-backed otherwise.
	weatherCache := cache.New(cfg.RedisAddr, cfg.CacheDir, cfg.CacheMaxBytes, cfg.CacheExpiry, clockwork.NewRealClock())

	// Audit store: Mongo when configured, in-memory otherwise.
	var audit store.AuditStore
	if cfg.MongoURI != "" {
		mongoStore, err := store.NewMongoStoreWithTimeout(cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			log.Fatalf("failed to connect to mongo: %v", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := mongoStore.Close(ctx); err != nil {
				log.Printf("ERROR: mongo disconnect: %v", err)
			}
		}()
		audit = mongoStore
	} else {
		log.Println("INFO: MONGO_URI not set, run audits kept in memory")
		audit = store.NewMemoryStore(cfg.AuditMaxHistory, cfg.AuditMaxAge)
	}

	// Data source clients with resilience (backoff + circuit breaker).
	archive := providers.NewArchiveClient(httpClient, weatherCache, metrics)
	forecast := providers.NewForecastClient(httpClient, weatherCache, metrics)
	batch := providers.NewBatchForecastClient(httpClient, weatherCache, metrics)

	runner := orchestrator.New(
		cfg.Locations,
		[]weather.Provider{archive},
		batch,
		weatherCache,
		audit,
		metrics,
		cfg.Run,
	)

	sched := scheduler.New(cfg.CronExpr, runner)
	if err := sched.Start(); err != nil {
		log.Fatalf("failed to start scheduler: %v", err)
	}
	defer sched.Stop()

	// Kick off the first run immediately so the API has data before the
	// first cron tick.
	go func() {
		if _, err := sched.RunNow(context.Background()); err != nil {
			log.Printf("initial batch run failed: %v", err)
		}
	}()

	// Basic app configuration
	app := fiber.New(fiber.Config{
		AppName:               "matopiba-eto",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          30 * time.Second,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			// Centralized error response
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error":   true,
				"message": err.Error(),
			})
		},
	})

	// Global middleware
	app.Use(logger.New())
	app.Use(recover.New())

	// Basic health endpoint
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": "matopiba-eto",
		})
	})

	// API routes.
	httpapi.RegisterRoutes(app, httpapi.Deps{
		Cache:     weatherCache,
		Audit:     audit,
		Hourly:    forecast,
		Locations: cfg.Locations,
	})

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Printf("fiber server stopped: %v", err)
		}
	}()

	// Wait for termination signal
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Printf("error during shutdown: %v", err)
	}
}
