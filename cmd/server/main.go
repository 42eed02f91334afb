package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"smartshot/internal/config"
	"smartshot/internal/database"
	"smartshot/internal/handlers"
	"smartshot/internal/jobs"
	"smartshot/internal/logging"
	"smartshot/internal/middleware"
	"smartshot/internal/models"
	"smartshot/internal/preflight"
	"smartshot/internal/services"
	"smartshot/internal/watcher"
)

func main() {
	// Load .env file (ignore error if file doesn't exist)
	if err := godotenv.Load(); err != nil {
		log.Printf("⚠️  No .env file found or error loading it: %v", err)
	}

	// Initialize structured logging (JSON in production, text in dev)
	logging.Init()

	log.Println("🚀 Starting SmartShot Server...")

	cfg := config.Load()
	log.Printf("📋 Configuration loaded (Port: %s, Environment: %s)", cfg.Port, cfg.Environment)

	db, err := database.New(config.ExpandHome(cfg.DatabaseURL))
	if err != nil {
		log.Fatalf("❌ Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := db.Initialize(); err != nil {
		log.Fatalf("❌ Failed to initialize database: %v", err)
	}
	log.Printf("✅ Database ready (%s)", db.Dialect())

	if results := preflight.NewChecker(db, cfg).RunAll(); preflight.HasFailures(results) {
		log.Fatal("❌ Pre-flight checks failed")
	}

	// Core services
	screenshotService := services.NewScreenshotService(db)
	statsService := services.NewStatsService(db)
	settingsService := services.NewSettingsService(db)
	exportService := services.NewExportService(screenshotService)

	broadcaster := services.NewBroadcaster(statsService, cfg.BroadcastWriteTimeout)
	broadcaster.OnRemove(func(connID string) {
		logging.WithConnection(connID, "").Debug("viewer channel released")
	})

	metrics := services.InitMetrics(prometheus.DefaultRegisterer, broadcaster)
	broadcaster.SetMetrics(metrics)

	ingestService := services.NewIngestService(screenshotService, broadcaster, cfg.IngestRate)
	ingestService.SetMetrics(metrics)

	// Cross-instance relay (optional)
	var redisService *services.RedisService
	var eventRelay *services.EventRelay
	if cfg.RedisURL != "" {
		redisService, err = services.NewRedisService(cfg.RedisURL)
		if err != nil {
			log.Printf("⚠️  Redis unavailable, relay disabled: %v", err)
		} else {
			instanceID := uuid.New().String()
			eventRelay = services.NewEventRelay(redisService, broadcaster, instanceID)
			if err := eventRelay.Start(); err != nil {
				log.Printf("⚠️  Failed to start event relay: %v", err)
				eventRelay = nil
			} else {
				broadcaster.SetPublisher(eventRelay)
				log.Printf("✅ [RELAY] Sharing events on %s (instance %s)", services.RelayChannel, instanceID)
			}
		}
	}

	// Filesystem observer (optional, degrades on failure)
	watchRoot, err := filepath.Abs(config.ExpandHome(cfg.WatchPath))
	if err != nil {
		log.Fatalf("❌ Invalid WATCH_PATH %q: %v", cfg.WatchPath, err)
	}

	rootCtx, cancelRoot := context.WithCancel(context.Background())
	defer cancelRoot()

	var observer *watcher.Observer
	if cfg.IngestEnabled {
		observer = watcher.New(watchRoot, watcher.Options{
			Recursive: cfg.WatchRecursive,
			Settle:    cfg.WatchSettle,
		}, func(ctx context.Context, path string) {
			if _, err := ingestService.Ingest(ctx, path, models.ScreenshotAttrs{}); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("❌ [WATCHER] Failed to ingest %s: %v", filepath.Base(path), err)
			}
		})

		if err := observer.Start(rootCtx); err != nil {
			// viewers still get baselines and the query surface keeps working
			log.Printf("⚠️  [WATCHER] %v (live detection disabled)", err)
		} else {
			log.Printf("👀 [WATCHER] Watching %s (recursive: %v)", watchRoot, cfg.WatchRecursive)
		}
	} else {
		log.Println("⏸️  [WATCHER] Ingest disabled (INGEST_ENABLED=false)")
	}

	// Library rescan
	var jobScheduler *jobs.JobScheduler
	if cfg.IngestEnabled {
		rescan := jobs.NewLibraryRescanJob(watchRoot, cfg.WatchRecursive, screenshotService, ingestService, broadcaster)

		if cfg.RescanSchedule != "" {
			jobScheduler, err = jobs.NewJobScheduler()
			if err != nil {
				log.Printf("⚠️  Failed to create job scheduler: %v", err)
			} else if err := jobScheduler.Register("library_rescan", cfg.RescanSchedule, rescan); err != nil {
				log.Printf("⚠️  Invalid RESCAN_SCHEDULE %q: %v", cfg.RescanSchedule, err)
				jobScheduler = nil
			} else if err := jobScheduler.Start(); err != nil {
				log.Printf("⚠️  Failed to start job scheduler: %v", err)
				jobScheduler = nil
			} else {
				log.Printf("✅ [RESCAN] Scheduled library rescan (%s)", cfg.RescanSchedule)
			}
		}

		// pick up files created while the server was down
		go func() {
			if err := rescan.Run(rootCtx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("⚠️  [RESCAN] Startup rescan failed: %v", err)
			}
		}()
	}

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		AppName:      "SmartShot v1.0",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
		BodyLimit:    1 * 1024 * 1024,
	})

	// Middleware
	app.Use(recover.New())
	app.Use(logger.New())

	prom := fiberprometheus.New("smartshot")
	prom.RegisterAt(app, "/metrics")
	app.Use(prom.Middleware)
	log.Println("📊 Prometheus metrics endpoint enabled at /metrics")

	rateLimitConfig := middleware.LoadRateLimitConfig()
	log.Printf("🛡️  [RATE-LIMIT] Loaded config: API=%d/min, Write=%d/min, WS=%d/min",
		rateLimitConfig.APIMax,
		rateLimitConfig.WriteMax,
		rateLimitConfig.WebSocketMax,
	)

	// Fiber's CORS middleware does not allow AllowCredentials with wildcard origins
	allowCredentials := cfg.AllowedOrigins != "*"
	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     "GET,POST,OPTIONS",
		AllowHeaders:     "Origin,Content-Type,Accept",
		AllowCredentials: allowCredentials,
	}))
	log.Printf("🔒 [SECURITY] CORS allowed origins: %s", cfg.AllowedOrigins)

	// Handlers
	var watcherState func() string
	if observer != nil {
		watcherState = observer.State
	}
	healthHandler := handlers.NewHealthHandler(broadcaster, watcherState)
	screenshotHandler := handlers.NewScreenshotHandler(screenshotService, ingestService, exportService)
	statsHandler := handlers.NewStatsHandler(statsService)
	settingsHandler := handlers.NewSettingsHandler(settingsService)
	viewerHandler := handlers.NewViewerHandler(broadcaster, cfg.BroadcastQueueSize)

	app.Get("/health", healthHandler.Handle)

	api := app.Group("/api", middleware.APIRateLimiter(rateLimitConfig))
	writes := middleware.WriteRateLimiter(rateLimitConfig)

	api.Get("/screenshots/recent", screenshotHandler.Recent)
	api.Get("/screenshots/export", writes, screenshotHandler.Export)
	api.Post("/screenshots", writes, screenshotHandler.Create)
	api.Get("/search", screenshotHandler.Search)
	api.Get("/filters", screenshotHandler.Filters)
	api.Get("/stats/overview", statsHandler.Overview)
	api.Get("/stats/detailed", statsHandler.Detailed)
	api.Get("/settings", settingsHandler.Get)
	api.Post("/settings", writes, settingsHandler.Update)

	// Viewer channel. No Origin restriction: the CLI viewer sends no Origin header.
	app.Use("/ws", handlers.UpgradeCheck, middleware.WebSocketRateLimiter(rateLimitConfig))
	app.Get("/ws", websocket.New(viewerHandler.Handle))

	if cfg.ServeFrontend {
		serveFrontend(app, cfg.FrontendDir)
	}

	log.Printf("✅ Server ready on port %s", cfg.Port)
	log.Printf("🔗 Viewer endpoint: ws://localhost:%s/ws", cfg.Port)
	log.Printf("📡 Health check: http://localhost:%s/health", cfg.Port)

	// Handle graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("\n🛑 Shutting down server...")

		cancelRoot()

		if jobScheduler != nil {
			jobScheduler.Stop()
		}
		if observer != nil {
			observer.Stop()
		}
		if eventRelay != nil {
			if err := eventRelay.Stop(); err != nil {
				log.Printf("⚠️ Error stopping event relay: %v", err)
			}
		}
		if redisService != nil {
			redisService.Close()
		}

		broadcaster.CloseAll()

		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Printf("⚠️ Error shutting down server: %v", err)
		}
	}()

	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Fatalf("❌ Failed to start server: %v", err)
	}
}

// serveFrontend serves a built single-page app with index.html fallback
// for client-side routes
func serveFrontend(app *fiber.App, frontendDir string) {
	if _, err := os.Stat(frontendDir); err != nil {
		log.Printf("⚠️  SERVE_FRONTEND=true but directory %s not found", frontendDir)
		return
	}

	app.Static("/", frontendDir, fiber.Static{
		Compress:      true,
		CacheDuration: 24 * time.Hour,
	})
	app.Get("/*", func(c *fiber.Ctx) error {
		path := c.Path()
		if strings.HasPrefix(path, "/api/") ||
			path == "/ws" ||
			path == "/health" ||
			path == "/metrics" {
			return c.Next()
		}
		return c.SendFile(filepath.Join(frontendDir, "index.html"))
	})
	log.Printf("🌐 Frontend serving from %s", frontendDir)
}
