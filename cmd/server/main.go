// Package main is the entry point for the Serial Stamp API server.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Shimizu-Technology/serial-stamp-api/internal/config"
	"github.com/Shimizu-Technology/serial-stamp-api/internal/database"
	"github.com/Shimizu-Technology/serial-stamp-api/internal/handlers"
	"github.com/Shimizu-Technology/serial-stamp-api/internal/middleware"
	"github.com/Shimizu-Technology/serial-stamp-api/internal/router"
	"github.com/Shimizu-Technology/serial-stamp-api/internal/services/download"
	"github.com/Shimizu-Technology/serial-stamp-api/internal/services/janitor"
	"github.com/Shimizu-Technology/serial-stamp-api/internal/services/progress"
	"github.com/Shimizu-Technology/serial-stamp-api/internal/services/qr"
	"github.com/Shimizu-Technology/serial-stamp-api/internal/services/stamp"
	"github.com/Shimizu-Technology/serial-stamp-api/internal/services/webhook"
	"github.com/Shimizu-Technology/serial-stamp-api/internal/services/worker"
	"github.com/Shimizu-Technology/serial-stamp-api/internal/storage"
)

// Version is set at build time via -ldflags.
var Version = "dev"

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Printf("🚀 Serial Stamp API %s starting...", Version)

	// Step 1: Load Configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ Failed to load config: %v", err)
	}

	log.Printf("📋 Config loaded: port=%s, workers=%d, gin_mode=%s, storage=%s",
		cfg.Port, cfg.WorkerCount, cfg.GinMode, cfg.StorageBackend)

	os.Setenv("GIN_MODE", cfg.GinMode)

	// Step 2: Connect to Database
	db, err := database.New(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("❌ Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("✅ Database connected")

	// Run migrations
	if err := db.RunMigrations("migrations"); err != nil {
		log.Fatalf("❌ Migration failed: %v", err)
	}

	// Step 3: Create Services
	ctx := context.Background()
	store, err := storage.New(ctx, cfg)
	if err != nil {
		log.Fatalf("❌ Failed to open %s storage: %v", cfg.StorageBackend, err)
	}
	log.Printf("✅ Artifact storage ready (%s)", store.Name())

	policy, err := stamp.ParsePolicy(cfg.PlacementPolicy)
	if err != nil {
		log.Fatalf("❌ %v", err)
	}
	opts := stamp.DefaultOptions()
	opts.QRSize = cfg.QRSizePoints
	opts.Margin = cfg.QRMarginPoints
	opts.FontSize = cfg.SerialFontSize
	opts.Concurrency = cfg.StampConcurrency
	opts.Policy = policy
	pipeline := stamp.New(qr.NewEncoder(), opts)

	hub := progress.NewHub()
	signer := download.NewSigner(cfg.JWTSecret, cfg.DownloadTokenTTL)

	webhookService := webhook.New(db)
	log.Println("✅ Webhook notification service initialized")

	// Step 4: Create and Start Worker Pool
	wp := worker.NewPool(cfg.WorkerCount, cfg.JobQueueSize, db, store, pipeline, hub)
	wp.SetWebhookService(webhookService)
	wp.Start()
	defer wp.Stop()

	// Runs queued before a restart are picked up again.
	pending, err := db.RecoverRuns(ctx)
	if err != nil {
		log.Printf("⚠️  Failed to recover runs: %v", err)
	}
	for _, id := range pending {
		if err := wp.Submit(worker.Job{ID: id, Type: worker.JobSeriesRun, CreatedAt: time.Now()}); err != nil {
			log.Printf("⚠️  Could not requeue run %s: %v", id, err)
		}
	}
	if len(pending) > 0 {
		log.Printf("✅ Requeued %d pending runs", len(pending))
	}

	cleaner := janitor.New(db, store, cfg.ArtifactTTL)
	if err := cleaner.Start(cfg.CleanupSchedule); err != nil {
		log.Fatalf("❌ Invalid CLEANUP_SCHEDULE %q: %v", cfg.CleanupSchedule, err)
	}
	defer cleaner.Stop()

	// Log admin API key status
	if cfg.AdminAPIKey != "" {
		log.Println("✅ Admin API key configured (API key management protected)")
	} else {
		log.Println("⚠️  No admin API key set (API key management is open — set ADMIN_API_KEY in production)")
	}

	// Step 5: Setup HTTP Router
	handlers.Version = Version
	h := handlers.NewHandler(db, wp, pipeline, store, hub, signer)
	h.MaxUploadBytes = cfg.MaxUploadBytes()
	h.MaxCopies = cfg.MaxCopies
	h.DefaultRateLimit = cfg.DefaultRateLimit

	rateLimiter := middleware.NewRateLimiter()
	defer rateLimiter.Close()

	r := router.Setup(h, db, rateLimiter, cfg.AdminAPIKey, cfg.AllowedOrigins)

	// Step 6: Start the HTTP Server
	// Synchronous series can take a while; the write timeout leaves room
	// for a few thousand copies.
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      r,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("🌐 Server listening on http://localhost:%s", cfg.Port)
		log.Printf("📖 Health check: http://localhost:%s/api/v1/health", cfg.Port)

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("❌ Server failed: %v", err)
		}
	}()

	// Step 7: Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	log.Printf("🛑 Received signal %v, shutting down gracefully...", sig)

	// Signal webhook service to stop pending deliveries
	webhookService.Shutdown()
	log.Println("⏳ Webhook deliveries signaled to stop")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("⚠️  Server forced to shutdown: %v", err)
	}

	log.Println("👋 Server stopped. Goodbye!")
}
