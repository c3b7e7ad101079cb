package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jwebster45206/storyloom/internal/config"
	"github.com/jwebster45206/storyloom/internal/handlers"
	"github.com/jwebster45206/storyloom/internal/logger"
	"github.com/jwebster45206/storyloom/internal/middleware"
	"github.com/jwebster45206/storyloom/internal/services"
	"github.com/jwebster45206/storyloom/internal/services/events"
	"github.com/jwebster45206/storyloom/internal/services/queue"
	"github.com/jwebster45206/storyloom/internal/storage"
)

const version = "1.0.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	log := logger.Setup(cfg)

	log.Info("Starting storyloom relay",
		"port", cfg.Port,
		"environment", cfg.Environment,
		"data_dir", cfg.DataDir,
		"version", version)

	files, err := storage.NewFileManager(cfg.DataDir, cfg.BackupDir, cfg.BackupGenerations, log)
	if err != nil {
		log.Error("Failed to initialize data directory", "error", err)
		os.Exit(1)
	}

	cache := services.NewRedisService(cfg.RedisURL, log)
	cacheCtx, cacheCancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cacheCancel()

	if err := cache.WaitForConnection(cacheCtx); err != nil {
		log.Error("Failed to connect to redis", "error", err)
		os.Exit(1)
	}

	rdb := cache.GetClient()
	broadcaster := events.NewBroadcaster(rdb, log)
	incoming := queue.NewIncomingBuffer(queue.NewClientFromRedis(rdb, log))
	upstream := services.NewUpstreamClient(cfg.UpstreamTimeout)

	mux := http.NewServeMux()

	mux.Handle("/api/health", handlers.NewHealthHandler(cache, version, log))
	mux.Handle("/metrics", promhttp.Handler())

	mux.Handle("/api/files/", handlers.NewFilesHandler(files, broadcaster, log))

	completions := handlers.NewCompletionsHandler(upstream, cache, files, broadcaster, log)
	mux.Handle("/api/ai/chat/completions", completions)
	mux.Handle("/api/ai/chat/completions/last", completions)

	mux.Handle("/api/webhook/post", handlers.NewWebhookPostHandler(upstream, files, log))
	incomingHandler := handlers.NewIncomingWebhookHandler(incoming, files, broadcaster, log)
	mux.Handle("/webhook", incomingHandler)
	mux.Handle("/api/webhook/incoming", incomingHandler)

	mux.Handle("/api/browser/active", handlers.NewBrowserHandler(cache, broadcaster, log))
	mux.Handle("/api/events", handlers.NewEventsHandler(broadcaster, log))

	handler := middleware.Logger(log, mux)
	server := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     handler,
		ReadTimeout: 15 * time.Second,
		// No WriteTimeout: completions can outlast it and SSE streams are long-lived.
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		log.Info("Server starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Server is shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
	}

	if err := cache.Close(); err != nil {
		log.Error("Error closing redis connection", "error", err)
	}

	log.Info("Server exited")
}
