package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"medichat/internal/config"
	"medichat/internal/convo"
	"medichat/internal/generate"
	"medichat/internal/history"
	"medichat/internal/httpapi"
	"medichat/internal/ingest"
	"medichat/internal/observability"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	store, err := history.NewStore(ctx, cfg.RedisURL, cfg.DatabaseURL, cfg.HistoryCap, cfg.HistoryTTL)
	if err != nil {
		log.Fatalf("history store init failed: %v", err)
	}
	defer store.Close()

	storeMode := "in-memory"
	switch {
	case cfg.RedisURL != "":
		storeMode = "redis"
	case cfg.DatabaseURL != "":
		storeMode = "postgres"
	}
	log.Printf("history backend: %s (cap=%d ttl=%s)", storeMode, cfg.HistoryCap, cfg.HistoryTTL)

	client := generate.NewClient(generate.Config{
		APIKey:  cfg.OpenAIAPIKey,
		BaseURL: cfg.OpenAIBaseURL,
		Model:   cfg.OpenAIModel,
	})
	if cfg.OpenAIAPIKey == "" {
		log.Printf("generation client: mock (OPENAI_API_KEY is not set)")
	} else {
		log.Printf("generation client: openai (%s)", cfg.OpenAIModel)
	}

	var uploader ingest.Uploader = ingest.DisabledUploader{}
	if cfg.CloudinaryConfigured() {
		uploader = ingest.NewCloudinaryUploader(ingest.CloudinaryConfig{
			CloudName: cfg.CloudinaryCloudName,
			APIKey:    cfg.CloudinaryAPIKey,
			APISecret: cfg.CloudinaryAPISecret,
		})
		log.Printf("image uploads: cloudinary (%s)", cfg.CloudinaryCloudName)
	} else {
		log.Printf("image uploads: disabled (cloudinary credentials not set)")
	}

	orchestrator := convo.New(
		store,
		client,
		ingest.NewIngestor(uploader, cfg.UploadTimeout),
		metrics,
		cfg.SystemPrompt,
		cfg.GenerationTimeout,
	)

	api := httpapi.New(cfg, orchestrator, store, metrics, storeMode)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}
