package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"labelpool/api/internal/app"
	"labelpool/api/internal/config"
	"labelpool/api/internal/engine"
	"labelpool/api/internal/export"
	"labelpool/api/internal/features"
	"labelpool/api/internal/importer"
	"labelpool/api/internal/labels"
	"labelpool/api/internal/media"
	"labelpool/api/internal/session"
	"labelpool/api/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	dataStore := store.NewPostgresStore(db)

	vocab, err := features.Load(cfg.FeaturesFile)
	if err != nil {
		log.Fatalf("feature vocabulary failed: %v", err)
	}
	for _, label := range vocab.Labels() {
		if err := dataStore.UpsertFeature(ctx, label); err != nil {
			log.Fatalf("feature sync failed: %v", err)
		}
	}

	domain := labels.ByName(cfg.Domain)
	eng := engine.New(dataStore, dataStore, dataStore, domain, vocab)
	imp := importer.New(dataStore)
	exp := export.NewService(dataStore)

	var presigner *media.Presigner
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		presigner, err = media.NewPresigner(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL, cfg.MediaURLTTL)
		if err != nil {
			log.Fatalf("object store connection failed: %v", err)
		}
		log.Printf("Serving presigned media URLs from bucket %s", cfg.MinioBucket)
	}

	var service *app.Service
	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Printf("Using Redis for refresh token storage")
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer redisStore.Close()
		service = app.New(cfg, dataStore, redisStore, eng, imp, exp, presigner, vocab)
	} else {
		log.Printf("Using PostgreSQL for refresh token storage")
		service = app.New(cfg, dataStore, dataStore, eng, imp, exp, presigner, vocab)
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Labelpool API listening on %s (domain %s)", cfg.Addr, domain.Name)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
