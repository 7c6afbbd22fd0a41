package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"quarters/api/internal/app"
	"quarters/api/internal/auth"
	"quarters/api/internal/catalog"
	"quarters/api/internal/config"
	"quarters/api/internal/devicecache"
	"quarters/api/internal/export"
	"quarters/api/internal/search"
	"quarters/api/internal/session"
	"quarters/api/internal/store"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("WARNING: could not read .env: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	setupLogging(cfg)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	kv, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	defer kv.Close()

	sessions, err := session.NewRedisStore(cfg.RedisURL)
	if err != nil {
		log.Fatalf("redis connection failed: %v", err)
	}
	defer sessions.Close()

	items, err := catalog.Load(cfg.CatalogFile)
	if err != nil {
		log.Fatalf("catalog: %v", err)
	}

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
	}
	searchService := search.NewService(meiliClient, search.NewMemory(items.All()))

	archive, err := export.NewArchive(ctx, export.ArchiveConfig{
		Endpoint:  cfg.S3Endpoint,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
		Bucket:    cfg.S3Bucket,
		UseSSL:    cfg.S3UseSSL,
	})
	switch {
	case errors.Is(err, export.ErrArchiveDisabled):
		log.Info("S3 not configured, closed ballots will not be archived")
	case err != nil:
		log.Printf("WARNING: archive unavailable: %v", err)
		archive = nil
	}

	gate, err := auth.NewGate(cfg.GatePassphrase)
	if err != nil {
		log.Fatalf("gate: %v", err)
	}

	service := app.New(cfg, app.Deps{
		KV:       kv,
		Sessions: sessions,
		Devices:  devicecache.New(cfg.DeviceCacheTTL),
		Catalog:  items,
		Search:   searchService,
		Export:   export.NewService(cfg.ChromePath, archive),
		Gate:     gate,
	})
	defer service.Close()

	if err := service.Bootstrap(ctx); err != nil {
		log.Printf("WARNING: bootstrap error (will retry on next restart): %v", err)
	}
	service.StartWindows(ctx)

	if cfg.ConfigFile != "" {
		if err := config.WatchRoster(cfg.ConfigFile, service.SetRoster); err != nil {
			log.Printf("WARNING: roster reload disabled: %v", err)
		}
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Quarters API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}

func setupLogging(cfg config.Config) {
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)
	if cfg.LogFormat == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	}
}

func openStore(ctx context.Context, cfg config.Config) (store.KV, error) {
	switch cfg.StoreBackend {
	case "postgres":
		db, err := store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := store.ApplyMigrations(ctx, db, os.DirFS(cfg.MigrationsDir)); err != nil {
			_ = db.Close()
			return nil, err
		}
		log.Info("using PostgreSQL for the vote store")
		return store.NewPostgresStore(db), nil
	default:
		log.Info("using Redis for the vote store")
		return store.NewRedisStore(cfg.RedisURL, cfg.StoreNamespace)
	}
}
