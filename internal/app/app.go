package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/templui/mediapipe/internal/chunksession"
	"github.com/templui/mediapipe/internal/config"
	"github.com/templui/mediapipe/internal/db"
	"github.com/templui/mediapipe/internal/repository"
	"github.com/templui/mediapipe/internal/service"
	"github.com/templui/mediapipe/internal/storage"
	"github.com/templui/mediapipe/internal/thumbnail"
	"github.com/templui/mediapipe/internal/worker"
)

type App struct {
	Cfg           *config.Config
	DB            *sqlx.DB
	Redis         *redis.Client
	Originals     *storage.LocalStore
	AuthService   *service.AuthService
	IngestService *service.IngestService
	FileService   *service.FileService
	Scheduler     *service.DerivationScheduler
	Janitor       *service.Janitor

	skipRecovery bool
}

type Option func(*App)

// WithoutRecovery leaves pending and processing files alone at startup, for
// one-off commands that pick their own work.
func WithoutRecovery() Option {
	return func(a *App) { a.skipRecovery = true }
}

func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	// Initialize database
	database, err := db.Init(cfg.DBDriver, cfg.DBConnection)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %v", err)
	}

	// Run database migrations
	err = db.RunMigrations(database.DB, cfg.DBDriver)
	if err != nil {
		_ = db.Close(database)
		return nil, fmt.Errorf("failed to run migrations: %v", err)
	}

	a := &App{Cfg: cfg, DB: database}
	for _, opt := range opts {
		opt(a)
	}
	if err := a.wire(ctx); err != nil {
		_ = a.Shutdown(context.Background())
		return nil, err
	}
	return a, nil
}

func (a *App) wire(ctx context.Context) error {
	cfg := a.Cfg

	// Repositories
	fileRepository := repository.NewFileRepository(a.DB)
	linkRepository := repository.NewLinkRepository(a.DB)

	// Storage
	originals, err := storage.NewLocalStore(cfg.UploadRoot, cfg.UploadPublicPrefix)
	if err != nil {
		return fmt.Errorf("failed to initialize upload root: %v", err)
	}
	artifacts, err := storage.New(cfg, originals)
	if err != nil {
		return fmt.Errorf("failed to initialize artifact storage: %v", err)
	}
	a.Originals = originals

	sessions, err := a.chunkSessions(ctx)
	if err != nil {
		return err
	}

	// Derivation
	engine := thumbnail.NewEngine(originals, artifacts, slog.Default())
	a.Scheduler = service.NewDerivationScheduler(engine, fileRepository, worker.Options{
		Workers:    cfg.DeriveWorkers,
		QueueSize:  cfg.DeriveQueueSize,
		JobTimeout: cfg.DeriveJobTimeout,
	}, slog.Default())
	a.Scheduler.Start()
	if !a.skipRecovery {
		a.Scheduler.Recover(cfg.DeriveQueueSize)
	}

	cacheSize := cfg.ArtifactCacheSize
	if cfg.ArtifactCacheOff {
		cacheSize = 0
	}
	resolver := service.NewBackfillResolver(originals, artifacts, engine, a.Scheduler, service.BackfillConfig{
		Timeout:   cfg.BackfillTimeout,
		CacheSize: cacheSize,
		CacheTTL:  cfg.ArtifactCacheTTL,
	}, slog.Default())

	// Services
	partsDir := filepath.Join(cfg.UploadTempDir, "parts")
	a.IngestService, err = service.NewIngestService(fileRepository, originals, sessions, a.Scheduler, service.IngestConfig{
		MaxFileSize:  cfg.MaxFileSize,
		MaxChunkSize: cfg.MaxChunkSize,
		PartsDir:     partsDir,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize ingest: %v", err)
	}
	a.FileService = service.NewFileService(fileRepository, linkRepository, originals, artifacts, resolver, a.Scheduler)
	a.AuthService = service.NewAuthService(cfg.JWTSecret, cfg.JWTExpiry)

	a.Janitor = service.NewJanitor(sessions, partsDir, cfg.ChunkSessionTTL)
	if err := a.Janitor.Start(cfg.CleanupSchedule); err != nil {
		return fmt.Errorf("failed to start janitor: %v", err)
	}

	return nil
}

// chunkSessions builds the chunk session store selected by CHUNK_SESSION_BACKEND.
func (a *App) chunkSessions(ctx context.Context) (chunksession.Store, error) {
	switch a.Cfg.ChunkSessionStore {
	case "", "fs":
		store, err := chunksession.NewFileStore(filepath.Join(a.Cfg.UploadTempDir, "sessions"))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize chunk sessions: %v", err)
		}
		return store, nil
	case "redis":
		rdb, err := chunksession.NewRedisClient(ctx, a.Cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %v", err)
		}
		a.Redis = rdb
		slog.Info("chunk sessions stored in redis", "ttl", a.Cfg.ChunkSessionTTL)
		return chunksession.NewRedisStore(rdb, a.Cfg.ChunkSessionTTL), nil
	default:
		return nil, fmt.Errorf("unknown chunk session backend %q", a.Cfg.ChunkSessionStore)
	}
}

// Shutdown drains background derivation, stops the janitor and closes
// connections. The HTTP server must be shut down first.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	if a.Scheduler != nil {
		if err := a.Scheduler.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("derivation drain: %w", err))
		}
	}
	if a.Janitor != nil {
		a.Janitor.Stop()
	}
	if err := a.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (a *App) Close() error {
	var errs []error
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
		a.Redis = nil
	}
	if a.DB != nil {
		errs = append(errs, db.Close(a.DB))
		a.DB = nil
	}
	return errors.Join(errs...)
}
