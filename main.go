// lanclip/main.go
package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"lanclip/access"
	"lanclip/assets"
	"lanclip/clipboard"
	"lanclip/config"
	"lanclip/database"
	"lanclip/handlers"
	"lanclip/models"
	"lanclip/pubsub"
	"lanclip/redisdb"
)

type Application struct {
	clipboard   *clipboard.Service
	gate        *access.Gate
	rateLimiter *models.RateLimiter
	logger      *slog.Logger
	config      *config.Config
}

// Methods to satisfy the handlers.App interface
func (a *Application) Clipboard() *clipboard.Service    { return a.clipboard }
func (a *Application) Gate() *access.Gate               { return a.gate }
func (a *Application) RateLimiter() *models.RateLimiter { return a.rateLimiter }
func (a *Application) Logger() *slog.Logger             { return a.logger }
func (a *Application) Config() *config.Config           { return a.config }

// backend is a store that also keeps board keys.
type backend interface {
	models.EntryStore
	access.KeyStore
}

// openBackend connects the configured store. Redis carries its own event
// bus; SQLite is paired with the in-process one.
func openBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger) (backend, models.EventBus, error) {
	switch cfg.Store {
	case "sqlite":
		db, err := database.InitDB(cfg.DBPath, cfg.MaxEntries, cfg.Retention(), logger)
		if err != nil {
			return nil, nil, err
		}
		return db, pubsub.New(logger), nil
	default:
		client, err := redisdb.Open(ctx, cfg.RedisURL, cfg.MaxEntries, cfg.Retention(), logger)
		if err != nil {
			return nil, nil, err
		}
		return client, client, nil
	}
}

func openStorage(ctx context.Context, cfg *config.Config, logger *slog.Logger) (models.StorageService, error) {
	if cfg.S3.Enabled {
		s3, err := assets.NewS3Storage(ctx, cfg.S3.Endpoint, cfg.S3.AccessKey, cfg.S3.SecretKey, cfg.S3.Bucket, cfg.S3.Region, cfg.S3.UseSSL)
		if err != nil {
			return nil, err
		}
		logger.Info("S3 Storage initialized", "endpoint", cfg.S3.Endpoint, "bucket", cfg.S3.Bucket)
		return s3, nil
	}
	local, err := assets.NewLocalStorage(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	logger.Info("Local Storage initialized", "dir", cfg.DataDir)
	return local, nil
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, bus, err := openBackend(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to connect to the backing store", "store", cfg.Store, "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close store", "error", err)
		}
	}()

	storage, err := openStorage(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize asset storage", "error", err)
		os.Exit(1)
	}

	if err := handlers.LoadTemplates(); err != nil {
		logger.Error("Failed to load templates", "error", err)
		os.Exit(1)
	}

	svc := clipboard.New(store, bus, assets.NewManager(storage, cfg.MaxUploadBytes(), logger), logger)
	if removed, err := svc.Reconcile(ctx); err != nil {
		logger.Warn("Startup asset reconciliation failed", "error", err)
	} else if removed > 0 {
		logger.Info("Removed orphaned assets", "count", removed)
	}

	app := &Application{
		clipboard:   svc,
		gate:        access.NewGate(store, cfg.Retention()),
		rateLimiter: models.NewRateLimiter(cfg.RateLimitEvery, cfg.RateLimitBurst, cfg.RateLimitPrune, cfg.RateLimitExpire),
		logger:      logger,
		config:      cfg,
	}

	g, gctx := errgroup.WithContext(ctx)

	// Streams derive from gctx so they end when shutdown begins.
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handlers.SetupRouter(app),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return gctx },
	}

	g.Go(func() error {
		logger.Info("lanclip server started successfully",
			"version", config.AppVersion,
			"store", cfg.Store,
			"address", "http://localhost:"+cfg.Port,
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return svc.RunJanitor(gctx, cfg.SweepInterval)
	})
	g.Go(func() error {
		return app.rateLimiter.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Server stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("Server exiting")
}
