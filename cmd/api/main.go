//	@title			DropLite API
//	@version		1.0
//	@description	Share images and a video behind a 4-digit code and short-lived links.
//
//	@host		localhost:5000
//	@BasePath	/
//
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				Operator JWT. Format: **Bearer {token}**

package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/droplite/service/internal/config"
	"github.com/droplite/service/internal/db"
	"github.com/droplite/service/internal/server"
	"github.com/droplite/service/internal/share"
	"github.com/droplite/service/internal/storage"

	_ "github.com/droplite/service/docs/swagger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	logger := config.SetupLogger(cfg)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	blobs, err := storage.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("object storage init failed: %w", err)
	}

	// Wire dependencies: store → uploader/gateway/sweeper → handlers
	cached := share.NewCachedStore(store, cfg.CacheSize, cfg.CacheTTL)
	uploader := share.NewUploader(cached, blobs, share.UploaderOptions{
		Prefix:      cfg.StoragePrefix,
		BaseURL:     cfg.BaseURL,
		Retention:   cfg.FileRetention,
		Concurrency: cfg.UploadConcurrency,
		Timeout:     cfg.UploadTimeout,
	}, logger)
	gateway := share.NewGateway(cached, logger)
	sweeper := share.NewSweeper(cached, blobs, share.SweeperOptions{
		Interval:         cfg.SweepInterval,
		Grace:            cfg.SweepGrace,
		Batch:            cfg.SweepBatch,
		Prefix:           cfg.StoragePrefix,
		ReconcileMinAge:  cfg.ReconcileMinAge,
		ReconcileOnSweep: cfg.ReconcileOnSweep,
	}, logger)

	deps := server.Deps{
		Config: cfg,
		Logger: logger,
		Files: share.NewHandler(uploader, gateway, share.Limits{
			MaxFileSize: cfg.MaxFileSize,
			MaxImages:   cfg.MaxImages,
			MaxVideos:   cfg.MaxVideos,
		}, cfg.UploadTempDir, logger),
		Admin: share.NewAdminHandler(sweeper),
		Ping:  store.Ping,
	}
	if local, ok := blobs.(*storage.LocalStorage); ok {
		deps.Media = local.Handler()
		if cfg.IsProduction() {
			logger.Warn("local storage driver in production; blobs live on this host only")
		}
	}
	if cfg.AdminJWTSecret == "" {
		logger.Warn("ADMIN_JWT_SECRET not set; admin routes disabled")
	}

	// WriteTimeout stays unset; uploads stream up to MAX_BODY_SIZE.
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.NewRouter(deps),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	sweeper.Start(ctx)
	defer sweeper.Stop()

	// Start server in goroutine; wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", srv.Addr, "env", cfg.AppEnv, "storage", cfg.StorageDriver)
		logger.Info("swagger UI available", "url", fmt.Sprintf("http://localhost:%s/swagger/", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case sig := <-quit:
		logger.Info("shutting down gracefully", "signal", sig.String())
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

// openStore connects the metadata store named by DATABASE_URL and applies migrations.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (share.Store, func(), error) {
	if cfg.UsesSQLite() {
		conn, err := db.OpenSQLite(cfg.SQLitePath(), logger)
		if err != nil {
			return nil, nil, fmt.Errorf("database connection failed: %w", err)
		}
		if err := db.Migrate(cfg.DatabaseURL, logger); err != nil {
			conn.Close()
			return nil, nil, fmt.Errorf("database migration failed: %w", err)
		}
		return share.NewSQLiteStore(conn), func() { conn.Close() }, nil
	}

	pool, err := db.Connect(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("database connection failed: %w", err)
	}
	if err := db.Migrate(cfg.DatabaseURL, logger); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("database migration failed: %w", err)
	}
	return share.NewPostgresStore(pool), pool.Close, nil
}
