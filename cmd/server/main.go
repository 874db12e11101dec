package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/circularops/api/internal/app"
	"github.com/circularops/api/internal/config"
	"github.com/circularops/api/internal/db"
	"github.com/circularops/api/internal/objectstore"
	"github.com/circularops/api/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load()
	if err != nil {
		logger.Error("load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("connect database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	var photos objectstore.Store
	if cfg.StorageEnabled() {
		s3, err := objectstore.NewS3(ctx, cfg.Storage)
		if err != nil {
			logger.Error("connect object storage", "error", err)
			os.Exit(1)
		}
		if err := s3.EnsureBucket(ctx); err != nil {
			logger.Warn("ensure bucket", "bucket", cfg.Storage.Bucket, "error", err)
		}
		photos = s3
	} else {
		logger.Info("photo_storage_disabled")
	}

	router, err := app.NewRouter(cfg, store.NewPostgres(pool), photos, logger)
	if err != nil {
		logger.Error("build router", "error", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}

	go func() {
		logger.Info("api_started", "addr", cfg.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}
