package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"vidblog/internal/server/api"
	"vidblog/internal/server/config"
	"vidblog/internal/server/database"
	"vidblog/internal/server/processor"
	"vidblog/internal/server/service"
	"vidblog/internal/server/storage"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	// Structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg := config.Load()
	slog.Info("configuration loaded",
		"port", cfg.Port,
		"upload_dir", cfg.UploadDir,
		"max_upload_size", service.MaxUploadSize,
		"retention", cfg.RetentionPeriod,
		"processing_bucket", cfg.ProcessingBucket,
	)

	ctx := context.Background()

	// The upload directory is provisioned externally; refuse to start without it.
	store := storage.NewFileSystemStore(cfg.UploadDir)
	if err := store.CheckDir(); err != nil {
		slog.Error("upload directory unavailable", "error", err)
		os.Exit(1)
	}
	slog.Info("file storage ready", "path", cfg.UploadDir)

	db, err := database.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.RunMigrations(ctx); err != nil {
		slog.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	slog.Info("database migrations complete")

	repo := database.NewRepository(db)
	svc := service.NewIntakeService(store, repo)

	proc, err := newProcessor(ctx, cfg)
	if err != nil {
		slog.Error("failed to configure processor", "error", err)
		os.Exit(1)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := api.NewMetrics(reg)

	bgCtx, bgCancel := context.WithCancel(context.Background())
	retention := storage.NewRetentionService(repo, store, cfg.RetentionPeriod, cfg.CleanupInterval)
	retention.Start(bgCtx)

	handler := api.NewHandler(svc, proc, store, db, repo, metrics)
	e := api.SetupRouter(bgCtx, handler, cfg, metrics)

	go func() {
		addr := fmt.Sprintf(":%s", cfg.Port)
		slog.Info("starting server", "addr", addr)
		if err := e.Start(addr); err != nil {
			slog.Info("server stopped", "reason", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	slog.Info("shutting down", "signal", sig)

	// Let in-flight uploads finish streaming for up to 30s
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	bgCancel()
	retention.Wait()

	slog.Info("server exited cleanly")
}

// newProcessor returns the S3 forwarder when a processing bucket is
// configured, and the plain acknowledger otherwise.
func newProcessor(ctx context.Context, cfg *config.Config) (processor.Processor, error) {
	if cfg.ProcessingBucket == "" {
		slog.Info("no processing bucket configured, uploads are acknowledged in place")
		return processor.Acknowledger{}, nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	slog.Info("forwarding uploads to S3",
		"bucket", cfg.ProcessingBucket,
		"prefix", cfg.ProcessingPrefix,
	)
	return processor.NewS3Forwarder(s3.NewFromConfig(awsCfg), cfg.ProcessingBucket, cfg.ProcessingPrefix), nil
}
