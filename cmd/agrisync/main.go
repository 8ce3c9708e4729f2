package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"agrisync/internal/api"
	"agrisync/internal/config"
	"agrisync/internal/database"
	"agrisync/internal/domain"
	"agrisync/internal/events"
	"agrisync/internal/export"
	"agrisync/internal/gateway"
	"agrisync/internal/logging"
	"agrisync/internal/metrics"
	"agrisync/internal/queue"
	"agrisync/internal/repository"
	"agrisync/internal/service"
	"agrisync/internal/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const stateTTL = 24 * time.Hour

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func(c io.Closer) { _ = c.Close() })(closer)
	}

	if err := prepareDirectories(cfg, &logger); err != nil {
		return err
	}

	db, err := database.NewDB(cfg.Database.Path, &logger)
	if err != nil {
		logger.Error().Err(err).Msg("Database init failed")
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisClient, stateRepo := initStateRepository(ctx, cfg, &logger)
	if redisClient != nil {
		defer func() { _ = repository.Close(redisClient) }()
	}

	eventBus := events.NewEventBus()

	sessions, err := service.NewSessionService(ctx, db, eventBus, &logger)
	if err != nil {
		logger.Error().Err(err).Msg("Session restore failed")
		return err
	}

	gw := gateway.NewClient(cfg.Backend, sessions, &logger)
	if redisClient != nil {
		gw.UseRedisCache(redisClient, cfg.Backend.CacheTTL)
	}

	q := queue.New(db, eventBus, &logger)
	syncWorker := worker.NewSyncWorker(q, gw, eventBus, cfg.Sync, &logger)
	go syncWorker.Start(ctx)

	startMetrics(ctx, cfg, &logger)

	if cfg.Backup.Enabled {
		backupService := database.NewBackupService(cfg.Database.Path, cfg.Backup, &logger)
		go backupService.Start(ctx)
	}

	deps := api.Deps{
		Queue:       q,
		Syncer:      syncWorker,
		Sessions:    sessions,
		Exporter:    export.NewExporter(db, cfg.Exports, &logger),
		DB:          db,
		Submissions: service.NewSubmissionService(gw, q, &logger),
		Auth:        service.NewAuthService(gw, sessions, stateRepo, &logger),
		Chat:        service.NewChatService(gw, q, stateRepo, &logger),
		Prefs:       service.NewPreferenceService(db),
		Forecast:    gw,
	}

	return startControlAPI(ctx, cfg, deps, &logger)
}

func loadConfigAndLogger() (*config.Config, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, err
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, err
	}
	logger := baseLogger.With().Str("component", "main").Logger()

	return cfg, logger, closer, nil
}

func prepareDirectories(cfg *config.Config, logger *zerolog.Logger) error {
	if cfg == nil {
		return os.ErrInvalid
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		logger.Error().Err(err).Msg("Failed to create database directory")
		return err
	}
	if err := os.MkdirAll(cfg.Exports.Path, 0o755); err != nil {
		logger.Error().Err(err).Msg("Failed to create export directory")
		return err
	}
	return nil
}

func initStateRepository(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*redis.Client, domain.StateRepository) {
	fallback := repository.NewMemoryStateRepository(stateTTL)
	if !cfg.Redis.Enabled || cfg.Redis.Address == "" {
		return nil, fallback
	}

	redisClient := repository.NewRedisClient(cfg.Redis)
	if err := repository.Ping(ctx, redisClient); err != nil {
		logger.Warn().Err(err).Msg("Redis unavailable, memory fallback active")
	}

	primary := repository.NewRedisStateRepository(redisClient, stateTTL)
	return redisClient, repository.NewFailoverStateRepository(primary, fallback, logger)
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	port := cfg.Monitoring.PrometheusPort
	if port == 0 {
		port = 9090
	}
	go startMetricsServer(ctx, port, logger)
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("Metrics server error")
	}
}

func startControlAPI(ctx context.Context, cfg *config.Config, deps api.Deps, logger *zerolog.Logger) error {
	if !cfg.Control.Enabled {
		logger.Info().Msg("Control API disabled, running headless")
		<-ctx.Done()
		logger.Info().Msg("Shutdown complete.")
		return nil
	}

	server := api.NewServer(cfg.Control, deps, logger)

	go func() {
		if err := server.Start(); err != nil {
			logger.Error().Err(err).Msg("Control API error")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("Control API shutdown error")
	}

	logger.Info().Msg("Shutdown complete.")
	return nil
}
