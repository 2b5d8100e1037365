package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Schera-ole/shapementor/internal/config"
	"github.com/Schera-ole/shapementor/internal/handler"
	"github.com/Schera-ole/shapementor/internal/migration"
	"github.com/Schera-ole/shapementor/internal/repository"
	"github.com/Schera-ole/shapementor/internal/service"
	"github.com/Schera-ole/shapementor/internal/session"
)

// Delays between attempts to reach the database at startup.
var connectDelays = []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.NewServerConfig(os.Args[1:])
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()
	logSugar := logger.Sugar()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	storage, err := openStorage(ctx, cfg, logSugar)
	if err != nil {
		return err
	}
	defer storage.Close()

	key := []byte(cfg.SessionKey)
	if len(key) == 0 {
		logSugar.Warn("SESSION_KEY is not set, sessions will not survive a restart")
		if key, err = session.RandomKey(); err != nil {
			return err
		}
	}
	sessions, err := session.NewManager(key, cfg.SessionTTL)
	if err != nil {
		return err
	}

	userService := service.NewUserService(storage)
	metricService := service.NewMetricsService(storage)

	srv := &http.Server{
		Addr:              cfg.Address,
		Handler:           handler.Router(logSugar, cfg, userService, metricService, sessions),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logSugar.Infow("Starting server", "address", cfg.Address, "storage", cfg.StorageKind())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}
	logSugar.Info("Shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	logSugar.Info("Server stopped")
	return nil
}

func newLogger(level string) (*zap.Logger, error) {
	atomicLevel, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	zapConfig := zap.NewProductionConfig()
	if atomicLevel.Level() == zapcore.DebugLevel {
		zapConfig = zap.NewDevelopmentConfig()
	}
	zapConfig.Level = atomicLevel
	return zapConfig.Build()
}

// openStorage opens the backend selected by cfg and bootstraps its schema.
func openStorage(ctx context.Context, cfg *config.ServerConfig, logger *zap.SugaredLogger) (repository.Repository, error) {
	var (
		storage *repository.DBStorage
		dsn     string
		err     error
	)
	switch cfg.StorageKind() {
	case config.StoragePostgres:
		dsn = cfg.DatabaseDSN
		storage, err = repository.NewDBStorage(dsn)
	case config.StorageSQLite:
		dsn = repository.SQLiteDSN(cfg.SQLitePath)
		storage, err = repository.NewSQLiteStorage(cfg.SQLitePath)
	default:
		logger.Info("Using in-memory storage")
		return repository.NewMemStorage(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	if err := waitForStorage(ctx, storage, logger); err != nil {
		storage.Close()
		return nil, err
	}
	if err := migration.RunMigrations(ctx, storage.Driver(), dsn, logger); err != nil {
		storage.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return storage, nil
}

// waitForStorage pings the store, retrying transient failures with growing delays.
func waitForStorage(ctx context.Context, storage repository.Repository, logger *zap.SugaredLogger) error {
	var lastErr error
	for attempt := 0; attempt <= len(connectDelays); attempt++ {
		if attempt > 0 {
			delay := connectDelays[attempt-1]
			logger.Infof("Retry attempt %d after %v delay", attempt, delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		lastErr = storage.Ping(ctx)
		if lastErr == nil {
			return nil
		}
		if !repository.IsRetryable(lastErr) {
			return lastErr
		}
		logger.Warnf("Storage is not ready: %v", lastErr)
	}
	return fmt.Errorf("storage unavailable after %d attempts: %w", len(connectDelays)+1, lastErr)
}
