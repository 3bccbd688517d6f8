package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/mcclellann/emiLoan/pkg/config"
	"github.com/mcclellann/emiLoan/pkg/jobs"
	"github.com/mcclellann/emiLoan/pkg/ledger"
	"github.com/mcclellann/emiLoan/pkg/lock"
	"github.com/mcclellann/emiLoan/pkg/notify"
	"github.com/mcclellann/emiLoan/pkg/store"
)

func openStore(ctx context.Context, cfg *config.Config) (*store.SQLStore, error) {
	switch cfg.DBDriver {
	case "postgres":
		return store.NewPostgresStore(ctx, cfg.DBDSN)
	case "sqlite3":
		return store.NewSQLiteStore(cfg.DBDSN)
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", cfg.DBDriver)
	}
}

func newLocker(ctx context.Context, cfg *config.Config) (lock.Locker, func() error, error) {
	if !cfg.UseRedisLocks() {
		return lock.NewLocalLocker(), func() error { return nil }, nil
	}
	client, err := lock.NewRedisClient(ctx, cfg.RedisAddr)
	if err != nil {
		return nil, nil, err
	}
	return lock.NewRedisLocker(client, cfg.LockTTL), client.Close, nil
}

func newNotifier(cfg *config.Config, logger *zap.Logger) notify.Notifier {
	if !cfg.UseSMTP() {
		return notify.NewLogNotifier(logger)
	}
	return notify.NewMailNotifier(notify.MailConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		User:     cfg.SMTPUser,
		Password: cfg.SMTPPass,
		From:     cfg.SMTPFrom,
		Brand:    cfg.BrandName,
	}, logger)
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	storage, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize %s store: %w", cfg.DBDriver, err)
	}
	defer storage.Close()

	locker, closeLocker, err := newLocker(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeLocker()

	l := ledger.NewLedger(storage,
		ledger.WithLocker(locker),
		ledger.WithNotifier(newNotifier(cfg, logger)),
		ledger.WithMathContext(cfg.MathContext()),
		ledger.WithLogger(logger.Named("ledger")),
	)

	sweep, err := jobs.NewOverdueSweep(cfg.OverdueSweepSpec, l, logger)
	if err != nil {
		return err
	}
	sweep.Start()

	server := NewServer(l, logger)
	httpServer := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      server.Routes(ServerOptions{RateLimitPerMinute: cfg.RateLimitPerMinute, Production: cfg.IsProduction()}),
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("addr", cfg.AppAddr),
			zap.String("driver", storage.Driver()),
			zap.Bool("redis_locks", cfg.UseRedisLocks()),
			zap.Bool("smtp", cfg.UseSMTP()),
		)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	sweep.Stop(shutdownCtx)
	return httpServer.Shutdown(shutdownCtx)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger, err := config.NewLogger(cfg)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}
