// Command repricerd runs the repricing daemon: a scheduler that walks
// every active store on a fixed interval, synchronizes competitive
// offers, repositions prices against the Buy Box and flushes the
// resulting notifications.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/repricelab/repricer/internal/config"
	"github.com/repricelab/repricer/internal/credentials"
	"github.com/repricelab/repricer/internal/cycle"
	"github.com/repricelab/repricer/internal/marketplace"
	"github.com/repricelab/repricer/internal/notify"
	"github.com/repricelab/repricer/internal/repo"
	"github.com/repricelab/repricer/internal/scheduler"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "repricerd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	log, err := newLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer log.Sync()

	db, err := gorm.Open(postgres.Open(cfg.Postgres.DSN()), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return fmt.Errorf("connecting to postgres: %w", err)
	}
	store := repo.NewGorm(db)
	if err := store.AutoMigrate(); err != nil {
		return fmt.Errorf("migrating schema: %w", err)
	}

	clients, err := buildClientFactory(cfg, log)
	if err != nil {
		return err
	}

	dispatcher := notify.NewDispatcher(store, &notify.LogNotifier{Log: log}, log)
	engine := cycle.NewEngine(store, clients, dispatcher, log)

	if !cfg.Scheduler.Enabled {
		log.Info("scheduler disabled, running a single cycle")
		_, err := engine.Run(context.Background())
		return err
	}

	sched := scheduler.New(scheduler.RunnerFunc(func(ctx context.Context) error {
		_, err := engine.Run(ctx)
		return err
	}), cfg.Scheduler.Interval, log)
	if err := sched.Start(); err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	sig := <-stop
	log.Info("shutting down", zap.String("signal", sig.String()))

	// Let an in-flight cycle finish before exiting.
	<-sched.Stop().Done()
	log.Info("shutdown complete")
	return nil
}

// buildClientFactory wires the marketplace gateway. Without a gateway
// URL the daemon runs in demo mode against an empty mock marketplace,
// which exercises the full cycle without touching a live seller
// account.
func buildClientFactory(cfg *config.Config, log *zap.Logger) (marketplace.Factory, error) {
	if cfg.Gateway.BaseURL == "" {
		log.Warn("GATEWAY_BASE_URL not set, running in demo mode with a mock marketplace")
		return marketplace.NewMockFactory(marketplace.NewMockClient()), nil
	}
	if cfg.EncryptionKey == "" {
		return nil, fmt.Errorf("ENCRYPTION_KEY is required when a gateway is configured")
	}
	keyring, err := credentials.NewKeyring([]byte(cfg.EncryptionKey))
	if err != nil {
		return nil, fmt.Errorf("building keyring: %w", err)
	}
	return marketplace.NewHTTPFactory(cfg.Gateway.BaseURL, keyring, cfg.Gateway.RequestsPerSec, cfg.Gateway.Burst), nil
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", level, err)
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	return zcfg.Build()
}
