// Package app opens the infrastructure shared by every long-running binary.
package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/multierr"

	"github.com/angelmondragon/pactsign-backend/internal/contracts"
	"github.com/angelmondragon/pactsign-backend/pkg/config"
	"github.com/angelmondragon/pactsign-backend/pkg/db"
	"github.com/angelmondragon/pactsign-backend/pkg/instance"
	"github.com/angelmondragon/pactsign-backend/pkg/logger"
	"github.com/angelmondragon/pactsign-backend/pkg/migrate"
	"github.com/angelmondragon/pactsign-backend/pkg/outbox"
	"github.com/angelmondragon/pactsign-backend/pkg/redis"
)

// Runtime is what a binary holds between boot and shutdown.
type Runtime struct {
	Kind   string
	Config *config.Config
	Logger *logger.Logger
	DB     *db.Client
	Redis  *redis.Client

	outboxRepo *outbox.Repository
}

// Boot loads configuration, then connects postgres (or sqlite) and redis.
// Dev auto-migrations run before redis is dialed. On error every
// connection opened so far is closed again.
func Boot(ctx context.Context, kind string) (*Runtime, error) {
	logg := logger.New(logger.Options{ServiceName: kind})
	if err := godotenv.Load(); err != nil {
		logg.Warn(ctx, ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if cfg.App.IsProd() && cfg.FeatureFlags.UseSQLite {
		return nil, fmt.Errorf("load config: %s is not allowed in prod", config.EnvUseSQLite)
	}
	cfg.Service.Kind = kind

	rt := &Runtime{
		Kind:   kind,
		Config: cfg,
		Logger: logger.New(logger.Options{
			ServiceName: kind,
			Level:       cfg.App.LogLevel,
			WarnStack:   cfg.App.LogWarnStack,
		}),
	}

	if rt.DB, err = db.New(ctx, cfg.DB, rt.Logger); err != nil {
		return nil, fmt.Errorf("bootstrap database: %w", err)
	}
	if err := migrate.MaybeRunDev(ctx, cfg, rt.Logger, rt.DB); err != nil {
		return nil, multierr.Append(fmt.Errorf("dev migrations: %w", err), rt.Close())
	}
	if rt.Redis, err = redis.New(ctx, cfg.Redis, rt.Logger); err != nil {
		return nil, multierr.Append(fmt.Errorf("bootstrap redis: %w", err), rt.Close())
	}
	rt.outboxRepo = outbox.NewRepository(rt.DB.DB())
	return rt, nil
}

// MustBoot is Boot for main packages: failures are logged and the process exits.
func MustBoot(kind string) *Runtime {
	rt, err := Boot(context.Background(), kind)
	if err != nil {
		logger.New(logger.Options{ServiceName: kind}).Error(context.Background(), "startup failed", err)
		os.Exit(1)
	}
	return rt
}

// Close releases redis then the database. Safe on a partially booted Runtime.
func (rt *Runtime) Close() error {
	var err error
	if rt.Redis != nil {
		err = multierr.Append(err, rt.Redis.Close())
	}
	if rt.DB != nil {
		err = multierr.Append(err, rt.DB.Close())
	}
	return err
}

// Shutdown closes the runtime and logs anything that failed to close.
func (rt *Runtime) Shutdown(ctx context.Context) {
	for _, err := range multierr.Errors(rt.Close()) {
		rt.Logger.Error(ctx, "error closing connection", err)
	}
}

// Fatal logs err and exits. Deferred cleanup does not run, so connections
// are closed first.
func (rt *Runtime) Fatal(ctx context.Context, msg string, err error) {
	rt.Logger.Error(ctx, msg, err)
	rt.Shutdown(ctx)
	os.Exit(1)
}

func (rt *Runtime) OutboxRepository() *outbox.Repository {
	return rt.outboxRepo
}

// Notifier publishes outbox wake-ups on the configured channel.
func (rt *Runtime) Notifier() *outbox.RedisNotifier {
	return outbox.NewRedisNotifier(rt.Redis, rt.Config.Outbox.WakeChannel, rt.Logger)
}

// Contracts wires the contract service onto the shared outbox.
func (rt *Runtime) Contracts() (contracts.Service, error) {
	cfg := rt.Config
	return contracts.NewService(contracts.ServiceParams{
		DB:            rt.DB,
		Repository:    contracts.NewRepository(rt.DB.DB()),
		Outbox:        outbox.NewService(rt.outboxRepo, rt.Logger, cfg.Outbox.MaxRetries),
		Notifier:      rt.Notifier(),
		Logger:        rt.Logger,
		MinExpiryLead: cfg.Contracts.MinExpiryLead,
		Notifications: contracts.NotificationSettings{
			SigningBaseURL:      cfg.Contracts.SigningBaseURL,
			CompanyName:         cfg.Contracts.CompanyName,
			SignedDocumentKey:   cfg.Contracts.SignedDocumentKey,
			NotifyOnPartialSign: cfg.Contracts.NotifyOnPartialSign,
		},
	})
}

// SignalContext is cancelled on SIGINT or SIGTERM and carries the
// fields every log line of this process should have.
func (rt *Runtime) SignalContext(extra map[string]any) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	fields := map[string]any{
		"env":         rt.Config.App.Env,
		"serviceKind": rt.Kind,
		"instance":    instance.ID(),
	}
	for k, v := range extra {
		fields[k] = v
	}
	return rt.Logger.WithFields(ctx, fields), stop
}
