package migrate

import (
	"context"
	"fmt"

	"github.com/pressly/goose/v3"

	"github.com/angelmondragon/pactsign-backend/pkg/config"
	"github.com/angelmondragon/pactsign-backend/pkg/db"
	"github.com/angelmondragon/pactsign-backend/pkg/db/models"
	"github.com/angelmondragon/pactsign-backend/pkg/logger"
)

// MaybeRunDev executes migrations automatically when the app is running in dev mode and
// the feature flag is enabled. The SQL migrations target Postgres, so a sqlite
// dev database is built from the gorm models instead.
func MaybeRunDev(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	if !cfg.App.IsDev() || !cfg.FeatureFlags.AutoMigrate {
		return nil
	}

	meta := map[string]any{"env": cfg.App.Env, "dir": DefaultDir, "driver": cfg.DB.Driver}
	ctx = logg.WithFields(ctx, meta)

	if Dialect(cfg.DB.Driver) == goose.DialectSQLite3 {
		logg.Info(ctx, "auto-migrating sqlite schema from models")
		if err := AutoMigrateModels(client); err != nil {
			return err
		}
		return nil
	}

	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("extracting sql.DB: %w", err)
	}

	runner, err := NewRunner(sqlDB, cfg.DB.Driver, DefaultDir, logg)
	if err != nil {
		return err
	}
	logg.Info(ctx, "running Goose migrations (dev auto-run)")
	if err := runner.Run(ctx, "up"); err != nil {
		return err
	}

	logg.Info(ctx, "Goose migrations completed")
	return nil
}

// AutoMigrateModels creates the schema straight from the gorm models.
func AutoMigrateModels(client *db.Client) error {
	if err := client.DB().AutoMigrate(&models.Contract{}, &models.ContractSignature{}, &models.EmailOutbox{}); err != nil {
		return fmt.Errorf("auto-migrate models: %w", err)
	}
	return nil
}
