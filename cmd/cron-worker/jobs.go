package main

import (
	"fmt"
	"time"

	"github.com/angelmondragon/pactsign-backend/internal/contracts"
	"github.com/angelmondragon/pactsign-backend/internal/cron"
	"github.com/angelmondragon/pactsign-backend/pkg/config"
	"github.com/angelmondragon/pactsign-backend/pkg/logger"
	"github.com/angelmondragon/pactsign-backend/pkg/outbox"
)

func buildJobs(cfg config.CronConfig, logg *logger.Logger, svc contracts.Service, outboxRepo *outbox.Repository) ([]cron.Job, error) {
	expiration, err := cron.NewContractExpirationJob(cron.ContractExpirationJobParams{
		Logger:    logg,
		Contracts: svc,
		BatchSize: cfg.BatchSize,
		Every:     cfg.ExpirationEvery,
	})
	if err != nil {
		return nil, fmt.Errorf("contract expiration job: %w", err)
	}

	warning, err := cron.NewExpirationWarningJob(cron.ExpirationWarningJobParams{
		Logger:    logg,
		Contracts: svc,
		Window:    cfg.WarningWindow,
		BatchSize: cfg.BatchSize,
		Every:     cfg.WarningEvery,
	})
	if err != nil {
		return nil, fmt.Errorf("expiration warning job: %w", err)
	}

	retention, err := cron.NewOutboxPruneJob(cron.OutboxPruneJobParams{
		Logger:     logg,
		Repository: outboxRepo,
		MaxAge:     time.Duration(cfg.OutboxRetentionDays) * 24 * time.Hour,
		Every:      cfg.RetentionEvery,
	})
	if err != nil {
		return nil, fmt.Errorf("outbox retention job: %w", err)
	}

	return []cron.Job{expiration, warning, retention}, nil
}
