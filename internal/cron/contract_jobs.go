package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/pactsign-backend/internal/contracts"
	pkgerrors "github.com/angelmondragon/pactsign-backend/pkg/errors"
	"github.com/angelmondragon/pactsign-backend/pkg/logger"
)

const (
	defaultBatchSize     = 100
	defaultWarningWindow = 48 * time.Hour
	maxBatchesPerRun     = 20
)

type contractExpirer interface {
	FindExpiredPending(ctx context.Context, limit int) ([]*contracts.Contract, error)
	Expire(ctx context.Context, id uuid.UUID) (*contracts.Contract, error)
}

type expirationWarner interface {
	FindExpiring(ctx context.Context, window time.Duration, limit int) ([]*contracts.Contract, error)
	WarnExpiration(ctx context.Context, id uuid.UUID) (int, error)
}

// ContractExpirationJobParams configure the job that expires overdue
// pending contracts.
type ContractExpirationJobParams struct {
	Logger    *logger.Logger
	Contracts contractExpirer
	BatchSize int
	Every     time.Duration
}

func NewContractExpirationJob(params ContractExpirationJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Contracts == nil {
		return nil, fmt.Errorf("contracts service required")
	}
	return &contractExpirationJob{
		logg:      params.Logger,
		contracts: params.Contracts,
		batchSize: batchOrDefault(params.BatchSize),
		every:     params.Every,
	}, nil
}

type contractExpirationJob struct {
	logg      *logger.Logger
	contracts contractExpirer
	batchSize int
	every     time.Duration
}

func (j *contractExpirationJob) Name() string         { return "contract-expiration" }
func (j *contractExpirationJob) Every() time.Duration { return j.every }

func (j *contractExpirationJob) Run(ctx context.Context) error {
	stats, err := sweep(ctx, j.batchSize,
		func(ctx context.Context, limit int) ([]*contracts.Contract, error) {
			return j.contracts.FindExpiredPending(ctx, limit)
		},
		func(ctx context.Context, c *contracts.Contract) error {
			_, err := j.contracts.Expire(ctx, c.ID)
			return err
		},
	)
	j.logg.Info(j.logg.WithFields(ctx, stats.fields()), "contract expiration sweep complete")
	return err
}

// ExpirationWarningJobParams configure the job that warns pending signers
// before a contract expires.
type ExpirationWarningJobParams struct {
	Logger    *logger.Logger
	Contracts expirationWarner
	Window    time.Duration
	BatchSize int
	Every     time.Duration
}

func NewExpirationWarningJob(params ExpirationWarningJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Contracts == nil {
		return nil, fmt.Errorf("contracts service required")
	}
	window := params.Window
	if window <= 0 {
		window = defaultWarningWindow
	}
	return &expirationWarningJob{
		logg:      params.Logger,
		contracts: params.Contracts,
		window:    window,
		batchSize: batchOrDefault(params.BatchSize),
		every:     params.Every,
	}, nil
}

type expirationWarningJob struct {
	logg      *logger.Logger
	contracts expirationWarner
	window    time.Duration
	batchSize int
	every     time.Duration
}

func (j *expirationWarningJob) Name() string         { return "contract-expiration-warning" }
func (j *expirationWarningJob) Every() time.Duration { return j.every }

func (j *expirationWarningJob) Run(ctx context.Context) error {
	warnings := 0
	stats, err := sweep(ctx, j.batchSize,
		func(ctx context.Context, limit int) ([]*contracts.Contract, error) {
			return j.contracts.FindExpiring(ctx, j.window, limit)
		},
		func(ctx context.Context, c *contracts.Contract) error {
			n, err := j.contracts.WarnExpiration(ctx, c.ID)
			warnings += n
			return err
		},
	)
	fields := stats.fields()
	fields["warnings_queued"] = warnings
	fields["window"] = j.window.String()
	j.logg.Info(j.logg.WithFields(ctx, fields), "expiration warning sweep complete")
	return err
}

type sweepStats struct {
	processed int
	skipped   int
	failed    int
}

func (s sweepStats) fields() map[string]any {
	return map[string]any{
		"processed": s.processed,
		"skipped":   s.skipped,
		"failed":    s.failed,
	}
}

// sweep pages through find and applies fn to each contract, one transaction
// per contract. Conflict and InvalidState mean a concurrent sign or cancel got
// there first and are skipped. It stops once a page comes back short or a
// page made no progress, so rows that keep failing cannot spin the loop.
func sweep(
	ctx context.Context,
	batchSize int,
	find func(ctx context.Context, limit int) ([]*contracts.Contract, error),
	fn func(ctx context.Context, c *contracts.Contract) error,
) (sweepStats, error) {
	var (
		stats sweepStats
		errs  error
	)
	for batch := 0; batch < maxBatchesPerRun; batch++ {
		if err := ctx.Err(); err != nil {
			return stats, multierr.Append(errs, err)
		}
		rows, err := find(ctx, batchSize)
		if err != nil {
			return stats, multierr.Append(errs, fmt.Errorf("find contracts: %w", err))
		}
		progressed := 0
		for _, c := range rows {
			err := fn(ctx, c)
			switch {
			case err == nil:
				stats.processed++
				progressed++
			case pkgerrors.IsCode(err, pkgerrors.CodeConflict), pkgerrors.IsCode(err, pkgerrors.CodeInvalidState):
				stats.skipped++
				progressed++
			default:
				stats.failed++
				errs = multierr.Append(errs, fmt.Errorf("contract %s: %w", c.ID, err))
			}
		}
		if len(rows) < batchSize || progressed < len(rows) {
			break
		}
	}
	return stats, errs
}

func batchOrDefault(n int) int {
	if n <= 0 {
		return defaultBatchSize
	}
	return n
}
