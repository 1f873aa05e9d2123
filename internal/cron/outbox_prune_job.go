package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/pactsign-backend/pkg/logger"
)

const (
	defaultOutboxMaxAge = 30 * 24 * time.Hour
	minOutboxMaxAge     = 24 * time.Hour
)

type outboxPruner interface {
	DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type OutboxPruneJobParams struct {
	Logger     *logger.Logger
	Repository outboxPruner
	// MaxAge is how long sent and failed rows are kept. Values under a day
	// are raised to a day.
	MaxAge time.Duration
	Every  time.Duration
}

// NewOutboxPruneJob removes finished outbox rows older than MaxAge. Pending
// and sending rows are never touched.
func NewOutboxPruneJob(params OutboxPruneJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	if params.Repository == nil {
		return nil, errors.New("outbox repository required")
	}
	maxAge := params.MaxAge
	switch {
	case maxAge <= 0:
		maxAge = defaultOutboxMaxAge
	case maxAge < minOutboxMaxAge:
		maxAge = minOutboxMaxAge
	}
	return &outboxPruneJob{
		logg:   params.Logger,
		repo:   params.Repository,
		maxAge: maxAge,
		every:  params.Every,
		now:    time.Now,
	}, nil
}

type outboxPruneJob struct {
	logg   *logger.Logger
	repo   outboxPruner
	maxAge time.Duration
	every  time.Duration
	now    func() time.Time
}

func (j *outboxPruneJob) Name() string         { return "email-outbox-retention" }
func (j *outboxPruneJob) Every() time.Duration { return j.every }

func (j *outboxPruneJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.maxAge)
	deleted, err := j.repo.DeleteFinishedBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("prune email outbox before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"cutoff":       cutoff,
		"max_age_h":    int(j.maxAge.Hours()),
		"rows_deleted": deleted,
	}), "email outbox prune complete")
	return nil
}
