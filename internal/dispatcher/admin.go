package dispatcher

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/pactsign-backend/pkg/db/models"
	"github.com/angelmondragon/pactsign-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/pactsign-backend/pkg/errors"
	"github.com/angelmondragon/pactsign-backend/pkg/logger"
	"github.com/angelmondragon/pactsign-backend/pkg/outbox"
	"github.com/angelmondragon/pactsign-backend/pkg/pagination"
)

type adminRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.EmailOutbox, error)
	ListFailed(ctx context.Context, cursor *pagination.Cursor, limit int) ([]models.EmailOutbox, error)
	Requeue(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)
}

// FailedEntry is the operator view of an entry that exhausted its retries.
type FailedEntry struct {
	ID             uuid.UUID           `json:"id"`
	Template       enums.EmailTemplate `json:"template"`
	RecipientEmail string              `json:"recipient_email"`
	ContractID     *uuid.UUID          `json:"contract_id,omitempty"`
	RetryCount     int                 `json:"retry_count"`
	MaxRetries     int                 `json:"max_retries"`
	ErrorMessage   *string             `json:"error_message,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at"`
}

type FailedPage struct {
	Items  []FailedEntry `json:"items"`
	Cursor string        `json:"cursor,omitempty"`
}

// AdminService is the manual remediation surface for failed entries.
type AdminService struct {
	repo     adminRepository
	notifier outbox.Notifier
	logg     *logger.Logger
	now      func() time.Time
}

func NewAdminService(repo adminRepository, notifier outbox.Notifier, logg *logger.Logger) (*AdminService, error) {
	if repo == nil {
		return nil, errors.New("outbox repository is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	if notifier == nil {
		notifier = outbox.NopNotifier{}
	}
	return &AdminService{repo: repo, notifier: notifier, logg: logg, now: time.Now}, nil
}

func (a *AdminService) ListFailed(ctx context.Context, params pagination.Params) (*FailedPage, error) {
	page, next, err := pagination.Page(params,
		func(after *pagination.Cursor, limit int) ([]models.EmailOutbox, error) {
			rows, err := a.repo.ListFailed(ctx, after, limit)
			if err != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list failed emails")
			}
			return rows, nil
		},
		func(row models.EmailOutbox) pagination.Cursor {
			return pagination.Cursor{CreatedAt: row.CreatedAt, ID: row.ID}
		})
	if err != nil {
		return nil, err
	}
	items := make([]FailedEntry, 0, len(page))
	for _, row := range page {
		items = append(items, FailedEntry{
			ID:             row.ID,
			Template:       row.Template,
			RecipientEmail: row.RecipientEmail,
			ContractID:     row.ContractID,
			RetryCount:     row.RetryCount,
			MaxRetries:     row.MaxRetries,
			ErrorMessage:   row.ErrorMessage,
			CreatedAt:      row.CreatedAt,
			UpdatedAt:      row.UpdatedAt,
		})
	}
	return &FailedPage{Items: items, Cursor: next}, nil
}

// Requeue moves a failed entry back to pending with a fresh retry budget.
func (a *AdminService) Requeue(ctx context.Context, id uuid.UUID) error {
	ok, err := a.repo.Requeue(ctx, id, a.now().UTC())
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "requeue email")
	}
	if !ok {
		row, err := a.repo.FindByID(ctx, id)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load email")
		}
		if row == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "email outbox entry not found")
		}
		return pkgerrors.New(pkgerrors.CodeInvalidState, "only failed entries can be requeued").
			WithDetails(map[string]any{"status": row.Status})
	}
	a.logg.Info(a.logg.WithOutboxEntry(ctx, id.String(), ""), "failed email requeued")
	a.notifier.Notify(ctx)
	return nil
}
