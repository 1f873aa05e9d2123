package outbox

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/pactsign-backend/pkg/db/models"
	"github.com/angelmondragon/pactsign-backend/pkg/enums"
	"github.com/angelmondragon/pactsign-backend/pkg/pagination"
)

const maxErrorMessageLen = 1024

// dispatchableClause matches entries that are due for a first or retried
// attempt, plus entries whose claim went stale.
const dispatchableClause = "((status = ? AND (next_retry_at IS NULL OR next_retry_at <= ?)) OR (status = ? AND claimed_at <= ?))"

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Insert(tx *gorm.DB, row *models.EmailOutbox) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	return tx.Create(row).Error
}

func (r *Repository) ExistsTx(tx *gorm.DB, dedupKey string) (bool, error) {
	if tx == nil {
		return false, errors.New("transaction required")
	}
	var count int64
	err := tx.Model(&models.EmailOutbox{}).
		Where("dedup_key = ?", dedupKey).
		Count(&count).Error
	return count > 0, err
}

func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.EmailOutbox, error) {
	var row models.EmailOutbox
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

// FetchDispatchable returns due entries oldest first.
func (r *Repository) FetchDispatchable(ctx context.Context, now, staleCutoff time.Time, limit int) ([]models.EmailOutbox, error) {
	var rows []models.EmailOutbox
	err := r.db.WithContext(ctx).
		Where(dispatchableClause, enums.EmailOutboxPending, now, enums.EmailOutboxSending, staleCutoff).
		Order("created_at ASC").
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// Claim moves an entry to sending if it is still dispatchable at the observed
// version. A false result means another worker owns it.
func (r *Repository) Claim(ctx context.Context, id uuid.UUID, version int64, now, staleCutoff time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.EmailOutbox{}).
		Where("id = ? AND version = ?", id, version).
		Where(dispatchableClause, enums.EmailOutboxPending, now, enums.EmailOutboxSending, staleCutoff).
		Updates(map[string]any{
			"status":     enums.EmailOutboxSending,
			"claimed_at": now,
			"version":    gorm.Expr("version + 1"),
			"updated_at": now,
		})
	return res.RowsAffected == 1, res.Error
}

func (r *Repository) MarkSent(ctx context.Context, id uuid.UUID, claimVersion int64, now time.Time) (bool, error) {
	return r.writeBack(ctx, id, claimVersion, map[string]any{
		"status":        enums.EmailOutboxSent,
		"sent_at":       now,
		"error_message": nil,
		"updated_at":    now,
	})
}

func (r *Repository) MarkRetry(ctx context.Context, id uuid.UUID, claimVersion int64, retryCount int, nextRetryAt time.Time, cause error, now time.Time) (bool, error) {
	return r.writeBack(ctx, id, claimVersion, map[string]any{
		"status":        enums.EmailOutboxPending,
		"retry_count":   retryCount,
		"next_retry_at": nextRetryAt,
		"error_message": truncateError(cause),
		"updated_at":    now,
	})
}

func (r *Repository) MarkFailed(ctx context.Context, id uuid.UUID, claimVersion int64, retryCount int, cause error, now time.Time) (bool, error) {
	return r.writeBack(ctx, id, claimVersion, map[string]any{
		"status":        enums.EmailOutboxFailed,
		"retry_count":   retryCount,
		"next_retry_at": nil,
		"error_message": truncateError(cause),
		"updated_at":    now,
	})
}

// writeBack applies the outcome of a delivery attempt only while the caller
// still holds the claim.
func (r *Repository) writeBack(ctx context.Context, id uuid.UUID, claimVersion int64, values map[string]any) (bool, error) {
	values["version"] = gorm.Expr("version + 1")
	res := r.db.WithContext(ctx).
		Model(&models.EmailOutbox{}).
		Where("id = ? AND status = ? AND version = ?", id, enums.EmailOutboxSending, claimVersion).
		Updates(values)
	return res.RowsAffected == 1, res.Error
}

// ListFailed pages through failed entries newest first. limit is passed
// through as-is so callers can over-fetch to detect a next page.
func (r *Repository) ListFailed(ctx context.Context, cursor *pagination.Cursor, limit int) ([]models.EmailOutbox, error) {
	query := r.db.WithContext(ctx).Where("status = ?", enums.EmailOutboxFailed)
	if cursor != nil {
		query = query.Where("((created_at < ?) OR (created_at = ? AND id < ?))", cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}
	var rows []models.EmailOutbox
	err := query.
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// Requeue returns a failed entry to pending with a fresh retry budget.
func (r *Repository) Requeue(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.EmailOutbox{}).
		Where("id = ? AND status = ?", id, enums.EmailOutboxFailed).
		Updates(map[string]any{
			"status":        enums.EmailOutboxPending,
			"retry_count":   0,
			"next_retry_at": nil,
			"claimed_at":    nil,
			"error_message": nil,
			"version":       gorm.Expr("version + 1"),
			"updated_at":    now,
		})
	return res.RowsAffected == 1, res.Error
}

// DeleteFinishedBefore removes sent and failed entries created before cutoff.
// Pending and sending rows are never touched.
func (r *Repository) DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("status IN ? AND created_at < ?", []string{string(enums.EmailOutboxSent), string(enums.EmailOutboxFailed)}, cutoff).
		Delete(&models.EmailOutbox{})
	return res.RowsAffected, res.Error
}

func truncateError(err error) *string {
	if err == nil {
		return nil
	}
	// Postgres rejects invalid UTF-8, so the cut lands on a rune boundary.
	msg := strings.ToValidUTF8(err.Error(), "\uFFFD")
	if len(msg) > maxErrorMessageLen {
		cut := maxErrorMessageLen
		for cut > 0 && !utf8.RuneStart(msg[cut]) {
			cut--
		}
		msg = msg[:cut]
	}
	return &msg
}
