package contracts

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbpkg "github.com/angelmondragon/pactsign-backend/pkg/db"
	"github.com/angelmondragon/pactsign-backend/pkg/db/models"
	"github.com/angelmondragon/pactsign-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/pactsign-backend/pkg/errors"
	"github.com/angelmondragon/pactsign-backend/pkg/pagination"
)

const signatureConstraint = "ux_contract_signatures_signer"

// Repository persists contracts and their signatures.
type Repository struct {
	db *gorm.DB
}

// NewRepository constructs a contract repository tied to the provided GORM DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx returns a repository bound to tx.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	return &Repository{db: tx}
}

func (r *Repository) Create(ctx context.Context, c *Contract) error {
	m := toModel(c)
	return r.db.WithContext(ctx).Create(&m).Error
}

// Update saves every mutable column if the row is still at c.Version, then
// advances c.Version. A lost race yields a retryable conflict.
func (r *Repository) Update(ctx context.Context, c *Contract) error {
	m := toModel(c)
	res := r.db.WithContext(ctx).
		Model(&models.Contract{}).
		Where("id = ? AND version = ?", c.ID, c.Version).
		Updates(map[string]any{
			"title":                m.Title,
			"content":              m.Content,
			"status":               m.Status,
			"sign_token":           m.SignToken,
			"expires_at":           m.ExpiresAt,
			"expiration_warned_at": m.ExpirationWarnedAt,
			"sent_at":              m.SentAt,
			"completed_at":         m.CompletedAt,
			"cancelled_at":         m.CancelledAt,
			"expired_at":           m.ExpiredAt,
			"updated_at":           m.UpdatedAt,
			"version":              c.Version + 1,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeConflict, "contract was modified concurrently")
	}
	c.Version++
	return nil
}

// InsertSignature relies on ux_contract_signatures_signer as the last guard
// against double signing.
func (r *Repository) InsertSignature(ctx context.Context, contractID uuid.UUID, sig Signature) error {
	m := signatureToModel(contractID, sig)
	if err := r.db.WithContext(ctx).Create(&m).Error; err != nil {
		if dbpkg.IsUniqueViolation(err, signatureConstraint) {
			return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "signer has already signed")
		}
		return err
	}
	return nil
}

func (r *Repository) Delete(ctx context.Context, c *Contract) error {
	res := r.db.WithContext(ctx).
		Where("id = ? AND version = ?", c.ID, c.Version).
		Delete(&models.Contract{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeConflict, "contract was modified concurrently")
	}
	return r.db.WithContext(ctx).
		Where("contract_id = ?", c.ID).
		Delete(&models.ContractSignature{}).Error
}

func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*Contract, error) {
	return r.findOne(ctx, r.db.WithContext(ctx).Where("id = ?", id))
}

func (r *Repository) FindBySignToken(ctx context.Context, token SignToken) (*Contract, error) {
	return r.findOne(ctx, r.db.WithContext(ctx).Where("sign_token = ?", token.String()))
}

func (r *Repository) findOne(ctx context.Context, query *gorm.DB) (*Contract, error) {
	var m models.Contract
	if err := query.First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "contract not found")
		}
		return nil, err
	}
	out, err := r.attachSignatures(ctx, []models.Contract{m})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// ListQuery filters a creator's contracts.
type ListQuery struct {
	CreatorID uuid.UUID
	Status    *enums.ContractStatus
	Cursor    *pagination.Cursor
	Limit     int
}

// ListByCreator returns contracts newest first using keyset pagination.
func (r *Repository) ListByCreator(ctx context.Context, q ListQuery) ([]*Contract, error) {
	query := r.db.WithContext(ctx).Where("creator_id = ?", q.CreatorID)
	if q.Status != nil {
		query = query.Where("status = ?", *q.Status)
	}
	if q.Cursor != nil {
		query = query.Where("((created_at < ?) OR (created_at = ? AND id < ?))", q.Cursor.CreatedAt, q.Cursor.CreatedAt, q.Cursor.ID)
	}
	var rows []models.Contract
	if err := query.Order("created_at DESC").Order("id DESC").Limit(q.Limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	return r.attachSignatures(ctx, rows)
}

// FindExpiredPending returns PENDING contracts whose expiry is at or before now.
func (r *Repository) FindExpiredPending(ctx context.Context, now time.Time, limit int) ([]*Contract, error) {
	var rows []models.Contract
	err := r.db.WithContext(ctx).
		Where("status = ? AND expires_at IS NOT NULL AND expires_at <= ?", enums.ContractStatusPending, now).
		Order("expires_at ASC").
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return r.attachSignatures(ctx, rows)
}

// FindExpiring returns PENDING contracts expiring in (now, until] that have
// not been warned yet.
func (r *Repository) FindExpiring(ctx context.Context, now, until time.Time, limit int) ([]*Contract, error) {
	var rows []models.Contract
	err := r.db.WithContext(ctx).
		Where("status = ? AND expiration_warned_at IS NULL", enums.ContractStatusPending).
		Where("expires_at > ? AND expires_at <= ?", now, until).
		Order("expires_at ASC").
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return r.attachSignatures(ctx, rows)
}

func (r *Repository) attachSignatures(ctx context.Context, rows []models.Contract) ([]*Contract, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	ids := make([]uuid.UUID, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}
	var sigs []models.ContractSignature
	err := r.db.WithContext(ctx).
		Where("contract_id IN ?", ids).
		Order("signed_at ASC").
		Find(&sigs).Error
	if err != nil {
		return nil, err
	}
	byContract := make(map[uuid.UUID][]models.ContractSignature, len(rows))
	for _, s := range sigs {
		byContract[s.ContractID] = append(byContract[s.ContractID], s)
	}
	out := make([]*Contract, 0, len(rows))
	for _, row := range rows {
		out = append(out, fromModel(row, byContract[row.ID]))
	}
	return out, nil
}
