package outbox

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	dbpkg "github.com/angelmondragon/pactsign-backend/pkg/db"
	"github.com/angelmondragon/pactsign-backend/pkg/db/models"
	"github.com/angelmondragon/pactsign-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/pactsign-backend/pkg/errors"
	"github.com/angelmondragon/pactsign-backend/pkg/logger"
)

const (
	DefaultMaxRetries  = 5
	dedupConstraintKey = "ux_email_outbox_dedup_key"
)

// Message is one email to queue. Variables are rendered into the named template
// by the dispatcher; the writer never touches the transport.
type Message struct {
	Template       enums.EmailTemplate
	RecipientEmail string
	RecipientName  string
	Variables      map[string]string
	Attachments    []models.EmailAttachment
	ContractID     *uuid.UUID
	DedupKey       string
}

type Service struct {
	repo       *Repository
	logg       *logger.Logger
	maxRetries int
	now        func() time.Time
}

func NewService(repo *Repository, logg *logger.Logger, maxRetries int) *Service {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &Service{
		repo:       repo,
		logg:       logg,
		maxRetries: maxRetries,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Enqueue inserts a pending entry using the caller's transaction.
func (s *Service) Enqueue(ctx context.Context, tx *gorm.DB, msg Message) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	row, err := s.buildRow(msg)
	if err != nil {
		return err
	}
	if err := s.repo.Insert(tx.WithContext(ctx), row); err != nil {
		return err
	}
	if s.logg != nil {
		fields := map[string]any{
			"outbox_id": row.ID.String(),
			"template":  row.Template,
			"recipient": row.RecipientEmail,
		}
		if row.ContractID != nil {
			fields["contract_id"] = row.ContractID.String()
		}
		s.logg.Info(s.logg.WithFields(ctx, fields), "email queued")
	}
	return nil
}

// EnqueueOnce inserts the message unless an entry with the same dedup key
// already exists. It reports whether a row was written.
func (s *Service) EnqueueOnce(ctx context.Context, tx *gorm.DB, msg Message) (bool, error) {
	if tx == nil {
		return false, errors.New("transaction required")
	}
	if strings.TrimSpace(msg.DedupKey) == "" {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "dedup key is required")
	}
	exists, err := s.repo.ExistsTx(tx, msg.DedupKey)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	if err := s.Enqueue(ctx, tx, msg); err != nil {
		if dbpkg.IsUniqueViolation(err, dedupConstraintKey) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *Service) buildRow(msg Message) (*models.EmailOutbox, error) {
	if !msg.Template.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown email template")
	}
	email := strings.TrimSpace(msg.RecipientEmail)
	if email == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "recipient email is required")
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "generate outbox id")
	}
	vars := datatypes.JSONMap{}
	for k, v := range msg.Variables {
		vars[k] = v
	}
	attachments := datatypes.JSONSlice[models.EmailAttachment]{}
	attachments = append(attachments, msg.Attachments...)

	now := s.now()
	row := &models.EmailOutbox{
		ID:                id,
		Template:          msg.Template,
		RecipientEmail:    email,
		RecipientName:     strings.TrimSpace(msg.RecipientName),
		TemplateVariables: vars,
		Attachments:       attachments,
		Status:            enums.EmailOutboxPending,
		MaxRetries:        s.maxRetries,
		ContractID:        msg.ContractID,
		CreatedAt:         now,
		UpdatedAt:         now,
		Version:           1,
	}
	if key := strings.TrimSpace(msg.DedupKey); key != "" {
		row.DedupKey = &key
	}
	return row, nil
}
