package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/angelmondragon/pactsign-backend/pkg/enums"
)

// EmailAttachment references a stored document attached at send time.
type EmailAttachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	StorageKey  string `json:"storage_key"`
}

// EmailOutbox is one queued notification. It is written in the same
// transaction as the contract change that triggered it and mutated only by
// the dispatcher afterwards.
type EmailOutbox struct {
	ID                uuid.UUID                            `gorm:"column:id;type:uuid;primaryKey"`
	Template          enums.EmailTemplate                  `gorm:"column:template;type:text;not null"`
	RecipientEmail    string                               `gorm:"column:recipient_email;not null"`
	RecipientName     string                               `gorm:"column:recipient_name;not null"`
	TemplateVariables datatypes.JSONMap                    `gorm:"column:template_variables;not null"`
	Attachments       datatypes.JSONSlice[EmailAttachment] `gorm:"column:attachments;not null"`
	Status            enums.EmailOutboxStatus              `gorm:"column:status;type:text;not null;default:'pending';index:ix_email_outbox_dispatch,priority:1"`
	RetryCount        int                                  `gorm:"column:retry_count;not null;default:0"`
	MaxRetries        int                                  `gorm:"column:max_retries;not null;default:5"`
	ErrorMessage      *string                              `gorm:"column:error_message"`
	NextRetryAt       *time.Time                           `gorm:"column:next_retry_at"`
	ClaimedAt         *time.Time                           `gorm:"column:claimed_at"`
	ContractID        *uuid.UUID                           `gorm:"column:contract_id;type:uuid;index:ix_email_outbox_contract"`
	DedupKey          *string                              `gorm:"column:dedup_key;uniqueIndex:ux_email_outbox_dedup_key"`
	CreatedAt         time.Time                            `gorm:"column:created_at;index:ix_email_outbox_dispatch,priority:2"`
	SentAt            *time.Time                           `gorm:"column:sent_at"`
	UpdatedAt         time.Time                            `gorm:"column:updated_at;autoUpdateTime"`
	Version           int64                                `gorm:"column:version;not null;default:1"`
}

func (EmailOutbox) TableName() string { return "email_outbox" }
