package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/pactsign-backend/pkg/enums"
)

// Contract is the persisted contract aggregate root. Signatures live in
// contract_signatures and are loaded separately.
type Contract struct {
	ID                      uuid.UUID            `gorm:"column:id;type:uuid;primaryKey"`
	CreatorID               uuid.UUID            `gorm:"column:creator_id;type:uuid;not null;index:ix_contracts_creator"`
	Title                   string               `gorm:"column:title;not null"`
	Content                 string               `gorm:"column:content;type:text;not null"`
	FirstPartyName          string               `gorm:"column:first_party_name;not null"`
	FirstPartyEmail         string               `gorm:"column:first_party_email;not null"`
	FirstPartyOrganization  *string              `gorm:"column:first_party_organization"`
	SecondPartyName         string               `gorm:"column:second_party_name;not null"`
	SecondPartyEmail        string               `gorm:"column:second_party_email;not null"`
	SecondPartyOrganization *string              `gorm:"column:second_party_organization"`
	Status                  enums.ContractStatus `gorm:"column:status;type:text;not null;default:'draft';index:ix_contracts_status_expires,priority:1"`
	SignToken               *string              `gorm:"column:sign_token;uniqueIndex:ux_contracts_sign_token"`
	ExpiresAt               *time.Time           `gorm:"column:expires_at;index:ix_contracts_status_expires,priority:2"`
	ExpirationWarnedAt      *time.Time           `gorm:"column:expiration_warned_at"`
	SentAt                  *time.Time           `gorm:"column:sent_at"`
	CompletedAt             *time.Time           `gorm:"column:completed_at"`
	CancelledAt             *time.Time           `gorm:"column:cancelled_at"`
	ExpiredAt               *time.Time           `gorm:"column:expired_at"`
	CreatedAt               time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt               time.Time            `gorm:"column:updated_at;autoUpdateTime"`
	Version                 int64                `gorm:"column:version;not null;default:1"`
}

func (Contract) TableName() string { return "contracts" }

// ContractSignature is one accepted signature. A signer email appears at most
// once per contract.
type ContractSignature struct {
	ID            uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	ContractID    uuid.UUID `gorm:"column:contract_id;type:uuid;not null;uniqueIndex:ux_contract_signatures_signer,priority:1"`
	SignerEmail   string    `gorm:"column:signer_email;not null;uniqueIndex:ux_contract_signatures_signer,priority:2"`
	SignerName    string    `gorm:"column:signer_name;not null"`
	SignatureData string    `gorm:"column:signature_data;type:text;not null"`
	SignedAt      time.Time `gorm:"column:signed_at;not null"`
	IPAddress     string    `gorm:"column:ip_address;not null"`
	DeviceInfo    *string   `gorm:"column:device_info"`
	CreatedAt     time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (ContractSignature) TableName() string { return "contract_signatures" }
