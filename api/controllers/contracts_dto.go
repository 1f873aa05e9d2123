package controllers

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/pactsign-backend/internal/contracts"
	"github.com/angelmondragon/pactsign-backend/pkg/enums"
)

type partyRequest struct {
	Name         string  `json:"name" validate:"required,notblank,max=100"`
	Email        string  `json:"email" validate:"required,email"`
	Organization *string `json:"organization" validate:"omitempty,max=200"`
}

func (p partyRequest) input() contracts.PartyInput {
	return contracts.PartyInput{Name: p.Name, Email: p.Email, Organization: p.Organization}
}

type createContractRequest struct {
	Title       string       `json:"title" validate:"required,notblank,max=200"`
	Content     string       `json:"content" validate:"required,notblank"`
	FirstParty  partyRequest `json:"first_party"`
	SecondParty partyRequest `json:"second_party"`
	ExpiresAt   *time.Time   `json:"expires_at"`
}

type updateContractRequest struct {
	Title     *string    `json:"title" validate:"omitempty,notblank,max=200"`
	Content   *string    `json:"content" validate:"omitempty,notblank"`
	ExpiresAt *time.Time `json:"expires_at"`
}

func (r updateContractRequest) empty() bool {
	return r.Title == nil && r.Content == nil && r.ExpiresAt == nil
}

type signContractRequest struct {
	SignerEmail   string `json:"signer_email" validate:"required,email"`
	SignerName    string `json:"signer_name" validate:"required,notblank,max=100"`
	SignatureData string `json:"signature_data" validate:"required,notblank"`
}

type partyResponse struct {
	Name         string     `json:"name"`
	Email        string     `json:"email"`
	Organization *string    `json:"organization,omitempty"`
	Signed       bool       `json:"signed"`
	SignedAt     *time.Time `json:"signed_at,omitempty"`
}

type contractResponse struct {
	ID          uuid.UUID            `json:"id"`
	Title       string               `json:"title"`
	Content     string               `json:"content"`
	Status      enums.ContractStatus `json:"status"`
	FirstParty  partyResponse        `json:"first_party"`
	SecondParty partyResponse        `json:"second_party"`
	ExpiresAt   *time.Time           `json:"expires_at,omitempty"`
	SentAt      *time.Time           `json:"sent_at,omitempty"`
	CompletedAt *time.Time           `json:"completed_at,omitempty"`
	CancelledAt *time.Time           `json:"cancelled_at,omitempty"`
	ExpiredAt   *time.Time           `json:"expired_at,omitempty"`
	CreatedAt   time.Time            `json:"created_at"`
	UpdatedAt   time.Time            `json:"updated_at"`
	Version     int64                `json:"version"`
}

// signingContractResponse is what a signer sees through the public link.
// Ownership and lifecycle bookkeeping stay private.
type signingContractResponse struct {
	ID          uuid.UUID            `json:"id"`
	Title       string               `json:"title"`
	Content     string               `json:"content"`
	Status      enums.ContractStatus `json:"status"`
	FirstParty  partyResponse        `json:"first_party"`
	SecondParty partyResponse        `json:"second_party"`
	ExpiresAt   *time.Time           `json:"expires_at,omitempty"`
}

type contractListResponse struct {
	Items  []contractResponse `json:"items"`
	Cursor string             `json:"cursor,omitempty"`
}

func newPartyResponse(c *contracts.Contract, p contracts.PartyInfo) partyResponse {
	resp := partyResponse{Name: p.Name, Email: p.Email, Organization: p.Organization}
	for _, sig := range c.Signatures {
		if sig.SignerEmail == p.Email {
			signedAt := sig.SignedAt
			resp.Signed = true
			resp.SignedAt = &signedAt
			break
		}
	}
	return resp
}

func newContractResponse(c *contracts.Contract) contractResponse {
	return contractResponse{
		ID:          c.ID,
		Title:       c.Title,
		Content:     c.Content,
		Status:      c.Status,
		FirstParty:  newPartyResponse(c, c.FirstParty),
		SecondParty: newPartyResponse(c, c.SecondParty),
		ExpiresAt:   c.ExpiresAt,
		SentAt:      c.SentAt,
		CompletedAt: c.CompletedAt,
		CancelledAt: c.CancelledAt,
		ExpiredAt:   c.ExpiredAt,
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
		Version:     c.Version,
	}
}

func newSigningContractResponse(c *contracts.Contract) signingContractResponse {
	return signingContractResponse{
		ID:          c.ID,
		Title:       c.Title,
		Content:     c.Content,
		Status:      c.Status,
		FirstParty:  newPartyResponse(c, c.FirstParty),
		SecondParty: newPartyResponse(c, c.SecondParty),
		ExpiresAt:   c.ExpiresAt,
	}
}
