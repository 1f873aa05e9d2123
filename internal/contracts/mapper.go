package contracts

import (
	"github.com/google/uuid"

	"github.com/angelmondragon/pactsign-backend/pkg/db/models"
)

func toModel(c *Contract) models.Contract {
	m := models.Contract{
		ID:                      c.ID,
		CreatorID:               c.CreatorID,
		Title:                   c.Title,
		Content:                 c.Content,
		FirstPartyName:          c.FirstParty.Name,
		FirstPartyEmail:         c.FirstParty.Email,
		FirstPartyOrganization:  c.FirstParty.Organization,
		SecondPartyName:         c.SecondParty.Name,
		SecondPartyEmail:        c.SecondParty.Email,
		SecondPartyOrganization: c.SecondParty.Organization,
		Status:                  c.Status,
		ExpiresAt:               c.ExpiresAt,
		ExpirationWarnedAt:      c.ExpirationWarnedAt,
		SentAt:                  c.SentAt,
		CompletedAt:             c.CompletedAt,
		CancelledAt:             c.CancelledAt,
		ExpiredAt:               c.ExpiredAt,
		CreatedAt:               c.CreatedAt,
		UpdatedAt:               c.UpdatedAt,
		Version:                 c.Version,
	}
	if c.SignToken != nil {
		token := c.SignToken.String()
		m.SignToken = &token
	}
	return m
}

func fromModel(m models.Contract, sigs []models.ContractSignature) *Contract {
	c := &Contract{
		ID:        m.ID,
		CreatorID: m.CreatorID,
		Title:     m.Title,
		Content:   m.Content,
		FirstParty: PartyInfo{
			Name:         m.FirstPartyName,
			Email:        m.FirstPartyEmail,
			Organization: m.FirstPartyOrganization,
		},
		SecondParty: PartyInfo{
			Name:         m.SecondPartyName,
			Email:        m.SecondPartyEmail,
			Organization: m.SecondPartyOrganization,
		},
		Status:             m.Status,
		ExpiresAt:          m.ExpiresAt,
		ExpirationWarnedAt: m.ExpirationWarnedAt,
		SentAt:             m.SentAt,
		CompletedAt:        m.CompletedAt,
		CancelledAt:        m.CancelledAt,
		ExpiredAt:          m.ExpiredAt,
		CreatedAt:          m.CreatedAt,
		UpdatedAt:          m.UpdatedAt,
		Version:            m.Version,
	}
	if m.SignToken != nil {
		token := SignToken(*m.SignToken)
		c.SignToken = &token
	}
	for _, s := range sigs {
		c.Signatures = append(c.Signatures, signatureFromModel(s))
	}
	return c
}

func signatureToModel(contractID uuid.UUID, s Signature) models.ContractSignature {
	return models.ContractSignature{
		ID:            s.ID,
		ContractID:    contractID,
		SignerEmail:   s.SignerEmail,
		SignerName:    s.SignerName,
		SignatureData: s.SignatureData,
		SignedAt:      s.SignedAt,
		IPAddress:     s.IPAddress,
		DeviceInfo:    s.DeviceInfo,
		CreatedAt:     s.SignedAt,
	}
}

func signatureFromModel(m models.ContractSignature) Signature {
	return Signature{
		ID:            m.ID,
		SignerEmail:   m.SignerEmail,
		SignerName:    m.SignerName,
		SignatureData: m.SignatureData,
		SignedAt:      m.SignedAt,
		IPAddress:     m.IPAddress,
		DeviceInfo:    m.DeviceInfo,
	}
}
