package contracts

import (
	"time"

	"github.com/angelmondragon/pactsign-backend/pkg/pagination"
)

// PartyInput is the raw party payload before normalization.
type PartyInput struct {
	Name         string
	Email        string
	Organization *string
}

type CreateInput struct {
	Title       string
	Content     string
	FirstParty  PartyInput
	SecondParty PartyInput
	ExpiresAt   *time.Time
}

type UpdateInput struct {
	Title     *string
	Content   *string
	ExpiresAt *time.Time
}

type ListParams struct {
	Status string
	pagination.Params
}

type ListResult struct {
	Items  []*Contract
	Cursor string
}
