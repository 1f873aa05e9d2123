package contracts

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	pkgerrors "github.com/angelmondragon/pactsign-backend/pkg/errors"
)

const (
	MaxTitleLength        = 200
	MaxPartyNameLength    = 100
	MaxOrganizationLength = 200
	MaxSignerNameLength   = 100
	MaxSignatureDataBytes = 512 * 1024
)

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// PartyInfo identifies one counter-party. Email is the identity used for
// signing and is stored trimmed and lower-cased.
type PartyInfo struct {
	Name         string
	Email        string
	Organization *string
}

// NewPartyInfo validates and normalizes a party. field prefixes error
// messages, e.g. "first_party".
func NewPartyInfo(field, name, email string, organization *string) (PartyInfo, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return PartyInfo{}, pkgerrors.Newf(pkgerrors.CodeValidation, "%s name is required", field)
	}
	if utf8.RuneCountInString(name) > MaxPartyNameLength {
		return PartyInfo{}, pkgerrors.Newf(pkgerrors.CodeValidation, "%s name must be at most %d characters", field, MaxPartyNameLength)
	}

	normalized, err := NormalizeEmail(email)
	if err != nil {
		return PartyInfo{}, pkgerrors.Newf(pkgerrors.CodeValidation, "%s email is invalid", field)
	}

	var org *string
	if organization != nil {
		trimmed := strings.TrimSpace(*organization)
		if utf8.RuneCountInString(trimmed) > MaxOrganizationLength {
			return PartyInfo{}, pkgerrors.Newf(pkgerrors.CodeValidation, "%s organization must be at most %d characters", field, MaxOrganizationLength)
		}
		if trimmed != "" {
			org = &trimmed
		}
	}

	return PartyInfo{Name: name, Email: normalized, Organization: org}, nil
}

// NormalizeEmail trims and lower-cases an address and checks its shape.
func NormalizeEmail(email string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(email))
	if normalized == "" || !emailPattern.MatchString(normalized) {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "invalid email address")
	}
	return normalized, nil
}

// SignToken is the shared secret embedded in signing links.
type SignToken string

func NewSignToken() SignToken {
	return SignToken(uuid.NewString())
}

func (t SignToken) String() string { return string(t) }

// ParseSignToken accepts only well-formed tokens so lookups never hit the
// database with arbitrary input.
func ParseSignToken(raw string) (SignToken, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", pkgerrors.New(pkgerrors.CodeNotFound, "signing link is invalid")
	}
	return SignToken(id.String()), nil
}

func validateTitle(title string) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "title is required")
	}
	if utf8.RuneCountInString(title) > MaxTitleLength {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "title is too long")
	}
	return title, nil
}

func validateContent(content string) (string, error) {
	if strings.TrimSpace(content) == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "content is required")
	}
	return content, nil
}
