package contracts

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/angelmondragon/pactsign-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/pactsign-backend/pkg/errors"
)

// Contract is the aggregate root. All status changes go through its methods,
// which consult the state table before mutating anything.
type Contract struct {
	ID                 uuid.UUID
	CreatorID          uuid.UUID
	Title              string
	Content            string
	FirstParty         PartyInfo
	SecondParty        PartyInfo
	Status             enums.ContractStatus
	SignToken          *SignToken
	ExpiresAt          *time.Time
	ExpirationWarnedAt *time.Time
	SentAt             *time.Time
	CompletedAt        *time.Time
	CancelledAt        *time.Time
	ExpiredAt          *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
	Version            int64
	Signatures         []Signature
}

type Signature struct {
	ID            uuid.UUID
	SignerEmail   string
	SignerName    string
	SignatureData string
	SignedAt      time.Time
	IPAddress     string
	DeviceInfo    *string
}

// Draft carries the creator-supplied fields of a new contract.
type Draft struct {
	Title       string
	Content     string
	FirstParty  PartyInfo
	SecondParty PartyInfo
	ExpiresAt   *time.Time
}

// Changes carries the editable fields of a draft. Nil fields are left alone.
type Changes struct {
	Title     *string
	Content   *string
	ExpiresAt *time.Time
}

// SignatureInput is one signer's submission.
type SignatureInput struct {
	SignerEmail   string
	SignerName    string
	SignatureData string
	IPAddress     string
	DeviceInfo    string
}

// NewContract validates a draft and returns it in DRAFT status.
func NewContract(creatorID uuid.UUID, draft Draft, now time.Time, minExpiryLead time.Duration) (*Contract, error) {
	if creatorID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "creator identity missing")
	}
	title, err := validateTitle(draft.Title)
	if err != nil {
		return nil, err
	}
	content, err := validateContent(draft.Content)
	if err != nil {
		return nil, err
	}
	if draft.FirstParty.Email == "" || draft.SecondParty.Email == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "both parties are required")
	}
	if draft.FirstParty.Email == draft.SecondParty.Email {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "parties must have different email addresses")
	}
	if err := validateExpiry(draft.ExpiresAt, now, minExpiryLead); err != nil {
		return nil, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "generate contract id")
	}
	return &Contract{
		ID:          id,
		CreatorID:   creatorID,
		Title:       title,
		Content:     content,
		FirstParty:  draft.FirstParty,
		SecondParty: draft.SecondParty,
		Status:      enums.ContractStatusDraft,
		ExpiresAt:   utcPtr(draft.ExpiresAt),
		CreatedAt:   now,
		UpdatedAt:   now,
		Version:     1,
	}, nil
}

func validateExpiry(expiresAt *time.Time, now time.Time, minLead time.Duration) error {
	if expiresAt == nil {
		return nil
	}
	if expiresAt.Before(now.Add(minLead)) {
		return pkgerrors.New(pkgerrors.CodeValidation, "expires_at must be further in the future").
			WithDetails(map[string]any{"min_lead": minLead.String()})
	}
	return nil
}

func (c *Contract) IsOwnedBy(userID uuid.UUID) bool {
	return c.CreatorID == userID
}

func (c *Contract) Update(changes Changes, now time.Time, minExpiryLead time.Duration) error {
	if err := checkAllowed(c.Status, OpUpdate); err != nil {
		return err
	}
	title, content := c.Title, c.Content
	var err error
	if changes.Title != nil {
		if title, err = validateTitle(*changes.Title); err != nil {
			return err
		}
	}
	if changes.Content != nil {
		if content, err = validateContent(*changes.Content); err != nil {
			return err
		}
	}
	if changes.ExpiresAt != nil {
		if err := validateExpiry(changes.ExpiresAt, now, minExpiryLead); err != nil {
			return err
		}
		c.ExpiresAt = utcPtr(changes.ExpiresAt)
	}
	c.Title = title
	c.Content = content
	c.UpdatedAt = now
	return nil
}

// SendForSigning moves a draft to PENDING with a fresh shared sign token.
func (c *Contract) SendForSigning(now time.Time) error {
	if err := checkAllowed(c.Status, OpSend); err != nil {
		return err
	}
	if c.ExpiresAt != nil && !c.ExpiresAt.After(now) {
		return pkgerrors.New(pkgerrors.CodeValidation, "contract expiry is already in the past")
	}
	token := NewSignToken()
	c.SignToken = &token
	c.Status = enums.ContractStatusPending
	c.SentAt = timePtr(now)
	c.UpdatedAt = now
	return nil
}

// Sign records one signature. completed is true when it was the last one
// and the contract moved to SIGNED.
func (c *Contract) Sign(input SignatureInput, now time.Time) (sig Signature, completed bool, err error) {
	if err := checkAllowed(c.Status, OpSign); err != nil {
		return Signature{}, false, err
	}
	email, err := NormalizeEmail(input.SignerEmail)
	if err != nil {
		return Signature{}, false, err
	}
	if _, ok := c.PartyByEmail(email); !ok {
		return Signature{}, false, pkgerrors.New(pkgerrors.CodeForbidden, "signer is not a party to this contract")
	}
	if c.HasSigned(email) {
		return Signature{}, false, pkgerrors.New(pkgerrors.CodeConflict, "signer has already signed")
	}

	name := strings.TrimSpace(input.SignerName)
	if name == "" {
		return Signature{}, false, pkgerrors.New(pkgerrors.CodeValidation, "signer name is required")
	}
	if utf8.RuneCountInString(name) > MaxSignerNameLength {
		return Signature{}, false, pkgerrors.New(pkgerrors.CodeValidation, "signer name is too long")
	}
	if strings.TrimSpace(input.SignatureData) == "" {
		return Signature{}, false, pkgerrors.New(pkgerrors.CodeValidation, "signature data is required")
	}
	if len(input.SignatureData) > MaxSignatureDataBytes {
		return Signature{}, false, pkgerrors.New(pkgerrors.CodeValidation, "signature data is too large")
	}

	id, err := uuid.NewV7()
	if err != nil {
		return Signature{}, false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "generate signature id")
	}
	sig = Signature{
		ID:            id,
		SignerEmail:   email,
		SignerName:    name,
		SignatureData: input.SignatureData,
		SignedAt:      now,
		IPAddress:     strings.TrimSpace(input.IPAddress),
	}
	if device := strings.TrimSpace(input.DeviceInfo); device != "" {
		sig.DeviceInfo = &device
	}
	c.Signatures = append(c.Signatures, sig)
	c.UpdatedAt = now

	if len(c.PendingSigners()) == 0 {
		c.Status = enums.ContractStatusSigned
		c.CompletedAt = timePtr(now)
		completed = true
	}
	return sig, completed, nil
}

// Cancel moves a DRAFT or PENDING contract to CANCELLED and returns the
// status it left.
func (c *Contract) Cancel(now time.Time) (enums.ContractStatus, error) {
	if err := checkAllowed(c.Status, OpCancel); err != nil {
		return "", err
	}
	previous := c.Status
	c.Status = enums.ContractStatusCancelled
	c.CancelledAt = timePtr(now)
	c.UpdatedAt = now
	return previous, nil
}

// Expire moves a PENDING contract whose deadline has passed to EXPIRED.
func (c *Contract) Expire(now time.Time) error {
	if err := checkAllowed(c.Status, OpExpire); err != nil {
		return err
	}
	if c.ExpiresAt == nil || c.ExpiresAt.After(now) {
		return pkgerrors.New(pkgerrors.CodeInvalidState, "contract has not reached its expiry")
	}
	c.Status = enums.ContractStatusExpired
	c.ExpiredAt = timePtr(now)
	c.UpdatedAt = now
	return nil
}

// MarkExpirationWarned stamps the warning so later scans skip the contract.
func (c *Contract) MarkExpirationWarned(now time.Time) error {
	if err := checkAllowed(c.Status, OpWarn); err != nil {
		return err
	}
	if c.ExpirationWarnedAt != nil {
		return pkgerrors.New(pkgerrors.CodeConflict, "expiration warning already sent")
	}
	c.ExpirationWarnedAt = timePtr(now)
	c.UpdatedAt = now
	return nil
}

func (c *Contract) CheckRemind() error {
	return checkAllowed(c.Status, OpRemind)
}

func (c *Contract) CheckDelete() error {
	return checkAllowed(c.Status, OpDelete)
}

// Parties returns both parties in declaration order.
func (c *Contract) Parties() []PartyInfo {
	return []PartyInfo{c.FirstParty, c.SecondParty}
}

func (c *Contract) PartyByEmail(email string) (PartyInfo, bool) {
	for _, p := range c.Parties() {
		if p.Email == email {
			return p, true
		}
	}
	return PartyInfo{}, false
}

func (c *Contract) HasSigned(email string) bool {
	for _, s := range c.Signatures {
		if s.SignerEmail == email {
			return true
		}
	}
	return false
}

// PendingSigners returns the parties that have not signed yet.
func (c *Contract) PendingSigners() []PartyInfo {
	var out []PartyInfo
	for _, p := range c.Parties() {
		if !c.HasSigned(p.Email) {
			out = append(out, p)
		}
	}
	return out
}

func timePtr(t time.Time) *time.Time {
	return &t
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
