package contracts

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/angelmondragon/pactsign-backend/pkg/db/models"
	"github.com/angelmondragon/pactsign-backend/pkg/enums"
	"github.com/angelmondragon/pactsign-backend/pkg/outbox"
)

const displayTimeLayout = "2006-01-02 15:04 MST"

// NotificationSettings shapes the emails composed at each transition.
type NotificationSettings struct {
	SigningBaseURL string
	CompanyName    string
	// SignedDocumentKey is a format string taking the contract id, e.g.
	// "contracts/%s/signed.pdf". Empty disables the completed attachment.
	SignedDocumentKey   string
	NotifyOnPartialSign bool
}

type composer struct {
	settings NotificationSettings
}

func (n composer) signingRequests(c *Contract) []outbox.Message {
	return n.each(c, c.Parties(), enums.EmailTemplateSigningRequest, nil)
}

func (n composer) completed(c *Contract) []outbox.Message {
	extra := map[string]string{"completedAt": formatTime(c.CompletedAt)}
	msgs := n.each(c, c.Parties(), enums.EmailTemplateCompleted, extra)
	if attachment, ok := n.signedDocument(c); ok {
		for i := range msgs {
			msgs[i].Attachments = []models.EmailAttachment{attachment}
		}
	}
	return msgs
}

func (n composer) cancelled(c *Contract) []outbox.Message {
	return n.each(c, c.Parties(), enums.EmailTemplateCancelled, map[string]string{"cancelledAt": formatTime(c.CancelledAt)})
}

func (n composer) expired(c *Contract) []outbox.Message {
	return n.each(c, c.Parties(), enums.EmailTemplateExpired, map[string]string{"expiredAt": formatTime(c.ExpiredAt)})
}

func (n composer) reminders(c *Contract) []outbox.Message {
	return n.each(c, c.PendingSigners(), enums.EmailTemplateReminder, nil)
}

// expirationWarnings carries a dedup key per signer so a re-run of the scan
// cannot queue a second warning.
func (n composer) expirationWarnings(c *Contract, now time.Time) []outbox.Message {
	remaining := time.Duration(0)
	if c.ExpiresAt != nil {
		remaining = c.ExpiresAt.Sub(now)
	}
	if remaining < 0 {
		remaining = 0
	}
	hours := int(remaining / time.Hour)
	extra := map[string]string{
		"daysLeft":  strconv.Itoa(hours / 24),
		"hoursLeft": strconv.Itoa(hours),
	}
	msgs := n.each(c, c.PendingSigners(), enums.EmailTemplateExpirationWarning, extra)
	for i := range msgs {
		msgs[i].DedupKey = ExpirationWarningKey(c, msgs[i].RecipientEmail)
	}
	return msgs
}

// ExpirationWarningKey is the outbox dedup key for one signer's warning.
func ExpirationWarningKey(c *Contract, email string) string {
	return fmt.Sprintf("expiration_warning:%s:%s", c.ID, email)
}

func (n composer) each(c *Contract, recipients []PartyInfo, template enums.EmailTemplate, extra map[string]string) []outbox.Message {
	msgs := make([]outbox.Message, 0, len(recipients))
	contractID := c.ID
	for _, p := range recipients {
		vars := n.baseVariables(c, p)
		for k, v := range extra {
			vars[k] = v
		}
		msgs = append(msgs, outbox.Message{
			Template:       template,
			RecipientEmail: p.Email,
			RecipientName:  p.Name,
			Variables:      vars,
			ContractID:     &contractID,
		})
	}
	return msgs
}

func (n composer) baseVariables(c *Contract, recipient PartyInfo) map[string]string {
	vars := map[string]string{
		"contractTitle":    c.Title,
		"firstPartyName":   c.FirstParty.Name,
		"firstPartyEmail":  c.FirstParty.Email,
		"secondPartyName":  c.SecondParty.Name,
		"secondPartyEmail": c.SecondParty.Email,
		"recipientName":    recipient.Name,
		"signerName":       recipient.Name,
		"companyName":      n.settings.CompanyName,
	}
	if c.SignToken != nil {
		vars["contractUrl"] = n.signingURL(*c.SignToken)
	}
	if c.ExpiresAt != nil {
		vars["expiresAt"] = formatTime(c.ExpiresAt)
	}
	return vars
}

func (n composer) signingURL(token SignToken) string {
	base := strings.TrimRight(n.settings.SigningBaseURL, "/")
	return base + "/" + token.String()
}

func (n composer) signedDocument(c *Contract) (models.EmailAttachment, bool) {
	if n.settings.SignedDocumentKey == "" {
		return models.EmailAttachment{}, false
	}
	return models.EmailAttachment{
		Filename:    fmt.Sprintf("contract-%s.pdf", c.ID),
		ContentType: "application/pdf",
		StorageKey:  fmt.Sprintf(n.settings.SignedDocumentKey, c.ID),
	}, true
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(displayTimeLayout)
}
