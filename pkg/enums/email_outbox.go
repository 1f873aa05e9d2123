package enums

import "fmt"

// EmailOutboxStatus maps to the email_outbox.status column.
type EmailOutboxStatus string

const (
	EmailOutboxPending EmailOutboxStatus = "pending"
	EmailOutboxSending EmailOutboxStatus = "sending"
	EmailOutboxSent    EmailOutboxStatus = "sent"
	EmailOutboxFailed  EmailOutboxStatus = "failed"
)

var validEmailOutboxStatuses = []EmailOutboxStatus{
	EmailOutboxPending,
	EmailOutboxSending,
	EmailOutboxSent,
	EmailOutboxFailed,
}

// IsValid reports whether the value matches a known outbox status.
func (s EmailOutboxStatus) IsValid() bool {
	for _, candidate := range validEmailOutboxStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsFinal reports whether the dispatcher will never touch the entry again.
func (s EmailOutboxStatus) IsFinal() bool {
	return s == EmailOutboxSent || s == EmailOutboxFailed
}

// ParseEmailOutboxStatus converts raw input into EmailOutboxStatus.
func ParseEmailOutboxStatus(value string) (EmailOutboxStatus, error) {
	for _, candidate := range validEmailOutboxStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid email outbox status %q", value)
}

// EmailTemplate identifies the notification kind rendered for an outbox entry.
type EmailTemplate string

const (
	EmailTemplateSigningRequest    EmailTemplate = "signing_request"
	EmailTemplateCompleted         EmailTemplate = "completed"
	EmailTemplateCancelled         EmailTemplate = "cancelled"
	EmailTemplateExpired           EmailTemplate = "expired"
	EmailTemplateExpirationWarning EmailTemplate = "expiration_warning"
	EmailTemplateReminder          EmailTemplate = "reminder"
)

var validEmailTemplates = []EmailTemplate{
	EmailTemplateSigningRequest,
	EmailTemplateCompleted,
	EmailTemplateCancelled,
	EmailTemplateExpired,
	EmailTemplateExpirationWarning,
	EmailTemplateReminder,
}

// EmailTemplates returns every known template in declaration order.
func EmailTemplates() []EmailTemplate {
	out := make([]EmailTemplate, len(validEmailTemplates))
	copy(out, validEmailTemplates)
	return out
}

// IsValid reports whether the value matches a known template.
func (t EmailTemplate) IsValid() bool {
	for _, candidate := range validEmailTemplates {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseEmailTemplate converts raw input into EmailTemplate.
func ParseEmailTemplate(value string) (EmailTemplate, error) {
	for _, candidate := range validEmailTemplates {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid email template %q", value)
}
