package enums

import "testing"

func TestContractStatusTerminal(t *testing.T) {
	terminal := map[ContractStatus]bool{
		ContractStatusDraft:     false,
		ContractStatusPending:   false,
		ContractStatusSigned:    true,
		ContractStatusCancelled: true,
		ContractStatusExpired:   true,
	}
	for status, want := range terminal {
		if !status.IsValid() {
			t.Fatalf("%s should be valid", status)
		}
		if got := status.IsTerminal(); got != want {
			t.Fatalf("%s terminal = %v, want %v", status, got, want)
		}
	}
	if ContractStatus("archived").IsValid() {
		t.Fatal("unexpected valid status")
	}
}

func TestParseEnums(t *testing.T) {
	if s, err := ParseContractStatus("pending"); err != nil || s != ContractStatusPending {
		t.Fatalf("parse contract status: %v %v", s, err)
	}
	if _, err := ParseContractStatus("PENDING"); err == nil {
		t.Fatal("expected case-sensitive parse")
	}
	if s, err := ParseEmailOutboxStatus("failed"); err != nil || s != EmailOutboxFailed {
		t.Fatalf("parse outbox status: %v %v", s, err)
	}
	if !EmailOutboxSent.IsFinal() || EmailOutboxSending.IsFinal() {
		t.Fatal("unexpected final classification")
	}
	if tpl, err := ParseEmailTemplate("expiration_warning"); err != nil || tpl != EmailTemplateExpirationWarning {
		t.Fatalf("parse template: %v %v", tpl, err)
	}
	if len(EmailTemplates()) != 6 {
		t.Fatalf("expected six templates, got %d", len(EmailTemplates()))
	}
}
