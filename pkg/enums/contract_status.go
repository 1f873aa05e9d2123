package enums

import "fmt"

// ContractStatus maps to the contracts.status column.
type ContractStatus string

const (
	ContractStatusDraft     ContractStatus = "draft"
	ContractStatusPending   ContractStatus = "pending"
	ContractStatusSigned    ContractStatus = "signed"
	ContractStatusCancelled ContractStatus = "cancelled"
	ContractStatusExpired   ContractStatus = "expired"
)

var validContractStatuses = []ContractStatus{
	ContractStatusDraft,
	ContractStatusPending,
	ContractStatusSigned,
	ContractStatusCancelled,
	ContractStatusExpired,
}

// IsValid reports whether the value matches a known contract status.
func (s ContractStatus) IsValid() bool {
	for _, candidate := range validContractStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions leave this status.
func (s ContractStatus) IsTerminal() bool {
	switch s {
	case ContractStatusSigned, ContractStatusCancelled, ContractStatusExpired:
		return true
	}
	return false
}

// ParseContractStatus converts raw input into ContractStatus.
func ParseContractStatus(value string) (ContractStatus, error) {
	for _, candidate := range validContractStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid contract status %q", value)
}
