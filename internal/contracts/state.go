package contracts

import (
	"github.com/angelmondragon/pactsign-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/pactsign-backend/pkg/errors"
)

// Operation names a mutation checked against the state table.
type Operation string

const (
	OpUpdate Operation = "update"
	OpSend   Operation = "send"
	OpSign   Operation = "sign"
	OpCancel Operation = "cancel"
	OpExpire Operation = "expire"
	OpRemind Operation = "remind"
	OpWarn   Operation = "warn"
	OpDelete Operation = "delete"
)

// allowedOps is the only place that decides which operation is legal in which
// status. Terminal statuses allow nothing.
var allowedOps = map[enums.ContractStatus][]Operation{
	enums.ContractStatusDraft:   {OpUpdate, OpSend, OpCancel, OpDelete},
	enums.ContractStatusPending: {OpSign, OpCancel, OpExpire, OpRemind, OpWarn},
}

// Allows reports whether op is legal for a contract in status.
func Allows(status enums.ContractStatus, op Operation) bool {
	for _, candidate := range allowedOps[status] {
		if candidate == op {
			return true
		}
	}
	return false
}

func checkAllowed(status enums.ContractStatus, op Operation) error {
	if Allows(status, op) {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeInvalidState, "operation not allowed in current contract status").
		WithDetails(map[string]any{"status": status, "operation": op})
}
