package access

import "context"

// AccessReader is the ledger's access check.
type AccessReader interface {
	HasAccess(ctx context.Context, patientCode, recordCode, doctorCode string) bool
}

// LedgerAuthorizer answers access questions from the ledger alone. Ledger
// failures deny.
type LedgerAuthorizer struct {
	ledger AccessReader
}

func NewLedgerAuthorizer(l AccessReader) *LedgerAuthorizer {
	return &LedgerAuthorizer{ledger: l}
}

func (a *LedgerAuthorizer) Authorize(ctx context.Context, patientCode, recordCode, doctorCode string) bool {
	if patientCode == "" || recordCode == "" || doctorCode == "" {
		return false
	}
	return a.ledger.HasAccess(ctx, patientCode, recordCode, doctorCode)
}
