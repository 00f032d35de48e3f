package ledger

import (
	"errors"
	"fmt"
	"net/http"
)

// Role selects whose key signs a ledger write.
type Role int

const (
	RoleOperator Role = iota
	RolePatient
	RoleDoctor
)

func (r Role) String() string {
	switch r {
	case RoleOperator:
		return "operator"
	case RolePatient:
		return "patient"
	case RoleDoctor:
		return "doctor"
	}
	return fmt.Sprintf("role(%d)", int(r))
}

// Signer names the party that must sign a transaction. The operator signs
// with the server's own key; patients and doctors sign with the key bound to
// their wallet.
type Signer struct {
	Role   Role
	Wallet string
}

func Operator() Signer { return Signer{Role: RoleOperator} }

func Patient(wallet string) Signer { return Signer{Role: RolePatient, Wallet: wallet} }

func Doctor(wallet string) Signer { return Signer{Role: RoleDoctor, Wallet: wallet} }

func (s Signer) String() string {
	if s.Role == RoleOperator {
		return s.Role.String()
	}
	return s.Role.String() + ":" + s.Wallet
}

// ErrSignerDeclined means the requested signer produced no signature: no
// wallet is connected or no key material is held for it. The write did not
// reach the ledger and the caller may retry once the signer is available.
var ErrSignerDeclined = errors.New("ledger: signer declined")

// TxError is an on-chain failure: endorsement, ordering or validation
// rejected the transaction. Message is the short reason from the peer.
type TxError struct {
	Op      string
	Message string
	Err     error
}

func (e *TxError) Error() string {
	return fmt.Sprintf("ledger %s failed: %s", e.Op, e.Message)
}

func (e *TxError) Unwrap() error { return e.Err }

// HTTPStatus maps ledger errors to a response status and a client-safe
// message. ok is false for errors that did not come from the ledger.
func HTTPStatus(err error) (status int, msg string, ok bool) {
	var txErr *TxError
	switch {
	case errors.Is(err, ErrSignerDeclined):
		return http.StatusConflict, "ledger signer unavailable; the operation can be retried once a wallet key is provisioned", true
	case errors.As(err, &txErr):
		return http.StatusBadGateway, "ledger transaction failed", true
	case errors.Is(err, ErrInvalidIdentifier):
		return http.StatusBadRequest, err.Error(), true
	}
	return 0, "", false
}
