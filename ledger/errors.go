package ledger

import (
	"errors"
	"fmt"

	"github.com/mstgnz/gamevault/vault"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrForbidden    = errors.New("forbidden")
	ErrInvalidState = errors.New("invalid state")
	ErrConflict     = errors.New("conflict")
	ErrValidation   = errors.New("validation failed")

	// ErrIntegrity is the credential decryption failure. It is never swallowed.
	ErrIntegrity = vault.ErrIntegrity

	// ErrReferenceTaken is returned by a store when an order code is already
	// assigned to another transaction. The ledger retries with a fresh code.
	ErrReferenceTaken = errors.New("order code already in use")
)

// ReferenceConflictError is returned when a payment link already exists for a
// transaction. It matches ErrConflict.
type ReferenceConflictError struct {
	TransactionID string
	OrderCode     string
	CheckoutURL   string
}

func (e *ReferenceConflictError) Error() string {
	return fmt.Sprintf("payment link already created for transaction %s (order code %s)", e.TransactionID, e.OrderCode)
}

func (e *ReferenceConflictError) Is(target error) bool {
	return target == ErrConflict
}
