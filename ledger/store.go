package ledger

import (
	"context"
	"time"
)

// Store is the persistent source of truth for transactions.
// Every state transition runs inside WithinTx; implementations must lock the
// row returned by LockTransaction until fn returns.
type Store interface {
	WithinTx(ctx context.Context, fn func(tx StoreTx) error) error
	FindTransaction(ctx context.Context, lookup Lookup) (*Transaction, error)
}

// StoreTx is the set of operations available inside a database transaction
type StoreTx interface {
	// GetAccount returns ErrNotFound when the listing does not exist
	GetAccount(ctx context.Context, accountID string) (*Account, error)
	UserExists(ctx context.Context, userID string) (bool, error)

	// FindByBuyerAndAccount returns ErrNotFound when the pair has no transaction
	FindByBuyerAndAccount(ctx context.Context, buyerID, accountID string) (*Transaction, error)

	// InsertTransaction returns ErrConflict when the (buyer, account) pair is taken
	InsertTransaction(ctx context.Context, t *Transaction) error

	// LockTransaction reads and locks a row, ErrNotFound when missing
	LockTransaction(ctx context.Context, lookup Lookup) (*Transaction, error)

	// SetOrderCode returns ErrReferenceTaken on a unique index collision
	SetOrderCode(ctx context.Context, transactionID, orderCode string) error
	SetCheckoutURL(ctx context.Context, transactionID, checkoutURL string) error

	MarkCompleted(ctx context.Context, transactionID string, at time.Time) error
	MarkCancelled(ctx context.Context, transactionID string, at time.Time) error
}
