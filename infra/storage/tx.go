package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mstgnz/gamevault/ledger"
)

// storeTx implements ledger.StoreTx on top of a *sql.Tx
type storeTx struct {
	tx    *sql.Tx
	store *SQLStore
}

func (t *storeTx) GetAccount(ctx context.Context, accountID string) (*ledger.Account, error) {
	var (
		account ledger.Account
		status  string
	)

	query := t.store.rebind(`SELECT id, seller_id, price, status FROM accounts WHERE id = ?`)
	err := t.tx.QueryRowContext(ctx, query, accountID).Scan(&account.ID, &account.SellerID, &account.Price, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: account %s", ledger.ErrNotFound, accountID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read account: %w", err)
	}

	account.Status = ledger.AccountStatus(status)
	return &account, nil
}

func (t *storeTx) UserExists(ctx context.Context, userID string) (bool, error) {
	var one int
	query := t.store.rebind(`SELECT 1 FROM users WHERE id = ?`)
	err := t.tx.QueryRowContext(ctx, query, userID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read user: %w", err)
	}
	return true, nil
}

func (t *storeTx) FindByBuyerAndAccount(ctx context.Context, buyerID, accountID string) (*ledger.Transaction, error) {
	query := t.store.rebind("SELECT " + transactionColumns + " FROM transactions WHERE buyer_id = ? AND account_id = ?")
	return scanTransaction(t.tx.QueryRowContext(ctx, query, buyerID, accountID))
}

func (t *storeTx) InsertTransaction(ctx context.Context, txn *ledger.Transaction) error {
	query := t.store.rebind(`
		INSERT INTO transactions (id, account_id, buyer_id, seller_id, amount, status, encrypted_credentials, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err := t.tx.ExecContext(ctx, query,
		txn.ID, txn.AccountID, txn.BuyerID, txn.SellerID, txn.Amount, string(txn.Status),
		txn.EncryptedCredentials, txn.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: buyer already has a transaction for account %s", ledger.ErrConflict, txn.AccountID)
	}
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	return nil
}

func (t *storeTx) LockTransaction(ctx context.Context, lookup ledger.Lookup) (*ledger.Transaction, error) {
	query, arg := t.store.lookupQuery(lookup, true)
	return scanTransaction(t.tx.QueryRowContext(ctx, query, arg))
}

func (t *storeTx) SetOrderCode(ctx context.Context, transactionID, orderCode string) error {
	query := t.store.rebind(`UPDATE transactions SET order_code = ? WHERE id = ? AND order_code IS NULL`)
	res, err := t.tx.ExecContext(ctx, query, orderCode, transactionID)
	if isUniqueViolation(err) {
		return ledger.ErrReferenceTaken
	}
	if err != nil {
		return fmt.Errorf("failed to set order code: %w", err)
	}
	return expectOneRow(res, fmt.Errorf("%w: order code already assigned to transaction %s", ledger.ErrConflict, transactionID))
}

func (t *storeTx) SetCheckoutURL(ctx context.Context, transactionID, checkoutURL string) error {
	query := t.store.rebind(`UPDATE transactions SET checkout_url = ? WHERE id = ? AND checkout_url IS NULL`)
	res, err := t.tx.ExecContext(ctx, query, checkoutURL, transactionID)
	if err != nil {
		return fmt.Errorf("failed to set checkout url: %w", err)
	}
	return expectOneRow(res, fmt.Errorf("%w: checkout url already stored for transaction %s", ledger.ErrConflict, transactionID))
}

func (t *storeTx) MarkCompleted(ctx context.Context, transactionID string, at time.Time) error {
	return t.finish(ctx, transactionID, ledger.StatusCompleted, "completed_at", at)
}

func (t *storeTx) MarkCancelled(ctx context.Context, transactionID string, at time.Time) error {
	return t.finish(ctx, transactionID, ledger.StatusCancelled, "cancelled_at", at)
}

// finish moves a PENDING row to a terminal status
func (t *storeTx) finish(ctx context.Context, transactionID string, status ledger.Status, column string, at time.Time) error {
	query := t.store.rebind(`UPDATE transactions SET status = ?, ` + column + ` = ? WHERE id = ? AND status = ?`)
	res, err := t.tx.ExecContext(ctx, query, string(status), at, transactionID, string(ledger.StatusPending))
	if err != nil {
		return fmt.Errorf("failed to update transaction status: %w", err)
	}
	return expectOneRow(res, fmt.Errorf("%w: transaction %s is no longer pending", ledger.ErrInvalidState, transactionID))
}

func expectOneRow(res sql.Result, otherwise error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n != 1 {
		return otherwise
	}
	return nil
}
