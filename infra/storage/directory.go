package storage

import (
	"context"
	"fmt"

	"github.com/mstgnz/gamevault/ledger"
)

// UpsertUser registers a user id mirrored from the identity service
func (s *SQLStore) UpsertUser(ctx context.Context, userID string) error {
	query := s.rebind(`INSERT INTO users (id) VALUES (?) ON CONFLICT (id) DO NOTHING`)
	if _, err := s.db.ExecContext(ctx, query, userID); err != nil {
		return fmt.Errorf("failed to save user: %w", err)
	}
	return nil
}

// UpsertAccount mirrors a listing from the listing service
func (s *SQLStore) UpsertAccount(ctx context.Context, account ledger.Account) error {
	query := s.rebind(`
		INSERT INTO accounts (id, seller_id, price, status) VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			seller_id = excluded.seller_id,
			price = excluded.price,
			status = excluded.status`)

	if _, err := s.db.ExecContext(ctx, query, account.ID, account.SellerID, account.Price, string(account.Status)); err != nil {
		return fmt.Errorf("failed to save account: %w", err)
	}
	return nil
}
