package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/mstgnz/gamevault/infra/conn"
	"github.com/mstgnz/gamevault/infra/logger"
	"github.com/mstgnz/gamevault/ledger"
)

const busyRetries = 3

// SQLStore persists transactions in SQLite or PostgreSQL
type SQLStore struct {
	db     *sql.DB
	driver string
}

var _ ledger.Store = (*SQLStore)(nil)

// New wraps an open database and makes sure the schema exists
func New(ctx context.Context, db *sql.DB, driver string) (*SQLStore, error) {
	s := &SQLStore{db: db, driver: driver}

	schema := sqliteSchema
	switch driver {
	case conn.DriverSQLite:
		s.optimize(ctx)
	case conn.DriverPostgres:
		schema = postgresSchema
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

// optimize applies the per-connection pragmas the DSN does not cover
func (s *SQLStore) optimize(ctx context.Context) {
	pragmas := []string{
		"PRAGMA busy_timeout = 30000;",
		"PRAGMA temp_store = memory;",
		"PRAGMA optimize;",
	}
	for _, pragma := range pragmas {
		if _, err := s.db.ExecContext(ctx, pragma); err != nil {
			logger.Warn("failed to apply pragma", logger.LogContext{
				Fields: map[string]any{"pragma": pragma, "error": err.Error()},
			})
		}
	}
}

// Ping reports whether the database is reachable
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// WithinTx runs fn in a database transaction. The transaction commits when fn
// returns nil and rolls back otherwise. On SQLite a busy database is retried.
func (s *SQLStore) WithinTx(ctx context.Context, fn func(tx ledger.StoreTx) error) error {
	return s.retryOperation(func() error {
		sqlTx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}

		if err := fn(&storeTx{tx: sqlTx, store: s}); err != nil {
			_ = sqlTx.Rollback()
			return err
		}

		if err := sqlTx.Commit(); err != nil {
			return fmt.Errorf("failed to commit transaction: %w", err)
		}
		return nil
	}, busyRetries)
}

// FindTransaction reads a transaction without locking it
func (s *SQLStore) FindTransaction(ctx context.Context, lookup ledger.Lookup) (*ledger.Transaction, error) {
	query, arg := s.lookupQuery(lookup, false)
	return scanTransaction(s.db.QueryRowContext(ctx, query, arg))
}

// retryOperation executes a database operation with retry logic for SQLITE_BUSY errors
func (s *SQLStore) retryOperation(operation func() error, maxRetries int) error {
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := operation()
		if err == nil {
			return nil
		}
		if !isBusy(err) {
			return err
		}

		lastErr = err
		if attempt < maxRetries {
			// 10ms, 20ms, 40ms
			backoff := time.Duration(10*(1<<attempt)) * time.Millisecond
			logger.Warn("database busy, retrying", logger.LogContext{
				Fields: map[string]any{"attempt": attempt + 1, "backoff": backoff.String()},
			})
			time.Sleep(backoff)
		}
	}

	return fmt.Errorf("operation failed after %d retries, last error: %w", maxRetries+1, lastErr)
}

const transactionColumns = `id, order_code, checkout_url, account_id, buyer_id, seller_id, amount, status,
	encrypted_credentials, created_at, completed_at, cancelled_at`

func (s *SQLStore) lookupQuery(lookup ledger.Lookup, lock bool) (string, string) {
	column, arg := "id", lookup.ID
	if lookup.ID == "" {
		column, arg = "order_code", lookup.OrderCode
	}

	query := "SELECT " + transactionColumns + " FROM transactions WHERE " + column + " = ?"
	if lock && s.driver == conn.DriverPostgres {
		query += " FOR UPDATE"
	}
	return s.rebind(query), arg
}

// rebind rewrites ? placeholders to $n for PostgreSQL
func (s *SQLStore) rebind(query string) string {
	if s.driver != conn.DriverPostgres {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*ledger.Transaction, error) {
	var (
		t           ledger.Transaction
		orderCode   sql.NullString
		checkoutURL sql.NullString
		status      string
		completedAt sql.NullTime
		cancelledAt sql.NullTime
	)

	err := row.Scan(&t.ID, &orderCode, &checkoutURL, &t.AccountID, &t.BuyerID, &t.SellerID, &t.Amount,
		&status, &t.EncryptedCredentials, &t.CreatedAt, &completedAt, &cancelledAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: transaction", ledger.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read transaction: %w", err)
	}

	t.OrderCode = orderCode.String
	t.CheckoutURL = checkoutURL.String
	t.Status = ledger.Status(status)
	if completedAt.Valid {
		at := completedAt.Time
		t.CompletedAt = &at
	}
	if cancelledAt.Valid {
		at := cancelledAt.Time
		t.CancelledAt = &at
	}
	return &t, nil
}

// isUniqueViolation reports whether err is a unique index violation on either driver
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

func isBusy(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}
