package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mstgnz/gamevault/infra/logger"
	"github.com/mstgnz/gamevault/vault"
)

const (
	maxReferenceAttempts = 5

	// upper bound for a single state transition once it has been started
	transitionTimeout = 15 * time.Second
)

// CredentialCipher seals and opens escrowed credentials
type CredentialCipher interface {
	EncryptCredentials(creds vault.Credentials) ([]byte, error)
	DecryptCredentials(blob []byte) (vault.Credentials, error)
}

// Gateway creates hosted checkout sessions
type Gateway interface {
	CreateLink(ctx context.Context, orderCode string, amount float64, description string) (string, error)
}

// Notifier receives committed ledger events. Notify must not block.
type Notifier interface {
	Notify(event Event)
}

// Ledger owns the transaction state machine
type Ledger struct {
	store    Store
	cipher   CredentialCipher
	gateway  Gateway
	notifier Notifier
	refs     ReferenceGenerator
	now      func() time.Time
	newID    func() string
}

// Option customises a Ledger
type Option func(*Ledger)

// WithReferenceGenerator overrides the order code source
func WithReferenceGenerator(refs ReferenceGenerator) Option {
	return func(l *Ledger) { l.refs = refs }
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithNotifier sets the event sink
func WithNotifier(n Notifier) Option {
	return func(l *Ledger) { l.notifier = n }
}

// New creates a ledger
func New(store Store, cipher CredentialCipher, gateway Gateway, opts ...Option) *Ledger {
	l := &Ledger{
		store:    store,
		cipher:   cipher,
		gateway:  gateway,
		notifier: noopNotifier{},
		refs:     NewReferenceGenerator(),
		now:      func() time.Time { return time.Now().UTC() },
		newID:    func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Purchase opens a PENDING escrow for an approved listing
func (l *Ledger) Purchase(ctx context.Context, req PurchaseRequest) (*Transaction, error) {
	if strings.TrimSpace(req.AccountID) == "" || strings.TrimSpace(req.BuyerID) == "" {
		return nil, fmt.Errorf("%w: account id and buyer id are required", ErrValidation)
	}
	if strings.TrimSpace(req.Credentials.Username) == "" || strings.TrimSpace(req.Credentials.Password) == "" {
		return nil, fmt.Errorf("%w: credentials need a username and a password", ErrValidation)
	}

	blob, err := l.cipher.EncryptCredentials(req.Credentials)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt credentials: %w", err)
	}

	var txn *Transaction
	err = l.store.WithinTx(ctx, func(tx StoreTx) error {
		exists, err := tx.UserExists(ctx, req.BuyerID)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("%w: buyer %s", ErrNotFound, req.BuyerID)
		}

		account, err := tx.GetAccount(ctx, req.AccountID)
		if err != nil {
			return err
		}
		if account.Status != AccountApproved {
			return fmt.Errorf("%w: account %s is %s", ErrInvalidState, account.ID, account.Status)
		}
		if account.SellerID == req.BuyerID {
			return fmt.Errorf("%w: seller cannot purchase their own account", ErrConflict)
		}

		_, err = tx.FindByBuyerAndAccount(ctx, req.BuyerID, req.AccountID)
		switch {
		case err == nil:
			return fmt.Errorf("%w: buyer already has a transaction for account %s", ErrConflict, req.AccountID)
		case !errors.Is(err, ErrNotFound):
			return err
		}

		txn = &Transaction{
			ID:                   l.newID(),
			AccountID:            account.ID,
			BuyerID:              req.BuyerID,
			SellerID:             account.SellerID,
			Amount:               account.Price,
			Status:               StatusPending,
			EncryptedCredentials: blob,
			CreatedAt:            l.now(),
		}
		return tx.InsertTransaction(ctx, txn)
	})
	if err != nil {
		return nil, err
	}

	logger.Info("escrow opened", logger.LogContext{
		TransactionID: txn.ID,
		Fields:        map[string]any{"account_id": txn.AccountID, "amount": txn.Amount},
	})
	l.notifier.Notify(newEvent(EventCreated, txn))

	return txn, nil
}

// AttachPaymentReference assigns a gateway order code to a PENDING transaction
// and creates the checkout session for it
func (l *Ledger) AttachPaymentReference(ctx context.Context, transactionID string, requester Requester) (*PaymentLink, error) {
	if strings.TrimSpace(transactionID) == "" {
		return nil, fmt.Errorf("%w: transaction id is required", ErrValidation)
	}

	txn, err := l.reserveReference(ctx, transactionID, requester)
	if err != nil {
		return nil, err
	}

	logCtx := logger.LogContext{TransactionID: txn.ID, OrderCode: txn.OrderCode}

	checkoutURL, err := l.gateway.CreateLink(ctx, txn.OrderCode, txn.Amount, linkDescription(txn))
	if err != nil {
		logger.Error("checkout session creation failed", err, logCtx)
		return nil, err
	}

	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), transitionTimeout)
	defer cancel()
	err = l.store.WithinTx(persistCtx, func(tx StoreTx) error {
		t, err := tx.LockTransaction(persistCtx, ByID(txn.ID))
		if err != nil {
			return err
		}
		if t.CheckoutURL != "" {
			return &ReferenceConflictError{TransactionID: t.ID, OrderCode: t.OrderCode, CheckoutURL: t.CheckoutURL}
		}
		return tx.SetCheckoutURL(persistCtx, txn.ID, checkoutURL)
	})
	if errors.Is(err, ErrConflict) {
		// a concurrent request stored its link first; hand back that one
		logger.Warn("checkout url already stored by a concurrent request", logCtx)
		return nil, l.storedLinkConflict(persistCtx, txn.ID, err)
	}
	if err != nil {
		// the session exists at the gateway; a later call resumes with the same code
		logger.Error("failed to persist checkout url", err, logCtx)
	}

	txn.CheckoutURL = checkoutURL
	logger.Info("payment link created", logCtx)
	l.notifier.Notify(newEvent(EventPaymentLinkCreated, txn))

	return &PaymentLink{
		TransactionID: txn.ID,
		OrderCode:     txn.OrderCode,
		CheckoutURL:   checkoutURL,
		Amount:        txn.Amount,
	}, nil
}

// storedLinkConflict reports the link persisted for the transaction as a
// ReferenceConflictError
func (l *Ledger) storedLinkConflict(ctx context.Context, transactionID string, cause error) error {
	var refErr *ReferenceConflictError
	if errors.As(cause, &refErr) {
		return refErr
	}
	t, err := l.store.FindTransaction(ctx, ByID(transactionID))
	if err != nil {
		return cause
	}
	return &ReferenceConflictError{TransactionID: t.ID, OrderCode: t.OrderCode, CheckoutURL: t.CheckoutURL}
}

// reserveReference persists an order code for the transaction, or returns the
// stored one when a previous gateway call did not finish
func (l *Ledger) reserveReference(ctx context.Context, transactionID string, requester Requester) (*Transaction, error) {
	for attempt := 1; attempt <= maxReferenceAttempts; attempt++ {
		var txn *Transaction
		err := l.store.WithinTx(ctx, func(tx StoreTx) error {
			t, err := tx.LockTransaction(ctx, ByID(transactionID))
			if err != nil {
				return err
			}
			if !requester.isBuyerOrAdmin(t) {
				return fmt.Errorf("%w: only the buyer can pay for transaction %s", ErrForbidden, t.ID)
			}
			if t.Status != StatusPending {
				return fmt.Errorf("%w: transaction %s is %s", ErrInvalidState, t.ID, t.Status)
			}

			if t.OrderCode != "" {
				if t.CheckoutURL != "" {
					return &ReferenceConflictError{TransactionID: t.ID, OrderCode: t.OrderCode, CheckoutURL: t.CheckoutURL}
				}
				txn = t
				return nil
			}

			code := l.refs.NewReference()
			if err := tx.SetOrderCode(ctx, t.ID, code); err != nil {
				return err
			}
			t.OrderCode = code
			txn = t
			return nil
		})

		if errors.Is(err, ErrReferenceTaken) {
			logger.Warn("order code collision, retrying", logger.LogContext{
				TransactionID: transactionID,
				Fields:        map[string]any{"attempt": attempt},
			})
			continue
		}
		if err != nil {
			return nil, err
		}
		return txn, nil
	}

	return nil, fmt.Errorf("could not allocate a unique order code after %d attempts", maxReferenceAttempts)
}

// Complete releases the escrowed credentials. Completing an already completed
// transaction returns the credentials again without a second transition.
func (l *Ledger) Complete(ctx context.Context, lookup Lookup, requester Requester) (*Completion, error) {
	if err := lookup.validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), transitionTimeout)
	defer cancel()

	var result *Completion
	err := l.store.WithinTx(ctx, func(tx StoreTx) error {
		t, err := tx.LockTransaction(ctx, lookup)
		if err != nil {
			return err
		}
		if !requester.isBuyerOrAdmin(t) {
			return fmt.Errorf("%w: only the buyer can complete transaction %s", ErrForbidden, t.ID)
		}

		switch t.Status {
		case StatusCancelled:
			return fmt.Errorf("%w: transaction %s is cancelled", ErrInvalidState, t.ID)
		case StatusCompleted, StatusPending:
		default:
			return fmt.Errorf("%w: transaction %s has unknown status %q", ErrInvalidState, t.ID, t.Status)
		}

		creds, err := l.cipher.DecryptCredentials(t.EncryptedCredentials)
		if err != nil {
			logger.Error("credential decryption failed", err, logger.LogContext{TransactionID: t.ID})
			return err
		}

		if t.Status == StatusCompleted {
			result = &Completion{Transaction: t, Credentials: creds}
			return nil
		}

		at := l.now()
		if err := tx.MarkCompleted(ctx, t.ID, at); err != nil {
			return err
		}
		t.Status = StatusCompleted
		t.CompletedAt = &at
		result = &Completion{Transaction: t, Credentials: creds, Released: true}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.Released {
		logger.Info("escrow released", logger.LogContext{
			TransactionID: result.Transaction.ID,
			OrderCode:     result.Transaction.OrderCode,
		})
		l.notifier.Notify(newEvent(EventCompleted, result.Transaction))
	}

	return result, nil
}

// Cancel voids a PENDING transaction. Cancelling twice is a no-op.
func (l *Ledger) Cancel(ctx context.Context, lookup Lookup, requester Requester) error {
	if err := lookup.validate(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), transitionTimeout)
	defer cancel()

	var cancelled *Transaction
	err := l.store.WithinTx(ctx, func(tx StoreTx) error {
		t, err := tx.LockTransaction(ctx, lookup)
		if err != nil {
			return err
		}
		if !requester.isBuyerOrAdmin(t) {
			return fmt.Errorf("%w: only the buyer can cancel transaction %s", ErrForbidden, t.ID)
		}

		switch t.Status {
		case StatusCancelled:
			return nil
		case StatusCompleted:
			return fmt.Errorf("%w: transaction %s is already completed", ErrInvalidState, t.ID)
		case StatusPending:
		default:
			return fmt.Errorf("%w: transaction %s has unknown status %q", ErrInvalidState, t.ID, t.Status)
		}

		at := l.now()
		if err := tx.MarkCancelled(ctx, t.ID, at); err != nil {
			return err
		}
		t.Status = StatusCancelled
		t.CancelledAt = &at
		cancelled = t
		return nil
	})
	if err != nil {
		return err
	}

	if cancelled != nil {
		logger.Info("escrow cancelled", logger.LogContext{
			TransactionID: cancelled.ID,
			OrderCode:     cancelled.OrderCode,
		})
		l.notifier.Notify(newEvent(EventCancelled, cancelled))
	}

	return nil
}

// Get returns a transaction to one of its parties or an admin
func (l *Ledger) Get(ctx context.Context, lookup Lookup, requester Requester) (*Transaction, error) {
	if err := lookup.validate(); err != nil {
		return nil, err
	}

	t, err := l.store.FindTransaction(ctx, lookup)
	if err != nil {
		return nil, err
	}
	if !requester.isParty(t) {
		return nil, fmt.Errorf("%w: not a party to transaction %s", ErrForbidden, t.ID)
	}
	return t, nil
}

func linkDescription(t *Transaction) string {
	return "Account " + t.OrderCode
}

type noopNotifier struct{}

func (noopNotifier) Notify(Event) {}
