package ledger_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/mstgnz/gamevault/infra/conn"
	"github.com/mstgnz/gamevault/infra/storage"
	"github.com/mstgnz/gamevault/ledger"
	"github.com/mstgnz/gamevault/vault"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testKey  = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"
	otherKey = "1f1e1d1c1b1a191817161514131211100f0e0d0c0b0a09080706050403020100"
)

var (
	buyer  = ledger.Requester{UserID: "buyer-1"}
	seller = ledger.Requester{UserID: "seller-1"}
	admin  = ledger.Requester{UserID: "admin-1", Admin: true}
	other  = ledger.Requester{UserID: "buyer-2"}
)

type fakeGateway struct {
	mu    sync.Mutex
	calls []string
	err   error

	// delay holds every call open; numbered makes each session url distinct
	delay    time.Duration
	numbered bool
}

func (g *fakeGateway) CreateLink(_ context.Context, orderCode string, _ float64, _ string) (string, error) {
	g.mu.Lock()
	g.calls = append(g.calls, orderCode)
	n, err, delay, numbered := len(g.calls), g.err, g.delay, g.numbered
	g.mu.Unlock()

	time.Sleep(delay)
	if err != nil {
		return "", err
	}
	if numbered {
		return fmt.Sprintf("https://pay.example.com/web/%s/%d", orderCode, n), nil
	}
	return "https://pay.example.com/web/" + orderCode, nil
}

func (g *fakeGateway) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []ledger.Event
}

func (n *recordingNotifier) Notify(e ledger.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, e)
}

func (n *recordingNotifier) types() []ledger.EventType {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]ledger.EventType, 0, len(n.events))
	for _, e := range n.events {
		out = append(out, e.Type)
	}
	return out
}

// sequenceRefs hands out the given codes in order, then repeats the last one
type sequenceRefs struct {
	mu    sync.Mutex
	codes []string
	next  int
}

func (s *sequenceRefs) NewReference() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	code := s.codes[min(s.next, len(s.codes)-1)]
	s.next++
	return code
}

type fixture struct {
	store    *storage.SQLStore
	ledger   *ledger.Ledger
	gateway  *fakeGateway
	notifier *recordingNotifier
	cipher   *vault.Cipher
}

func newFixture(t *testing.T, opts ...ledger.Option) *fixture {
	t.Helper()
	ctx := context.Background()

	db, err := conn.Open(ctx, conn.DriverSQLite, filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	store, err := storage.New(ctx, db, conn.DriverSQLite)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	for _, id := range []string{"seller-1", "buyer-1", "buyer-2"} {
		require.NoError(t, store.UpsertUser(ctx, id))
	}
	require.NoError(t, store.UpsertAccount(ctx, ledger.Account{ID: "acc-1", SellerID: "seller-1", Price: 99.5, Status: ledger.AccountApproved}))
	require.NoError(t, store.UpsertAccount(ctx, ledger.Account{ID: "acc-draft", SellerID: "seller-1", Price: 10, Status: ledger.AccountPending}))

	cipher, err := vault.NewCipher(testKey)
	require.NoError(t, err)

	f := &fixture{store: store, gateway: &fakeGateway{}, notifier: &recordingNotifier{}, cipher: cipher}
	opts = append([]ledger.Option{ledger.WithNotifier(f.notifier)}, opts...)
	f.ledger = ledger.New(store, cipher, f.gateway, opts...)
	return f
}

func (f *fixture) purchase(t *testing.T) *ledger.Transaction {
	t.Helper()
	txn, err := f.ledger.Purchase(context.Background(), ledger.PurchaseRequest{
		AccountID:   "acc-1",
		BuyerID:     "buyer-1",
		Credentials: vault.Credentials{Username: "u1", Password: "p1"},
	})
	require.NoError(t, err)
	return txn
}

func TestPurchase(t *testing.T) {
	f := newFixture(t)
	txn := f.purchase(t)

	assert.NotEmpty(t, txn.ID)
	assert.Equal(t, ledger.StatusPending, txn.Status)
	assert.Equal(t, 99.5, txn.Amount)
	assert.Equal(t, "seller-1", txn.SellerID)
	assert.Empty(t, txn.OrderCode)

	creds, err := f.cipher.DecryptCredentials(txn.EncryptedCredentials)
	require.NoError(t, err)
	assert.Equal(t, "u1", creds.Username)

	assert.Equal(t, []ledger.EventType{ledger.EventCreated}, f.notifier.types())
}

func TestPurchase_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	valid := vault.Credentials{Username: "u1", Password: "p1"}

	tests := []struct {
		name    string
		req     ledger.PurchaseRequest
		wantErr error
	}{
		{"blank password", ledger.PurchaseRequest{AccountID: "acc-1", BuyerID: "buyer-1", Credentials: vault.Credentials{Username: "u1", Password: "  "}}, ledger.ErrValidation},
		{"missing account id", ledger.PurchaseRequest{BuyerID: "buyer-1", Credentials: valid}, ledger.ErrValidation},
		{"unknown buyer", ledger.PurchaseRequest{AccountID: "acc-1", BuyerID: "ghost", Credentials: valid}, ledger.ErrNotFound},
		{"unknown account", ledger.PurchaseRequest{AccountID: "acc-missing", BuyerID: "buyer-1", Credentials: valid}, ledger.ErrNotFound},
		{"account not approved", ledger.PurchaseRequest{AccountID: "acc-draft", BuyerID: "buyer-1", Credentials: valid}, ledger.ErrInvalidState},
		{"self purchase", ledger.PurchaseRequest{AccountID: "acc-1", BuyerID: "seller-1", Credentials: valid}, ledger.ErrConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.ledger.Purchase(ctx, tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestPurchase_Duplicate(t *testing.T) {
	f := newFixture(t)
	f.purchase(t)

	_, err := f.ledger.Purchase(context.Background(), ledger.PurchaseRequest{
		AccountID:   "acc-1",
		BuyerID:     "buyer-1",
		Credentials: vault.Credentials{Username: "u1", Password: "p1"},
	})
	assert.ErrorIs(t, err, ledger.ErrConflict)
}

func TestPurchase_ConcurrentSameBuyer(t *testing.T) {
	f := newFixture(t)
	const n = 8

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		conflicts int
	)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.ledger.Purchase(context.Background(), ledger.PurchaseRequest{
				AccountID:   "acc-1",
				BuyerID:     "buyer-1",
				Credentials: vault.Credentials{Username: "u1", Password: "p1"},
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, ledger.ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, n-1, conflicts)
}

func TestAttachPaymentReference(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	txn := f.purchase(t)

	link, err := f.ledger.AttachPaymentReference(ctx, txn.ID, buyer)
	require.NoError(t, err)
	assert.Equal(t, txn.ID, link.TransactionID)
	assert.Len(t, link.OrderCode, 15)
	assert.Equal(t, "https://pay.example.com/web/"+link.OrderCode, link.CheckoutURL)
	assert.Equal(t, 99.5, link.Amount)

	stored, err := f.store.FindTransaction(ctx, ledger.ByID(txn.ID))
	require.NoError(t, err)
	assert.Equal(t, link.OrderCode, stored.OrderCode)
	assert.Equal(t, link.CheckoutURL, stored.CheckoutURL)

	t.Run("second call conflicts", func(t *testing.T) {
		_, err := f.ledger.AttachPaymentReference(ctx, txn.ID, buyer)
		assert.ErrorIs(t, err, ledger.ErrConflict)

		var refErr *ledger.ReferenceConflictError
		require.ErrorAs(t, err, &refErr)
		assert.Equal(t, link.OrderCode, refErr.OrderCode)
		assert.Equal(t, link.CheckoutURL, refErr.CheckoutURL)
		assert.Equal(t, 1, f.gateway.callCount())
	})

	t.Run("stranger forbidden", func(t *testing.T) {
		_, err := f.ledger.AttachPaymentReference(ctx, txn.ID, other)
		assert.ErrorIs(t, err, ledger.ErrForbidden)
	})

	t.Run("unknown transaction", func(t *testing.T) {
		_, err := f.ledger.AttachPaymentReference(ctx, "missing", buyer)
		assert.ErrorIs(t, err, ledger.ErrNotFound)
	})
}

func TestAttachPaymentReference_ResumesAfterGatewayFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	txn := f.purchase(t)

	f.gateway.err = errors.New("gateway unavailable")
	_, err := f.ledger.AttachPaymentReference(ctx, txn.ID, buyer)
	require.Error(t, err)

	stored, err := f.store.FindTransaction(ctx, ledger.ByID(txn.ID))
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusPending, stored.Status)
	require.NotEmpty(t, stored.OrderCode)
	assert.Empty(t, stored.CheckoutURL)

	f.gateway.err = nil
	link, err := f.ledger.AttachPaymentReference(ctx, txn.ID, buyer)
	require.NoError(t, err)
	assert.Equal(t, stored.OrderCode, link.OrderCode, "reference is never reassigned")
	assert.Equal(t, 2, f.gateway.callCount())
}

func TestAttachPaymentReference_ConcurrentResume(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	txn := f.purchase(t)

	// reserve the order code without a stored checkout url
	f.gateway.err = errors.New("gateway unavailable")
	_, err := f.ledger.AttachPaymentReference(ctx, txn.ID, buyer)
	require.Error(t, err)

	f.gateway.mu.Lock()
	f.gateway.err = nil
	f.gateway.delay = 100 * time.Millisecond
	f.gateway.numbered = true
	f.gateway.mu.Unlock()

	var (
		wg    sync.WaitGroup
		links = make([]*ledger.PaymentLink, 2)
		errs  = make([]error, 2)
	)
	for i := range links {
		wg.Add(1)
		go func() {
			defer wg.Done()
			links[i], errs[i] = f.ledger.AttachPaymentReference(ctx, txn.ID, buyer)
		}()
	}
	wg.Wait()

	stored, err := f.store.FindTransaction(ctx, ledger.ByID(txn.ID))
	require.NoError(t, err)
	require.NotEmpty(t, stored.CheckoutURL)

	var succeeded int
	for i := range links {
		if errs[i] == nil {
			succeeded++
			assert.Equal(t, stored.CheckoutURL, links[i].CheckoutURL)
			continue
		}
		var refErr *ledger.ReferenceConflictError
		require.ErrorAs(t, errs[i], &refErr)
		assert.ErrorIs(t, errs[i], ledger.ErrConflict)
		assert.Equal(t, stored.OrderCode, refErr.OrderCode)
		assert.Equal(t, stored.CheckoutURL, refErr.CheckoutURL, "conflict carries the persisted link")
	}
	assert.Equal(t, 1, succeeded, "only one caller receives a fresh link")
}

func TestAttachPaymentReference_RetriesOnCollision(t *testing.T) {
	refs := &sequenceRefs{codes: []string{"176000000011111", "176000000011111", "176000000022222"}}
	f := newFixture(t, ledger.WithReferenceGenerator(refs))
	ctx := context.Background()

	first := f.purchase(t)
	second, err := f.ledger.Purchase(ctx, ledger.PurchaseRequest{
		AccountID:   "acc-1",
		BuyerID:     "buyer-2",
		Credentials: vault.Credentials{Username: "u2", Password: "p2"},
	})
	require.NoError(t, err)

	link1, err := f.ledger.AttachPaymentReference(ctx, first.ID, buyer)
	require.NoError(t, err)
	link2, err := f.ledger.AttachPaymentReference(ctx, second.ID, other)
	require.NoError(t, err)

	assert.Equal(t, "176000000011111", link1.OrderCode)
	assert.Equal(t, "176000000022222", link2.OrderCode)
}

func TestAttachPaymentReference_GivesUpAfterRepeatedCollisions(t *testing.T) {
	refs := &sequenceRefs{codes: []string{"176000000011111"}}
	f := newFixture(t, ledger.WithReferenceGenerator(refs))
	ctx := context.Background()

	first := f.purchase(t)
	second, err := f.ledger.Purchase(ctx, ledger.PurchaseRequest{
		AccountID:   "acc-1",
		BuyerID:     "buyer-2",
		Credentials: vault.Credentials{Username: "u2", Password: "p2"},
	})
	require.NoError(t, err)

	_, err = f.ledger.AttachPaymentReference(ctx, first.ID, buyer)
	require.NoError(t, err)

	_, err = f.ledger.AttachPaymentReference(ctx, second.ID, other)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unique order code")
}

func TestAttachPaymentReference_ConcurrentUniqueness(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ids := make([]string, 0, 3)
	for i, b := range []string{"buyer-1", "buyer-2"} {
		txn, err := f.ledger.Purchase(ctx, ledger.PurchaseRequest{
			AccountID:   "acc-1",
			BuyerID:     b,
			Credentials: vault.Credentials{Username: "u", Password: "p" + string(rune('0'+i))},
		})
		require.NoError(t, err)
		ids = append(ids, txn.ID)
	}

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		codes = map[string]bool{}
	)
	for _, id := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			link, err := f.ledger.AttachPaymentReference(ctx, id, admin)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			codes[link.OrderCode] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, codes, len(ids))
}

func TestComplete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	txn := f.purchase(t)

	done, err := f.ledger.Complete(ctx, ledger.ByID(txn.ID), buyer)
	require.NoError(t, err)
	assert.True(t, done.Released)
	assert.Equal(t, "u1", done.Credentials.Username)
	assert.Equal(t, "p1", done.Credentials.Password)
	assert.Equal(t, ledger.StatusCompleted, done.Transaction.Status)
	require.NotNil(t, done.Transaction.CompletedAt)

	again, err := f.ledger.Complete(ctx, ledger.ByID(txn.ID), buyer)
	require.NoError(t, err)
	assert.False(t, again.Released)
	assert.Equal(t, done.Credentials, again.Credentials)

	stored, err := f.store.FindTransaction(ctx, ledger.ByID(txn.ID))
	require.NoError(t, err)
	assert.True(t, stored.CompletedAt.Equal(*done.Transaction.CompletedAt), "completed_at is set once")

	assert.ErrorIs(t, f.ledger.Cancel(ctx, ledger.ByID(txn.ID), buyer), ledger.ErrInvalidState)

	assert.Equal(t, []ledger.EventType{ledger.EventCreated, ledger.EventCompleted}, f.notifier.types())
}

func TestComplete_ByOrderCodeAsSystem(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	txn := f.purchase(t)

	link, err := f.ledger.AttachPaymentReference(ctx, txn.ID, buyer)
	require.NoError(t, err)

	done, err := f.ledger.Complete(ctx, ledger.ByOrderCode(link.OrderCode), ledger.SystemRequester)
	require.NoError(t, err)
	assert.True(t, done.Released)
	assert.Equal(t, txn.ID, done.Transaction.ID)
}

func TestComplete_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	txn := f.purchase(t)

	_, err := f.ledger.Complete(ctx, ledger.ByID(txn.ID), seller)
	assert.ErrorIs(t, err, ledger.ErrForbidden)

	_, err = f.ledger.Complete(ctx, ledger.ByID("missing"), buyer)
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	_, err = f.ledger.Complete(ctx, ledger.Lookup{}, buyer)
	assert.ErrorIs(t, err, ledger.ErrValidation)

	_, err = f.ledger.Complete(ctx, ledger.Lookup{ID: txn.ID, OrderCode: "1"}, buyer)
	assert.ErrorIs(t, err, ledger.ErrValidation)
}

func TestComplete_AfterCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	txn := f.purchase(t)

	require.NoError(t, f.ledger.Cancel(ctx, ledger.ByID(txn.ID), buyer))
	require.NoError(t, f.ledger.Cancel(ctx, ledger.ByID(txn.ID), buyer), "cancel is idempotent")

	_, err := f.ledger.Complete(ctx, ledger.ByID(txn.ID), buyer)
	assert.ErrorIs(t, err, ledger.ErrInvalidState)

	stored, err := f.store.FindTransaction(ctx, ledger.ByID(txn.ID))
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusCancelled, stored.Status)
	assert.NotNil(t, stored.CancelledAt)
	assert.Nil(t, stored.CompletedAt)

	assert.Equal(t, []ledger.EventType{ledger.EventCreated, ledger.EventCancelled}, f.notifier.types())
}

func TestComplete_IntegrityFailureLeavesPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	txn := f.purchase(t)

	wrongCipher, err := vault.NewCipher(otherKey)
	require.NoError(t, err)
	rotated := ledger.New(f.store, wrongCipher, f.gateway)

	_, err = rotated.Complete(ctx, ledger.ByID(txn.ID), buyer)
	assert.ErrorIs(t, err, ledger.ErrIntegrity)

	stored, err := f.store.FindTransaction(ctx, ledger.ByID(txn.ID))
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusPending, stored.Status)
	assert.Nil(t, stored.CompletedAt)
}

func TestComplete_Concurrent(t *testing.T) {
	f := newFixture(t)
	txn := f.purchase(t)
	const n = 8

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		released int
	)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			done, err := f.ledger.Complete(context.Background(), ledger.ByID(txn.ID), buyer)
			if !assert.NoError(t, err) {
				return
			}
			assert.Equal(t, "p1", done.Credentials.Password)
			if done.Released {
				mu.Lock()
				released++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, released)
}

func TestComplete_IgnoresCallerCancellation(t *testing.T) {
	f := newFixture(t)
	txn := f.purchase(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done, err := f.ledger.Complete(ctx, ledger.ByID(txn.ID), buyer)
	require.NoError(t, err)
	assert.True(t, done.Released)
}

func TestGet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	txn := f.purchase(t)

	for _, r := range []ledger.Requester{buyer, seller, admin} {
		got, err := f.ledger.Get(ctx, ledger.ByID(txn.ID), r)
		require.NoError(t, err)
		assert.Equal(t, txn.ID, got.ID)
	}

	_, err := f.ledger.Get(ctx, ledger.ByID(txn.ID), other)
	assert.ErrorIs(t, err, ledger.ErrForbidden)
}

func TestWithClock(t *testing.T) {
	fixed := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	f := newFixture(t, ledger.WithClock(func() time.Time { return fixed }))
	txn := f.purchase(t)
	assert.True(t, txn.CreatedAt.Equal(fixed))

	done, err := f.ledger.Complete(context.Background(), ledger.ByID(txn.ID), buyer)
	require.NoError(t, err)
	assert.True(t, done.Transaction.CompletedAt.Equal(fixed))
}
