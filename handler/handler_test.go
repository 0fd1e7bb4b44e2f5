package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/mstgnz/gamevault/infra/conn"
	"github.com/mstgnz/gamevault/infra/middle"
	"github.com/mstgnz/gamevault/infra/response"
	"github.com/mstgnz/gamevault/infra/storage"
	"github.com/mstgnz/gamevault/infra/validate"
	"github.com/mstgnz/gamevault/ledger"
	"github.com/mstgnz/gamevault/provider"
	"github.com/mstgnz/gamevault/reconciler"
	"github.com/mstgnz/gamevault/vault"
	"github.com/stretchr/testify/require"
)

const (
	testKey  = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"
	otherKey = "1f1e1d1c1b1a191817161514131211100f0e0d0c0b0a09080706050403020100"
)

// fakeGateway serves both the ledger and the payment handler
type fakeGateway struct {
	linkErr    error
	status     *provider.StatusResponse
	statusErr  error
	confirmErr error
	confirmed  string
}

func (g *fakeGateway) Name() string { return "fake" }

func (g *fakeGateway) CreateLink(_ context.Context, orderCode string, _ float64, _ string) (string, error) {
	if g.linkErr != nil {
		return "", g.linkErr
	}
	return "https://pay.example.com/web/" + orderCode, nil
}

func (g *fakeGateway) GetStatus(_ context.Context, orderCode string) (*provider.StatusResponse, error) {
	if g.statusErr != nil {
		return nil, g.statusErr
	}
	status := *g.status
	status.OrderCode = orderCode
	return &status, nil
}

func (g *fakeGateway) ConfirmWebhookURL(_ context.Context, webhookURL string) error {
	if g.confirmErr != nil {
		return g.confirmErr
	}
	g.confirmed = webhookURL
	return nil
}

// fakeCallbacks records the last callback it was handed
type fakeCallbacks struct {
	ack     reconciler.AckResult
	payload []byte
	headers map[string]string
}

func (f *fakeCallbacks) HandleCallback(_ context.Context, payload []byte, headers map[string]string) reconciler.AckResult {
	f.payload = payload
	f.headers = headers
	return f.ack
}

type testServer struct {
	router    chi.Router
	store     *storage.SQLStore
	ledger    *ledger.Ledger
	gateway   *fakeGateway
	callbacks *fakeCallbacks
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()

	db, err := conn.Open(ctx, conn.DriverSQLite, filepath.Join(t.TempDir(), "handler.db"))
	require.NoError(t, err)
	store, err := storage.New(ctx, db, conn.DriverSQLite)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	for _, user := range []string{"seller-1", "buyer-1", "buyer-2"} {
		require.NoError(t, store.UpsertUser(ctx, user))
	}
	require.NoError(t, store.UpsertAccount(ctx, ledger.Account{ID: "acc-1", SellerID: "seller-1", Price: 99.5, Status: ledger.AccountApproved}))
	require.NoError(t, store.UpsertAccount(ctx, ledger.Account{ID: "acc-2", SellerID: "seller-1", Price: 10, Status: ledger.AccountPending}))

	cipher, err := vault.NewCipher(testKey)
	require.NoError(t, err)

	s := &testServer{
		store:     store,
		gateway:   &fakeGateway{status: &provider.StatusResponse{Status: provider.StatusPaid, Amount: 99.5, AmountPaid: 99.5}},
		callbacks: &fakeCallbacks{ack: reconciler.AckResult{Success: true}},
	}
	s.ledger = ledger.New(store, cipher, s.gateway)
	s.router = s.routes(s.ledger)
	return s
}

func (s *testServer) routes(l *ledger.Ledger) chi.Router {
	v := validate.New()
	transactions := NewTransactionHandler(l, v)
	payments := NewPaymentHandler(s.gateway, s.callbacks, l, v)

	r := chi.NewRouter()
	r.Use(testRequester)
	r.Post("/payment/webhook", payments.HandleWebhook)
	r.Post("/v1/purchase", transactions.Purchase)
	r.Get("/v1/transactions/{id}", transactions.GetTransaction)
	r.Post("/v1/transactions/{id}/payment-link", transactions.CreatePaymentLink)
	r.Put("/v1/transactions/{id}/complete", transactions.Complete)
	r.Put("/v1/transactions/{id}/cancel", transactions.Cancel)
	r.Get("/v1/payment/status/{orderCode}", payments.GetPaymentStatus)
	r.Post("/v1/payment/webhook/confirm", payments.ConfirmWebhook)
	return r
}

// testRequester stands in for the JWT middleware
func testRequester(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if user := r.Header.Get("X-Test-User"); user != "" {
			requester := ledger.Requester{UserID: user, Admin: r.Header.Get("X-Test-Admin") == "1"}
			r = r.WithContext(middle.WithRequester(r.Context(), requester))
		}
		next.ServeHTTP(w, r)
	})
}

func (s *testServer) do(t *testing.T, method, path, user, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("X-Test-User", user)
	}
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, req)
	return rr
}

func (s *testServer) purchase(t *testing.T, user, accountID string) ledger.PaymentLink {
	t.Helper()
	rr := s.do(t, http.MethodPost, "/v1/purchase", user,
		`{"accountId":"`+accountID+`","credentials":{"username":"gamer","password":"hunter2-long-secret"}}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var link ledger.PaymentLink
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &link))
	return link
}

func decodeEnvelope(t *testing.T, rr *httptest.ResponseRecorder) response.Response {
	t.Helper()
	var resp response.Response
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	return resp
}
