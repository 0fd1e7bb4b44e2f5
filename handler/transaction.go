package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/mstgnz/gamevault/infra/logger"
	"github.com/mstgnz/gamevault/infra/middle"
	"github.com/mstgnz/gamevault/infra/response"
	"github.com/mstgnz/gamevault/infra/validate"
	"github.com/mstgnz/gamevault/ledger"
	"github.com/mstgnz/gamevault/vault"
)

const requestTimeout = 30 * time.Second

// LedgerService is the part of the ledger exposed over HTTP
type LedgerService interface {
	Purchase(ctx context.Context, req ledger.PurchaseRequest) (*ledger.Transaction, error)
	AttachPaymentReference(ctx context.Context, transactionID string, requester ledger.Requester) (*ledger.PaymentLink, error)
	Get(ctx context.Context, lookup ledger.Lookup, requester ledger.Requester) (*ledger.Transaction, error)
	Complete(ctx context.Context, lookup ledger.Lookup, requester ledger.Requester) (*ledger.Completion, error)
	Cancel(ctx context.Context, lookup ledger.Lookup, requester ledger.Requester) error
}

// TransactionHandler serves purchases and escrow transitions
type TransactionHandler struct {
	ledger   LedgerService
	validate *validator.Validate
}

// NewTransactionHandler creates a new transaction handler
func NewTransactionHandler(l LedgerService, validate *validator.Validate) *TransactionHandler {
	return &TransactionHandler{
		ledger:   l,
		validate: validate,
	}
}

// PurchaseRequest is the body of POST /v1/purchase
type PurchaseRequest struct {
	AccountID   string            `json:"accountId" validate:"required,notblank"`
	Credentials vault.Credentials `json:"credentials"`
}

// Purchase opens an escrow and creates its checkout link
func (h *TransactionHandler) Purchase(w http.ResponseWriter, r *http.Request) {
	requester, ok := requesterFrom(w, r)
	if !ok {
		return
	}

	var req PurchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid request format", err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.Error(w, http.StatusBadRequest, "Validation error", errors.New(strings.Join(validate.Messages(err), ", ")))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	txn, err := h.ledger.Purchase(ctx, ledger.PurchaseRequest{
		AccountID:   strings.TrimSpace(req.AccountID),
		BuyerID:     requester.UserID,
		Credentials: req.Credentials,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	link, err := h.ledger.AttachPaymentReference(ctx, txn.ID, requester)
	if err != nil {
		// the escrow exists; the client can retry link creation for it
		logger.Warn("purchase created without payment link", logger.LogContext{
			TransactionID: txn.ID,
			RequestID:     middleware.GetReqID(r.Context()),
			Fields:        map[string]any{"error": err.Error()},
		})
		status, message := statusFor(err)
		response.WriteJSON(w, status, response.Response{
			Code:    status,
			Success: false,
			Message: message,
			Error:   "payment link could not be created",
			Data:    map[string]string{"transactionId": txn.ID},
		})
		return
	}

	response.WriteJSON(w, http.StatusCreated, link)
}

// CreatePaymentLink retries link creation for a transaction that has none
func (h *TransactionHandler) CreatePaymentLink(w http.ResponseWriter, r *http.Request) {
	requester, ok := requesterFrom(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	link, err := h.ledger.AttachPaymentReference(ctx, chi.URLParam(r, "id"), requester)
	if err != nil {
		writeError(w, r, err)
		return
	}

	response.WriteJSON(w, http.StatusCreated, link)
}

// GetTransaction returns the transaction view to a party of the sale
func (h *TransactionHandler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	requester, ok := requesterFrom(w, r)
	if !ok {
		return
	}

	txn, err := h.ledger.Get(r.Context(), ledger.ByID(chi.URLParam(r, "id")), requester)
	if err != nil {
		writeError(w, r, err)
		return
	}

	response.WriteJSON(w, http.StatusOK, txn)
}

// Complete releases the escrowed credentials to the buyer
func (h *TransactionHandler) Complete(w http.ResponseWriter, r *http.Request) {
	requester, ok := requesterFrom(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	completion, err := h.ledger.Complete(ctx, ledger.ByID(chi.URLParam(r, "id")), requester)
	if err != nil {
		writeError(w, r, err)
		return
	}

	response.WriteJSON(w, http.StatusOK, completion.Credentials)
}

// Cancel closes a pending escrow
func (h *TransactionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	requester, ok := requesterFrom(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	if err := h.ledger.Cancel(ctx, ledger.ByID(chi.URLParam(r, "id")), requester); err != nil {
		writeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func requesterFrom(w http.ResponseWriter, r *http.Request) (ledger.Requester, bool) {
	requester, ok := middle.GetRequester(r.Context())
	if !ok || requester.UserID == "" {
		response.Error(w, http.StatusUnauthorized, "Authentication required", nil)
		return ledger.Requester{}, false
	}
	return requester, true
}
