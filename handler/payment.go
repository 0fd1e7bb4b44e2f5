package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/mstgnz/gamevault/infra/logger"
	"github.com/mstgnz/gamevault/infra/response"
	"github.com/mstgnz/gamevault/infra/validate"
	"github.com/mstgnz/gamevault/ledger"
	"github.com/mstgnz/gamevault/provider"
	"github.com/mstgnz/gamevault/reconciler"
)

// PaymentGateway is the gateway surface used outside of the ledger
type PaymentGateway interface {
	Name() string
	GetStatus(ctx context.Context, orderCode string) (*provider.StatusResponse, error)
	ConfirmWebhookURL(ctx context.Context, webhookURL string) error
}

// CallbackHandler applies a verified gateway callback
type CallbackHandler interface {
	HandleCallback(ctx context.Context, payload []byte, headers map[string]string) reconciler.AckResult
}

// TransactionReader resolves order codes for authorization checks
type TransactionReader interface {
	Get(ctx context.Context, lookup ledger.Lookup, requester ledger.Requester) (*ledger.Transaction, error)
}

// PaymentHandler handles gateway facing requests
type PaymentHandler struct {
	gateway   PaymentGateway
	callbacks CallbackHandler
	ledger    TransactionReader
	validate  *validator.Validate
}

// NewPaymentHandler creates a new payment handler
func NewPaymentHandler(gateway PaymentGateway, callbacks CallbackHandler, l TransactionReader, validate *validator.Validate) *PaymentHandler {
	return &PaymentHandler{
		gateway:   gateway,
		callbacks: callbacks,
		ledger:    l,
		validate:  validate,
	}
}

// PaymentStatusResponse is the body of GET /v1/payment/status/{orderCode}
type PaymentStatusResponse struct {
	Provider          string                 `json:"provider"`
	OrderCode         string                 `json:"orderCode"`
	Status            provider.PaymentStatus `json:"status"`
	Amount            float64                `json:"amount"`
	AmountPaid        float64                `json:"amountPaid"`
	TransactionID     string                 `json:"transactionId"`
	TransactionStatus ledger.Status          `json:"transactionStatus"`
}

// ConfirmWebhookRequest is the body of POST /v1/payment/webhook/confirm
type ConfirmWebhookRequest struct {
	WebhookURL string `json:"webhookUrl" validate:"required,url"`
}

// HandleWebhook receives gateway callbacks. It always answers 200 so the
// gateway does not retry callbacks the ledger has already judged.
func (h *PaymentHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		logger.Warn("unreadable webhook body", logger.LogContext{
			Provider:  h.gateway.Name(),
			RequestID: middleware.GetReqID(r.Context()),
			Fields:    map[string]any{"error": err.Error()},
		})
		response.WriteJSON(w, http.StatusOK, reconciler.AckResult{Success: false, Error: "unreadable body"})
		return
	}

	headers := make(map[string]string, len(r.Header))
	for key, values := range r.Header {
		if len(values) > 0 {
			headers[http.CanonicalHeaderKey(key)] = values[0]
		}
	}

	ack := h.callbacks.HandleCallback(r.Context(), payload, headers)
	if ack.Rejected {
		logger.Warn("webhook rejected", logger.LogContext{
			Provider:  h.gateway.Name(),
			RequestID: middleware.GetReqID(r.Context()),
			Fields:    map[string]any{"reason": ack.Error},
		})
	}

	response.WriteJSON(w, http.StatusOK, ack)
}

// GetPaymentStatus asks the gateway for the state of an order the requester takes part in
func (h *PaymentHandler) GetPaymentStatus(w http.ResponseWriter, r *http.Request) {
	requester, ok := requesterFrom(w, r)
	if !ok {
		return
	}

	orderCode := strings.TrimSpace(chi.URLParam(r, "orderCode"))
	if orderCode == "" {
		response.Error(w, http.StatusBadRequest, "Order code is required", nil)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	txn, err := h.ledger.Get(ctx, ledger.ByOrderCode(orderCode), requester)
	if err != nil {
		writeError(w, r, err)
		return
	}

	status, err := h.gateway.GetStatus(ctx, orderCode)
	if err != nil {
		writeError(w, r, err)
		return
	}

	response.WriteJSON(w, http.StatusOK, PaymentStatusResponse{
		Provider:          h.gateway.Name(),
		OrderCode:         orderCode,
		Status:            status.Status,
		Amount:            status.Amount,
		AmountPaid:        status.AmountPaid,
		TransactionID:     txn.ID,
		TransactionStatus: txn.Status,
	})
}

// ConfirmWebhook registers the callback URL with the gateway
func (h *PaymentHandler) ConfirmWebhook(w http.ResponseWriter, r *http.Request) {
	var req ConfirmWebhookRequest
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

	if err := h.gateway.ConfirmWebhookURL(ctx, req.WebhookURL); err != nil {
		writeError(w, r, err)
		return
	}

	response.Success(w, http.StatusOK, "Webhook URL confirmed", map[string]string{
		"provider":   h.gateway.Name(),
		"webhookUrl": req.WebhookURL,
	})
}
