package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/mstgnz/gamevault/infra/logger"
	"github.com/mstgnz/gamevault/infra/response"
	"github.com/mstgnz/gamevault/ledger"
	"github.com/mstgnz/gamevault/provider"
)

// conflictDetail is attached to 409 responses for an already linked transaction
type conflictDetail struct {
	TransactionID string `json:"transactionId"`
	OrderCode     string `json:"orderCode"`
	CheckoutURL   string `json:"checkoutUrl,omitempty"`
}

// statusFor maps a ledger or gateway error to an HTTP status and a public message
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, ledger.ErrValidation):
		return http.StatusBadRequest, "Validation error"
	case errors.Is(err, ledger.ErrNotFound):
		return http.StatusNotFound, "Not found"
	case errors.Is(err, ledger.ErrForbidden):
		return http.StatusForbidden, "Forbidden"
	case errors.Is(err, ledger.ErrInvalidState):
		return http.StatusConflict, "Transaction is not in a valid state for this operation"
	case errors.Is(err, ledger.ErrConflict):
		return http.StatusConflict, "Conflict"
	case errors.Is(err, ledger.ErrIntegrity):
		return http.StatusInternalServerError, "Credential integrity failure"
	case errors.Is(err, provider.ErrGateway):
		return http.StatusBadGateway, "Payment gateway error"
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

// writeError renders err with the standard envelope. Server side failures are
// logged and their details are not echoed to the client.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, message := statusFor(err)

	if status >= http.StatusInternalServerError {
		logger.Error(message, err, logger.LogContext{
			RequestID: middleware.GetReqID(r.Context()),
			Fields:    map[string]any{"path": r.URL.Path},
		})
		if status != http.StatusBadGateway {
			response.Error(w, status, message, nil)
			return
		}
	}

	resp := response.Response{
		Code:    status,
		Success: false,
		Message: message,
		Error:   err.Error(),
	}

	var conflict *ledger.ReferenceConflictError
	if errors.As(err, &conflict) {
		resp.Data = conflictDetail{
			TransactionID: conflict.TransactionID,
			OrderCode:     conflict.OrderCode,
			CheckoutURL:   conflict.CheckoutURL,
		}
	}

	response.WriteJSON(w, status, resp)
}
