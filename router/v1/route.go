package v1

import (
	"github.com/go-chi/chi/v5"
	"github.com/mstgnz/gamevault/handler"
	"github.com/mstgnz/gamevault/infra/middle"
)

// Routes registers the authenticated API routes. The caller installs the
// authentication middleware.
func Routes(r chi.Router, transactions *handler.TransactionHandler, payments *handler.PaymentHandler) {
	r.Post("/purchase", transactions.Purchase)

	r.Route("/transactions/{id}", func(r chi.Router) {
		r.Get("/", transactions.GetTransaction)
		r.Post("/payment-link", transactions.CreatePaymentLink)
		r.Put("/complete", transactions.Complete)
		r.Put("/cancel", transactions.Cancel)
	})

	r.Route("/payment", func(r chi.Router) {
		r.Get("/status/{orderCode}", payments.GetPaymentStatus)

		// admin only
		r.With(middle.RequireAdmin()).Post("/webhook/confirm", payments.ConfirmWebhook)
	})
}
