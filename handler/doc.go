// Package handler provides the HTTP handlers of the GameVault escrow API.
//
// # Transaction Handler
//
// TransactionHandler exposes the escrow ledger to authenticated users:
//
//	transactionHandler := handler.NewTransactionHandler(ledger, validator)
//
//	r.Post("/v1/purchase", transactionHandler.Purchase)
//	r.Get("/v1/transactions/{id}", transactionHandler.GetTransaction)
//	r.Post("/v1/transactions/{id}/payment-link", transactionHandler.CreatePaymentLink)
//	r.Put("/v1/transactions/{id}/complete", transactionHandler.Complete)
//	r.Put("/v1/transactions/{id}/cancel", transactionHandler.Cancel)
//
// A purchase opens a PENDING escrow and creates the checkout link in the same
// request:
//
//	POST /v1/purchase
//	Headers:
//	  Authorization: Bearer <jwt>
//	  Content-Type: application/json
//
//	Body:
//	{
//	  "accountId": "acc-42",
//	  "credentials": {"username": "gamer", "password": "secret"}
//	}
//
//	201 Created
//	{
//	  "transactionId": "5f0c...",
//	  "orderCode": "173000000012345",
//	  "checkoutUrl": "https://pay.payos.vn/web/...",
//	  "amount": 250000
//	}
//
// If the gateway fails after the escrow was opened, the error body carries the
// transactionId and the link can be requested again with
// POST /v1/transactions/{id}/payment-link.
//
// # Payment Handler
//
// PaymentHandler serves the gateway facing endpoints:
//
//	r.Post("/payment/webhook", paymentHandler.HandleWebhook)
//	r.Get("/v1/payment/status/{orderCode}", paymentHandler.GetPaymentStatus)
//	r.Post("/v1/payment/webhook/confirm", paymentHandler.ConfirmWebhook)
//
// The webhook always answers 200 with {"success": bool, "error": "..."}.
//
// # Error Handling
//
// Ledger and gateway errors are mapped to status codes:
//
//   - 400 Bad Request: validation error
//   - 401 Unauthorized: missing or invalid token
//   - 403 Forbidden: requester is not a party of the sale
//   - 404 Not Found: unknown transaction, account or user
//   - 409 Conflict: invalid state transition or duplicate purchase
//   - 500 Internal Server Error: credential integrity failure or store error
//   - 502 Bad Gateway: payment gateway error
//
// Errors use the standard envelope:
//
//	{
//	  "code": 409,
//	  "success": false,
//	  "message": "Conflict",
//	  "error": "conflict: buyer already has a transaction for account acc-42"
//	}
package handler
