package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/mstgnz/gamevault/handler"
	"github.com/mstgnz/gamevault/infra/middle"
	"github.com/mstgnz/gamevault/infra/response"
	v1 "github.com/mstgnz/gamevault/router/v1"

	// Import for side-effect registration
	_ "github.com/mstgnz/gamevault/provider/payos"
	_ "github.com/mstgnz/gamevault/provider/stripe"
)

// Dependencies are the services the HTTP surface is built on
type Dependencies struct {
	Ledger      handler.LedgerService
	Gateway     handler.PaymentGateway
	Callbacks   handler.CallbackHandler
	Store       handler.Pinger
	Notifier    handler.DropCounter
	Tokens      middle.TokenValidator
	Validate    *validator.Validate
	RateLimiter *middle.RateLimiter

	// WebhookAllowedIPs restricts the webhook route; empty allows all
	WebhookAllowedIPs []string
	AllowedOrigins    []string
	TrustedProxies    []string
}

// New builds the application router
func New(deps Dependencies) chi.Router {
	transactions := handler.NewTransactionHandler(deps.Ledger, deps.Validate)
	payments := handler.NewPaymentHandler(deps.Gateway, deps.Callbacks, deps.Ledger, deps.Validate)

	gatewayName := ""
	if deps.Gateway != nil {
		gatewayName = deps.Gateway.Name()
	}
	health := handler.NewHealthHandler(deps.Store, gatewayName, deps.Notifier)

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middle.RealIPFromProxies(deps.TrustedProxies))
	r.Use(middle.RequestLoggingMiddleware())
	r.Use(middle.PanicRecoveryMiddleware())

	r.Use(middle.SecurityHeadersMiddleware())
	r.Use(middle.RequestValidationMiddleware())

	origins := deps.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "Origin", "X-Requested-With"},
		ExposedHeaders: []string{"Content-Length", "X-Request-ID"},
		MaxAge:         300,
	}))

	// no auth required; the webhook is exempt from rate limiting
	r.Get("/health", health.CheckHealth)
	r.With(middle.IPWhitelistMiddleware(deps.WebhookAllowedIPs)).Post("/payment/webhook", payments.HandleWebhook)

	r.Route("/v1", func(r chi.Router) {
		if deps.RateLimiter != nil {
			r.Use(middle.RateLimitMiddleware(deps.RateLimiter))
		}
		r.Use(middle.AuthMiddleware(deps.Tokens))
		v1.Routes(r, transactions, payments)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotFound, "Not Found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusMethodNotAllowed, "Method Not Allowed", nil)
	})

	return r
}
