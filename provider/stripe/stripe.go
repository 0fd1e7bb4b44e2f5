package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"

	"github.com/mstgnz/gamevault/provider"
	stripego "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"github.com/stripe/stripe-go/v82/webhook"
)

const (
	providerName    = "stripe"
	defaultCurrency = "usd"

	// metadataOrderCode carries the order code on the payment intent so it can be searched
	metadataOrderCode = "order_code"
	signatureHeader   = "Stripe-Signature"
)

// checkoutEvents are the webhook events the reconciler understands
var checkoutEvents = []string{
	string(stripego.EventTypeCheckoutSessionCompleted),
	string(stripego.EventTypeCheckoutSessionAsyncPaymentSucceeded),
	string(stripego.EventTypeCheckoutSessionAsyncPaymentFailed),
	string(stripego.EventTypeCheckoutSessionExpired),
}

// zeroDecimal lists currencies Stripe charges in whole units
var zeroDecimal = map[string]bool{
	"bif": true, "clp": true, "djf": true, "gnf": true, "jpy": true, "kmf": true, "krw": true,
	"mga": true, "pyg": true, "rwf": true, "ugx": true, "vnd": true, "vuv": true, "xaf": true,
	"xof": true, "xpf": true,
}

// StripeProvider implements provider.PaymentProvider with Stripe Checkout
type StripeProvider struct {
	webhookSecret string
	currency      string
	api           *client.API
}

// NewProvider creates a new Stripe payment provider
func NewProvider() provider.PaymentProvider {
	return &StripeProvider{}
}

// GetRequiredConfig returns the configuration fields required for Stripe
func (p *StripeProvider) GetRequiredConfig(environment string) []provider.ConfigField {
	return []provider.ConfigField{
		{
			Key:         "secretKey",
			Required:    true,
			Type:        "string",
			Description: "Stripe secret key",
			Example:     "sk_test_...",
			Pattern:     `^(sk|rk)_(test|live)_`,
			MinLength:   20,
		},
		{
			Key:         "webhookSecret",
			Required:    true,
			Type:        "string",
			Description: "Signing secret of the webhook endpoint",
			Example:     "whsec_...",
			Pattern:     `^whsec_`,
		},
		{
			Key:         "currency",
			Required:    false,
			Type:        "string",
			Description: "Three letter ISO currency code for checkout sessions",
			Example:     defaultCurrency,
			Pattern:     `^[A-Za-z]{3}$`,
		},
		{
			Key:         "baseUrl",
			Required:    false,
			Type:        "url",
			Description: "API base URL override",
			Example:     "https://api.stripe.com",
		},
	}
}

// ValidateConfig validates the provided configuration against Stripe requirements
func (p *StripeProvider) ValidateConfig(config map[string]string) error {
	return provider.ValidateConfigFields(providerName, config, p.GetRequiredConfig(config["environment"]))
}

// Initialize sets up the Stripe client
func (p *StripeProvider) Initialize(conf map[string]string) error {
	secretKey := conf["secretKey"]
	p.webhookSecret = conf["webhookSecret"]
	if secretKey == "" || p.webhookSecret == "" {
		return errors.New("stripe: secretKey and webhookSecret are required")
	}

	p.currency = strings.ToLower(conf["currency"])
	if p.currency == "" {
		p.currency = defaultCurrency
	}

	backendConfig := &stripego.BackendConfig{
		HTTPClient:        &http.Client{},
		MaxNetworkRetries: stripego.Int64(0),
		LeveledLogger:     &stripego.LeveledLogger{Level: stripego.LevelError},
	}
	if baseURL := conf["baseUrl"]; baseURL != "" {
		backendConfig.URL = stripego.String(baseURL)
	}
	backend := stripego.GetBackendWithConfig(stripego.APIBackend, backendConfig)

	p.api = client.New(secretKey, &stripego.Backends{
		API:     backend,
		Connect: backend,
		Uploads: backend,
	})
	return nil
}

// CreateLink opens a Checkout session for the order code
func (p *StripeProvider) CreateLink(ctx context.Context, request provider.LinkRequest) (*provider.LinkResponse, error) {
	if request.Amount <= 0 {
		return nil, errors.New("stripe: amount must be positive")
	}

	params := &stripego.CheckoutSessionParams{
		Mode:              stripego.String(string(stripego.CheckoutSessionModePayment)),
		ClientReferenceID: stripego.String(request.OrderCode),
		SuccessURL:        stripego.String(request.ReturnURL),
		CancelURL:         stripego.String(request.CancelURL),
		LineItems: []*stripego.CheckoutSessionLineItemParams{
			{
				Quantity: stripego.Int64(1),
				PriceData: &stripego.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripego.String(p.currency),
					UnitAmount: stripego.Int64(p.toMinor(request.Amount)),
					ProductData: &stripego.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripego.String(request.Description),
					},
				},
			},
		},
		PaymentIntentData: &stripego.CheckoutSessionPaymentIntentDataParams{
			Metadata: map[string]string{metadataOrderCode: request.OrderCode},
		},
	}
	params.Context = ctx
	params.AddMetadata(metadataOrderCode, request.OrderCode)
	// one checkout session per order code, even when the call is repeated
	params.SetIdempotencyKey(checkoutIdempotencyKey(request.OrderCode))

	session, err := p.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, gatewayError("create link", err)
	}

	return &provider.LinkResponse{
		CheckoutURL:   session.URL,
		PaymentLinkID: session.ID,
	}, nil
}

func checkoutIdempotencyKey(orderCode string) string {
	return "checkout-" + orderCode
}

// GetStatus looks up the payment intent tagged with the order code
func (p *StripeProvider) GetStatus(ctx context.Context, orderCode string) (*provider.StatusResponse, error) {
	params := &stripego.PaymentIntentSearchParams{}
	params.Query = fmt.Sprintf("metadata['%s']:'%s'", metadataOrderCode, orderCode)
	params.Context = ctx

	status := &provider.StatusResponse{OrderCode: orderCode, Status: provider.StatusPending}

	iter := p.api.PaymentIntents.Search(params)
	for iter.Next() {
		pi := iter.PaymentIntent()
		status.Amount = p.fromMinor(pi.Amount)
		status.AmountPaid = p.fromMinor(pi.AmountReceived)

		switch pi.Status {
		case stripego.PaymentIntentStatusSucceeded:
			status.Status = provider.StatusPaid
			return status, nil
		case stripego.PaymentIntentStatusCanceled:
			status.Status = provider.StatusCancelled
		default:
			status.Status = provider.StatusPending
		}
	}
	if err := iter.Err(); err != nil {
		return nil, gatewayError("get status", err)
	}

	return status, nil
}

// ConfirmWebhookURL registers a webhook endpoint for the checkout events
func (p *StripeProvider) ConfirmWebhookURL(ctx context.Context, webhookURL string) error {
	params := &stripego.WebhookEndpointParams{
		URL:           stripego.String(webhookURL),
		EnabledEvents: stripego.StringSlice(checkoutEvents),
	}
	params.Context = ctx

	if _, err := p.api.WebhookEndpoints.New(params); err != nil {
		return gatewayError("confirm webhook", err)
	}
	return nil
}

// VerifyWebhook checks the Stripe-Signature header against the endpoint secret
func (p *StripeProvider) VerifyWebhook(payload []byte, headers map[string]string) error {
	signature := header(headers, signatureHeader)
	if signature == "" {
		return fmt.Errorf("%w: %s header missing", provider.ErrInvalidSignature, signatureHeader)
	}

	_, err := webhook.ConstructEventWithOptions(payload, signature, p.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", provider.ErrInvalidSignature, err)
	}
	return nil
}

// ParseWebhook maps a checkout session event to a webhook event
func (p *StripeProvider) ParseWebhook(payload []byte, headers map[string]string) (*provider.WebhookEvent, error) {
	var event stripego.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("%w: %v", provider.ErrMalformedPayload, err)
	}
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return nil, fmt.Errorf("%w: event data missing", provider.ErrMalformedPayload)
	}

	var session stripego.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return nil, fmt.Errorf("%w: %v", provider.ErrMalformedPayload, err)
	}

	orderCode := session.ClientReferenceID
	if orderCode == "" {
		orderCode = session.Metadata[metadataOrderCode]
	}
	if orderCode == "" {
		return nil, fmt.Errorf("%w: client_reference_id missing", provider.ErrMalformedPayload)
	}

	result := &provider.WebhookEvent{
		OrderCode: orderCode,
		Reference: event.ID,
	}
	if session.AmountTotal > 0 {
		result.Amount = p.fromMinorCurrency(session.AmountTotal, string(session.Currency))
		result.HasAmount = true
	}

	switch event.Type {
	case stripego.EventTypeCheckoutSessionCompleted:
		if session.PaymentStatus == stripego.CheckoutSessionPaymentStatusUnpaid {
			// delayed payment methods settle with a later async event
			result.Status = provider.StatusPending
		} else {
			result.Status = provider.StatusPaid
		}
	case stripego.EventTypeCheckoutSessionAsyncPaymentSucceeded:
		result.Status = provider.StatusPaid
	case stripego.EventTypeCheckoutSessionAsyncPaymentFailed:
		result.Status = provider.StatusCancelled
	case stripego.EventTypeCheckoutSessionExpired:
		result.Status = provider.StatusExpired
	default:
		result.Status = provider.PaymentStatus(strings.ToUpper(string(event.Type)))
	}

	return result, nil
}

func (p *StripeProvider) toMinor(amount float64) int64 {
	if zeroDecimal[p.currency] {
		return int64(math.Round(amount))
	}
	return int64(math.Round(amount * 100))
}

func (p *StripeProvider) fromMinor(amount int64) float64 {
	return p.fromMinorCurrency(amount, p.currency)
}

func (p *StripeProvider) fromMinorCurrency(amount int64, currency string) float64 {
	if currency == "" {
		currency = p.currency
	}
	if zeroDecimal[strings.ToLower(currency)] {
		return float64(amount)
	}
	return float64(amount) / 100
}

func gatewayError(op string, err error) error {
	gwErr := &provider.GatewayError{Provider: providerName, Op: op, Err: err}

	var stripeErr *stripego.Error
	if errors.As(err, &stripeErr) {
		gwErr.StatusCode = stripeErr.HTTPStatusCode
		gwErr.Code = string(stripeErr.Code)
		gwErr.Message = stripeErr.Msg
		gwErr.Err = nil
	}
	return gwErr
}

func header(headers map[string]string, key string) string {
	if v, ok := headers[key]; ok {
		return v
	}
	for k, v := range headers {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}
