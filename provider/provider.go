package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// PaymentStatus is the gateway-neutral state of a payment link
type PaymentStatus string

const (
	StatusPaid      PaymentStatus = "PAID"
	StatusPending   PaymentStatus = "PENDING"
	StatusCancelled PaymentStatus = "CANCELLED"
	StatusExpired   PaymentStatus = "EXPIRED"
)

// NormalizeStatus upper-cases a gateway status. Known spellings map onto the
// normalised set, anything else passes through.
func NormalizeStatus(raw string) PaymentStatus {
	s := strings.ToUpper(strings.TrimSpace(raw))
	switch s {
	case "PAID", "SUCCEEDED", "COMPLETE", "COMPLETED":
		return StatusPaid
	case "PENDING", "PROCESSING", "OPEN", "UNPAID":
		return StatusPending
	case "CANCELLED", "CANCELED":
		return StatusCancelled
	case "EXPIRED":
		return StatusExpired
	}
	return PaymentStatus(s)
}

var (
	// ErrGateway is matched by every *GatewayError
	ErrGateway = errors.New("payment gateway error")
	// ErrInvalidSignature is returned when a webhook signature does not verify
	ErrInvalidSignature = errors.New("invalid webhook signature")
	// ErrMalformedPayload is returned when a webhook body cannot be parsed
	ErrMalformedPayload = errors.New("malformed webhook payload")
)

// GatewayError describes a failed call to the remote gateway
type GatewayError struct {
	Provider   string
	Op         string
	StatusCode int
	Code       string
	Message    string
	Timeout    bool
	Err        error
}

func (e *GatewayError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s failed", e.Provider, e.Op)
	if e.Timeout {
		b.WriteString(": timed out")
	}
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, ": http %d", e.StatusCode)
	}
	if e.Code != "" {
		fmt.Fprintf(&b, ": code %s", e.Code)
	}
	if e.Message != "" {
		fmt.Fprintf(&b, ": %s", e.Message)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *GatewayError) Is(target error) bool {
	return target == ErrGateway
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// ConfigField represents a required configuration field for a payment provider
type ConfigField struct {
	Key         string `json:"key"`
	Required    bool   `json:"required"`
	Type        string `json:"type"` // "string", "number", "url", "boolean"
	Description string `json:"description"`
	Example     string `json:"example"`
	Pattern     string `json:"pattern,omitempty"`
	MinLength   int    `json:"minLength,omitempty"`
	MaxLength   int    `json:"maxLength,omitempty"`
}

// LinkRequest asks the gateway for a hosted checkout page
type LinkRequest struct {
	OrderCode   string  `json:"orderCode"`
	Amount      float64 `json:"amount"`
	Description string  `json:"description"`
	ReturnURL   string  `json:"returnUrl,omitempty"`
	CancelURL   string  `json:"cancelUrl,omitempty"`
}

// LinkResponse is the gateway's answer to a LinkRequest
type LinkResponse struct {
	CheckoutURL   string `json:"checkoutUrl"`
	PaymentLinkID string `json:"paymentLinkId,omitempty"`
}

// StatusResponse is the gateway's view of a payment link
type StatusResponse struct {
	OrderCode  string        `json:"orderCode"`
	Status     PaymentStatus `json:"status"`
	Amount     float64       `json:"amount"`
	AmountPaid float64       `json:"amountPaid"`
}

// WebhookEvent is a parsed payment callback
type WebhookEvent struct {
	OrderCode string
	Status    PaymentStatus
	Amount    float64
	// HasAmount is false when the callback carried no amount
	HasAmount bool
	Reference string
}

// PaymentProvider defines the interface that all payment gateways must implement
type PaymentProvider interface {
	// Initialize sets up the provider with its credentials
	Initialize(config map[string]string) error

	// GetRequiredConfig returns the configuration fields required for this provider
	GetRequiredConfig(environment string) []ConfigField

	// ValidateConfig validates the provided configuration against provider requirements
	ValidateConfig(config map[string]string) error

	// CreateLink creates a hosted checkout page for an order code
	CreateLink(ctx context.Context, request LinkRequest) (*LinkResponse, error)

	// GetStatus returns the current state of the link for an order code
	GetStatus(ctx context.Context, orderCode string) (*StatusResponse, error)

	// ConfirmWebhookURL registers the callback URL with the gateway
	ConfirmWebhookURL(ctx context.Context, webhookURL string) error

	// VerifyWebhook checks the callback signature, returning ErrInvalidSignature on mismatch
	VerifyWebhook(payload []byte, headers map[string]string) error

	// ParseWebhook extracts the order code and status from a callback body
	ParseWebhook(payload []byte, headers map[string]string) (*WebhookEvent, error)
}

// ProviderFactory is a function that creates a new instance of a payment provider
type ProviderFactory func() PaymentProvider
