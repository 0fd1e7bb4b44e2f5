package provider

import (
	"context"
	"errors"
	"time"

	"github.com/mstgnz/gamevault/infra/logger"
)

const defaultGatewayTimeout = 15 * time.Second

// GatewayOptions configures a GatewayService
type GatewayOptions struct {
	Timeout   time.Duration
	ReturnURL string
	CancelURL string
}

// GatewayService runs the selected provider with a bounded timeout per call.
// Calls are never retried here; callers decide whether to try again.
type GatewayService struct {
	name      string
	provider  PaymentProvider
	timeout   time.Duration
	returnURL string
	cancelURL string
}

// NewGatewayService wraps an initialized provider
func NewGatewayService(name string, p PaymentProvider, opts GatewayOptions) *GatewayService {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultGatewayTimeout
	}
	return &GatewayService{
		name:      name,
		provider:  p,
		timeout:   opts.Timeout,
		returnURL: opts.ReturnURL,
		cancelURL: opts.CancelURL,
	}
}

// Name returns the provider name
func (s *GatewayService) Name() string {
	return s.name
}

// CreateLink asks the gateway for a checkout URL
func (s *GatewayService) CreateLink(ctx context.Context, orderCode string, amount float64, description string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	resp, err := s.provider.CreateLink(ctx, LinkRequest{
		OrderCode:   orderCode,
		Amount:      amount,
		Description: description,
		ReturnURL:   s.returnURL,
		CancelURL:   s.cancelURL,
	})
	if err == nil && (resp == nil || resp.CheckoutURL == "") {
		err = &GatewayError{Provider: s.name, Op: "create link", Message: "empty checkout url"}
	}
	if err != nil {
		return "", s.fail(ctx, "create link", orderCode, start, err)
	}

	logger.Info("payment link created", logger.LogContext{
		Provider:  s.name,
		OrderCode: orderCode,
		Fields: map[string]any{
			"amount":      amount,
			"duration_ms": time.Since(start).Milliseconds(),
		},
	})
	return resp.CheckoutURL, nil
}

// GetStatus queries the gateway for the state of an order code
func (s *GatewayService) GetStatus(ctx context.Context, orderCode string) (*StatusResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	resp, err := s.provider.GetStatus(ctx, orderCode)
	if err != nil {
		return nil, s.fail(ctx, "get status", orderCode, start, err)
	}
	return resp, nil
}

// ConfirmWebhookURL registers the callback URL with the gateway
func (s *GatewayService) ConfirmWebhookURL(ctx context.Context, webhookURL string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	if err := s.provider.ConfirmWebhookURL(ctx, webhookURL); err != nil {
		return s.fail(ctx, "confirm webhook", "", start, err)
	}

	logger.Info("webhook url confirmed", logger.LogContext{
		Provider: s.name,
		Fields:   map[string]any{"webhook_url": webhookURL},
	})
	return nil
}

// VerifyWebhook checks a callback signature
func (s *GatewayService) VerifyWebhook(payload []byte, headers map[string]string) error {
	return s.provider.VerifyWebhook(payload, headers)
}

// ParseWebhook parses a callback body
func (s *GatewayService) ParseWebhook(payload []byte, headers map[string]string) (*WebhookEvent, error) {
	return s.provider.ParseWebhook(payload, headers)
}

// fail wraps err in a *GatewayError and logs it
func (s *GatewayService) fail(ctx context.Context, op, orderCode string, start time.Time, err error) error {
	var gwErr *GatewayError
	if !errors.As(err, &gwErr) {
		gwErr = &GatewayError{Provider: s.name, Op: op, Err: err}
		var statusErr *HTTPStatusError
		if errors.As(err, &statusErr) {
			gwErr.StatusCode = statusErr.StatusCode
		}
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		gwErr.Timeout = true
	}

	logger.Error("gateway call failed", gwErr, logger.LogContext{
		Provider:  s.name,
		OrderCode: orderCode,
		Fields: map[string]any{
			"operation":   op,
			"duration_ms": time.Since(start).Milliseconds(),
		},
	})
	return gwErr
}
