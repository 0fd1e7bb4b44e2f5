package payos

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/mstgnz/gamevault/provider"
)

const (
	providerName   = "payos"
	defaultBaseURL = "https://api-merchant.payos.vn"

	endpointPaymentRequests = "/v2/payment-requests"
	endpointConfirmWebhook  = "/confirm-webhook"

	codeSuccess = "00"

	// descriptionLimit is the longest description the gateway accepts
	descriptionLimit = 25
	defaultTimeout   = 30 * time.Second
)

// PayOSProvider implements provider.PaymentProvider for the payOS REST gateway
type PayOSProvider struct {
	clientID    string
	apiKey      string
	checksumKey string
	client      *provider.ProviderHTTPClient
}

// NewProvider creates a new payOS payment provider
func NewProvider() provider.PaymentProvider {
	return &PayOSProvider{}
}

// GetRequiredConfig returns the configuration fields required for payOS
func (p *PayOSProvider) GetRequiredConfig(environment string) []provider.ConfigField {
	return []provider.ConfigField{
		{
			Key:         "clientId",
			Required:    true,
			Type:        "string",
			Description: "payOS client id (x-client-id header)",
			Example:     "a1b2c3d4-0000-0000-0000-000000000000",
			MinLength:   8,
		},
		{
			Key:         "apiKey",
			Required:    true,
			Type:        "string",
			Description: "payOS API key (x-api-key header)",
			Example:     "f0e1d2c3-0000-0000-0000-000000000000",
			MinLength:   8,
		},
		{
			Key:         "checksumKey",
			Required:    true,
			Type:        "string",
			Description: "Key used to sign requests and verify webhooks",
			Example:     "9f8e7d6c5b4a...",
			MinLength:   16,
		},
		{
			Key:         "baseUrl",
			Required:    false,
			Type:        "url",
			Description: "API base URL override",
			Example:     defaultBaseURL,
		},
	}
}

// ValidateConfig validates the provided configuration against payOS requirements
func (p *PayOSProvider) ValidateConfig(config map[string]string) error {
	return provider.ValidateConfigFields(providerName, config, p.GetRequiredConfig(config["environment"]))
}

// Initialize sets up the payOS provider with authentication credentials
func (p *PayOSProvider) Initialize(conf map[string]string) error {
	p.clientID = conf["clientId"]
	p.apiKey = conf["apiKey"]
	p.checksumKey = conf["checksumKey"]

	if p.clientID == "" || p.apiKey == "" || p.checksumKey == "" {
		return errors.New("payos: clientId, apiKey and checksumKey are required")
	}

	baseURL := conf["baseUrl"]
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	httpConfig := provider.CreateHTTPClientConfig(providerName, baseURL, defaultTimeout)
	httpConfig.DefaultHeaders["x-client-id"] = p.clientID
	httpConfig.DefaultHeaders["x-api-key"] = p.apiKey
	p.client = provider.NewProviderHTTPClient(httpConfig)

	return nil
}

// envelope wraps every payOS API response
type envelope struct {
	Code      string          `json:"code"`
	Desc      string          `json:"desc"`
	Data      json.RawMessage `json:"data"`
	Signature string          `json:"signature,omitempty"`
}

type createLinkRequest struct {
	OrderCode   int64  `json:"orderCode"`
	Amount      int64  `json:"amount"`
	Description string `json:"description"`
	CancelURL   string `json:"cancelUrl"`
	ReturnURL   string `json:"returnUrl"`
	Signature   string `json:"signature"`
}

type createLinkData struct {
	CheckoutURL   string `json:"checkoutUrl"`
	PaymentLinkID string `json:"paymentLinkId"`
}

type linkInfoData struct {
	OrderCode  json.Number `json:"orderCode"`
	Amount     float64     `json:"amount"`
	AmountPaid float64     `json:"amountPaid"`
	Status     string      `json:"status"`
}

// CreateLink creates a payOS payment request and returns its checkout URL
func (p *PayOSProvider) CreateLink(ctx context.Context, request provider.LinkRequest) (*provider.LinkResponse, error) {
	orderCode, err := strconv.ParseInt(request.OrderCode, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("payos: order code must be numeric: %w", err)
	}
	if request.Amount <= 0 {
		return nil, errors.New("payos: amount must be positive")
	}

	body := createLinkRequest{
		OrderCode:   orderCode,
		Amount:      int64(math.Round(request.Amount)),
		Description: truncate(request.Description, descriptionLimit),
		CancelURL:   request.CancelURL,
		ReturnURL:   request.ReturnURL,
	}
	body.Signature = p.sign(fmt.Sprintf("amount=%d&cancelUrl=%s&description=%s&orderCode=%d&returnUrl=%s",
		body.Amount, body.CancelURL, body.Description, body.OrderCode, body.ReturnURL))

	var data createLinkData
	if err := p.call(ctx, "create link", http.MethodPost, endpointPaymentRequests, body, &data); err != nil {
		return nil, err
	}

	return &provider.LinkResponse{
		CheckoutURL:   data.CheckoutURL,
		PaymentLinkID: data.PaymentLinkID,
	}, nil
}

// GetStatus returns the payOS view of a payment request
func (p *PayOSProvider) GetStatus(ctx context.Context, orderCode string) (*provider.StatusResponse, error) {
	var data linkInfoData
	if err := p.call(ctx, "get status", http.MethodGet, endpointPaymentRequests+"/"+orderCode, nil, &data); err != nil {
		return nil, err
	}

	return &provider.StatusResponse{
		OrderCode:  orderCode,
		Status:     provider.NormalizeStatus(data.Status),
		Amount:     data.Amount,
		AmountPaid: data.AmountPaid,
	}, nil
}

// ConfirmWebhookURL registers the callback URL with payOS
func (p *PayOSProvider) ConfirmWebhookURL(ctx context.Context, webhookURL string) error {
	body := map[string]string{"webhookUrl": webhookURL}
	return p.call(ctx, "confirm webhook", http.MethodPost, endpointConfirmWebhook, body, nil)
}

// call sends a request and unwraps the payOS envelope into target
func (p *PayOSProvider) call(ctx context.Context, op, method, endpoint string, body, target any) error {
	resp, err := p.client.SendJSON(ctx, &provider.HTTPRequest{
		Method:   method,
		Endpoint: endpoint,
		Body:     body,
	})

	var statusErr *provider.HTTPStatusError
	if err != nil && !errors.As(err, &statusErr) {
		return &provider.GatewayError{Provider: providerName, Op: op, Err: err}
	}

	var env envelope
	if decodeErr := json.Unmarshal(resp.Body, &env); decodeErr != nil {
		gwErr := &provider.GatewayError{Provider: providerName, Op: op, Message: "unreadable response", Err: decodeErr}
		if statusErr != nil {
			gwErr.StatusCode = statusErr.StatusCode
			gwErr.Err = statusErr
		}
		return gwErr
	}

	if statusErr != nil || env.Code != codeSuccess {
		gwErr := &provider.GatewayError{Provider: providerName, Op: op, Code: env.Code, Message: env.Desc}
		if statusErr != nil {
			gwErr.StatusCode = statusErr.StatusCode
		}
		return gwErr
	}

	if target == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, target); err != nil {
		return &provider.GatewayError{Provider: providerName, Op: op, Message: "unreadable response data", Err: err}
	}
	return nil
}

// webhookBody is the payload payOS posts to the callback URL
type webhookBody struct {
	Code      string          `json:"code"`
	Desc      string          `json:"desc"`
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data"`
	Signature string          `json:"signature"`
}

func decodeWebhook(payload []byte) (*webhookBody, map[string]any, error) {
	var body webhookBody
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", provider.ErrMalformedPayload, err)
	}
	if len(body.Data) == 0 || string(body.Data) == "null" {
		return nil, nil, fmt.Errorf("%w: missing data", provider.ErrMalformedPayload)
	}

	dec := json.NewDecoder(bytes.NewReader(body.Data))
	dec.UseNumber()
	var data map[string]any
	if err := dec.Decode(&data); err != nil {
		return nil, nil, fmt.Errorf("%w: data is not an object", provider.ErrMalformedPayload)
	}
	return &body, data, nil
}

// VerifyWebhook checks the HMAC signature over the callback data object
func (p *PayOSProvider) VerifyWebhook(payload []byte, headers map[string]string) error {
	body, data, err := decodeWebhook(payload)
	if err != nil {
		return err
	}
	if body.Signature == "" {
		return fmt.Errorf("%w: signature missing", provider.ErrInvalidSignature)
	}

	expected := p.sign(SortedQuery(data))
	given, err := hex.DecodeString(strings.ToLower(body.Signature))
	if err != nil {
		return fmt.Errorf("%w: signature is not hex", provider.ErrInvalidSignature)
	}
	want, _ := hex.DecodeString(expected)
	if !hmac.Equal(given, want) {
		return provider.ErrInvalidSignature
	}
	return nil
}

// ParseWebhook extracts the order code, status and amount from a callback
func (p *PayOSProvider) ParseWebhook(payload []byte, headers map[string]string) (*provider.WebhookEvent, error) {
	body, data, err := decodeWebhook(payload)
	if err != nil {
		return nil, err
	}

	orderCode := fieldString(data["orderCode"])
	if orderCode == "" {
		return nil, fmt.Errorf("%w: orderCode missing", provider.ErrMalformedPayload)
	}

	event := &provider.WebhookEvent{
		OrderCode: orderCode,
		Reference: fieldString(data["reference"]),
	}

	switch {
	case fieldString(data["status"]) != "":
		event.Status = provider.NormalizeStatus(fieldString(data["status"]))
	case fieldString(data["code"]) == codeSuccess || (body.Code == codeSuccess && body.Success && data["code"] == nil):
		// payOS only calls back on successful payments and marks them with code 00
		event.Status = provider.StatusPaid
	default:
		event.Status = provider.PaymentStatus("FAILED")
	}

	if raw, ok := data["amount"]; ok && raw != nil {
		amount, err := strconv.ParseFloat(fieldString(raw), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: amount is not a number", provider.ErrMalformedPayload)
		}
		event.Amount = amount
		event.HasAmount = true
	}

	return event, nil
}

// sign returns the hex HMAC-SHA256 of message under the checksum key
func (p *PayOSProvider) sign(message string) string {
	mac := hmac.New(sha256.New, []byte(p.checksumKey))
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

// SortedQuery renders data as key=value pairs joined by & in key order.
// Null values render empty; nested values render as JSON.
func SortedQuery(data map[string]any) string {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+fieldString(data[k]))
	}
	return strings.Join(pairs, "&")
}

func fieldString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		if val == "null" || val == "undefined" {
			return ""
		}
		return val
	case json.Number:
		return val.String()
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
