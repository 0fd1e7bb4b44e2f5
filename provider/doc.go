// Package provider defines the payment gateway abstraction used by the escrow
// ledger and the webhook reconciler.
//
// A gateway is implemented as a PaymentProvider in its own subpackage and
// registers itself on import:
//
//	import _ "github.com/mstgnz/gamevault/provider/payos"
//
// Providers are configured from the environment. Each config key of the
// provider maps to PROVIDER_KEY_NAME, for example payOS "checksumKey" is read
// from PAYOS_CHECKSUM_KEY:
//
//	conf, err := provider.ConfigFromEnv("payos", "production")
//	p, err := provider.Open("payos", conf)
//	gateway := provider.NewGatewayService("payos", p, provider.GatewayOptions{
//	    Timeout:   15 * time.Second,
//	    ReturnURL: "https://shop.example.com/return",
//	    CancelURL: "https://shop.example.com/cancel",
//	})
//
// GatewayService bounds every call with the configured timeout and wraps
// failures in a *GatewayError, which matches ErrGateway:
//
//	url, err := gateway.CreateLink(ctx, "173000000012345", 250000, "Account 173000000012345")
//	if errors.Is(err, provider.ErrGateway) {
//	    // 502 to the client
//	}
//
// Webhook callbacks are verified and parsed into a WebhookEvent whose Status is
// normalized to PAID, PENDING, CANCELLED or EXPIRED.
package provider
