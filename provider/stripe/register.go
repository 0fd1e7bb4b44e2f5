package stripe

import "github.com/mstgnz/gamevault/provider"

// Register Stripe provider with the gateway registry
func init() {
	provider.Register(providerName, NewProvider)
}
