package payos

import "github.com/mstgnz/gamevault/provider"

// Register payOS provider with the gateway registry
func init() {
	provider.Register(providerName, NewProvider)
}
