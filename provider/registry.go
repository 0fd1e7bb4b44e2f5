package provider

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"unicode"

	"github.com/mstgnz/gamevault/infra/config"
)

// ProviderRegistry manages all payment provider implementations
type ProviderRegistry struct {
	providers map[string]ProviderFactory
	mu        sync.RWMutex
}

// NewProviderRegistry creates a new provider registry
func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{
		providers: make(map[string]ProviderFactory),
	}
}

// Register adds a payment provider factory to the registry
func (r *ProviderRegistry) Register(name string, factory ProviderFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[name] = factory
}

// Get retrieves a payment provider factory by name
func (r *ProviderRegistry) Get(name string) (ProviderFactory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	factory, exists := r.providers[name]
	if !exists {
		return nil, fmt.Errorf("payment provider '%s' is not registered", name)
	}

	return factory, nil
}

// CreateProvider creates a new instance of a payment provider
func (r *ProviderRegistry) CreateProvider(name string) (PaymentProvider, error) {
	factory, err := r.Get(name)
	if err != nil {
		return nil, err
	}

	return factory(), nil
}

// Open creates, validates and initializes a provider in one step
func (r *ProviderRegistry) Open(name string, conf map[string]string) (PaymentProvider, error) {
	p, err := r.CreateProvider(name)
	if err != nil {
		return nil, err
	}
	if err := p.ValidateConfig(conf); err != nil {
		return nil, err
	}
	if err := p.Initialize(conf); err != nil {
		return nil, fmt.Errorf("failed to initialize %s: %w", name, err)
	}
	return p, nil
}

// GetProviderNames returns a sorted list of all registered provider names
func (r *ProviderRegistry) GetProviderNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	slices.Sort(names)

	return names
}

// DefaultRegistry is the global default provider registry
var DefaultRegistry = NewProviderRegistry()

// Register registers a provider with the default registry
func Register(name string, factory ProviderFactory) {
	DefaultRegistry.Register(name, factory)
}

// Get retrieves a provider factory from the default registry
func Get(name string) (ProviderFactory, error) {
	return DefaultRegistry.Get(name)
}

// CreateProvider creates a provider instance from the default registry
func CreateProvider(name string) (PaymentProvider, error) {
	return DefaultRegistry.CreateProvider(name)
}

// Open creates and initializes a provider from the default registry
func Open(name string, conf map[string]string) (PaymentProvider, error) {
	return DefaultRegistry.Open(name, conf)
}

// ConfigFromEnv collects a provider's configuration from the environment.
// Field "checksumKey" of provider "payos" is read from PAYOS_CHECKSUM_KEY.
func ConfigFromEnv(name, environment string) (map[string]string, error) {
	p, err := CreateProvider(name)
	if err != nil {
		return nil, err
	}

	conf := map[string]string{"environment": environment}
	for _, field := range p.GetRequiredConfig(environment) {
		if value := config.GetEnv(EnvKey(name, field.Key), ""); value != "" {
			conf[field.Key] = value
		}
	}
	return conf, nil
}

// EnvKey maps a provider config key to its environment variable name
func EnvKey(providerName, key string) string {
	var b strings.Builder
	b.WriteString(strings.ToUpper(providerName))
	b.WriteByte('_')
	for i, r := range key {
		if unicode.IsUpper(r) && i > 0 {
			b.WriteByte('_')
		}
		b.WriteRune(unicode.ToUpper(r))
	}
	return b.String()
}
