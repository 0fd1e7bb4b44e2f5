package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mstgnz/gamevault/infra/validate"
)

type CKey string

type Config struct {
	Validator *validator.Validate
}

// AppConfig represents the application configuration
type AppConfig struct {
	Port        string `validate:"required,numeric"`
	Environment string
	AppURL      string

	DBDriver string `validate:"oneof=sqlite3 postgres"`
	DBDSN    string `validate:"required"`

	// CredentialKey is the hex encoded AES-256 key used for escrowed credentials
	CredentialKey string `validate:"required,hexadecimal,len=64"`
	JWTSecret     string `validate:"required,min=16"`

	StrictWebhookVerification bool
	PaymentProvider           string `validate:"required"`
	GatewayTimeout            time.Duration
	ReturnURL                 string
	CancelURL                 string
	WebhookURL                string

	OpenSearchURL    string
	OpenSearchUser   string
	OpenSearchPass   string
	EnableLogging    bool
	LoggingLevel     string `validate:"oneof=debug info warn error"`
	LogRetentionDays int

	RabbitMQURL    string
	NotifyExchange string
	NotifyQueue    int `validate:"min=1"`
	NotifyWorkers  int `validate:"min=1"`

	RateLimit          int
	WebhookAllowedIPs  []string
	CORSAllowedOrigins []string

	// TrustedProxies may set X-Real-IP / X-Forwarded-For; other peers are taken at their socket address
	TrustedProxies []string
}

var (
	instance    *Config
	instanceMu  sync.Mutex
	appConfig   *AppConfig
	appConfigMu sync.Mutex
)

// App returns the shared validator holder
func App() *Config {
	instanceMu.Lock()
	defer instanceMu.Unlock()
	if instance == nil {
		instance = &Config{
			Validator: validate.New(),
		}
	}
	return instance
}

// Load reads the environment into a fresh AppConfig and validates it.
// A missing or malformed credential key fails here, before the server starts.
func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		Port:        GetEnv("APP_PORT", "9999"),
		Environment: GetEnv("APP_ENV", "development"),
		AppURL:      GetEnv("APP_URL", "http://localhost:9999"),

		DBDriver: GetEnv("DB_DRIVER", "sqlite3"),

		CredentialKey: strings.TrimSpace(os.Getenv("CREDENTIAL_ENCRYPTION_KEY")),
		JWTSecret:     os.Getenv("JWT_SECRET"),

		StrictWebhookVerification: GetBoolEnv("STRICT_WEBHOOK_VERIFICATION", true),
		PaymentProvider:           GetEnv("PAYMENT_PROVIDER", "payos"),
		GatewayTimeout:            time.Duration(GetIntEnv("GATEWAY_TIMEOUT_SECONDS", 15)) * time.Second,
		ReturnURL:                 GetEnv("PAYMENT_RETURN_URL", ""),
		CancelURL:                 GetEnv("PAYMENT_CANCEL_URL", ""),
		WebhookURL:                GetEnv("PAYMENT_WEBHOOK_URL", ""),

		OpenSearchURL:    GetEnv("OPENSEARCH_URL", "http://localhost:9200"),
		OpenSearchUser:   GetEnv("OPENSEARCH_USER", ""),
		OpenSearchPass:   GetEnv("OPENSEARCH_PASSWORD", ""),
		EnableLogging:    GetBoolEnv("ENABLE_OPENSEARCH_LOGGING", false),
		LoggingLevel:     GetEnv("LOGGING_LEVEL", "info"),
		LogRetentionDays: GetIntEnv("LOG_RETENTION_DAYS", 30),

		RabbitMQURL:    GetEnv("RABBITMQ_URL", ""),
		NotifyExchange: GetEnv("NOTIFY_EXCHANGE", "gamevault.events"),
		NotifyQueue:    GetIntEnv("NOTIFY_QUEUE_SIZE", 256),
		NotifyWorkers:  GetIntEnv("NOTIFY_WORKERS", 2),

		RateLimit:          GetIntEnv("RATE_LIMIT_PER_MINUTE", 120),
		WebhookAllowedIPs:  GetListEnv("WEBHOOK_ALLOWED_IPS"),
		CORSAllowedOrigins: GetListEnv("CORS_ALLOWED_ORIGINS"),
		TrustedProxies:     GetListEnv("TRUSTED_PROXIES"),
	}
	if len(cfg.CORSAllowedOrigins) == 0 {
		cfg.CORSAllowedOrigins = []string{"*"}
	}

	switch cfg.DBDriver {
	case "postgres":
		cfg.DBDSN = GetEnv("DB_DSN", "")
	default:
		cfg.DBDSN = GetEnv("SQLITE_PATH", "./data/gamevault.db")
	}

	if cfg.GatewayTimeout <= 0 {
		cfg.GatewayTimeout = 15 * time.Second
	}

	if err := App().Validator.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %s", strings.Join(validate.Messages(err), ", "))
	}

	return cfg, nil
}

// GetAppConfig returns the process wide configuration, loading it on first use.
// It panics when the environment is invalid; callers that can recover use Load.
func GetAppConfig() *AppConfig {
	appConfigMu.Lock()
	defer appConfigMu.Unlock()
	if appConfig == nil {
		cfg, err := Load()
		if err != nil {
			panic(err)
		}
		appConfig = cfg
	}
	return appConfig
}

// SetAppConfig replaces the process wide configuration
func SetAppConfig(cfg *AppConfig) {
	appConfigMu.Lock()
	defer appConfigMu.Unlock()
	appConfig = cfg
}

// IsProduction reports whether the service runs in production mode
func (c *AppConfig) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// GetBoolEnv returns the boolean value of an environment variable or a default value
func GetBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// GetIntEnv returns the integer value of an environment variable or a default value
func GetIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// GetListEnv splits a comma separated environment variable, dropping blank items
func GetListEnv(key string) []string {
	var items []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}
