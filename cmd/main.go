package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/mstgnz/gamevault/infra/auth"
	"github.com/mstgnz/gamevault/infra/config"
	"github.com/mstgnz/gamevault/infra/conn"
	"github.com/mstgnz/gamevault/infra/logger"
	"github.com/mstgnz/gamevault/infra/middle"
	"github.com/mstgnz/gamevault/infra/opensearch"
	"github.com/mstgnz/gamevault/infra/rabbitmq"
	"github.com/mstgnz/gamevault/infra/storage"
	"github.com/mstgnz/gamevault/ledger"
	"github.com/mstgnz/gamevault/notify"
	"github.com/mstgnz/gamevault/provider"
	"github.com/mstgnz/gamevault/reconciler"
	"github.com/mstgnz/gamevault/router"
	"github.com/mstgnz/gamevault/vault"
)

func init() {
	// a missing .env is fine when the environment is provided by the host
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Fatalf("Load Env Error: %v", err)
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Config Error: %v", err)
	}
	config.SetAppConfig(cfg)

	var (
		osClient *opensearch.Client
		osLogger *opensearch.Logger
	)
	if cfg.EnableLogging {
		osClient, err = opensearch.NewClient(cfg)
		if err != nil {
			log.Printf("Failed to initialize OpenSearch client: %v", err)
			log.Println("Continuing without OpenSearch logging...")
		} else {
			osLogger = opensearch.NewLogger(osClient)
		}
	}
	logger.InitGlobalLogger(osLogger, cfg.Environment, cfg.LoggingLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cipher, err := vault.NewCipher(cfg.CredentialKey)
	if err != nil {
		logger.Fatal("credential key rejected", err)
	}

	db, err := conn.Open(ctx, cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		logger.Fatal("database connection failed", err)
	}
	store, err := storage.New(ctx, db, cfg.DBDriver)
	if err != nil {
		logger.Fatal("store initialization failed", err)
	}
	defer store.Close()

	gateway, err := openGateway(cfg)
	if err != nil {
		logger.Fatal("payment gateway initialization failed", err, logger.LogContext{Provider: cfg.PaymentProvider})
	}

	publisher := openPublisher(cfg)
	defer publisher.Close()

	sinks := []notify.Sink{notify.LogSink{}, notify.NewRabbitSink(publisher, cfg.NotifyExchange)}
	if osClient != nil {
		sinks = append(sinks, notify.NewOpenSearchSink(osClient))
	}
	dispatcher := notify.NewDispatcher(cfg.NotifyQueue, cfg.NotifyWorkers, sinks...)

	escrow := ledger.New(store, cipher, gateway, ledger.WithNotifier(dispatcher))
	rateLimiter := middle.NewRateLimiter(cfg.RateLimit)

	r := router.New(router.Dependencies{
		Ledger:            escrow,
		Gateway:           gateway,
		Callbacks:         reconciler.New(gateway, escrow, cfg.StrictWebhookVerification),
		Store:             store,
		Notifier:          dispatcher,
		Tokens:            auth.NewJWTService(cfg.JWTSecret, 0),
		Validate:          config.App().Validator,
		RateLimiter:       rateLimiter,
		WebhookAllowedIPs: cfg.WebhookAllowedIPs,
		AllowedOrigins:    cfg.CORSAllowedOrigins,
		TrustedProxies:    cfg.TrustedProxies,
	})

	if cfg.WebhookURL != "" {
		if err := gateway.ConfirmWebhookURL(ctx, cfg.WebhookURL); err != nil {
			logger.Warn("webhook url could not be confirmed", logger.LogContext{
				Provider: gateway.Name(),
				Fields:   map[string]any{"error": err.Error()},
			})
		}
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           r,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http server failed", err)
		}
	}()

	logger.Info("API is running", logger.LogContext{
		Provider: gateway.Name(),
		Fields:   map[string]any{"port": cfg.Port, "environment": cfg.Environment, "db_driver": cfg.DBDriver},
	})

	<-ctx.Done()
	logger.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", err)
	}

	// in-flight requests are done; flush queued events before the publisher closes
	rateLimiter.Stop()
	dispatcher.Close()
}

func openGateway(cfg *config.AppConfig) (*provider.GatewayService, error) {
	conf, err := provider.ConfigFromEnv(cfg.PaymentProvider, cfg.Environment)
	if err != nil {
		return nil, err
	}

	p, err := provider.Open(cfg.PaymentProvider, conf)
	if err != nil {
		return nil, err
	}

	return provider.NewGatewayService(cfg.PaymentProvider, p, provider.GatewayOptions{
		Timeout:   cfg.GatewayTimeout,
		ReturnURL: cfg.ReturnURL,
		CancelURL: cfg.CancelURL,
	}), nil
}

func openPublisher(cfg *config.AppConfig) rabbitmq.Publisher {
	if cfg.RabbitMQURL == "" {
		logger.Info("RabbitMQ is not configured, sale events are not published")
		return rabbitmq.FallbackProducer{}
	}

	producer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL)
	if err != nil {
		logger.Warn("RabbitMQ unavailable, sale events are not published", logger.LogContext{
			Fields: map[string]any{"error": err.Error()},
		})
		return rabbitmq.FallbackProducer{}
	}
	return producer
}
