package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mstgnz/gamevault/infra/logger"
	amqp "github.com/rabbitmq/amqp091-go"
)

const dialTimeout = 10 * time.Second

// Publisher is implemented by types that can publish events
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body any) error
	Close()
}

// EventProducer publishes JSON messages to topic exchanges
type EventProducer struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	channel  *amqp.Channel
	declared map[string]bool
}

// NewEventProducer dials RabbitMQ and opens a channel
func NewEventProducer(amqpURL string) (*EventProducer, error) {
	cleanURL, err := SanitizeURL(amqpURL)
	if err != nil {
		return nil, err
	}

	conn, err := amqp.DialConfig(cleanURL, amqp.Config{Dial: amqp.DefaultDial(dialTimeout)})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open rabbitmq channel: %w", err)
	}

	return &EventProducer{conn: conn, channel: channel, declared: make(map[string]bool)}, nil
}

// Publish sends body as JSON to exchange with the routing key.
// A failed publish reopens the channel and tries once more.
func (p *EventProducer) Publish(ctx context.Context, exchange, routingKey string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.New().String(),
		Timestamp:    time.Now(),
		Body:         payload,
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.publish(ctx, exchange, routingKey, msg)
	if err == nil {
		return nil
	}

	logger.Warn("publish failed, reopening channel", logger.LogContext{
		Fields: map[string]any{
			"exchange":    exchange,
			"routing_key": routingKey,
			"error":       err.Error(),
		},
	})

	if reopenErr := p.reopen(); reopenErr != nil {
		return errors.Join(err, reopenErr)
	}
	return p.publish(ctx, exchange, routingKey, msg)
}

func (p *EventProducer) publish(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) error {
	if !p.declared[exchange] {
		if err := p.channel.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
		}
		p.declared[exchange] = true
	}
	return p.channel.PublishWithContext(ctx, exchange, routingKey, false, false, msg)
}

func (p *EventProducer) reopen() error {
	if p.conn == nil || p.conn.IsClosed() {
		return errors.New("rabbitmq connection is closed")
	}
	channel, err := p.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to reopen rabbitmq channel: %w", err)
	}
	if p.channel != nil {
		_ = p.channel.Close()
	}
	p.channel = channel
	p.declared = make(map[string]bool)
	return nil
}

// Close closes the channel and connection
func (p *EventProducer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
}

// FallbackProducer skips publishing when RabbitMQ is not configured or unreachable
type FallbackProducer struct{}

func (FallbackProducer) Publish(ctx context.Context, exchange, routingKey string, body any) error {
	logger.Debug("publish skipped, rabbitmq unavailable", logger.LogContext{
		Fields: map[string]any{"exchange": exchange, "routing_key": routingKey},
	})
	return nil
}

func (FallbackProducer) Close() {}

// SanitizeURL trims quotes and stray prefixes and checks the AMQP scheme
func SanitizeURL(raw string) (string, error) {
	clean := strings.Trim(strings.TrimSpace(raw), "\"'")
	if idx := strings.Index(strings.ToLower(clean), "amqp"); idx > 0 {
		clean = clean[idx:]
	}

	u, err := url.Parse(clean)
	if err != nil {
		return "", fmt.Errorf("invalid rabbitmq url: %w", err)
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("AMQP scheme must be either 'amqp://' or 'amqps://'")
	}
	return clean, nil
}
