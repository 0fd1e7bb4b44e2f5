package notify

import (
	"context"

	"github.com/mstgnz/gamevault/infra/logger"
	"github.com/mstgnz/gamevault/infra/opensearch"
	"github.com/mstgnz/gamevault/ledger"
)

// EventPublisher publishes a message to an exchange
type EventPublisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body any) error
}

// RabbitSink publishes events to a topic exchange keyed by event type
type RabbitSink struct {
	publisher EventPublisher
	exchange  string
}

// NewRabbitSink publishes to exchange through publisher
func NewRabbitSink(publisher EventPublisher, exchange string) *RabbitSink {
	return &RabbitSink{publisher: publisher, exchange: exchange}
}

// Name identifies the sink in delivery logs
func (s *RabbitSink) Name() string { return "rabbitmq" }

// Deliver publishes the event with its type as routing key
func (s *RabbitSink) Deliver(ctx context.Context, event ledger.Event) error {
	return s.publisher.Publish(ctx, s.exchange, string(event.Type), event)
}

// DocumentIndexer stores a document under an id
type DocumentIndexer interface {
	IndexDocument(ctx context.Context, index, id string, doc any) error
}

// OpenSearchSink indexes every event so a sale's history can be searched
type OpenSearchSink struct {
	indexer DocumentIndexer
	index   string
}

// NewOpenSearchSink indexes through indexer
func NewOpenSearchSink(indexer DocumentIndexer) *OpenSearchSink {
	return &OpenSearchSink{indexer: indexer, index: opensearch.EventIndex}
}

func (s *OpenSearchSink) Name() string { return "opensearch" }

// Deliver indexes the event under its id
func (s *OpenSearchSink) Deliver(ctx context.Context, event ledger.Event) error {
	return s.indexer.IndexDocument(ctx, s.index, event.ID, event)
}

// LogSink writes events to the system log
type LogSink struct{}

func (LogSink) Name() string { return "log" }

func (LogSink) Deliver(ctx context.Context, event ledger.Event) error {
	logger.Info("transaction event", logger.LogContext{
		TransactionID: event.TransactionID,
		OrderCode:     event.OrderCode,
		Fields: map[string]any{
			"event_type": string(event.Type),
			"status":     string(event.Status),
			"amount":     event.Amount,
		},
	})
	return nil
}
