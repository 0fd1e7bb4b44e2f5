// Package reconciler applies gateway payment callbacks to the ledger.
package reconciler

import (
	"context"
	"errors"
	"math"

	"github.com/mstgnz/gamevault/infra/logger"
	"github.com/mstgnz/gamevault/ledger"
	"github.com/mstgnz/gamevault/provider"
)

// amountTolerance absorbs gateways that round to whole currency units
const amountTolerance = 0.5

// AckResult is returned to the gateway. The HTTP status is always 200.
type AckResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	// Rejected marks callbacks refused before the ledger was consulted
	Rejected bool `json:"-"`
}

// WebhookGateway verifies and parses callbacks
type WebhookGateway interface {
	Name() string
	VerifyWebhook(payload []byte, headers map[string]string) error
	ParseWebhook(payload []byte, headers map[string]string) (*provider.WebhookEvent, error)
}

// Transitions is the part of the ledger the reconciler drives
type Transitions interface {
	Get(ctx context.Context, lookup ledger.Lookup, requester ledger.Requester) (*ledger.Transaction, error)
	Complete(ctx context.Context, lookup ledger.Lookup, requester ledger.Requester) (*ledger.Completion, error)
	Cancel(ctx context.Context, lookup ledger.Lookup, requester ledger.Requester) error
}

// Reconciler turns gateway callbacks into ledger transitions
type Reconciler struct {
	gateway WebhookGateway
	ledger  Transitions
	strict  bool
}

// New creates a reconciler. With strict set, callbacks failing signature
// verification are refused; otherwise they are logged and processed.
func New(gateway WebhookGateway, l Transitions, strict bool) *Reconciler {
	return &Reconciler{gateway: gateway, ledger: l, strict: strict}
}

// HandleCallback verifies, parses and applies one callback
func (r *Reconciler) HandleCallback(ctx context.Context, payload []byte, headers map[string]string) AckResult {
	log := logger.WithProvider(r.gateway.Name())

	if err := r.gateway.VerifyWebhook(payload, headers); err != nil {
		if r.strict {
			log.AddField("error", err.Error()).Warn("webhook rejected: signature verification failed")
			return AckResult{Success: false, Error: "invalid signature", Rejected: true}
		}
		log.AddField("error", err.Error()).Warn("webhook signature verification failed, continuing because strict verification is off")
	}

	event, err := r.gateway.ParseWebhook(payload, headers)
	if err != nil {
		log.AddField("error", err.Error()).Warn("webhook payload could not be parsed")
		return AckResult{Success: false, Error: err.Error()}
	}

	log = log.SetOrderCode(event.OrderCode).AddField("status", string(event.Status))
	log.Info("webhook received")

	switch event.Status {
	case provider.StatusPaid:
		return r.complete(ctx, event, log)
	case provider.StatusCancelled, provider.StatusExpired:
		return r.cancel(ctx, event, log)
	case provider.StatusPending:
		return AckResult{Success: true}
	default:
		log.Warn("webhook status not handled, ignoring")
		return AckResult{Success: true}
	}
}

func (r *Reconciler) complete(ctx context.Context, event *provider.WebhookEvent, log *logger.ContextLogger) AckResult {
	lookup := ledger.ByOrderCode(event.OrderCode)

	txn, err := r.ledger.Get(ctx, lookup, ledger.SystemRequester)
	if err != nil {
		return r.outcome(err, log)
	}
	log = log.SetTransactionID(txn.ID)

	if event.HasAmount && math.Abs(event.Amount-txn.Amount) > amountTolerance {
		log.AddField("paid_amount", event.Amount).
			AddField("expected_amount", txn.Amount).
			Error("paid amount does not match transaction amount, completion refused", nil)
		return AckResult{Success: false, Error: "amount mismatch"}
	}

	completion, err := r.ledger.Complete(ctx, lookup, ledger.SystemRequester)
	if err != nil {
		return r.outcome(err, log)
	}

	if completion.Released {
		log.Info("transaction completed from webhook")
	} else {
		log.Info("transaction already completed, callback acknowledged")
	}
	return AckResult{Success: true}
}

func (r *Reconciler) cancel(ctx context.Context, event *provider.WebhookEvent, log *logger.ContextLogger) AckResult {
	if err := r.ledger.Cancel(ctx, ledger.ByOrderCode(event.OrderCode), ledger.SystemRequester); err != nil {
		return r.outcome(err, log)
	}
	log.Info("transaction cancelled from webhook")
	return AckResult{Success: true}
}

// outcome maps a ledger error to an acknowledgement
func (r *Reconciler) outcome(err error, log *logger.ContextLogger) AckResult {
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		log.Warn("webhook for unknown order code, acknowledged")
		return AckResult{Success: true}
	case errors.Is(err, ledger.ErrInvalidState):
		log.Info("transaction already terminal, callback acknowledged")
		return AckResult{Success: true}
	case errors.Is(err, ledger.ErrIntegrity):
		log.Error("escrowed credentials failed integrity check", err)
		return AckResult{Success: false, Error: "credential integrity failure"}
	default:
		log.Error("webhook could not be applied", err)
		return AckResult{Success: false, Error: err.Error()}
	}
}
