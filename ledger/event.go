package ledger

import "time"

// EventType names a committed ledger change
type EventType string

const (
	EventCreated            EventType = "transaction.created"
	EventPaymentLinkCreated EventType = "transaction.payment_link_created"
	EventCompleted          EventType = "transaction.completed"
	EventCancelled          EventType = "transaction.cancelled"
)

// Event is published after a ledger change has been committed.
// It never carries credentials.
type Event struct {
	ID            string    `json:"id"`
	Type          EventType `json:"type"`
	TransactionID string    `json:"transaction_id"`
	AccountID     string    `json:"account_id"`
	BuyerID       string    `json:"buyer_id"`
	SellerID      string    `json:"seller_id"`
	OrderCode     string    `json:"order_code,omitempty"`
	Amount        float64   `json:"amount"`
	Status        Status    `json:"status"`
	OccurredAt    time.Time `json:"occurred_at"`
}

func newEvent(eventType EventType, t *Transaction) Event {
	occurred := t.CreatedAt
	switch {
	case eventType == EventCompleted && t.CompletedAt != nil:
		occurred = *t.CompletedAt
	case eventType == EventCancelled && t.CancelledAt != nil:
		occurred = *t.CancelledAt
	case eventType == EventPaymentLinkCreated:
		occurred = time.Now().UTC()
	}

	return Event{
		ID:            string(eventType) + ":" + t.ID,
		Type:          eventType,
		TransactionID: t.ID,
		AccountID:     t.AccountID,
		BuyerID:       t.BuyerID,
		SellerID:      t.SellerID,
		OrderCode:     t.OrderCode,
		Amount:        t.Amount,
		Status:        t.Status,
		OccurredAt:    occurred,
	}
}
