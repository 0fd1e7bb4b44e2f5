package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/mstgnz/gamevault/vault"
)

// Status is the lifecycle state of an escrow transaction
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
)

// IsTerminal reports whether no further transition is allowed
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// AccountStatus is the moderation state of a listed game account
type AccountStatus string

const (
	AccountPending  AccountStatus = "PENDING"
	AccountApproved AccountStatus = "APPROVED"
	AccountRejected AccountStatus = "REJECTED"
	AccountSold     AccountStatus = "SOLD"
)

// Account is the part of a listing the ledger needs at purchase time
type Account struct {
	ID       string
	SellerID string
	Price    float64
	Status   AccountStatus
}

// Transaction is the unit of escrow
type Transaction struct {
	ID                   string     `json:"id"`
	OrderCode            string     `json:"orderCode,omitempty"`
	CheckoutURL          string     `json:"checkoutUrl,omitempty"`
	AccountID            string     `json:"accountId"`
	BuyerID              string     `json:"buyerId"`
	SellerID             string     `json:"sellerId"`
	Amount               float64    `json:"amount"`
	Status               Status     `json:"status"`
	EncryptedCredentials []byte     `json:"-"`
	CreatedAt            time.Time  `json:"createdAt"`
	CompletedAt          *time.Time `json:"completedAt,omitempty"`
	CancelledAt          *time.Time `json:"cancelledAt,omitempty"`
}

// PurchaseRequest carries a buyer's intent to buy a listed account
type PurchaseRequest struct {
	AccountID   string
	BuyerID     string
	Credentials vault.Credentials
}

// PaymentLink ties a transaction to a gateway checkout session
type PaymentLink struct {
	TransactionID string  `json:"transactionId"`
	OrderCode     string  `json:"orderCode"`
	CheckoutURL   string  `json:"checkoutUrl"`
	Amount        float64 `json:"amount"`
}

// Completion is the outcome of Complete. Released is true only for the call
// that performed the PENDING -> COMPLETED transition.
type Completion struct {
	Transaction *Transaction
	Credentials vault.Credentials
	Released    bool
}

// Requester identifies who is acting on a transaction
type Requester struct {
	UserID string
	Admin  bool
}

// SystemRequester is used by the webhook path, which acts on behalf of the gateway
var SystemRequester = Requester{UserID: "system:webhook", Admin: true}

func (r Requester) isBuyerOrAdmin(t *Transaction) bool {
	return r.Admin || (r.UserID != "" && r.UserID == t.BuyerID)
}

func (r Requester) isParty(t *Transaction) bool {
	return r.isBuyerOrAdmin(t) || (r.UserID != "" && r.UserID == t.SellerID)
}

// Lookup addresses a transaction either by its ID or by its gateway order code
type Lookup struct {
	ID        string
	OrderCode string
}

// ByID looks a transaction up by its ID
func ByID(id string) Lookup {
	return Lookup{ID: id}
}

// ByOrderCode looks a transaction up by its gateway order code
func ByOrderCode(orderCode string) Lookup {
	return Lookup{OrderCode: orderCode}
}

func (l Lookup) validate() error {
	hasID := strings.TrimSpace(l.ID) != ""
	hasCode := strings.TrimSpace(l.OrderCode) != ""
	if hasID == hasCode {
		return fmt.Errorf("%w: exactly one of transaction id or order code is required", ErrValidation)
	}
	return nil
}

func (l Lookup) String() string {
	if l.ID != "" {
		return "id=" + l.ID
	}
	return "orderCode=" + l.OrderCode
}
