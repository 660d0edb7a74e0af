package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Purchase outcomes.
const (
	PurchasePending   = "pending"
	PurchaseConfirmed = "confirmed"
	PurchaseFailed    = "failed"
	PurchaseExpired   = "expired"
)

// Payment methods carried on a purchase.
const (
	PayMobileMoney = "mobile_money"
	PayCash        = "cash"
	PayCard        = "card"
)

// Purchase is one buyer-initiated transaction. It references its ticket
// by id only; the ticket row stays authoritative for ticket state.
type Purchase struct {
	ID            string          `db:"id" json:"id"`
	TypeID        string          `db:"type_id" json:"type_id"`
	BuyerRef      string          `db:"buyer_ref" json:"buyer_ref"`
	BuyerContact  string          `db:"buyer_contact" json:"buyer_contact,omitempty"`
	PaymentMethod string          `db:"payment_method" json:"payment_method"`
	PaymentRef    string          `db:"payment_ref" json:"payment_ref,omitempty"`
	TicketID      string          `db:"ticket_id" json:"ticket_id,omitempty"`
	Amount        decimal.Decimal `db:"amount" json:"amount"`
	Outcome       string          `db:"outcome" json:"outcome"`
	FailReason    string          `db:"fail_reason" json:"fail_reason,omitempty"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
	CompletedAt   *time.Time      `db:"completed_at" json:"completed_at,omitempty"`
}

// Finalized reports whether the purchase reached a terminal outcome.
func (p *Purchase) Finalized() bool {
	return p.Outcome != PurchasePending
}

// PaymentNotification is the webhook body posted by the gateway.
type PaymentNotification struct {
	PurchaseID    string    `json:"purchase_id"`
	Status        string    `json:"status"`
	TransactionID string    `json:"transaction_id"`
	Timestamp     time.Time `json:"timestamp"`
}

// RemediationItem is an operator to-do produced by provisioning
// failures and sweeper drift reports.
type RemediationItem struct {
	Kind       string    `json:"kind"` // provisioning_failure, drift_missing_on_router, drift_unknown_on_router
	TicketID   string    `json:"ticket_id,omitempty"`
	Username   string    `json:"username,omitempty"`
	PurchaseID string    `json:"purchase_id,omitempty"`
	Detail     string    `json:"detail"`
	RaisedAt   time.Time `json:"raised_at"`
}
