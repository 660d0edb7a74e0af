// Package payment defines the payment-confirmation capability. A
// gateway answers a confirmation request with a payable artifact (an
// EMV QR payload for mobile money) and later reports the settlement
// over a Transaction channel; delivery is at-least-once and the
// consumer must handle duplicates.
package payment

import (
	"context"

	"github.com/shopspring/decimal"

	"hotspot-portal/status"
)

// ConfirmationRequest asks the gateway to collect a payment.
type ConfirmationRequest struct {
	PurchaseID     string          `json:"purchase_id"`
	Amount         decimal.Decimal `json:"amount"`
	Ccy            string          `json:"ccy"`
	BuyerContact   string          `json:"buyer_contact"`
	ReferenceLabel string          `json:"reference_label"`
}

// Gateway is the payment-confirmation capability.
type Gateway interface {
	// RequestConfirmation registers the pending payment and returns the
	// QR payload the buyer scans. The actual confirmation arrives later
	// on the transaction channel.
	RequestConfirmation(ctx context.Context, req *ConfirmationRequest) (string, error)

	// SetTransactionChannel sets the channel settlement results are
	// delivered on.
	SetTransactionChannel(ch chan *status.Transaction)

	Close(ctx context.Context) error
}
