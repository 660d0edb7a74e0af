package status

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Inventory errors.
var (
	ErrOutOfStock     = errors.New("inventory: no available ticket of requested type")
	ErrStaleState     = errors.New("inventory: ticket state changed concurrently")
	ErrInvalidState   = errors.New("inventory: ticket state does not allow this transition")
	ErrTicketNotFound = errors.New("inventory: ticket not found")
	ErrTypeNotFound   = errors.New("inventory: ticket type not found")
)

// Import errors.
var (
	ErrDuplicateUsername = errors.New("import: username already exists")
	ErrEmptyUsername     = errors.New("import: username is empty")
	ErrEmptyPassword     = errors.New("import: password is empty")
)

// Purchase errors.
var (
	ErrPurchaseNotFound  = errors.New("purchase: purchase not found")
	ErrPurchaseFinalized = errors.New("purchase: purchase already finalized")
	ErrInvalidSignature  = errors.New("payment: invalid webhook signature")
)

// Provisioning errors.
var (
	ErrProvisioningFailed = errors.New("provision: device provisioner rejected credential")
)

// Transaction is a settled payment reported by the gateway, either over
// the PubNub subscription or the signed webhook.
type Transaction struct {
	RefID      string          `json:"ref_id"`
	PurchaseID string          `json:"purchase_id"`
	Payer      string          `json:"payer"`
	Amount     decimal.Decimal `json:"amount"`
	Ccy        string          `json:"ccy"`
	Success    bool            `json:"success"`
	CreatedAt  time.Time       `json:"created_at"`
}
