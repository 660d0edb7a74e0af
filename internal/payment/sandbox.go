package payment

import (
	"context"
	"fmt"
	"time"

	"hotspot-portal/status"
)

// Sandbox is the development-mode gateway. It hands out fake QR
// payloads and settles whatever the simulate endpoint injects.
type Sandbox struct {
	ch chan *status.Transaction
}

func NewSandbox() *Sandbox {
	return &Sandbox{}
}

func (s *Sandbox) RequestConfirmation(_ context.Context, req *ConfirmationRequest) (string, error) {
	qr := fmt.Sprintf(`{"purchase_id":%q,"amount":%q,"ccy":%q,"reference":%q}`,
		req.PurchaseID, req.Amount.String(), req.Ccy, req.ReferenceLabel)
	return qr, nil
}

func (s *Sandbox) SetTransactionChannel(ch chan *status.Transaction) {
	s.ch = ch
}

// Settle injects a settlement result, standing in for the real
// gateway's notification.
func (s *Sandbox) Settle(purchaseID, refID string, success bool) {
	if s.ch == nil {
		return
	}
	s.ch <- &status.Transaction{
		RefID:      refID,
		PurchaseID: purchaseID,
		Success:    success,
		CreatedAt:  time.Now(),
	}
}

func (s *Sandbox) Close(_ context.Context) error {
	return nil
}
