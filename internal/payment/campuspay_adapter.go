package payment

import (
	"context"

	"hotspot-portal/internal/payment/campuspay"
	"hotspot-portal/status"
)

// CampusPayAdapter adapts the campus-pay client to the Gateway
// contract.
type CampusPayAdapter struct {
	gw *campuspay.CampusPay
}

func NewCampusPayAdapter(ctx context.Context, cfg *campuspay.Config) (*CampusPayAdapter, error) {
	gw, err := campuspay.New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &CampusPayAdapter{gw: gw}, nil
}

func (a *CampusPayAdapter) RequestConfirmation(ctx context.Context, req *ConfirmationRequest) (string, error) {
	return a.gw.RequestConfirmation(ctx, req.PurchaseID, req.ReferenceLabel, req.BuyerContact, req.Amount)
}

func (a *CampusPayAdapter) SetTransactionChannel(ch chan *status.Transaction) {
	a.gw.SetTransactionChannel(ch)
}

func (a *CampusPayAdapter) Close(ctx context.Context) error {
	return a.gw.Close(ctx)
}
