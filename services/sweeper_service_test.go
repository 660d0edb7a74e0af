package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hotspot-portal/internal/provision"
	"hotspot-portal/models"
)

func newSweeperFixture(t *testing.T) (*purchaseFixture, *SweeperService) {
	t.Helper()

	f := newPurchaseFixture(t)
	remediation := NewRemediationLog(nil, nil, "ops", time.Hour)
	sweeper := NewSweeperService(
		f.store, f.inventory, f.svc, f.provisioner, remediation, nil,
		time.Second, time.Second)
	return f, sweeper
}

func TestSweepOnceExpiresLapsedReservations(t *testing.T) {
	f, sweeper := newSweeperFixture(t)
	f.seed(t, "u1", "u2")
	ctx := context.Background()

	purchase, _, err := f.svc.CreatePurchase(ctx, CreatePurchaseRequest{
		TypeID:        "typ_1h",
		BuyerRef:      "buyer-a",
		PaymentMethod: models.PayMobileMoney,
	})
	require.NoError(t, err)

	require.NoError(t, sweeper.SweepOnce(ctx, time.Now().Add(2*time.Minute)))

	ticket, err := f.store.GetTicket(ctx, purchase.TicketID)
	require.NoError(t, err)
	assert.Equal(t, models.TicketAvailable, ticket.State)

	stored, err := f.store.GetPurchase(ctx, purchase.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PurchaseExpired, stored.Outcome)
}

func TestSweepOnceLeavesLiveReservations(t *testing.T) {
	f, sweeper := newSweeperFixture(t)
	f.seed(t, "u1")
	ctx := context.Background()

	purchase, _, err := f.svc.CreatePurchase(ctx, CreatePurchaseRequest{
		TypeID:        "typ_1h",
		BuyerRef:      "buyer-a",
		PaymentMethod: models.PayMobileMoney,
	})
	require.NoError(t, err)

	require.NoError(t, sweeper.SweepOnce(ctx, time.Now()))

	ticket, err := f.store.GetTicket(ctx, purchase.TicketID)
	require.NoError(t, err)
	assert.Equal(t, models.TicketReserved, ticket.State)

	stored, err := f.store.GetPurchase(ctx, purchase.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PurchasePending, stored.Outcome)
}

func TestDetectDriftReportsBothDirections(t *testing.T) {
	f, sweeper := newSweeperFixture(t)
	ctx := context.Background()

	// Sold in the store, but never provisioned.
	seedType(t, f.store, "typ_1h", "5000")
	now := time.Now()
	f.store.BulkInsert(ctx, []*models.Ticket{{
		ID:       "tkt_ghost",
		Username: "ghost",
		Password: "pw",
		TypeID:   "typ_1h",
		State:    models.TicketSold,
		Seq:      1,
		SoldTo:   "tx-1",
		SoldAt:   &now,
	}})

	// Provisioned on the router, but unknown to the store.
	require.NoError(t, f.provisioner.ProvisionCredential(ctx, provision.Credential{
		Username: "stray", Password: "pw", Profile: "1h",
	}))

	// Report only: neither side may be mutated by drift detection.
	require.NoError(t, sweeper.DetectDrift(ctx))

	ticket, err := f.store.GetTicket(ctx, "tkt_ghost")
	require.NoError(t, err)
	assert.Equal(t, models.TicketSold, ticket.State)

	active, err := f.provisioner.ListActiveCredentials(ctx)
	require.NoError(t, err)
	assert.Contains(t, active, "stray")
}

func TestDetectDriftCleanState(t *testing.T) {
	f, sweeper := newSweeperFixture(t)
	f.seed(t, "u1")
	ctx := context.Background()

	purchase, _, err := f.svc.CreatePurchase(ctx, CreatePurchaseRequest{
		TypeID:        "typ_1h",
		BuyerRef:      "buyer-a",
		PaymentMethod: models.PayMobileMoney,
	})
	require.NoError(t, err)
	require.NoError(t, f.svc.HandlePaymentResult(ctx, purchase.ID, true, "tx-1"))

	// Wait for detached provisioning to land before comparing sides.
	assert.Eventually(t, func() bool {
		active, err := f.provisioner.ListActiveCredentials(ctx)
		return err == nil && len(active) == 1
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, sweeper.DetectDrift(ctx))

	ticket, err := f.store.GetTicket(ctx, purchase.TicketID)
	require.NoError(t, err)
	assert.Equal(t, models.TicketSold, ticket.State)
}

func TestSweeperRunStopsOnCancel(t *testing.T) {
	f, sweeper := newSweeperFixture(t)
	f.seed(t, "u1")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sweeper.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop on context cancel")
	}
}
