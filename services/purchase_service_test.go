package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hotspot-portal/config"
	"hotspot-portal/internal/payment"
	"hotspot-portal/internal/payment/campuspay"
	"hotspot-portal/internal/provision"
	"hotspot-portal/models"
	"hotspot-portal/status"
	"hotspot-portal/store"
)

type purchaseFixture struct {
	store       *store.MemStore
	inventory   *InventoryService
	sandbox     *payment.Sandbox
	provisioner *provision.MemProvisioner
	svc         *PurchaseService
}

func newPurchaseFixture(t *testing.T) *purchaseFixture {
	t.Helper()

	st := store.NewMemStore()
	inventory := NewInventoryService(st, nil)
	sandbox := payment.NewSandbox()
	provisioner := provision.NewMemProvisioner()
	remediation := NewRemediationLog(nil, nil, "ops", time.Hour)

	cfg := &config.Config{
		ReservationTTL: time.Minute,
		CampusPay:      campuspay.Config{Ccy: "XOF"},
	}

	svc := NewPurchaseService(st, inventory, nil, nil, sandbox, provisioner, remediation, nil, cfg)

	return &purchaseFixture{
		store:       st,
		inventory:   inventory,
		sandbox:     sandbox,
		provisioner: provisioner,
		svc:         svc,
	}
}

func (f *purchaseFixture) seed(t *testing.T, usernames ...string) {
	t.Helper()
	seedType(t, f.store, "typ_1h", "5000")
	seedTickets(t, f.store, "typ_1h", usernames...)
}

func TestCreatePurchaseReservesTicket(t *testing.T) {
	f := newPurchaseFixture(t)
	f.seed(t, "u1", "u2")

	purchase, qr, err := f.svc.CreatePurchase(context.Background(), CreatePurchaseRequest{
		TypeID:        "typ_1h",
		BuyerRef:      "buyer-a",
		PaymentMethod: models.PayMobileMoney,
	})
	require.NoError(t, err)

	assert.Equal(t, models.PurchasePending, purchase.Outcome)
	assert.Equal(t, "5000", purchase.Amount.String())
	assert.NotEmpty(t, qr)

	ticket, err := f.store.GetTicket(context.Background(), purchase.TicketID)
	require.NoError(t, err)
	assert.Equal(t, models.TicketReserved, ticket.State)
	assert.Equal(t, "buyer-a", ticket.ReservedBy)
}

func TestCreatePurchaseOutOfStock(t *testing.T) {
	f := newPurchaseFixture(t)
	seedType(t, f.store, "typ_1h", "5000")

	purchase, _, err := f.svc.CreatePurchase(context.Background(), CreatePurchaseRequest{
		TypeID:        "typ_1h",
		BuyerRef:      "buyer-a",
		PaymentMethod: models.PayMobileMoney,
	})
	assert.ErrorIs(t, err, status.ErrOutOfStock)

	require.NotNil(t, purchase)
	assert.Equal(t, models.PurchaseFailed, purchase.Outcome)
	assert.Equal(t, "no inventory", purchase.FailReason)

	stored, err := f.store.GetPurchase(context.Background(), purchase.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PurchaseFailed, stored.Outcome)
}

func TestCreatePurchaseInactiveType(t *testing.T) {
	f := newPurchaseFixture(t)
	require.NoError(t, f.store.CreateType(context.Background(), &models.TicketType{
		ID: "typ_off", Name: "retired", Profile: "old", Price: decimal.Zero, IsActive: false,
	}))

	_, _, err := f.svc.CreatePurchase(context.Background(), CreatePurchaseRequest{
		TypeID:        "typ_off",
		BuyerRef:      "buyer-a",
		PaymentMethod: models.PayCash,
	})
	assert.ErrorIs(t, err, status.ErrTypeNotFound)
}

func TestHandlePaymentResultSuccess(t *testing.T) {
	f := newPurchaseFixture(t)
	f.seed(t, "u1")
	ctx := context.Background()

	purchase, _, err := f.svc.CreatePurchase(ctx, CreatePurchaseRequest{
		TypeID:        "typ_1h",
		BuyerRef:      "buyer-a",
		PaymentMethod: models.PayMobileMoney,
	})
	require.NoError(t, err)

	require.NoError(t, f.svc.HandlePaymentResult(ctx, purchase.ID, true, "tx-1"))

	stored, err := f.store.GetPurchase(ctx, purchase.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PurchaseConfirmed, stored.Outcome)
	assert.Equal(t, "tx-1", stored.PaymentRef)
	require.NotNil(t, stored.CompletedAt)

	ticket, err := f.store.GetTicket(ctx, purchase.TicketID)
	require.NoError(t, err)
	assert.Equal(t, models.TicketSold, ticket.State)

	// Provisioning is detached from the buyer flow.
	assert.Eventually(t, func() bool {
		active, err := f.provisioner.ListActiveCredentials(ctx)
		return err == nil && len(active) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestHandlePaymentResultDuplicateCallback(t *testing.T) {
	f := newPurchaseFixture(t)
	f.seed(t, "u1")
	ctx := context.Background()

	purchase, _, err := f.svc.CreatePurchase(ctx, CreatePurchaseRequest{
		TypeID:        "typ_1h",
		BuyerRef:      "buyer-a",
		PaymentMethod: models.PayMobileMoney,
	})
	require.NoError(t, err)

	require.NoError(t, f.svc.HandlePaymentResult(ctx, purchase.ID, true, "tx-1"))
	require.NoError(t, f.svc.HandlePaymentResult(ctx, purchase.ID, true, "tx-1"))
	require.NoError(t, f.svc.HandlePaymentResult(ctx, purchase.ID, false, "tx-1"))

	stored, err := f.store.GetPurchase(ctx, purchase.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PurchaseConfirmed, stored.Outcome)

	ticket, err := f.store.GetTicket(ctx, purchase.TicketID)
	require.NoError(t, err)
	assert.Equal(t, models.TicketSold, ticket.State)
}

// A duplicate success callback can arrive after the first delivery
// moved the ticket to sold but before it finalized the purchase. The
// duplicate must not mistake the sold ticket for a lapsed reservation.
func TestHandlePaymentResultDuplicateInSettlementWindow(t *testing.T) {
	f := newPurchaseFixture(t)
	f.seed(t, "u1")
	ctx := context.Background()

	purchase, _, err := f.svc.CreatePurchase(ctx, CreatePurchaseRequest{
		TypeID:        "typ_1h",
		BuyerRef:      "buyer-a",
		PaymentMethod: models.PayMobileMoney,
	})
	require.NoError(t, err)

	// First delivery has sold the ticket but not yet written the
	// purchase outcome.
	now := time.Now()
	require.NoError(t, f.store.CompareAndSetState(ctx, purchase.TicketID,
		models.TicketReserved, models.TicketSold, store.TransitionFields{
			SoldTo: "tx-1",
			SoldAt: &now,
		}))

	require.NoError(t, f.svc.HandlePaymentResult(ctx, purchase.ID, true, "tx-1"))

	stored, err := f.store.GetPurchase(ctx, purchase.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PurchaseConfirmed, stored.Outcome)
	assert.Equal(t, "tx-1", stored.PaymentRef)
	assert.Empty(t, stored.FailReason)
}

func TestHandlePaymentResultConcurrentDuplicates(t *testing.T) {
	f := newPurchaseFixture(t)
	f.seed(t, "u1")
	ctx := context.Background()

	purchase, _, err := f.svc.CreatePurchase(ctx, CreatePurchaseRequest{
		TypeID:        "typ_1h",
		BuyerRef:      "buyer-a",
		PaymentMethod: models.PayMobileMoney,
	})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, f.svc.HandlePaymentResult(ctx, purchase.ID, true, "tx-1"))
		}()
	}
	wg.Wait()

	stored, err := f.store.GetPurchase(ctx, purchase.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PurchaseConfirmed, stored.Outcome)

	ticket, err := f.store.GetTicket(ctx, purchase.TicketID)
	require.NoError(t, err)
	assert.Equal(t, models.TicketSold, ticket.State)
	assert.Equal(t, "tx-1", ticket.SoldTo)

	// Exactly one winning delivery provisions the credential.
	assert.Eventually(t, func() bool {
		active, err := f.provisioner.ListActiveCredentials(ctx)
		return err == nil && len(active) == 1 && active[0] == "u1"
	}, time.Second, 10*time.Millisecond)
}

func TestHandlePaymentResultFailureReleasesTicket(t *testing.T) {
	f := newPurchaseFixture(t)
	f.seed(t, "u1")
	ctx := context.Background()

	purchase, _, err := f.svc.CreatePurchase(ctx, CreatePurchaseRequest{
		TypeID:        "typ_1h",
		BuyerRef:      "buyer-a",
		PaymentMethod: models.PayMobileMoney,
	})
	require.NoError(t, err)

	require.NoError(t, f.svc.HandlePaymentResult(ctx, purchase.ID, false, "tx-1"))

	stored, err := f.store.GetPurchase(ctx, purchase.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PurchaseFailed, stored.Outcome)

	ticket, err := f.store.GetTicket(ctx, purchase.TicketID)
	require.NoError(t, err)
	assert.Equal(t, models.TicketAvailable, ticket.State)
}

func TestHandlePaymentResultAfterExpiry(t *testing.T) {
	f := newPurchaseFixture(t)
	f.seed(t, "u1")
	ctx := context.Background()

	purchase, _, err := f.svc.CreatePurchase(ctx, CreatePurchaseRequest{
		TypeID:        "typ_1h",
		BuyerRef:      "buyer-a",
		PaymentMethod: models.PayMobileMoney,
	})
	require.NoError(t, err)

	// The reservation lapses before the settlement lands.
	f.inventory.now = func() time.Time { return time.Now().Add(2 * time.Minute) }

	require.NoError(t, f.svc.HandlePaymentResult(ctx, purchase.ID, true, "tx-late"))

	stored, err := f.store.GetPurchase(ctx, purchase.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PurchaseFailed, stored.Outcome)
	assert.Contains(t, stored.FailReason, "expired")

	// The late payment never resurrects the claim.
	ticket, err := f.store.GetTicket(ctx, purchase.TicketID)
	require.NoError(t, err)
	assert.NotEqual(t, models.TicketSold, ticket.State)
}

func TestCancelPendingPurchase(t *testing.T) {
	f := newPurchaseFixture(t)
	f.seed(t, "u1")
	ctx := context.Background()

	purchase, _, err := f.svc.CreatePurchase(ctx, CreatePurchaseRequest{
		TypeID:        "typ_1h",
		BuyerRef:      "buyer-a",
		PaymentMethod: models.PayMobileMoney,
	})
	require.NoError(t, err)

	require.NoError(t, f.svc.Cancel(ctx, purchase.ID, "buyer-a"))

	stored, err := f.store.GetPurchase(ctx, purchase.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PurchaseFailed, stored.Outcome)
	assert.Equal(t, "cancelled by buyer", stored.FailReason)

	ticket, err := f.store.GetTicket(ctx, purchase.TicketID)
	require.NoError(t, err)
	assert.Equal(t, models.TicketAvailable, ticket.State)
}

func TestCancelFinalizedPurchase(t *testing.T) {
	f := newPurchaseFixture(t)
	f.seed(t, "u1")
	ctx := context.Background()

	purchase, _, err := f.svc.CreatePurchase(ctx, CreatePurchaseRequest{
		TypeID:        "typ_1h",
		BuyerRef:      "buyer-a",
		PaymentMethod: models.PayMobileMoney,
	})
	require.NoError(t, err)
	require.NoError(t, f.svc.HandlePaymentResult(ctx, purchase.ID, true, "tx-1"))

	err = f.svc.Cancel(ctx, purchase.ID, "buyer-a")
	assert.ErrorIs(t, err, status.ErrPurchaseFinalized)
}

func TestCancelWrongBuyer(t *testing.T) {
	f := newPurchaseFixture(t)
	f.seed(t, "u1")
	ctx := context.Background()

	purchase, _, err := f.svc.CreatePurchase(ctx, CreatePurchaseRequest{
		TypeID:        "typ_1h",
		BuyerRef:      "buyer-a",
		PaymentMethod: models.PayMobileMoney,
	})
	require.NoError(t, err)

	err = f.svc.Cancel(ctx, purchase.ID, "buyer-b")
	assert.ErrorIs(t, err, status.ErrPurchaseNotFound)
}

func TestConfirmCash(t *testing.T) {
	f := newPurchaseFixture(t)
	f.seed(t, "u1")
	ctx := context.Background()

	purchase, _, err := f.svc.CreatePurchase(ctx, CreatePurchaseRequest{
		TypeID:        "typ_1h",
		BuyerRef:      "buyer-a",
		PaymentMethod: models.PayCash,
	})
	require.NoError(t, err)

	require.NoError(t, f.svc.ConfirmCash(ctx, purchase.ID, "agent-7"))

	stored, err := f.store.GetPurchase(ctx, purchase.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PurchaseConfirmed, stored.Outcome)
	assert.Equal(t, "cash:agent-7", stored.PaymentRef)
}

func TestConfirmCashRejectsOtherMethods(t *testing.T) {
	f := newPurchaseFixture(t)
	f.seed(t, "u1")
	ctx := context.Background()

	purchase, _, err := f.svc.CreatePurchase(ctx, CreatePurchaseRequest{
		TypeID:        "typ_1h",
		BuyerRef:      "buyer-a",
		PaymentMethod: models.PayMobileMoney,
	})
	require.NoError(t, err)

	err = f.svc.ConfirmCash(ctx, purchase.ID, "agent-7")
	assert.ErrorIs(t, err, status.ErrInvalidState)
}

func TestGetStatusExpiresLapsedPurchase(t *testing.T) {
	f := newPurchaseFixture(t)
	f.seed(t, "u1")
	ctx := context.Background()

	purchase, _, err := f.svc.CreatePurchase(ctx, CreatePurchaseRequest{
		TypeID:        "typ_1h",
		BuyerRef:      "buyer-a",
		PaymentMethod: models.PayMobileMoney,
	})
	require.NoError(t, err)

	// The sweeper already released the reservation, but the purchase
	// row was not flipped yet.
	require.NoError(t, f.store.CompareAndSetState(ctx, purchase.TicketID,
		models.TicketReserved, models.TicketAvailable, store.TransitionFields{}))

	stored, err := f.svc.GetStatus(ctx, purchase.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PurchaseExpired, stored.Outcome)
}

func TestRunConsumesGatewaySettlements(t *testing.T) {
	f := newPurchaseFixture(t)
	f.seed(t, "u1")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go f.svc.Run(ctx)

	purchase, _, err := f.svc.CreatePurchase(ctx, CreatePurchaseRequest{
		TypeID:        "typ_1h",
		BuyerRef:      "buyer-a",
		PaymentMethod: models.PayMobileMoney,
	})
	require.NoError(t, err)

	f.sandbox.Settle(purchase.ID, "tx-sandbox", true)

	assert.Eventually(t, func() bool {
		stored, err := f.store.GetPurchase(ctx, purchase.ID)
		return err == nil && stored.Outcome == models.PurchaseConfirmed
	}, time.Second, 10*time.Millisecond)
}
