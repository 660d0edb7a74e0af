package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hotspot-portal/models"
	"hotspot-portal/status"
)

func TestCompareAndSetStateStale(t *testing.T) {
	st := NewMemStore()
	ctx := context.Background()

	st.BulkInsert(ctx, []*models.Ticket{{
		ID: "tkt_1", Username: "u1", Password: "p", TypeID: "typ_1", State: models.TicketAvailable, Seq: 1,
	}})

	now := time.Now()
	err := st.CompareAndSetState(ctx, "tkt_1", models.TicketAvailable, models.TicketReserved, TransitionFields{
		ReservedBy: "buyer-a", ReservedAt: &now,
	})
	require.NoError(t, err)

	// Second claim against the already-consumed expected state.
	err = st.CompareAndSetState(ctx, "tkt_1", models.TicketAvailable, models.TicketReserved, TransitionFields{
		ReservedBy: "buyer-b", ReservedAt: &now,
	})
	assert.ErrorIs(t, err, status.ErrStaleState)

	ticket, err := st.GetTicket(ctx, "tkt_1")
	require.NoError(t, err)
	assert.Equal(t, "buyer-a", ticket.ReservedBy)
}

func TestCompareAndSetStateNotFound(t *testing.T) {
	st := NewMemStore()

	err := st.CompareAndSetState(context.Background(), "missing", models.TicketAvailable, models.TicketReserved, TransitionFields{})
	assert.ErrorIs(t, err, status.ErrTicketNotFound)
}

func TestCompareAndSetStateClearsOwnership(t *testing.T) {
	st := NewMemStore()
	ctx := context.Background()

	now := time.Now()
	st.BulkInsert(ctx, []*models.Ticket{{
		ID: "tkt_1", Username: "u1", Password: "p", TypeID: "typ_1",
		State: models.TicketReserved, Seq: 1,
		ReservedBy: "buyer-a", ReservedAt: &now, ReservationExpiresAt: &now,
	}})

	require.NoError(t, st.CompareAndSetState(ctx, "tkt_1", models.TicketReserved, models.TicketAvailable, TransitionFields{}))

	ticket, err := st.GetTicket(ctx, "tkt_1")
	require.NoError(t, err)
	assert.Empty(t, ticket.ReservedBy)
	assert.Nil(t, ticket.ReservedAt)
	assert.Nil(t, ticket.ReservationExpiresAt)
}

func TestBulkInsertReportsPositionalErrors(t *testing.T) {
	st := NewMemStore()
	ctx := context.Background()

	st.BulkInsert(ctx, []*models.Ticket{{
		ID: "tkt_1", Username: "taken", Password: "p", TypeID: "typ_1", State: models.TicketAvailable, Seq: 1,
	}})

	errs := st.BulkInsert(ctx, []*models.Ticket{
		{ID: "tkt_2", Username: "fresh", Password: "p", TypeID: "typ_1", State: models.TicketAvailable, Seq: 2},
		{ID: "tkt_3", Username: "taken", Password: "p", TypeID: "typ_1", State: models.TicketAvailable, Seq: 3},
	})

	require.Len(t, errs, 2)
	assert.NoError(t, errs[0])
	assert.ErrorIs(t, errs[1], status.ErrDuplicateUsername)
}

func TestNextSeqAdvancesWithInserts(t *testing.T) {
	st := NewMemStore()
	ctx := context.Background()

	seq, err := st.NextSeq(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), seq)

	st.BulkInsert(ctx, []*models.Ticket{{
		ID: "tkt_1", Username: "u1", Password: "p", TypeID: "typ_1", State: models.TicketAvailable, Seq: 7,
	}})

	seq, err = st.NextSeq(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(8), seq)
}

func TestListByTypeAndStateOrdersBySeq(t *testing.T) {
	st := NewMemStore()
	ctx := context.Background()

	st.BulkInsert(ctx, []*models.Ticket{
		{ID: "tkt_b", Username: "b", Password: "p", TypeID: "typ_1", State: models.TicketAvailable, Seq: 2},
		{ID: "tkt_a", Username: "a", Password: "p", TypeID: "typ_1", State: models.TicketAvailable, Seq: 1},
		{ID: "tkt_c", Username: "c", Password: "p", TypeID: "typ_1", State: models.TicketSold, Seq: 3},
	})

	out, err := st.ListByTypeAndState(ctx, "typ_1", models.TicketAvailable)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "tkt_a", out[0].ID)
	assert.Equal(t, "tkt_b", out[1].ID)
}

func TestCompareAndSetOutcomeOnlyFromExpected(t *testing.T) {
	st := NewMemStore()
	ctx := context.Background()

	require.NoError(t, st.CreatePurchase(ctx, &models.Purchase{
		ID: "pur_1", TypeID: "typ_1", BuyerRef: "buyer-a",
		PaymentMethod: models.PayMobileMoney, Outcome: models.PurchasePending,
	}))

	err := st.CompareAndSetOutcome(ctx, "pur_1", models.PurchasePending, func(p *models.Purchase) {
		p.Outcome = models.PurchaseConfirmed
	})
	require.NoError(t, err)

	err = st.CompareAndSetOutcome(ctx, "pur_1", models.PurchasePending, func(p *models.Purchase) {
		p.Outcome = models.PurchaseFailed
	})
	assert.ErrorIs(t, err, status.ErrStaleState)

	p, err := st.GetPurchase(ctx, "pur_1")
	require.NoError(t, err)
	assert.Equal(t, models.PurchaseConfirmed, p.Outcome)
}
