package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"hotspot-portal/models"
	"hotspot-portal/monitoring"
	"hotspot-portal/store"
	"hotspot-portal/status"
)

// InventoryService is the concurrency-safe allocator. Every transition
// is a compare-and-set on the store; a lost race surfaces as
// ErrStaleState internally and is retried against the next candidate,
// so no ticket is ever handed to two buyers.
type InventoryService struct {
	Store   store.Store
	monitor *monitoring.Monitor
	now     func() time.Time
}

func NewInventoryService(st store.Store, monitor *monitoring.Monitor) *InventoryService {
	return &InventoryService{
		Store:   st,
		monitor: monitor,
		now:     time.Now,
	}
}

// Reserve claims the oldest available ticket of the given type for
// buyerRef. Candidates are tried oldest import sequence first; a CAS
// loss moves on to the next candidate. Returns ErrOutOfStock when no
// candidate is left.
func (s *InventoryService) Reserve(ctx context.Context, typeID, buyerRef string, ttl time.Duration) (*models.Ticket, error) {
	started := s.now()

	candidates, err := s.Store.ListByTypeAndState(ctx, typeID, models.TicketAvailable)
	if err != nil {
		return nil, err
	}

	for _, candidate := range candidates {
		now := s.now()
		expiresAt := now.Add(ttl)

		err := s.Store.CompareAndSetState(ctx, candidate.ID, models.TicketAvailable, models.TicketReserved, store.TransitionFields{
			ReservedBy:           buyerRef,
			ReservedAt:           &now,
			ReservationExpiresAt: &expiresAt,
		})
		if errors.Is(err, status.ErrStaleState) {
			// Another reserver won this exact ticket; try the next one.
			continue
		}
		if err != nil {
			return nil, err
		}

		candidate.State = models.TicketReserved
		candidate.ReservedBy = buyerRef
		candidate.ReservedAt = &now
		candidate.ReservationExpiresAt = &expiresAt

		s.track("reserve", "ok")
		s.trackReserve(started)
		return candidate, nil
	}

	s.track("reserve", "out_of_stock")
	s.trackReserve(started)
	return nil, status.ErrOutOfStock
}

// Confirm transitions a live reservation held by buyerRef to sold.
// An expired reservation or one held by a different buyer fails with
// ErrInvalidState: the ticket may already belong to someone else.
func (s *InventoryService) Confirm(ctx context.Context, ticketID, buyerRef, paymentRef string) (*models.Ticket, error) {
	ticket, err := s.Store.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if !ticket.ReservedFor(buyerRef, now) {
		s.track("confirm", "invalid_state")
		return nil, status.ErrInvalidState
	}

	err = s.Store.CompareAndSetState(ctx, ticketID, models.TicketReserved, models.TicketSold, store.TransitionFields{
		SoldTo: paymentRef,
		SoldAt: &now,
	})
	if errors.Is(err, status.ErrStaleState) {
		// Lost against a concurrent expire/confirm; treat as invalid.
		s.track("confirm", "invalid_state")
		return nil, status.ErrInvalidState
	}
	if err != nil {
		return nil, err
	}

	ticket.State = models.TicketSold
	ticket.ReservedBy = ""
	ticket.ReservedAt = nil
	ticket.ReservationExpiresAt = nil
	ticket.SoldTo = paymentRef
	ticket.SoldAt = &now

	s.track("confirm", "ok")
	return ticket, nil
}

// Release puts a ticket reserved by buyerRef back on sale, clearing the
// reservation fields.
func (s *InventoryService) Release(ctx context.Context, ticketID, buyerRef string) (*models.Ticket, error) {
	ticket, err := s.Store.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}

	if ticket.State != models.TicketReserved || ticket.ReservedBy != buyerRef {
		s.track("release", "invalid_state")
		return nil, status.ErrInvalidState
	}

	err = s.Store.CompareAndSetState(ctx, ticketID, models.TicketReserved, models.TicketAvailable, store.TransitionFields{})
	if errors.Is(err, status.ErrStaleState) {
		s.track("release", "invalid_state")
		return nil, status.ErrInvalidState
	}
	if err != nil {
		return nil, err
	}

	ticket.State = models.TicketAvailable
	ticket.ReservedBy = ""
	ticket.ReservedAt = nil
	ticket.ReservationExpiresAt = nil

	s.track("release", "ok")
	return ticket, nil
}

// ExpireStale releases every reservation whose expiry is at or before
// now and returns the released tickets. A ticket that a concurrent
// Confirm already moved to sold loses the CAS and is skipped.
func (s *InventoryService) ExpireStale(ctx context.Context, now time.Time) ([]*models.Ticket, error) {
	reserved, err := s.Store.ListByState(ctx, models.TicketReserved)
	if err != nil {
		return nil, err
	}

	var released []*models.Ticket
	for _, ticket := range reserved {
		if ticket.ReservationExpiresAt == nil || ticket.ReservationExpiresAt.After(now) {
			continue
		}

		err := s.Store.CompareAndSetState(ctx, ticket.ID, models.TicketReserved, models.TicketAvailable, store.TransitionFields{})
		if errors.Is(err, status.ErrStaleState) {
			continue
		}
		if err != nil {
			return released, err
		}

		slog.Info("reservation expired", "ticket_id", ticket.ID, "reserved_by", ticket.ReservedBy)
		released = append(released, ticket)
		s.track("expire", "ok")
	}

	return released, nil
}

// AvailableCount returns the live count of sellable tickets of a type.
func (s *InventoryService) AvailableCount(ctx context.Context, typeID string) (int, error) {
	return s.Store.CountByTypeAndState(ctx, typeID, models.TicketAvailable)
}

// ListActiveTypes returns active ticket types with live available
// counts.
func (s *InventoryService) ListActiveTypes(ctx context.Context) ([]*models.TicketType, error) {
	types, err := s.Store.ListActiveTypes(ctx)
	if err != nil {
		return nil, err
	}
	for _, t := range types {
		n, err := s.Store.CountByTypeAndState(ctx, t.ID, models.TicketAvailable)
		if err != nil {
			return nil, err
		}
		t.AvailableCount = n
	}
	return types, nil
}

// Stats aggregates per-type state counts and cumulative revenue for the
// admin dashboard. Counts are derived from ticket states, never from a
// stored counter.
func (s *InventoryService) Stats(ctx context.Context) ([]models.TypeStats, error) {
	types, err := s.Store.ListTypes(ctx)
	if err != nil {
		return nil, err
	}

	stats := make([]models.TypeStats, 0, len(types))
	for _, t := range types {
		row := models.TypeStats{TypeID: t.ID, Name: t.Name}

		counts := map[string]*int{
			models.TicketAvailable: &row.Available,
			models.TicketReserved:  &row.Reserved,
			models.TicketSold:      &row.Sold,
			models.TicketVoid:      &row.Void,
		}
		for state, dst := range counts {
			n, err := s.Store.CountByTypeAndState(ctx, t.ID, state)
			if err != nil {
				return nil, err
			}
			*dst = n
		}

		row.Total = row.Available + row.Reserved + row.Sold + row.Void
		row.Revenue = t.Price.Mul(decimal.NewFromInt(int64(row.Sold)))
		stats = append(stats, row)
	}
	return stats, nil
}

func (s *InventoryService) track(op, result string) {
	if s.monitor != nil {
		s.monitor.TrackAllocatorOp(op, result)
	}
}

func (s *InventoryService) trackReserve(started time.Time) {
	if s.monitor != nil {
		s.monitor.TrackReserveDuration(s.now().Sub(started))
	}
}
