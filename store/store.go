// Package store is the durable record of tickets, ticket types and
// purchases. The only ticket mutation primitive is CompareAndSetState;
// the allocator builds every lifecycle transition on top of it.
package store

import (
	"context"
	"time"

	"hotspot-portal/models"
)

// TransitionFields is the full set of ownership fields applied by a
// compare-and-set. Callers pass the values that must hold after the
// transition; zero values clear a field.
type TransitionFields struct {
	ReservedBy           string
	ReservedAt           *time.Time
	ReservationExpiresAt *time.Time
	SoldTo               string
	SoldAt               *time.Time
}

// Store is the persistence contract shared by the dbx implementation
// and the in-memory one used in tests and development mode.
type Store interface {
	// Tickets
	GetTicket(ctx context.Context, id string) (*models.Ticket, error)
	GetTicketByUsername(ctx context.Context, username string) (*models.Ticket, error)

	// ListByTypeAndState returns tickets ordered by import sequence,
	// oldest first. The ordering is the tie-break for which ticket is
	// sold first.
	ListByTypeAndState(ctx context.Context, typeID, state string) ([]*models.Ticket, error)
	ListByState(ctx context.Context, state string) ([]*models.Ticket, error)
	CountByTypeAndState(ctx context.Context, typeID, state string) (int, error)

	// CompareAndSetState atomically moves a ticket from expected to
	// next, applying fields. Returns status.ErrStaleState when the
	// current state does not match expected, status.ErrTicketNotFound
	// when the id is unknown.
	CompareAndSetState(ctx context.Context, id, expected, next string, fields TransitionFields) error

	// BulkInsert inserts tickets and reports a per-row outcome; errors
	// are positional, nil meaning the row was inserted.
	BulkInsert(ctx context.Context, tickets []*models.Ticket) []error

	// NextSeq returns the next unused import sequence number.
	NextSeq(ctx context.Context) (int64, error)

	// Ticket types
	GetType(ctx context.Context, id string) (*models.TicketType, error)
	FindTypeByConfig(ctx context.Context, profile, timeLimit, dataLimit string) (*models.TicketType, error)
	CreateType(ctx context.Context, t *models.TicketType) error
	ListActiveTypes(ctx context.Context) ([]*models.TicketType, error)
	ListTypes(ctx context.Context) ([]*models.TicketType, error)

	// Purchases
	CreatePurchase(ctx context.Context, p *models.Purchase) error
	GetPurchase(ctx context.Context, id string) (*models.Purchase, error)

	// CompareAndSetOutcome finalizes a purchase only while its outcome
	// still matches expected; duplicate payment callbacks lose this
	// race and see status.ErrStaleState.
	CompareAndSetOutcome(ctx context.Context, id, expected string, apply func(p *models.Purchase)) error

	// ListPendingByTicket returns pending purchases bound to a ticket;
	// used by the sweeper to expire abandoned checkouts.
	ListPendingByTicket(ctx context.Context, ticketID string) ([]*models.Purchase, error)
}
