package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Ticket states. A ticket is in exactly one state; every transition goes
// through the store's compare-and-set.
const (
	TicketAvailable = "available"
	TicketReserved  = "reserved"
	TicketSold      = "sold"
	TicketVoid      = "void"
)

// Ticket is one pre-generated hotspot credential, sellable once.
type Ticket struct {
	ID       string `db:"id" json:"id"`
	Username string `db:"username" json:"username"`
	Password string `db:"password" json:"password"`
	TypeID   string `db:"type_id" json:"type_id"`
	State    string `db:"state" json:"state"`

	// Seq is the import sequence. Allocation consumes a batch oldest
	// sequence first.
	Seq int64 `db:"seq" json:"seq"`

	ReservedBy           string     `db:"reserved_by" json:"reserved_by,omitempty"`
	ReservedAt           *time.Time `db:"reserved_at" json:"reserved_at,omitempty"`
	ReservationExpiresAt *time.Time `db:"reservation_expires_at" json:"reservation_expires_at,omitempty"`

	SoldTo string     `db:"sold_to" json:"sold_to,omitempty"`
	SoldAt *time.Time `db:"sold_at" json:"sold_at,omitempty"`

	Comment string `db:"comment" json:"comment,omitempty"`
}

// ReservedFor reports whether the ticket holds a live reservation for
// the given buyer at the given instant.
func (t *Ticket) ReservedFor(buyerRef string, now time.Time) bool {
	if t.State != TicketReserved || t.ReservedBy != buyerRef {
		return false
	}
	return t.ReservationExpiresAt != nil && now.Before(*t.ReservationExpiresAt)
}

// TicketType is a sellable configuration: a MikroTik hotspot profile
// plus optional time/data limits and a price.
type TicketType struct {
	ID          string          `db:"id" json:"id"`
	Name        string          `db:"name" json:"name"`
	Description string          `db:"description" json:"description,omitempty"`
	Profile     string          `db:"profile" json:"profile"`
	TimeLimit   string          `db:"time_limit" json:"time_limit,omitempty"`
	DataLimit   string          `db:"data_limit" json:"data_limit,omitempty"`
	Price       decimal.Decimal `db:"price" json:"price"`
	IsActive    bool            `db:"is_active" json:"is_active"`

	// AvailableCount is derived from ticket states, never stored.
	AvailableCount int `db:"-" json:"available_count"`
}

// TypeStats is one row of the admin inventory dashboard.
type TypeStats struct {
	TypeID    string          `json:"type_id"`
	Name      string          `json:"name"`
	Total     int             `json:"total"`
	Available int             `json:"available"`
	Reserved  int             `json:"reserved"`
	Sold      int             `json:"sold"`
	Void      int             `json:"void"`
	Revenue   decimal.Decimal `json:"revenue"`
}
