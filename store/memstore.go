package store

import (
	"context"
	"sort"
	"sync"

	"hotspot-portal/models"
	"hotspot-portal/status"
)

// MemStore is an in-memory Store with the same compare-and-set
// semantics as the dbx implementation. It backs unit tests and
// development mode runs without a database.
type MemStore struct {
	mu        sync.Mutex
	tickets   map[string]*models.Ticket
	types     map[string]*models.TicketType
	purchases map[string]*models.Purchase
	seq       int64
}

func NewMemStore() *MemStore {
	return &MemStore{
		tickets:   make(map[string]*models.Ticket),
		types:     make(map[string]*models.TicketType),
		purchases: make(map[string]*models.Purchase),
	}
}

func (s *MemStore) GetTicket(_ context.Context, id string) (*models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tickets[id]
	if !ok {
		return nil, status.ErrTicketNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *MemStore) GetTicketByUsername(_ context.Context, username string) (*models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.tickets {
		if t.Username == username {
			cp := *t
			return &cp, nil
		}
	}
	return nil, status.ErrTicketNotFound
}

func (s *MemStore) ListByTypeAndState(_ context.Context, typeID, state string) ([]*models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.Ticket
	for _, t := range s.tickets {
		if t.TypeID == typeID && t.State == state {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (s *MemStore) ListByState(_ context.Context, state string) ([]*models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.Ticket
	for _, t := range s.tickets {
		if t.State == state {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (s *MemStore) CountByTypeAndState(_ context.Context, typeID, state string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, t := range s.tickets {
		if t.TypeID == typeID && t.State == state {
			n++
		}
	}
	return n, nil
}

func (s *MemStore) CompareAndSetState(_ context.Context, id, expected, next string, fields TransitionFields) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tickets[id]
	if !ok {
		return status.ErrTicketNotFound
	}
	if t.State != expected {
		return status.ErrStaleState
	}

	t.State = next
	t.ReservedBy = fields.ReservedBy
	t.ReservedAt = fields.ReservedAt
	t.ReservationExpiresAt = fields.ReservationExpiresAt
	t.SoldTo = fields.SoldTo
	t.SoldAt = fields.SoldAt
	return nil
}

func (s *MemStore) BulkInsert(_ context.Context, tickets []*models.Ticket) []error {
	s.mu.Lock()
	defer s.mu.Unlock()

	errs := make([]error, len(tickets))
	for i, t := range tickets {
		dup := false
		for _, existing := range s.tickets {
			if existing.Username == t.Username {
				dup = true
				break
			}
		}
		if dup {
			errs[i] = status.ErrDuplicateUsername
			continue
		}
		cp := *t
		s.tickets[t.ID] = &cp
		if t.Seq > s.seq {
			s.seq = t.Seq
		}
	}
	return errs
}

func (s *MemStore) NextSeq(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq + 1, nil
}

func (s *MemStore) GetType(_ context.Context, id string) (*models.TicketType, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.types[id]
	if !ok {
		return nil, status.ErrTypeNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *MemStore) FindTypeByConfig(_ context.Context, profile, timeLimit, dataLimit string) (*models.TicketType, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.types {
		if t.Profile == profile && t.TimeLimit == timeLimit && t.DataLimit == dataLimit {
			cp := *t
			return &cp, nil
		}
	}
	return nil, status.ErrTypeNotFound
}

func (s *MemStore) CreateType(_ context.Context, t *models.TicketType) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *t
	s.types[t.ID] = &cp
	return nil
}

func (s *MemStore) ListActiveTypes(_ context.Context) ([]*models.TicketType, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.TicketType
	for _, t := range s.types {
		if t.IsActive {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemStore) ListTypes(_ context.Context) ([]*models.TicketType, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.TicketType
	for _, t := range s.types {
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemStore) CreatePurchase(_ context.Context, p *models.Purchase) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *p
	s.purchases[p.ID] = &cp
	return nil
}

func (s *MemStore) GetPurchase(_ context.Context, id string) (*models.Purchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.purchases[id]
	if !ok {
		return nil, status.ErrPurchaseNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *MemStore) CompareAndSetOutcome(_ context.Context, id, expected string, apply func(p *models.Purchase)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.purchases[id]
	if !ok {
		return status.ErrPurchaseNotFound
	}
	if p.Outcome != expected {
		return status.ErrStaleState
	}
	apply(p)
	return nil
}

func (s *MemStore) ListPendingByTicket(_ context.Context, ticketID string) ([]*models.Purchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.Purchase
	for _, p := range s.purchases {
		if p.TicketID == ticketID && p.Outcome == models.PurchasePending {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}
