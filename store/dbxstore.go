package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/pocketbase/dbx"
	"github.com/shopspring/decimal"

	"hotspot-portal/models"
	"hotspot-portal/status"
)

// dateLayout matches the PocketBase datetime text format.
const dateLayout = "2006-01-02 15:04:05.000Z"

// DBXStore persists tickets, types and purchases through the
// application database. Atomicity of CompareAndSetState comes from the
// conditional UPDATE: the WHERE clause carries the expected state and a
// zero rows-affected result means the caller lost the race.
type DBXStore struct {
	db dbx.Builder
}

func NewDBXStore(db dbx.Builder) *DBXStore {
	return &DBXStore{db: db}
}

type ticketRow struct {
	ID        string `db:"id"`
	Username  string `db:"username"`
	Password  string `db:"password"`
	TypeID    string `db:"type_id"`
	State     string `db:"state"`
	Seq       int64  `db:"seq"`
	Reserved  string `db:"reserved_by"`
	ResAt     string `db:"reserved_at"`
	ResExpAt  string `db:"reservation_expires_at"`
	SoldTo    string `db:"sold_to"`
	SoldAtStr string `db:"sold_at"`
	Comment   string `db:"comment"`
}

func (r *ticketRow) toModel() *models.Ticket {
	return &models.Ticket{
		ID:                   r.ID,
		Username:             r.Username,
		Password:             r.Password,
		TypeID:               r.TypeID,
		State:                r.State,
		Seq:                  r.Seq,
		ReservedBy:           r.Reserved,
		ReservedAt:           parseDate(r.ResAt),
		ReservationExpiresAt: parseDate(r.ResExpAt),
		SoldTo:               r.SoldTo,
		SoldAt:               parseDate(r.SoldAtStr),
		Comment:              r.Comment,
	}
}

func parseDate(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return nil
	}
	return &t
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(dateLayout)
}

var ticketCols = []string{
	"id", "username", "password", "type_id", "state", "seq",
	"reserved_by", "reserved_at", "reservation_expires_at",
	"sold_to", "sold_at", "comment",
}

func (s *DBXStore) GetTicket(ctx context.Context, id string) (*models.Ticket, error) {
	var row ticketRow
	err := s.db.Select(ticketCols...).
		From("tickets").
		Where(dbx.HashExp{"id": id}).
		WithContext(ctx).
		One(&row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, status.ErrTicketNotFound
		}
		return nil, err
	}
	return row.toModel(), nil
}

func (s *DBXStore) GetTicketByUsername(ctx context.Context, username string) (*models.Ticket, error) {
	var row ticketRow
	err := s.db.Select(ticketCols...).
		From("tickets").
		Where(dbx.HashExp{"username": username}).
		WithContext(ctx).
		One(&row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, status.ErrTicketNotFound
		}
		return nil, err
	}
	return row.toModel(), nil
}

func (s *DBXStore) ListByTypeAndState(ctx context.Context, typeID, state string) ([]*models.Ticket, error) {
	var rows []ticketRow
	err := s.db.Select(ticketCols...).
		From("tickets").
		Where(dbx.HashExp{"type_id": typeID, "state": state}).
		OrderBy("seq ASC").
		WithContext(ctx).
		All(&rows)
	if err != nil {
		return nil, err
	}
	out := make([]*models.Ticket, len(rows))
	for i := range rows {
		out[i] = rows[i].toModel()
	}
	return out, nil
}

func (s *DBXStore) ListByState(ctx context.Context, state string) ([]*models.Ticket, error) {
	var rows []ticketRow
	err := s.db.Select(ticketCols...).
		From("tickets").
		Where(dbx.HashExp{"state": state}).
		OrderBy("seq ASC").
		WithContext(ctx).
		All(&rows)
	if err != nil {
		return nil, err
	}
	out := make([]*models.Ticket, len(rows))
	for i := range rows {
		out[i] = rows[i].toModel()
	}
	return out, nil
}

func (s *DBXStore) CountByTypeAndState(ctx context.Context, typeID, state string) (int, error) {
	var n int
	err := s.db.Select("COUNT(*)").
		From("tickets").
		Where(dbx.HashExp{"type_id": typeID, "state": state}).
		WithContext(ctx).
		Row(&n)
	return n, err
}

func (s *DBXStore) CompareAndSetState(ctx context.Context, id, expected, next string, fields TransitionFields) error {
	res, err := s.db.Update("tickets", dbx.Params{
		"state":                  next,
		"reserved_by":            fields.ReservedBy,
		"reserved_at":            formatDate(fields.ReservedAt),
		"reservation_expires_at": formatDate(fields.ReservationExpiresAt),
		"sold_to":                fields.SoldTo,
		"sold_at":                formatDate(fields.SoldAt),
	}, dbx.HashExp{"id": id, "state": expected}).
		WithContext(ctx).
		Execute()
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	// Zero rows updated: either the id is unknown or the state moved
	// under us. Re-read to tell the two apart.
	if _, err := s.GetTicket(ctx, id); err != nil {
		return err
	}
	return status.ErrStaleState
}

func (s *DBXStore) BulkInsert(ctx context.Context, tickets []*models.Ticket) []error {
	errs := make([]error, len(tickets))
	for i, t := range tickets {
		_, err := s.db.Insert("tickets", dbx.Params{
			"id":                     t.ID,
			"username":               t.Username,
			"password":               t.Password,
			"type_id":                t.TypeID,
			"state":                  t.State,
			"seq":                    t.Seq,
			"reserved_by":            "",
			"reserved_at":            "",
			"reservation_expires_at": "",
			"sold_to":                "",
			"sold_at":                "",
			"comment":                t.Comment,
		}).WithContext(ctx).Execute()
		if err != nil {
			if strings.Contains(strings.ToUpper(err.Error()), "UNIQUE") {
				errs[i] = status.ErrDuplicateUsername
			} else {
				errs[i] = err
			}
		}
	}
	return errs
}

func (s *DBXStore) NextSeq(ctx context.Context) (int64, error) {
	var max sql.NullInt64
	err := s.db.Select("COALESCE(MAX(seq), 0)").
		From("tickets").
		WithContext(ctx).
		Row(&max)
	if err != nil {
		return 0, err
	}
	return max.Int64 + 1, nil
}

type typeRow struct {
	ID          string `db:"id"`
	Name        string `db:"name"`
	Description string `db:"description"`
	Profile     string `db:"profile"`
	TimeLimit   string `db:"time_limit"`
	DataLimit   string `db:"data_limit"`
	Price       string `db:"price"`
	IsActive    bool   `db:"is_active"`
}

func (r *typeRow) toModel() *models.TicketType {
	price, err := decimal.NewFromString(r.Price)
	if err != nil {
		price = decimal.Zero
	}
	return &models.TicketType{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		Profile:     r.Profile,
		TimeLimit:   r.TimeLimit,
		DataLimit:   r.DataLimit,
		Price:       price,
		IsActive:    r.IsActive,
	}
}

var typeCols = []string{
	"id", "name", "description", "profile", "time_limit", "data_limit", "price", "is_active",
}

func (s *DBXStore) GetType(ctx context.Context, id string) (*models.TicketType, error) {
	var row typeRow
	err := s.db.Select(typeCols...).
		From("ticket_types").
		Where(dbx.HashExp{"id": id}).
		WithContext(ctx).
		One(&row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, status.ErrTypeNotFound
		}
		return nil, err
	}
	return row.toModel(), nil
}

func (s *DBXStore) FindTypeByConfig(ctx context.Context, profile, timeLimit, dataLimit string) (*models.TicketType, error) {
	var row typeRow
	err := s.db.Select(typeCols...).
		From("ticket_types").
		Where(dbx.HashExp{"profile": profile, "time_limit": timeLimit, "data_limit": dataLimit}).
		WithContext(ctx).
		One(&row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, status.ErrTypeNotFound
		}
		return nil, err
	}
	return row.toModel(), nil
}

func (s *DBXStore) CreateType(ctx context.Context, t *models.TicketType) error {
	_, err := s.db.Insert("ticket_types", dbx.Params{
		"id":          t.ID,
		"name":        t.Name,
		"description": t.Description,
		"profile":     t.Profile,
		"time_limit":  t.TimeLimit,
		"data_limit":  t.DataLimit,
		"price":       t.Price.String(),
		"is_active":   t.IsActive,
	}).WithContext(ctx).Execute()
	return err
}

func (s *DBXStore) ListActiveTypes(ctx context.Context) ([]*models.TicketType, error) {
	return s.listTypes(ctx, dbx.HashExp{"is_active": true})
}

func (s *DBXStore) ListTypes(ctx context.Context) ([]*models.TicketType, error) {
	return s.listTypes(ctx, nil)
}

func (s *DBXStore) listTypes(ctx context.Context, cond dbx.Expression) ([]*models.TicketType, error) {
	q := s.db.Select(typeCols...).From("ticket_types").OrderBy("name ASC")
	if cond != nil {
		q = q.Where(cond)
	}
	var rows []typeRow
	if err := q.WithContext(ctx).All(&rows); err != nil {
		return nil, err
	}
	out := make([]*models.TicketType, len(rows))
	for i := range rows {
		out[i] = rows[i].toModel()
	}
	return out, nil
}

type purchaseRow struct {
	ID            string `db:"id"`
	TypeID        string `db:"type_id"`
	BuyerRef      string `db:"buyer_ref"`
	BuyerContact  string `db:"buyer_contact"`
	PaymentMethod string `db:"payment_method"`
	PaymentRef    string `db:"payment_ref"`
	TicketID      string `db:"ticket_id"`
	Amount        string `db:"amount"`
	Outcome       string `db:"outcome"`
	FailReason    string `db:"fail_reason"`
	CreatedAt     string `db:"created_at"`
	CompletedAt   string `db:"completed_at"`
}

func (r *purchaseRow) toModel() *models.Purchase {
	amount, err := decimal.NewFromString(r.Amount)
	if err != nil {
		amount = decimal.Zero
	}
	var created time.Time
	if t := parseDate(r.CreatedAt); t != nil {
		created = *t
	}
	return &models.Purchase{
		ID:            r.ID,
		TypeID:        r.TypeID,
		BuyerRef:      r.BuyerRef,
		BuyerContact:  r.BuyerContact,
		PaymentMethod: r.PaymentMethod,
		PaymentRef:    r.PaymentRef,
		TicketID:      r.TicketID,
		Amount:        amount,
		Outcome:       r.Outcome,
		FailReason:    r.FailReason,
		CreatedAt:     created,
		CompletedAt:   parseDate(r.CompletedAt),
	}
}

var purchaseCols = []string{
	"id", "type_id", "buyer_ref", "buyer_contact", "payment_method",
	"payment_ref", "ticket_id", "amount", "outcome", "fail_reason",
	"created_at", "completed_at",
}

func (s *DBXStore) CreatePurchase(ctx context.Context, p *models.Purchase) error {
	createdAt := p.CreatedAt
	_, err := s.db.Insert("purchases", dbx.Params{
		"id":             p.ID,
		"type_id":        p.TypeID,
		"buyer_ref":      p.BuyerRef,
		"buyer_contact":  p.BuyerContact,
		"payment_method": p.PaymentMethod,
		"payment_ref":    p.PaymentRef,
		"ticket_id":      p.TicketID,
		"amount":         p.Amount.String(),
		"outcome":        p.Outcome,
		"fail_reason":    p.FailReason,
		"created_at":     formatDate(&createdAt),
		"completed_at":   formatDate(p.CompletedAt),
	}).WithContext(ctx).Execute()
	return err
}

func (s *DBXStore) GetPurchase(ctx context.Context, id string) (*models.Purchase, error) {
	var row purchaseRow
	err := s.db.Select(purchaseCols...).
		From("purchases").
		Where(dbx.HashExp{"id": id}).
		WithContext(ctx).
		One(&row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, status.ErrPurchaseNotFound
		}
		return nil, err
	}
	return row.toModel(), nil
}

func (s *DBXStore) CompareAndSetOutcome(ctx context.Context, id, expected string, apply func(p *models.Purchase)) error {
	p, err := s.GetPurchase(ctx, id)
	if err != nil {
		return err
	}
	if p.Outcome != expected {
		return status.ErrStaleState
	}

	apply(p)

	res, err := s.db.Update("purchases", dbx.Params{
		"payment_ref":  p.PaymentRef,
		"ticket_id":    p.TicketID,
		"outcome":      p.Outcome,
		"fail_reason":  p.FailReason,
		"completed_at": formatDate(p.CompletedAt),
	}, dbx.HashExp{"id": id, "outcome": expected}).
		WithContext(ctx).
		Execute()
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return status.ErrStaleState
	}
	return nil
}

func (s *DBXStore) ListPendingByTicket(ctx context.Context, ticketID string) ([]*models.Purchase, error) {
	var rows []purchaseRow
	err := s.db.Select(purchaseCols...).
		From("purchases").
		Where(dbx.HashExp{"ticket_id": ticketID, "outcome": models.PurchasePending}).
		WithContext(ctx).
		All(&rows)
	if err != nil {
		return nil, err
	}
	out := make([]*models.Purchase, len(rows))
	for i := range rows {
		out[i] = rows[i].toModel()
	}
	return out, nil
}
