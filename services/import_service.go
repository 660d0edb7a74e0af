package services

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"hotspot-portal/models"
	"hotspot-portal/store"
	"hotspot-portal/status"
	"hotspot-portal/utils"
)

// ImportService loads pre-generated ticket batches (Mikhmon CSV
// exports) into the store. One bad row never aborts the batch; every
// failure is reported with its 1-based row number.
type ImportService struct {
	Store store.Store
}

func NewImportService(st store.Store) *ImportService {
	return &ImportService{Store: st}
}

// csvHeader is the template layout handed to operators.
var csvHeader = []string{"Username", "Password", "Profile", "Time Limit", "Data Limit", "Comment"}

// ImportCSV parses and imports an uploaded CSV batch. A leading header
// row matching the template is skipped.
func (s *ImportService) ImportCSV(ctx context.Context, r io.Reader) (*models.ImportResult, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var rows []models.ImportRow
	first := true
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse csv: %w", err)
		}

		if first {
			first = false
			if isHeader(record) {
				continue
			}
		}

		rows = append(rows, rowFromRecord(record))
	}

	return s.ImportRows(ctx, rows), nil
}

func isHeader(record []string) bool {
	if len(record) == 0 {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(record[0]), csvHeader[0])
}

func rowFromRecord(record []string) models.ImportRow {
	get := func(i int) string {
		if i < len(record) {
			return strings.TrimSpace(record[i])
		}
		return ""
	}
	return models.ImportRow{
		Username:  get(0),
		Password:  get(1),
		Profile:   get(2),
		TimeLimit: get(3),
		DataLimit: get(4),
		Comment:   get(5),
	}
}

// ImportRows validates and inserts a parsed batch. Row numbers in the
// result are 1-based over the data rows.
func (s *ImportService) ImportRows(ctx context.Context, rows []models.ImportRow) *models.ImportResult {
	result := &models.ImportResult{Errors: []string{}}

	seq, err := s.Store.NextSeq(ctx)
	if err != nil {
		result.Failed = len(rows)
		result.Errors = append(result.Errors, fmt.Sprintf("import aborted: %v", err))
		return result
	}

	seen := make(map[string]bool)
	var tickets []*models.Ticket
	var ticketRows []int

	for i, row := range rows {
		rowNum := i + 1

		if err := s.validateRow(ctx, row, seen); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("row %d: %v", rowNum, err))
			continue
		}
		seen[row.Username] = true

		ticketType, err := s.resolveType(ctx, row)
		if err != nil {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("row %d: resolve ticket type: %v", rowNum, err))
			continue
		}

		id, err := utils.GenerateCode(8)
		if err != nil {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("row %d: %v", rowNum, err))
			continue
		}

		tickets = append(tickets, &models.Ticket{
			ID:       "tkt_" + strings.ToLower(id),
			Username: row.Username,
			Password: row.Password,
			TypeID:   ticketType.ID,
			State:    models.TicketAvailable,
			Seq:      seq,
			Comment:  row.Comment,
		})
		ticketRows = append(ticketRows, rowNum)
		seq++
	}

	insertErrs := s.Store.BulkInsert(ctx, tickets)
	for i, err := range insertErrs {
		if err != nil {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("row %d: %v", ticketRows[i], err))
			continue
		}
		result.Imported++
	}

	slog.Info("ticket batch imported",
		"imported", result.Imported, "failed", result.Failed)
	return result
}

func (s *ImportService) validateRow(ctx context.Context, row models.ImportRow, seen map[string]bool) error {
	if row.Username == "" {
		return status.ErrEmptyUsername
	}
	if row.Password == "" {
		return status.ErrEmptyPassword
	}
	if row.Profile == "" {
		return errors.New("import: profile is empty")
	}
	if seen[row.Username] {
		return status.ErrDuplicateUsername
	}

	// Uniqueness holds across all prior imports, not just this batch.
	_, err := s.Store.GetTicketByUsername(ctx, row.Username)
	if err == nil {
		return status.ErrDuplicateUsername
	}
	if !errors.Is(err, status.ErrTicketNotFound) {
		return err
	}
	return nil
}

// resolveType finds the TicketType matching the row's configuration,
// auto-creating a zero-priced one for configurations never seen
// before. An operator sets the price afterwards.
func (s *ImportService) resolveType(ctx context.Context, row models.ImportRow) (*models.TicketType, error) {
	t, err := s.Store.FindTypeByConfig(ctx, row.Profile, row.TimeLimit, row.DataLimit)
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, status.ErrTypeNotFound) {
		return nil, err
	}

	id, err := utils.GenerateCode(8)
	if err != nil {
		return nil, err
	}

	name := row.Profile
	if row.TimeLimit != "" {
		name += " " + row.TimeLimit
	}
	if row.DataLimit != "" {
		name += " " + row.DataLimit
	}

	t = &models.TicketType{
		ID:        "typ_" + strings.ToLower(id),
		Name:      name,
		Profile:   row.Profile,
		TimeLimit: row.TimeLimit,
		DataLimit: row.DataLimit,
		Price:     decimal.Zero,
		IsActive:  true,
	}
	if err := s.Store.CreateType(ctx, t); err != nil {
		return nil, err
	}

	slog.Info("ticket type auto-created", "type_id", t.ID, "name", t.Name)
	return t, nil
}
