package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"hotspot-portal/internal/provision"
	"hotspot-portal/models"
	"hotspot-portal/monitoring"
	"hotspot-portal/store"
	"hotspot-portal/status"
)

// SweeperService runs the two background reconciliation loops: stale
// reservation expiry and store/router drift detection. Drift is
// reported to operators, never repaired in place.
type SweeperService struct {
	Store       store.Store
	Inventory   *InventoryService
	Purchases   *PurchaseService
	Provisioner provision.Provisioner
	Remediation *RemediationLog

	monitor       *monitoring.Monitor
	sweepInterval time.Duration
	driftInterval time.Duration
}

func NewSweeperService(
	st store.Store,
	inventory *InventoryService,
	purchases *PurchaseService,
	provisioner provision.Provisioner,
	remediation *RemediationLog,
	monitor *monitoring.Monitor,
	sweepInterval, driftInterval time.Duration,
) *SweeperService {
	return &SweeperService{
		Store:         st,
		Inventory:     inventory,
		Purchases:     purchases,
		Provisioner:   provisioner,
		Remediation:   remediation,
		monitor:       monitor,
		sweepInterval: sweepInterval,
		driftInterval: driftInterval,
	}
}

// Run blocks until ctx is cancelled.
func (s *SweeperService) Run(ctx context.Context) {
	sweep := time.NewTicker(s.sweepInterval)
	drift := time.NewTicker(s.driftInterval)
	defer sweep.Stop()
	defer drift.Stop()

	slog.Info("sweeper started",
		"sweep_interval", s.sweepInterval, "drift_interval", s.driftInterval)

	for {
		select {
		case <-ctx.Done():
			slog.Info("sweeper stopped")
			return
		case <-sweep.C:
			if err := s.SweepOnce(ctx, time.Now()); err != nil {
				slog.Error("reservation sweep", "error", err)
			}
		case <-drift.C:
			if err := s.DetectDrift(ctx); err != nil {
				slog.Error("drift detection", "error", err)
			}
		}
	}
}

// SweepOnce releases reservations past their TTL and expires the
// pending purchases that held them.
func (s *SweeperService) SweepOnce(ctx context.Context, now time.Time) error {
	released, err := s.Inventory.ExpireStale(ctx, now)
	if err != nil {
		return err
	}
	if len(released) == 0 {
		return nil
	}

	for _, ticket := range released {
		pending, err := s.Store.ListPendingByTicket(ctx, ticket.ID)
		if err != nil {
			slog.Error("list pending purchases", "ticket_id", ticket.ID, "error", err)
			continue
		}
		for _, purchase := range pending {
			err := s.Purchases.MarkExpired(ctx, purchase.ID)
			if err != nil && !errors.Is(err, status.ErrStaleState) {
				slog.Error("expire purchase", "purchase_id", purchase.ID, "error", err)
			}
		}
	}

	slog.Info("stale reservations released", "count", len(released))
	return nil
}

// DetectDrift compares sold tickets against the router's active
// credential list in both directions. Findings go to the remediation
// log; the stores are left untouched so an operator decides which side
// is authoritative.
func (s *SweeperService) DetectDrift(ctx context.Context) error {
	active, err := s.Provisioner.ListActiveCredentials(ctx)
	if err != nil {
		return fmt.Errorf("list active credentials: %w", err)
	}

	sold, err := s.Store.ListByState(ctx, models.TicketSold)
	if err != nil {
		return err
	}

	onRouter := make(map[string]bool, len(active))
	for _, username := range active {
		onRouter[username] = true
	}

	soldUsernames := make(map[string]bool, len(sold))
	for _, ticket := range sold {
		soldUsernames[ticket.Username] = true
		if onRouter[ticket.Username] {
			continue
		}
		if s.monitor != nil {
			s.monitor.TrackDrift("missing_on_router")
		}
		s.Remediation.Raise(ctx, models.RemediationItem{
			Kind:     "drift_missing_on_router",
			TicketID: ticket.ID,
			Username: ticket.Username,
			Detail:   "ticket is sold but the router has no active credential for it",
		})
	}

	for _, username := range active {
		if soldUsernames[username] {
			continue
		}
		if s.monitor != nil {
			s.monitor.TrackDrift("unknown_on_router")
		}
		s.Remediation.Raise(ctx, models.RemediationItem{
			Kind:     "drift_unknown_on_router",
			Username: username,
			Detail:   "router has an active credential with no matching sold ticket",
		})
	}

	return nil
}
