package monitoring

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"hotspot-portal/models"
	"hotspot-portal/store"
)

var (
	ticketsByState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tickets_state_total",
			Help: "Current ticket count per type and state",
		},
		[]string{"type_id", "state"},
	)

	allocatorOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "allocator_operations_total",
			Help: "Total allocator operations",
		},
		[]string{"operation", "result"},
	)

	purchaseOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "purchase_outcomes_total",
			Help: "Total finalized purchases per outcome",
		},
		[]string{"outcome", "payment_method"},
	)

	provisioningFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "provisioning_failures_total",
			Help: "Provisioning attempts that exhausted retries",
		},
	)

	driftDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drift_detected_total",
			Help: "Store/provisioner drift findings per kind",
		},
		[]string{"kind"},
	)

	reserveDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "reserve_duration_seconds",
			Help:    "Duration of reserve calls including CAS retries",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
	)
)

// Monitor polls the store periodically and exports the per-type state
// gauges; hot-path counters are pushed by the services.
type Monitor struct {
	store store.Store
}

func NewMonitor(st store.Store) *Monitor {
	return &Monitor{store: st}
}

// Run refreshes the inventory gauges until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.collectInventory(ctx)
		}
	}
}

func (m *Monitor) collectInventory(ctx context.Context) {
	types, err := m.store.ListTypes(ctx)
	if err != nil {
		slog.Error("metrics: list types", "error", err)
		return
	}

	states := []string{models.TicketAvailable, models.TicketReserved, models.TicketSold, models.TicketVoid}
	for _, t := range types {
		for _, state := range states {
			n, err := m.store.CountByTypeAndState(ctx, t.ID, state)
			if err != nil {
				continue
			}
			ticketsByState.WithLabelValues(t.ID, state).Set(float64(n))
		}
	}
}

// TrackAllocatorOp records one allocator call outcome.
func (m *Monitor) TrackAllocatorOp(operation, result string) {
	allocatorOps.WithLabelValues(operation, result).Inc()
}

// TrackPurchaseOutcome records a finalized purchase.
func (m *Monitor) TrackPurchaseOutcome(outcome, method string) {
	purchaseOutcomes.WithLabelValues(outcome, method).Inc()
}

// TrackProvisioningFailure records a provisioning attempt that gave up.
func (m *Monitor) TrackProvisioningFailure() {
	provisioningFailures.Inc()
}

// TrackDrift records one drift finding.
func (m *Monitor) TrackDrift(kind string) {
	driftDetected.WithLabelValues(kind).Inc()
}

// TrackReserveDuration records how long a reserve call took.
func (m *Monitor) TrackReserveDuration(d time.Duration) {
	reserveDuration.Observe(d.Seconds())
}
