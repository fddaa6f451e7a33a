// Package metrics holds the prometheus collectors of the ledger and the
// settlement engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	LedgerEntries      *prometheus.CounterVec
	SettlementDuration prometheus.Histogram
	PrizesPaid         prometheus.Counter
	RefundFailures     prometheus.Counter
	IntegrityMismatch  *prometheus.CounterVec
	OutboxPublished    *prometheus.CounterVec
}

// New creates the collectors and registers them on reg when it is not nil.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		LedgerEntries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_entries_total", Help: "ledger entries posted",
		}, []string{"category", "direction"}),
		SettlementDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tournament_settlement_seconds",
			Help:    "duration of tournament finalization",
			Buckets: prometheus.DefBuckets,
		}),
		PrizesPaid: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tournament_prizes_paid_total", Help: "prize credits posted",
		}),
		RefundFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tournament_refund_failures_total", Help: "entry refunds that failed",
		}),
		IntegrityMismatch: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tournament_prize_pool_discrepancies_total", Help: "prize pool integrity findings",
		}, []string{"status"}),
		OutboxPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "outbox_events_total", Help: "outbox events handled by the poller",
		}, []string{"result"}),
	}
	if reg != nil {
		reg.MustRegister(m.LedgerEntries, m.SettlementDuration, m.PrizesPaid,
			m.RefundFailures, m.IntegrityMismatch, m.OutboxPublished)
	}
	return m
}

// The helpers below are safe on a nil *Metrics.

func (m *Metrics) EntryPosted(category, direction string) {
	if m != nil {
		m.LedgerEntries.WithLabelValues(category, direction).Inc()
	}
}

func (m *Metrics) ObserveSettlement(start time.Time) {
	if m != nil {
		m.SettlementDuration.Observe(time.Since(start).Seconds())
	}
}

func (m *Metrics) PrizePaid() {
	if m != nil {
		m.PrizesPaid.Inc()
	}
}

func (m *Metrics) RefundFailed() {
	if m != nil {
		m.RefundFailures.Inc()
	}
}

func (m *Metrics) Integrity(status string) {
	if m != nil {
		m.IntegrityMismatch.WithLabelValues(status).Inc()
	}
}

func (m *Metrics) Outbox(result string) {
	if m != nil {
		m.OutboxPublished.WithLabelValues(result).Inc()
	}
}
