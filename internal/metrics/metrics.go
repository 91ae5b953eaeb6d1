// Package metrics holds the Prometheus collectors exported on
// /metrics. A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Product sync outcomes used as the "result" label.
const (
	ResultCreated = "created"
	ResultUpdated = "updated"
	ResultSkipped = "skipped"
	ResultFailed  = "failed"
)

// Metrics groups the collectors of one process.
type Metrics struct {
	registry        *prometheus.Registry
	productsSynced  *prometheus.CounterVec
	syncErrors      prometheus.Counter
	pageDuration    prometheus.Histogram
	stockLevels     *prometheus.CounterVec
	movements       *prometheus.CounterVec
	reconcileErrors prometheus.Counter
}

// New creates the collectors on a fresh registry that also
// carries the Go runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		productsSynced: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stocksync_products_synced_total",
				Help: "Remote products processed by page sync, by result.",
			},
			[]string{"result"},
		),
		syncErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stocksync_sync_errors_total",
			Help: "Sync calls that failed as a whole.",
		}),
		pageDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "stocksync_page_duration_seconds",
			Help:    "Wall time of one page sync, remote fetch included.",
			Buckets: prometheus.DefBuckets,
		}),
		stockLevels: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stocksync_stock_levels_total",
				Help: "Stock-level entries applied by stock sync, by result.",
			},
			[]string{"result"},
		),
		movements: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stocksync_movements_total",
				Help: "Movements posted to Stock, by type and result.",
			},
			[]string{"type", "result"},
		),
		reconcileErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stocksync_reconcile_errors_total",
			Help: "Movements posted remotely whose local mirroring failed.",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(
			collectors.ProcessCollectorOpts{},
		),
		m.productsSynced,
		m.syncErrors,
		m.pageDuration,
		m.stockLevels,
		m.movements,
		m.reconcileErrors,
	)
	return m
}

// Registry returns the registry to expose over HTTP.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ProductSynced counts one processed product.
func (m *Metrics) ProductSynced(result string) {
	if m == nil {
		return
	}
	m.productsSynced.WithLabelValues(result).Inc()
}

// SyncFailed counts a sync call that returned an error.
func (m *Metrics) SyncFailed() {
	if m == nil {
		return
	}
	m.syncErrors.Inc()
}

// ObservePage records the duration of one page sync.
func (m *Metrics) ObservePage(seconds float64) {
	if m == nil {
		return
	}
	m.pageDuration.Observe(seconds)
}

// StockLevelApplied counts one stock-level entry.
func (m *Metrics) StockLevelApplied(ok bool) {
	if m == nil {
		return
	}
	result := ResultUpdated
	if !ok {
		result = ResultFailed
	}
	m.stockLevels.WithLabelValues(result).Inc()
}

// MovementPosted counts one movement attempt.
func (m *Metrics) MovementPosted(movementType string, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.movements.WithLabelValues(movementType, result).Inc()
}

// ReconcileFailed counts a remote movement left unmirrored.
func (m *Metrics) ReconcileFailed() {
	if m == nil {
		return
	}
	m.reconcileErrors.Inc()
}
