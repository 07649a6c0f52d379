// Package metrics exposes the engine's Prometheus collectors.
//
// Every engine owns a registry, so tests and embedded engines never share
// counters. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Statement kinds.
const (
	KindContent = "content"
	KindCount   = "count"
	KindBulk    = "bulk"
	KindLoad    = "load"
)

// Metrics holds the collectors of one engine.
type Metrics struct {
	registry *prometheus.Registry

	// Statements counts executed statements by kind.
	Statements *prometheus.CounterVec
	// SecondaryFetches counts deferred relation loads by target entity.
	SecondaryFetches *prometheus.CounterVec
	// BulkRows counts rows affected by bulk statements.
	BulkRows prometheus.Counter
	// CallDuration is the latency of repository calls by operation.
	CallDuration *prometheus.HistogramVec
}

// New creates collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		Statements: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "repoql_statements_total",
				Help: "Total number of statements executed",
			},
			[]string{"kind"},
		),
		SecondaryFetches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "repoql_secondary_fetches_total",
				Help: "Total number of deferred relation loads",
			},
			[]string{"entity"},
		),
		BulkRows: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "repoql_bulk_rows_total",
				Help: "Total number of rows affected by bulk statements",
			},
		),
		CallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "repoql_call_duration_seconds",
				Help:    "Repository call latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the HTTP handler exposing the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Statement records one executed statement.
func (m *Metrics) Statement(kind string) {
	if m == nil {
		return
	}
	m.Statements.WithLabelValues(kind).Inc()
}

// SecondaryFetch records one deferred relation load.
func (m *Metrics) SecondaryFetch(entity string) {
	if m == nil {
		return
	}
	m.SecondaryFetches.WithLabelValues(entity).Inc()
}

// Bulk records the affected row count of a bulk statement.
func (m *Metrics) Bulk(rows int64) {
	if m == nil || rows <= 0 {
		return
	}
	m.BulkRows.Add(float64(rows))
}

// ObserveCall records the latency of a repository call.
func (m *Metrics) ObserveCall(operation string, d time.Duration) {
	if m == nil {
		return
	}
	m.CallDuration.WithLabelValues(operation).Observe(d.Seconds())
}
