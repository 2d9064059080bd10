package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the production engine's collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	ProductionTransactions *prometheus.CounterVec
	ProductionDuration     prometheus.Histogram
	ComponentsConsumed     prometheus.Counter
	TriggersOpened         prometheus.Counter
	NoticesDropped         prometheus.Counter
}

// New creates a Metrics instance with its own registry
func New(namespace string) *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: registry,
		ProductionTransactions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "production_transactions_total",
				Help:      "Production transactions by outcome",
			},
			[]string{"outcome"},
		),
		ProductionDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "production_duration_seconds",
				Help:      "Duration of production transactions including lock waits",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
		),
		ComponentsConsumed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "components_consumed_total",
				Help:      "Component consumption records written",
			},
		),
		TriggersOpened: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "procurement_triggers_opened_total",
				Help:      "Procurement triggers opened",
			},
		),
		NoticesDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "post_commit_dropped_total",
				Help:      "Post-commit notices dropped because the dispatch queue was full",
			},
		),
	}

	registry.MustRegister(
		m.ProductionTransactions,
		m.ProductionDuration,
		m.ComponentsConsumed,
		m.TriggersOpened,
		m.NoticesDropped,
	)

	return m
}

// ObserveProduction records one finished transaction. outcome is "committed"
// or the failure kind.
func (m *Metrics) ObserveProduction(outcome string, duration time.Duration, consumed, triggers int) {
	if m == nil {
		return
	}
	m.ProductionTransactions.WithLabelValues(outcome).Inc()
	m.ProductionDuration.Observe(duration.Seconds())
	m.ComponentsConsumed.Add(float64(consumed))
	m.TriggersOpened.Add(float64(triggers))
}

func (m *Metrics) NoticeDropped() {
	if m == nil {
		return
	}
	m.NoticesDropped.Inc()
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
