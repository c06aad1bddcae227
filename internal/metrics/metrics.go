// Package metrics exposes simulation counters in Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/talgya/contagion/internal/engine"
)

// Metrics holds the service collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	DaysAdvanced    prometheus.Counter
	Initializations prometheus.Counter
	Transitions     *prometheus.CounterVec
	Sessions        prometheus.Gauge
	StepSeconds     prometheus.Histogram
	LedgerErrors    prometheus.Counter
	Population      *prometheus.GaugeVec
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		DaysAdvanced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "contagion_days_advanced_total",
			Help: "Simulation days advanced across all sessions.",
		}),
		Initializations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "contagion_initializations_total",
			Help: "Simulations initialized.",
		}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "contagion_transitions_total",
			Help: "Agent state transitions by kind.",
		}, []string{"transition"}),
		Sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "contagion_sessions",
			Help: "Live sessions.",
		}),
		StepSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "contagion_day_step_seconds",
			Help:    "Wall time of one simulated day.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
		LedgerErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "contagion_ledger_errors_total",
			Help: "Failed ledger writes.",
		}),
		Population: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "contagion_population",
			Help: "Agents per health state in the most recently advanced session.",
		}, []string{"state"}),
	}
	m.registry.MustRegister(
		m.DaysAdvanced, m.Initializations, m.Transitions, m.Sessions,
		m.StepSeconds, m.LedgerErrors, m.Population,
		collectors.NewGoCollector(),
	)
	return m
}

// Handler serves the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveInitialize records a new run.
func (m *Metrics) ObserveInitialize(st engine.State) {
	m.Initializations.Inc()
	m.setPopulation(st.Stats)
}

// ObserveDay records one advanced day and how long it took.
func (m *Metrics) ObserveDay(r engine.DayReport, took time.Duration) {
	m.DaysAdvanced.Inc()
	m.StepSeconds.Observe(took.Seconds())
	m.Transitions.WithLabelValues("infection").Add(float64(r.NewInfections))
	m.Transitions.WithLabelValues("recovery").Add(float64(r.Recoveries))
	m.Transitions.WithLabelValues("death").Add(float64(r.Deaths))
	m.setPopulation(r.Stats)
}

func (m *Metrics) setPopulation(s engine.Stats) {
	m.Population.WithLabelValues("S").Set(float64(s.S))
	m.Population.WithLabelValues("I").Set(float64(s.I))
	m.Population.WithLabelValues("R").Set(float64(s.R))
	m.Population.WithLabelValues("D").Set(float64(s.D))
}
