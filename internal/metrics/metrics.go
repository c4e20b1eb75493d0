package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/turntabl-delinuxist/Virtual-Machine/internal/requestengine"
)

// Metrics exposes request outcomes as Prometheus series on its own registry.
type Metrics struct {
	registry    *prometheus.Registry
	requests    *prometheus.CounterVec
	failedToday prometheus.Gauge
	rollovers   prometheus.Counter
}

// New creates the collectors under namespace (default "vmorg") and registers
// them together with the Go and process collectors.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "vmorg"
	}
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "build_requests_total",
			Help:      "Machine requests by result and machine kind.",
		}, []string{"result", "kind"}),
		failedToday: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "failed_builds_day",
			Help:      "Rejected or failed requests since the last rollover.",
		}),
		rollovers: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stats_rollovers_total",
			Help:      "Daily statistics resets.",
		}),
	}
	m.registry.MustRegister(
		m.requests,
		m.failedToday,
		m.rollovers,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Record implements requestengine.Recorder.
func (m *Metrics) Record(_ context.Context, o requestengine.Outcome) error {
	m.requests.WithLabelValues(string(o.Result), string(o.Kind)).Inc()
	if o.Result != requestengine.ResultSucceeded {
		m.failedToday.Inc()
	}
	return nil
}

func (m *Metrics) Name() string { return "metrics" }

// Consume resets the daily gauge when a day is closed.
func (m *Metrics) Consume(_ context.Context, _ requestengine.Report) error {
	m.failedToday.Set(0)
	m.rollovers.Inc()
	return nil
}

// Registry is exposed for tests and for additional collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
