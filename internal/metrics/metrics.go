package metrics

import (
	"net/http"
	"time"

	"github.com/jgriss/fusionsolar2mqtt/internal/core/port"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const NAMESPACE = "fusionsolar"

// PollMetrics exports poll cycle outcomes on its own registry.
type PollMetrics struct {
	registry            *prometheus.Registry
	polls               prometheus.Counter
	failures            *prometheus.CounterVec
	resets              *prometheus.CounterVec
	recreations         prometheus.Counter
	saveFailures        prometheus.Counter
	consecutiveFailures prometheus.Gauge
	lastSuccess         prometheus.Gauge
	now                 func() time.Time
}

func NewPollMetrics() *PollMetrics {
	m := &PollMetrics{
		registry: prometheus.NewRegistry(),
		polls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: NAMESPACE,
			Name:      "polls_total",
			Help:      "Successful poll cycles.",
		}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: NAMESPACE,
			Name:      "poll_failures_total",
			Help:      "Failed poll cycles by reason.",
		}, []string{"reason"}),
		resets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: NAMESPACE,
			Name:      "counter_resets_total",
			Help:      "Detected counter resets by metric.",
		}, []string{"metric"}),
		recreations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: NAMESPACE,
			Name:      "session_recreations_total",
			Help:      "Cloud sessions replaced after repeated failures.",
		}),
		saveFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: NAMESPACE,
			Name:      "state_save_failures_total",
			Help:      "Failed writes of the metric state.",
		}),
		consecutiveFailures: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: NAMESPACE,
			Name:      "consecutive_failures",
			Help:      "Poll failures since the last success or session recreation.",
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: NAMESPACE,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful poll.",
		}),
		now: time.Now,
	}
	m.registry.MustRegister(
		m.polls,
		m.failures,
		m.resets,
		m.recreations,
		m.saveFailures,
		m.consecutiveFailures,
		m.lastSuccess,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *PollMetrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *PollMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *PollMetrics) PollSucceeded() {
	m.polls.Inc()
	m.lastSuccess.Set(float64(m.now().Unix()))
}

func (m *PollMetrics) PollFailed(reason string) {
	m.failures.WithLabelValues(reason).Inc()
}

func (m *PollMetrics) ResetDetected(metricId string) {
	m.resets.WithLabelValues(metricId).Inc()
}

func (m *PollMetrics) SessionRecreated() {
	m.recreations.Inc()
}

func (m *PollMetrics) ConsecutiveFailures(n int) {
	m.consecutiveFailures.Set(float64(n))
}

func (m *PollMetrics) StateSaveFailed() {
	m.saveFailures.Inc()
}

// ensure interface compliance
var _ port.PollMetrics = (*PollMetrics)(nil)
