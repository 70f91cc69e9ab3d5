// Package metrics exposes settlement counters to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns its registry so tests can build as many as they like.
// A nil *Metrics discards observations.
type Metrics struct {
	registry    *prometheus.Registry
	settlements *prometheus.CounterVec
	duration    prometheus.Histogram
	rewardDraws prometheus.Counter
	jobs        *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "settlement_total",
			Help: "Settlement attempts by result.",
		}, []string{"result"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "settlement_duration_seconds",
			Help:    "Time spent settling one order, including retries.",
			Buckets: prometheus.DefBuckets,
		}),
		rewardDraws: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reward_draw_total",
			Help: "Reward entries paid out of signer pools.",
		}),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "settler_jobs_total",
			Help: "Relayer jobs by final status.",
		}, []string{"status"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.settlements, m.duration, m.rewardDraws, m.jobs,
	)
	return m
}

// ObserveSettlement records one attempt and how long it took.
func (m *Metrics) ObserveSettlement(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.settlements.WithLabelValues(result).Inc()
	m.duration.Observe(d.Seconds())
}

func (m *Metrics) RewardsDrawn(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.rewardDraws.Add(float64(n))
}

func (m *Metrics) SettlerJob(status string) {
	if m == nil {
		return
	}
	m.jobs.WithLabelValues(status).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
