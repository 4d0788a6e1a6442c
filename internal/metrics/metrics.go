package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sessionstore"

// Outcome labels for conflict counters.
const (
	Resolved   = "resolved"
	Unresolved = "unresolved"
)

// Metrics groups every instrument. A Metrics built with a nil registerer
// still counts but is not exported.
type Metrics struct {
	Commits   prometheus.Counter
	Aborts    prometheus.Counter
	Retries   prometheus.Counter
	Conflicts *prometheus.CounterVec
	Rotations prometheus.Counter
	Expired   prometheus.Counter
	Clears    prometheus.Counter
	Buckets   prometheus.Gauge
}

// New creates the instruments and registers them with reg when non-nil.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Commits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "commits_total",
			Help:      "Transactions committed.",
		}),
		Aborts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "aborts_total",
			Help:      "Transactions aborted, including failed commits.",
		}),
		Retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "retries_total",
			Help:      "Transactions re-run after an irreconcilable conflict.",
		}),
		Conflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "conflicts_total",
			Help:      "Write/write conflicts detected at commit, by object kind and outcome.",
		}, []string{"kind", "outcome"}),
		Rotations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "rotations_total",
			Help:      "New head buckets created by elapsed time.",
		}),
		Expired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "expired_buckets_total",
			Help:      "Buckets discarded because they outlived the timeout.",
		}),
		Clears: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "clears_total",
			Help:      "Explicit clears of all session data.",
		}),
		Buckets: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "buckets",
			Help:      "Buckets currently indexed.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Commits, m.Aborts, m.Retries, m.Conflicts,
			m.Rotations, m.Expired, m.Clears, m.Buckets)
	}
	return m
}

// Handler serves the instruments gathered by g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
