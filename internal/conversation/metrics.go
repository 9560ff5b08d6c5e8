package conversation

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the collectors the orchestrator reports to.
type Metrics struct {
	turns           *prometheus.CounterVec
	duplicates      prometheus.Counter
	matcherFailures *prometheus.CounterVec
	storeFailures   prometheus.Counter
	duration        prometheus.Histogram
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		turns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "support_pilot_turns_total",
				Help: "Processed conversation turns by response class.",
			},
			[]string{"class"},
		),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "support_pilot_duplicate_turns_total",
			Help: "Inbound messages answered from a stored receipt.",
		}),
		matcherFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "support_pilot_matcher_failures_total",
				Help: "Matcher calls that failed or timed out.",
			},
			[]string{"reason"},
		),
		storeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "support_pilot_store_failures_total",
			Help: "Turns aborted because the session store was unavailable.",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "support_pilot_turn_duration_seconds",
			Help:    "Histogram of turn durations.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	if reg != nil {
		reg.MustRegister(m.turns, m.duplicates, m.matcherFailures, m.storeFailures, m.duration)
	}
	return m
}

func (m *Metrics) turn(class string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.turns.WithLabelValues(class).Inc()
	m.duration.Observe(elapsed.Seconds())
}

func (m *Metrics) duplicate() {
	if m == nil {
		return
	}
	m.duplicates.Inc()
}

func (m *Metrics) matcherFailure(reason string) {
	if m == nil {
		return
	}
	m.matcherFailures.WithLabelValues(reason).Inc()
}

func (m *Metrics) storeFailure() {
	if m == nil {
		return
	}
	m.storeFailures.Inc()
}
