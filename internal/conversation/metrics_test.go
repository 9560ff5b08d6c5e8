package conversation

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_CountsTurnsAndDuplicates(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	f := newFixture(t, blockingMatcher{}, func(o *Options) {
		o.Metrics = m
		o.MatcherTimeout = 10 * time.Millisecond
	})

	f.send(t, "971500000100", "wamid.1", "where is my order")
	f.send(t, "971500000100", "wamid.1", "where is my order")

	if got := testutil.ToFloat64(m.turns.WithLabelValues("escalate")); got != 1 {
		t.Fatalf("escalate turns = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.duplicates); got != 1 {
		t.Fatalf("duplicates = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.matcherFailures.WithLabelValues("timeout")); got != 1 {
		t.Fatalf("matcher timeouts = %v, want 1", got)
	}
	if n := testutil.CollectAndCount(m.duration); n != 1 {
		t.Fatalf("duration series = %d, want 1", n)
	}
}

func TestMetrics_NilIsSafe(t *testing.T) {
	var m *Metrics
	m.turn("auto_answer", time.Millisecond)
	m.duplicate()
	m.matcherFailure("timeout")
	m.storeFailure()
}
