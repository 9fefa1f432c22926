// Package metrics exposes retry instrumentation as Prometheus collectors.
package metrics

import (
	"net/http"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusRecorder implements the engine's metrics recorder contract with
// Prometheus collectors.
type PrometheusRecorder struct {
	registry     *prom.Registry
	retries      *prom.CounterVec
	retriedTests prom.Gauge
	attempts     prom.Histogram
}

// NewPrometheusRecorder constructs and registers the retry metrics.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{registry: reg}
	pr.retries = prom.NewCounterVec(prom.CounterOpts{
		Namespace: "flaky",
		Name:      "retries_total",
		Help:      "Retry attempts by test and outcome",
	}, []string{"test", "outcome"})
	pr.retriedTests = prom.NewGauge(prom.GaugeOpts{
		Namespace: "flaky",
		Name:      "retried_tests",
		Help:      "Tests that entered the retry loop during this session",
	})
	pr.attempts = prom.NewHistogram(prom.HistogramOpts{
		Namespace: "flaky",
		Name:      "attempts",
		Help:      "Call-stage executions per test that passed on retry",
		Buckets:   []float64{1, 2, 3, 4, 5, 8, 13},
	})
	reg.MustRegister(pr.retries, pr.retriedTests, pr.attempts)
	return pr
}

// RecordTestRetry records one attempt outcome. The first interim attempt
// also counts the test into the per-session retried gauge; a successful
// attempt observes its attempt count. A test that exhausts its budget is
// not observed in the attempts histogram.
func (p *PrometheusRecorder) RecordTestRetry(test string, attempt int, success bool) {
	if p == nil {
		return
	}
	outcome := "failure"
	if success {
		outcome = "success"
	}
	p.retries.WithLabelValues(test, outcome).Inc()
	if attempt == 1 && !success {
		p.retriedTests.Inc()
	}
	if success {
		p.attempts.Observe(float64(attempt))
	}
}

// Handler serves the registry in Prometheus exposition format.
func (p *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
