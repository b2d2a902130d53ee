package fanout

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rileyhilliard/chdig/internal/transport"
)

var (
	hostQueryDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chdig_fanout_host_query_duration_seconds",
		Help:    "Per-host query duration in seconds",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"template"})

	hostQueryErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chdig_fanout_host_errors_total",
		Help: "Per-host query failures by cause",
	}, []string{"template", "cause"})

	hostsSkipped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chdig_fanout_hosts_skipped_total",
		Help: "Hosts that did not finish before the cycle deadline",
	}, []string{"template"})

	cyclesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chdig_fanout_cycles_total",
		Help: "Fan-out cycles by outcome (ok, partial, failed)",
	}, []string{"template", "outcome"})
)

func init() {
	prometheus.MustRegister(hostQueryDuration)
	prometheus.MustRegister(hostQueryErrors)
	prometheus.MustRegister(hostsSkipped)
	prometheus.MustRegister(cyclesTotal)
}

func observeHost(template string, d float64, err error) {
	hostQueryDuration.WithLabelValues(template).Observe(d)
	var he *transport.HostError
	if errors.As(err, &he) {
		hostQueryErrors.WithLabelValues(template, he.Kind.String()).Inc()
	}
}

func observeCycle(template string, r *Result) {
	outcome := "ok"
	switch {
	case r.AllFailed():
		outcome = "failed"
	case len(r.Failed()) > 0:
		outcome = "partial"
	}
	cyclesTotal.WithLabelValues(template, outcome).Inc()
}
