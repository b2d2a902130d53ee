package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	cycleDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "chdig",
			Subsystem: "scheduler",
			Name:      "cycle_duration_seconds",
			Help:      "Duration of one job cycle.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"job"},
	)

	ticksSkipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chdig",
			Subsystem: "scheduler",
			Name:      "ticks_skipped_total",
			Help:      "Ticks skipped because the previous cycle of the job was still running.",
		},
		[]string{"job"},
	)

	cyclesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chdig",
			Subsystem: "scheduler",
			Name:      "cycles_dropped_total",
			Help:      "Cycles whose results were discarded after a pause, seek or view change.",
		},
		[]string{"job"},
	)
)

func init() {
	prometheus.MustRegister(cycleDuration, ticksSkipped, cyclesDropped)
}
