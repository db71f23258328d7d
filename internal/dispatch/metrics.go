package dispatch

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	dispatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ai_dispatch_total",
		Help: "Outbound AI provider calls by provider and outcome.",
	}, []string{"provider", "outcome"})

	dispatchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ai_dispatch_duration_seconds",
		Help:    "Latency of outbound AI provider calls.",
		Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 180},
	}, []string{"provider"})
)

func observeDispatch(provider string, err error, elapsed time.Duration) {
	outcome := "ok"
	if err != nil {
		if dispErr, ok := err.(*Error); ok {
			outcome = dispErr.Kind.String()
		} else {
			outcome = "unknown"
		}
	}
	dispatchTotal.WithLabelValues(provider, outcome).Inc()
	dispatchDuration.WithLabelValues(provider).Observe(elapsed.Seconds())
}
