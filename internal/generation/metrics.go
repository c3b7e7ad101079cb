package generation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	networkAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storyloom_generation_network_attempts_total",
			Help: "Completion calls issued by the network retry loop, by outcome.",
		},
		[]string{"outcome"}, // success, recovered, network_error, http_error, error
	)
	parseAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storyloom_generation_parse_attempts_total",
			Help: "Tag stream parse attempts, by outcome.",
		},
		[]string{"outcome"}, // success, parse_error, banned_stop
	)
	generationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "storyloom_generation_duration_seconds",
			Help:    "Wall time of a full Generate call including retries.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10), // 0.25s .. 128s
		},
	)
)
