package pricing

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	fetchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricefeed_fetch_total",
			Help: "Total number of remote catalog fetch attempts",
		},
		[]string{"status"},
	)

	fetchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pricefeed_fetch_duration_seconds",
			Help:    "Duration of remote catalog fetches",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func observeFetch(status string, elapsed time.Duration) {
	fetchTotal.WithLabelValues(normalizeLabel(status)).Inc()
	fetchDuration.Observe(elapsed.Seconds())
}

func normalizeLabel(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
