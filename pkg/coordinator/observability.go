package coordinator

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cycleTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricefeed_refresh_cycles_total",
			Help: "Total number of coordinator cycles by outcome",
		},
		[]string{"outcome"},
	)

	lockAcquireTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricefeed_lock_acquire_total",
			Help: "Total number of lock acquisition attempts by result",
		},
		[]string{"result"},
	)

	lockRenewTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricefeed_lock_renew_total",
			Help: "Total number of lock renew operations by status",
		},
		[]string{"status"},
	)

	degradedMode = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pricefeed_degraded_mode",
			Help: "1 while the coordination store is unreachable and refreshes run without exclusivity",
		},
	)

	refreshDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pricefeed_refresh_cycle_duration_seconds",
			Help:    "Duration of coordinator cycles",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func recordCycle(outcome Outcome) {
	cycleTotal.WithLabelValues(normalizeLabel(string(outcome))).Inc()
}

func recordLockAcquire(result string) {
	lockAcquireTotal.WithLabelValues(normalizeLabel(result)).Inc()
}

func recordLockRenew(status string) {
	lockRenewTotal.WithLabelValues(normalizeLabel(status)).Inc()
}

func setDegradedGauge(degraded bool) {
	if degraded {
		degradedMode.Set(1)
		return
	}
	degradedMode.Set(0)
}

func observeRefreshDuration(elapsed time.Duration) {
	refreshDuration.Observe(elapsed.Seconds())
}

func normalizeLabel(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
