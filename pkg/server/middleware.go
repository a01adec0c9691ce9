package server

import (
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/pricefeed/pricefeed/pkg/observability/logger"
)

var (
	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pricefeed_http_request_duration_seconds",
			Help:    "Management HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricefeed_http_requests_total",
			Help: "Total number of management HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pricefeed_http_requests_in_flight",
			Help: "Current number of management HTTP requests being processed",
		},
	)
)

// responseRecorder captures the status code written by a handler.
type responseRecorder struct {
	http.ResponseWriter
	status  int
	written bool
}

func (r *responseRecorder) WriteHeader(status int) {
	if r.written {
		return
	}
	r.status = status
	r.written = true
	r.ResponseWriter.WriteHeader(status)
}

func (r *responseRecorder) Write(body []byte) (int, error) {
	if !r.written {
		r.status = http.StatusOK
		r.written = true
	}
	return r.ResponseWriter.Write(body)
}

// recoveryMiddleware catches handler panics, logs them with a stack trace and
// answers 500 when nothing has been written yet.
func recoveryMiddleware(log logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			recorder, ok := w.(*responseRecorder)
			if !ok {
				recorder = &responseRecorder{ResponseWriter: w, status: http.StatusOK}
			}
			defer func() {
				if recovered := recover(); recovered != nil {
					log.Error("panic recovered",
						"method", r.Method,
						"path", r.URL.Path,
						"panic", recovered,
						"stack", string(debug.Stack()),
					)
					if !recorder.written {
						writeJSON(recorder, http.StatusInternalServerError, map[string]any{
							"error": "internal server error",
						})
					}
				}
			}()
			next.ServeHTTP(recorder, r)
		})
	}
}

// observeMiddleware records request metrics and an access log line. The path
// label uses the route template so parameterized routes cannot explode the
// label space.
func observeMiddleware(log logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			recorder := &responseRecorder{ResponseWriter: w, status: http.StatusOK}

			httpRequestsInFlight.Inc()
			start := time.Now()
			next.ServeHTTP(recorder, r)
			elapsed := time.Since(start)
			httpRequestsInFlight.Dec()

			path := routeTemplate(r)
			status := strconv.Itoa(recorder.status)
			httpRequestDuration.WithLabelValues(r.Method, path, status).Observe(elapsed.Seconds())
			httpRequestsTotal.WithLabelValues(r.Method, path, status).Inc()

			log.Debug("request handled",
				"method", r.Method,
				"path", r.URL.Path,
				"status", recorder.status,
				"duration", elapsed,
			)
		})
	}
}

func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if template, err := route.GetPathTemplate(); err == nil {
			return template
		}
	}
	return "unmatched"
}
