package server

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pricefeed/pricefeed/pkg/cache"
	"github.com/pricefeed/pricefeed/pkg/coordinator"
	"github.com/pricefeed/pricefeed/pkg/health"
	"github.com/pricefeed/pricefeed/pkg/observability/logger"
	"github.com/pricefeed/pricefeed/pkg/version"
)

// Handlers bundles the collaborators behind the management endpoints.
type Handlers struct {
	cache       *cache.ResultCache
	coordinator *coordinator.Coordinator
	registry    *health.Registry
	log         logger.Logger
	serviceName string
}

// NewHandlers creates the endpoint handlers.
func NewHandlers(resultCache *cache.ResultCache, coord *coordinator.Coordinator, registry *health.Registry, log logger.Logger, serviceName string) *Handlers {
	return &Handlers{
		cache:       resultCache,
		coordinator: coord,
		registry:    registry,
		log:         log,
		serviceName: serviceName,
	}
}

// Router builds the management route table.
func (h *Handlers) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(observeMiddleware(h.log), recoveryMiddleware(h.log))
	r.HandleFunc("/v1/prices", h.handlePrices).Methods(http.MethodGet)
	r.HandleFunc("/v1/refresh", h.handleRefresh).Methods(http.MethodPost)
	r.HandleFunc("/health", h.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/ready", h.handleReady).Methods(http.MethodGet)
	r.HandleFunc("/version", h.handleVersion).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	return r
}

// handlePrices serves the current catalog straight from the result cache.
// It never contacts the coordination store or the remote source; the only
// empty response is a cold start before any snapshot or successful refresh.
func (h *Handlers) handlePrices(w http.ResponseWriter, r *http.Request) {
	snapshot, ok := h.cache.Get()
	if !ok {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"error": "prices not yet available",
		})
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

// handleRefresh forces a refresh attempt. The freshness check is bypassed
// but the lock path is not, so concurrent admin triggers across instances
// still cannot race.
func (h *Handlers) handleRefresh(w http.ResponseWriter, r *http.Request) {
	attempt := h.coordinator.ForceRefresh(r.Context())
	h.log.Info("admin refresh requested", "outcome", attempt.Outcome)
	writeJSON(w, http.StatusAccepted, attempt)
}

// handleHealth is the liveness check; it always returns 200.
func (h *Handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "healthy"})
}

// handleReady aggregates the registered health checks; 503 when unhealthy.
func (h *Handlers) handleReady(w http.ResponseWriter, r *http.Request) {
	result := h.registry.Check(r.Context())
	status := http.StatusOK
	if !result.IsHealthy() && result.Status == health.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, result)
}

func (h *Handlers) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, version.Current(h.serviceName))
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
