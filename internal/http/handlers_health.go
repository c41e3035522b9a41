package httpx

import (
	"context"
	"io"
	"net/http"
	"time"
)

const healthResponse = `{"status":"ok"}`

// healthCheckTimeout bounds the backend probe so a wedged Redis cannot
// hang the load balancer's health check.
const healthCheckTimeout = 2 * time.Second

// HealthChecker reports whether the record store backend is reachable.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// rootHandler identifies the service for anyone poking at the base URL.
// The "GET /" pattern also matches every path no other route claims, so
// anything but the exact root is a 404.
func rootHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"service": "nagare"})
}

// healthzHandler returns a simple 200 OK status for liveness checks.
func healthzHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := io.WriteString(w, healthResponse); err != nil {
		// Nothing more to do if the client connection is gone.
		return
	}
}

// HealthHandlers serves the readiness endpoint, which probes the record
// store since every API operation depends on it.
type HealthHandlers struct {
	Store HealthChecker
}

// Readiness reports whether the service can serve requests.
func (h *HealthHandlers) Readiness(w http.ResponseWriter, r *http.Request) {
	if h.Store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()
		if err := h.Store.Health(ctx); err != nil {
			WriteJSON(w, http.StatusServiceUnavailable,
				map[string]string{"status": "degraded", "error": "record store unreachable"})
			return
		}
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
