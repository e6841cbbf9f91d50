package handler

import (
	"context"
	"net/http"
	"time"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status   string            `json:"status"`
	Services map[string]string `json:"services"`
}

// Health returns the health status of the service
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	services := make(map[string]string, len(h.checks)+1)

	// The key store is what every gateway depends on.
	if _, err := h.keys.PublicKeyPEM(); err != nil {
		services["keystore"] = "unhealthy"
	} else {
		services["keystore"] = "healthy"
	}

	for name, c := range h.checks {
		if c == nil {
			continue
		}
		if err := c.HealthCheck(ctx); err != nil {
			h.log.Warn().Err(err).Str("service", name).Msg("health check failed")
			services[name] = "unhealthy"
		} else {
			services[name] = "healthy"
		}
	}

	// Determine overall status
	status := "healthy"
	for _, s := range services {
		if s == "unhealthy" {
			status = "degraded"
			break
		}
	}

	code := http.StatusOK
	if status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, HealthResponse{Status: status, Services: services})
}

// Ready returns whether the service is ready to accept requests
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if _, err := h.keys.PublicKeyPEM(); err != nil {
		http.Error(w, "key store not ready", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
