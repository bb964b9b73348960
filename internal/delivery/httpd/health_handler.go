package httpd

import (
	"net/http"
	"time"
)

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	code := http.StatusOK

	if err := h.evalRepo.Ping(r.Context()); err != nil {
		h.logger.Error().Err(err).Msg("Health check: database unreachable")
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, map[string]interface{}{
		"status":    status,
		"service":   "evaluation-service",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
