package httpd

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fonoaudio/evaluation-service/internal/service"
)

// GetTask reports the lifecycle state of a classification job. Only the
// submitting principal (or an admin) may read it.
func (h *Handler) GetTask(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job_id is required")
		return
	}

	principal := principalFromContext(r.Context())

	resp, err := h.statusService.GetJobStatus(r.Context(), jobID, principal)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrJobNotFound):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, service.ErrNotAuthorized):
			writeError(w, http.StatusForbidden, err.Error())
		default:
			h.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to get job status")
			writeError(w, http.StatusInternalServerError, "failed to get job status")
		}
		return
	}

	writeSuccess(w, http.StatusOK, resp)
}
