package httpd

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/fonoaudio/evaluation-service/internal/repository"
	"github.com/fonoaudio/evaluation-service/internal/service"
)

type Handler struct {
	submissionService service.SubmissionService
	statusService     service.StatusService
	evalRepo          repository.WordEvaluationRepository
	logger            zerolog.Logger
}

func NewHandler(
	submissionService service.SubmissionService,
	statusService service.StatusService,
	evalRepo repository.WordEvaluationRepository,
	logger zerolog.Logger,
) *Handler {
	return &Handler{
		submissionService: submissionService,
		statusService:     statusService,
		evalRepo:          evalRepo,
		logger:            logger,
	}
}

func (h *Handler) RegisterRoutes(router chi.Router) {
	router.Get("/health", h.HealthCheck)

	router.Route("/api/v1", func(api chi.Router) {
		api.Use(RequirePrincipal)

		api.Route("/evaluations/{evaluation_id}", func(r chi.Router) {
			r.Get("/words", h.ListEvaluationWords)
			r.Post("/words/{word_id}/audio", h.SubmitAudio)
		})

		api.Get("/tasks/{job_id}", h.GetTask)
	})
}

func urlParamInt64(r *http.Request, key string) (int64, bool) {
	value := chi.URLParam(r, key)
	if value == "" {
		return 0, false
	}

	intValue, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, false
	}

	return intValue, true
}

func formInt64(r *http.Request, key string) (*int64, bool) {
	value := r.FormValue(key)
	if value == "" {
		return nil, true
	}

	intValue, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return nil, false
	}

	return &intValue, true
}

func formBool(r *http.Request, key string) (*bool, bool) {
	value := r.FormValue(key)
	if value == "" {
		return nil, true
	}

	boolValue, err := strconv.ParseBool(value)
	if err != nil {
		return nil, false
	}

	return &boolValue, true
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error":   http.StatusText(status),
		"message": message,
	})
}

func writeSuccess(w http.ResponseWriter, status int, data interface{}) {
	writeJSON(w, status, map[string]interface{}{
		"success": true,
		"data":    data,
	})
}
