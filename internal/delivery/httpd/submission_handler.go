package httpd

import (
	"errors"
	"io"
	"net/http"

	"github.com/fonoaudio/evaluation-service/internal/service"
)

const maxMultipartMemory = 32 << 20

// SubmitAudio accepts a word recording for asynchronous scoring and
// responds with the job id to poll.
func (h *Handler) SubmitAudio(w http.ResponseWriter, r *http.Request) {
	evaluationID, ok := urlParamInt64(r, "evaluation_id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid evaluation_id")
		return
	}

	wordID, ok := urlParamInt64(r, "word_id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid word_id")
		return
	}

	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		writeError(w, http.StatusBadRequest, "failed to parse form data")
		return
	}

	file, fileHeader, err := r.FormFile("audio")
	if err != nil {
		writeError(w, http.StatusBadRequest, "audio file is required")
		return
	}
	defer file.Close()

	audioBytes, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read audio file")
		return
	}

	targetID, ok := formInt64(r, "transcription_target_id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid transcription_target_id")
		return
	}

	evalID, ok := formInt64(r, "transcription_eval_id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid transcription_eval_id")
		return
	}

	repetition, ok := formBool(r, "repetition")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid repetition flag")
		return
	}

	therapistEval, ok := formBool(r, "therapist_eval")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid therapist_eval flag")
		return
	}

	principal := principalFromContext(r.Context())

	req := service.SubmitRequest{
		EvaluationID:          evaluationID,
		WordID:                wordID,
		AudioFileName:         fileHeader.Filename,
		Audio:                 audioBytes,
		TranscriptionTargetID: targetID,
		TranscriptionEvalID:   evalID,
		TherapistResult:       therapistEval,
		Principal:             principal.ID,
	}
	if repetition != nil {
		req.Repetition = *repetition
	}

	resp, err := h.submissionService.Submit(r.Context(), req)
	if err != nil {
		h.handleSubmitError(w, err)
		return
	}

	writeSuccess(w, http.StatusAccepted, resp)
}

func (h *Handler) handleSubmitError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrEvaluationNotFound),
		errors.Is(err, service.ErrWordNotFound),
		errors.Is(err, service.ErrTranscriptionNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrDuplicateSubmission):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, service.ErrAudioTypeNotAllowed):
		writeError(w, http.StatusUnsupportedMediaType, err.Error())
	case errors.Is(err, service.ErrEmptyAudio):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrEnqueueFailure):
		h.logger.Error().Err(err).Msg("Enqueue failure")
		writeError(w, http.StatusServiceUnavailable, "evaluation queue unavailable")
	default:
		h.logger.Error().Err(err).Msg("Submission error")
		writeError(w, http.StatusInternalServerError, "failed to submit evaluation")
	}
}

// ListEvaluationWords returns every scored word of one evaluation.
func (h *Handler) ListEvaluationWords(w http.ResponseWriter, r *http.Request) {
	evaluationID, ok := urlParamInt64(r, "evaluation_id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid evaluation_id")
		return
	}

	resp, err := h.submissionService.ListEvaluationWords(r.Context(), evaluationID)
	if err != nil {
		if errors.Is(err, service.ErrEvaluationNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		h.logger.Error().Err(err).Msg("Failed to list evaluation words")
		writeError(w, http.StatusInternalServerError, "failed to list evaluation words")
		return
	}

	writeSuccess(w, http.StatusOK, resp)
}
