package httpd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fonoaudio/evaluation-service/internal/models"
	"github.com/fonoaudio/evaluation-service/internal/service"
)

type fakeSubmissionService struct {
	lastRequest service.SubmitRequest
	response    *models.SubmitEvaluationResponse
	err         error
	words       *models.EvaluationWordsResponse
	wordsErr    error
}

func (f *fakeSubmissionService) Submit(_ context.Context, req service.SubmitRequest) (*models.SubmitEvaluationResponse, error) {
	f.lastRequest = req
	if f.err != nil {
		return nil, f.err
	}
	return f.response, nil
}

func (f *fakeSubmissionService) ListEvaluationWords(_ context.Context, evaluationID int64) (*models.EvaluationWordsResponse, error) {
	if f.wordsErr != nil {
		return nil, f.wordsErr
	}
	return f.words, nil
}

type fakeStatusService struct {
	lastPrincipal service.Principal
	response      *models.JobStatusResponse
	err           error
}

func (f *fakeStatusService) GetJobStatus(_ context.Context, jobID string, principal service.Principal) (*models.JobStatusResponse, error) {
	f.lastPrincipal = principal
	if f.err != nil {
		return nil, f.err
	}
	return f.response, nil
}

type fakePinger struct {
	err error
}

func (f *fakePinger) InsertIfAbsent(context.Context, *models.WordEvaluation) error { return nil }
func (f *fakePinger) UpdateResult(context.Context, int64, int64, string, bool) error {
	return nil
}
func (f *fakePinger) FindByEvaluationAndWord(context.Context, int64, int64) (*models.WordEvaluation, error) {
	return nil, nil
}
func (f *fakePinger) FindAllForEvaluation(context.Context, int64) ([]models.WordEvaluation, error) {
	return nil, nil
}
func (f *fakePinger) Delete(context.Context, int64, int64) error { return nil }
func (f *fakePinger) Ping(context.Context) error                 { return f.err }

type handlerFixture struct {
	submission *fakeSubmissionService
	status     *fakeStatusService
	pinger     *fakePinger
	router     chi.Router
}

func newHandlerFixture() *handlerFixture {
	f := &handlerFixture{
		submission: &fakeSubmissionService{
			response: &models.SubmitEvaluationResponse{
				JobID:   "job-1",
				PollURL: "/api/v1/tasks/job-1",
			},
		},
		status: &fakeStatusService{
			response: &models.JobStatusResponse{JobID: "job-1", Status: "queued"},
		},
		pinger: &fakePinger{},
	}

	handler := NewHandler(f.submission, f.status, f.pinger, zerolog.Nop())
	f.router = chi.NewRouter()
	handler.RegisterRoutes(f.router)

	return f
}

func multipartBody(t *testing.T, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("audio", "recording.wav")
	require.NoError(t, err)
	_, err = part.Write([]byte("RIFF fake audio payload"))
	require.NoError(t, err)

	for key, value := range fields {
		require.NoError(t, writer.WriteField(key, value))
	}
	require.NoError(t, writer.Close())

	return body, writer.FormDataContentType()
}

func submitRequest(t *testing.T, fields map[string]string) *http.Request {
	t.Helper()

	body, contentType := multipartBody(t, fields)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/evaluations/1/words/7/audio", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-User-ID", "user-1")
	req.Header.Set("X-User-Role", "therapist")
	return req
}

func TestSubmitAudio(t *testing.T) {
	f := newHandlerFixture()

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, submitRequest(t, map[string]string{
		"transcription_target_id": "42",
		"repetition":              "true",
		"therapist_eval":          "false",
	}))

	assert.Equal(t, http.StatusAccepted, rec.Code)

	var envelope struct {
		Success bool                            `json:"success"`
		Data    models.SubmitEvaluationResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.True(t, envelope.Success)
	assert.Equal(t, "job-1", envelope.Data.JobID)
	assert.Equal(t, "/api/v1/tasks/job-1", envelope.Data.PollURL)

	got := f.submission.lastRequest
	assert.Equal(t, int64(1), got.EvaluationID)
	assert.Equal(t, int64(7), got.WordID)
	assert.Equal(t, "recording.wav", got.AudioFileName)
	assert.Equal(t, "user-1", got.Principal)
	assert.True(t, got.Repetition)
	require.NotNil(t, got.TranscriptionTargetID)
	assert.Equal(t, int64(42), *got.TranscriptionTargetID)
	require.NotNil(t, got.TherapistResult)
	assert.False(t, *got.TherapistResult)
	assert.NotEmpty(t, got.Audio)
}

func TestSubmitAudio_MissingIdentity(t *testing.T) {
	f := newHandlerFixture()

	req := submitRequest(t, nil)
	req.Header.Del("X-User-ID")

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSubmitAudio_MissingFile(t *testing.T) {
	f := newHandlerFixture()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/evaluations/1/words/7/audio", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("X-User-ID", "user-1")

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitAudio_InvalidFormField(t *testing.T) {
	f := newHandlerFixture()

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, submitRequest(t, map[string]string{
		"transcription_target_id": "not-a-number",
	}))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitAudio_ErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"evaluation not found", service.ErrEvaluationNotFound, http.StatusNotFound},
		{"word not found", service.ErrWordNotFound, http.StatusNotFound},
		{"transcription not found", service.ErrTranscriptionNotFound, http.StatusNotFound},
		{"duplicate", service.ErrDuplicateSubmission, http.StatusConflict},
		{"bad type", service.ErrAudioTypeNotAllowed, http.StatusUnsupportedMediaType},
		{"empty audio", service.ErrEmptyAudio, http.StatusBadRequest},
		{"enqueue failure", service.ErrEnqueueFailure, http.StatusServiceUnavailable},
		{"internal", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newHandlerFixture()
			f.submission.err = tt.err

			rec := httptest.NewRecorder()
			f.router.ServeHTTP(rec, submitRequest(t, nil))

			assert.Equal(t, tt.code, rec.Code)
		})
	}
}

func TestGetTask(t *testing.T) {
	f := newHandlerFixture()
	result := "true"
	f.status.response = &models.JobStatusResponse{JobID: "job-1", Status: "finished", Result: &result}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/tasks/job-1", nil)
	req.Header.Set("X-User-ID", "user-1")
	req.Header.Set("X-User-Role", "therapist")

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var envelope struct {
		Success bool                     `json:"success"`
		Data    models.JobStatusResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Equal(t, "finished", envelope.Data.Status)
	require.NotNil(t, envelope.Data.Result)
	assert.Equal(t, "true", *envelope.Data.Result)

	assert.Equal(t, service.Principal{ID: "user-1", Role: "therapist"}, f.status.lastPrincipal)
}

func TestGetTask_RoleDefaultsToAnonymous(t *testing.T) {
	f := newHandlerFixture()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/tasks/job-1", nil)
	req.Header.Set("X-User-ID", "user-1")

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, service.RoleAnonymous, f.status.lastPrincipal.Role)
}

func TestGetTask_NotFound(t *testing.T) {
	f := newHandlerFixture()
	f.status.err = service.ErrJobNotFound

	req := httptest.NewRequest(http.MethodGet, "/api/v1/tasks/unknown", nil)
	req.Header.Set("X-User-ID", "user-1")

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetTask_Forbidden(t *testing.T) {
	f := newHandlerFixture()
	f.status.err = service.ErrNotAuthorized

	req := httptest.NewRequest(http.MethodGet, "/api/v1/tasks/job-1", nil)
	req.Header.Set("X-User-ID", "user-2")

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestListEvaluationWords(t *testing.T) {
	f := newHandlerFixture()
	f.submission.words = &models.EvaluationWordsResponse{
		EvaluationID: 1,
		Words:        []models.WordEvaluation{{EvaluationID: 1, WordID: 7}},
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/evaluations/1/words", nil)
	req.Header.Set("X-User-ID", "user-1")

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var envelope struct {
		Data models.EvaluationWordsResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Len(t, envelope.Data.Words, 1)
}

func TestListEvaluationWords_UnknownEvaluation(t *testing.T) {
	f := newHandlerFixture()
	f.submission.wordsErr = service.ErrEvaluationNotFound

	req := httptest.NewRequest(http.MethodGet, "/api/v1/evaluations/99/words", nil)
	req.Header.Set("X-User-ID", "user-1")

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthCheck(t *testing.T) {
	f := newHandlerFixture()

	// No identity header required on the health endpoint.
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")
}

func TestHealthCheck_Unhealthy(t *testing.T) {
	f := newHandlerFixture()
	f.pinger.err = errors.New("connection refused")

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "unhealthy")
}
