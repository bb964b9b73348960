package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/fonoaudio/evaluation-service/internal/models"
	"github.com/fonoaudio/evaluation-service/internal/queue"
	"github.com/fonoaudio/evaluation-service/internal/repository"
	"github.com/fonoaudio/evaluation-service/internal/storage"
	"github.com/fonoaudio/evaluation-service/pkg/hash"
)

type SubmitRequest struct {
	EvaluationID          int64
	WordID                int64
	AudioFileName         string
	Audio                 []byte
	TranscriptionTargetID *int64
	TranscriptionEvalID   *int64
	Repetition            bool
	TherapistResult       *bool
	Principal             string
}

type SubmissionConfig struct {
	AllowedTypes []string
	FeatureBins  int
	PollURLBase  string
}

type SubmissionService interface {
	Submit(ctx context.Context, req SubmitRequest) (*models.SubmitEvaluationResponse, error)
	ListEvaluationWords(ctx context.Context, evaluationID int64) (*models.EvaluationWordsResponse, error)
}

type submissionService struct {
	refRepo    repository.ReferenceRepository
	evalRepo   repository.WordEvaluationRepository
	jobQueue   queue.JobQueue
	audioStore storage.AudioStore
	hasher     *hash.FileHasher
	logger     zerolog.Logger
	config     SubmissionConfig
}

func NewSubmissionService(
	refRepo repository.ReferenceRepository,
	evalRepo repository.WordEvaluationRepository,
	jobQueue queue.JobQueue,
	audioStore storage.AudioStore,
	logger zerolog.Logger,
	config SubmissionConfig,
) SubmissionService {
	return &submissionService{
		refRepo:    refRepo,
		evalRepo:   evalRepo,
		jobQueue:   jobQueue,
		audioStore: audioStore,
		hasher:     hash.NewFileHasher(hash.SHA256),
		logger:     logger,
		config:     config,
	}
}

// Submit runs the upload workflow: validate references, persist the audio,
// conditionally insert the evaluation record, enqueue the classification
// job. Every failure after the audio is saved cleans the file up, and an
// enqueue failure additionally removes the just-inserted record, so a
// failed call leaves no partial state behind.
func (s *submissionService) Submit(ctx context.Context, req SubmitRequest) (*models.SubmitEvaluationResponse, error) {
	if len(req.Audio) == 0 {
		return nil, ErrEmptyAudio
	}
	if !storage.AllowedExtension(req.AudioFileName, s.config.AllowedTypes) {
		return nil, ErrAudioTypeNotAllowed
	}

	exists, err := s.refRepo.EvaluationExists(ctx, req.EvaluationID)
	if err != nil {
		return nil, fmt.Errorf("failed to check evaluation: %w", err)
	}
	if !exists {
		return nil, ErrEvaluationNotFound
	}

	word, err := s.refRepo.GetWordByID(ctx, req.WordID)
	if err != nil {
		return nil, fmt.Errorf("failed to load word: %w", err)
	}
	if word == nil {
		return nil, ErrWordNotFound
	}

	for _, transcriptionID := range []*int64{req.TranscriptionTargetID, req.TranscriptionEvalID} {
		if transcriptionID == nil {
			continue
		}
		ok, err := s.refRepo.TranscriptionExists(ctx, *transcriptionID)
		if err != nil {
			return nil, fmt.Errorf("failed to check transcription: %w", err)
		}
		if !ok {
			return nil, ErrTranscriptionNotFound
		}
	}

	audioPath, err := s.storeAudio(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to store audio: %w", err)
	}

	now := time.Now()
	record := &models.WordEvaluation{
		EvaluationID:          req.EvaluationID,
		WordID:                req.WordID,
		TranscriptionTargetID: req.TranscriptionTargetID,
		TranscriptionEvalID:   req.TranscriptionEvalID,
		Repetition:            req.Repetition,
		AudioPath:             audioPath,
		TherapistResult:       req.TherapistResult,
		CreatedAt:             now,
		UpdatedAt:             now,
	}

	if err := s.evalRepo.InsertIfAbsent(ctx, record); err != nil {
		s.cleanupAudio(ctx, audioPath)
		if errors.Is(err, repository.ErrAlreadyExists) {
			return nil, ErrDuplicateSubmission
		}
		return nil, fmt.Errorf("failed to insert evaluation record: %w", err)
	}

	payload := models.JobPayload{
		EvaluationID: req.EvaluationID,
		WordID:       req.WordID,
		Word:         word.Word,
		AudioPath:    audioPath,
		FeatureBins:  s.config.FeatureBins,
	}

	jobID, err := s.jobQueue.Enqueue(ctx, models.JobTypeMLTranscription, req.Principal, payload)
	if err != nil {
		// Compensate: the record and the file must not outlive a failed
		// enqueue.
		if delErr := s.evalRepo.Delete(ctx, req.EvaluationID, req.WordID); delErr != nil {
			s.logger.Error().Err(delErr).
				Int64("evaluation_id", req.EvaluationID).
				Int64("word_id", req.WordID).
				Msg("Failed to compensate evaluation insert")
		}
		s.cleanupAudio(ctx, audioPath)
		return nil, fmt.Errorf("%w: %v", ErrEnqueueFailure, err)
	}

	s.logger.Info().
		Str("job_id", jobID).
		Int64("evaluation_id", req.EvaluationID).
		Int64("word_id", req.WordID).
		Str("word", word.Word).
		Msg("Word evaluation submitted")

	return &models.SubmitEvaluationResponse{
		JobID:   jobID,
		PollURL: s.config.PollURLBase + jobID,
	}, nil
}

func (s *submissionService) ListEvaluationWords(ctx context.Context, evaluationID int64) (*models.EvaluationWordsResponse, error) {
	exists, err := s.refRepo.EvaluationExists(ctx, evaluationID)
	if err != nil {
		return nil, fmt.Errorf("failed to check evaluation: %w", err)
	}
	if !exists {
		return nil, ErrEvaluationNotFound
	}

	words, err := s.evalRepo.FindAllForEvaluation(ctx, evaluationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list word evaluations: %w", err)
	}

	return &models.EvaluationWordsResponse{
		EvaluationID: evaluationID,
		Words:        words,
	}, nil
}

// storeAudio writes the upload under a content-hashed name. The random
// suffix keeps two racing submissions of identical audio from sharing an
// object, so compensation of one never deletes the other's file.
func (s *submissionService) storeAudio(ctx context.Context, req SubmitRequest) (string, error) {
	digest, err := s.hasher.Calculate(req.Audio)
	if err != nil {
		return "", err
	}

	ext := strings.ToLower(filepath.Ext(req.AudioFileName))
	name := fmt.Sprintf("%d_%d_%s_%s%s",
		req.EvaluationID, req.WordID, digest[:12], uuid.New().String()[:8], ext)

	return s.audioStore.Save(ctx, name, req.Audio)
}

func (s *submissionService) cleanupAudio(ctx context.Context, path string) {
	if err := s.audioStore.Delete(ctx, path); err != nil && !errors.Is(err, storage.ErrNotFound) {
		s.logger.Error().Err(err).Str("path", path).Msg("Failed to clean up audio file")
	}
}
