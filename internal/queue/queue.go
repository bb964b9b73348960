package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/fonoaudio/evaluation-service/internal/models"
	"github.com/fonoaudio/evaluation-service/internal/repository"
)

var (
	// ErrJobNotFound is returned for unknown job ids.
	ErrJobNotFound = errors.New("job not found")

	// ErrResultNotReady is returned when the job has not reached a
	// terminal state yet.
	ErrResultNotReady = errors.New("job result not ready")
)

// JobQueue is the durable work queue between the API and worker
// processes. The jobs table holds status and result; RabbitMQ carries the
// dispatch signal. The queue is the only writer of status transitions.
type JobQueue interface {
	Enqueue(ctx context.Context, jobType, owner string, payload models.JobPayload) (string, error)
	FetchStatus(ctx context.Context, jobID string) (models.JobStatus, error)
	FetchResult(ctx context.Context, jobID string) (string, error)
	GetJob(ctx context.Context, jobID string) (*models.Job, error)
	MarkRunning(ctx context.Context, jobID string) (bool, error)
	MarkFinished(ctx context.Context, jobID, result string) error
	MarkFailed(ctx context.Context, jobID, message string) error
}

type jobQueue struct {
	jobs       repository.JobRepository
	publisher  Publisher
	exchange   string
	routingKey string
	logger     zerolog.Logger
}

func NewJobQueue(
	jobs repository.JobRepository,
	publisher Publisher,
	exchange, routingKey string,
	logger zerolog.Logger,
) JobQueue {
	return &jobQueue{
		jobs:       jobs,
		publisher:  publisher,
		exchange:   exchange,
		routingKey: routingKey,
		logger:     logger,
	}
}

// Enqueue records the job in queued state, then publishes the dispatch
// message. When the broker is unreachable the row is removed again so no
// job exists that can never run.
func (q *jobQueue) Enqueue(ctx context.Context, jobType, owner string, payload models.JobPayload) (string, error) {
	jobID := uuid.New().String()
	payload.JobID = jobID

	job := &models.Job{
		ID:             jobID,
		Type:           jobType,
		Status:         models.JobStatusQueued,
		OwnerPrincipal: owner,
		EvaluationID:   payload.EvaluationID,
		WordID:         payload.WordID,
		CreatedAt:      time.Now(),
	}

	if err := q.jobs.Create(ctx, job); err != nil {
		return "", fmt.Errorf("failed to create job record: %w", err)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		q.compensateCreate(ctx, jobID)
		return "", fmt.Errorf("failed to marshal job payload: %w", err)
	}

	if err := q.publisher.Publish(ctx, q.exchange, q.routingKey, body); err != nil {
		q.compensateCreate(ctx, jobID)
		return "", fmt.Errorf("failed to publish job: %w", err)
	}

	q.logger.Info().
		Str("job_id", jobID).
		Str("type", jobType).
		Int64("evaluation_id", payload.EvaluationID).
		Int64("word_id", payload.WordID).
		Msg("Job enqueued")

	return jobID, nil
}

func (q *jobQueue) compensateCreate(ctx context.Context, jobID string) {
	if err := q.jobs.Delete(ctx, jobID); err != nil {
		q.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to compensate job insert")
	}
}

func (q *jobQueue) FetchStatus(ctx context.Context, jobID string) (models.JobStatus, error) {
	job, err := q.jobs.GetByID(ctx, jobID)
	if err != nil {
		return "", err
	}
	if job == nil {
		return "", ErrJobNotFound
	}

	return job.Status, nil
}

func (q *jobQueue) FetchResult(ctx context.Context, jobID string) (string, error) {
	job, err := q.jobs.GetByID(ctx, jobID)
	if err != nil {
		return "", err
	}
	if job == nil {
		return "", ErrJobNotFound
	}
	if !job.Status.Terminal() {
		return "", ErrResultNotReady
	}

	if job.Status == models.JobStatusFailed {
		if job.ErrorMessage != nil {
			return *job.ErrorMessage, nil
		}
		return "", nil
	}

	if job.Result != nil {
		return *job.Result, nil
	}
	return "", nil
}

func (q *jobQueue) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	job, err := q.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, ErrJobNotFound
	}

	return job, nil
}

func (q *jobQueue) MarkRunning(ctx context.Context, jobID string) (bool, error) {
	return q.jobs.MarkRunning(ctx, jobID)
}

func (q *jobQueue) MarkFinished(ctx context.Context, jobID, result string) error {
	ok, err := q.jobs.MarkFinished(ctx, jobID, result)
	if err != nil {
		return err
	}
	if !ok {
		// Already terminal: redelivery after a completed run.
		q.logger.Warn().Str("job_id", jobID).Msg("Job already terminal, finish skipped")
	}
	return nil
}

func (q *jobQueue) MarkFailed(ctx context.Context, jobID, message string) error {
	ok, err := q.jobs.MarkFailed(ctx, jobID, message)
	if err != nil {
		return err
	}
	if !ok {
		q.logger.Warn().Str("job_id", jobID).Msg("Job already terminal, fail skipped")
	}
	return nil
}
