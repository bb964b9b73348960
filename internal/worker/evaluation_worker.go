package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/fonoaudio/evaluation-service/internal/classifier"
	"github.com/fonoaudio/evaluation-service/internal/features"
	"github.com/fonoaudio/evaluation-service/internal/models"
	"github.com/fonoaudio/evaluation-service/internal/queue"
	"github.com/fonoaudio/evaluation-service/internal/repository"
	"github.com/fonoaudio/evaluation-service/internal/storage"
)

// EvaluationWorker consumes classification jobs and writes results back.
// Per job: mark running, extract features, get or train the word's
// classifier, predict, persist ml_result, mark finished. Any step failure
// marks the job failed with the error message and leaves the evaluation
// record untouched.
type EvaluationWorker interface {
	Start(ctx context.Context) error
	Stop() error
	ProcessJob(ctx context.Context, payload models.JobPayload) error
	Stats() WorkerStats
}

type WorkerStats struct {
	ActiveWorkers  int `json:"active_workers"`
	TotalProcessed int `json:"total_processed"`
	FailedJobs     int `json:"failed_jobs"`
	QueueLength    int `json:"queue_length"`
}

type evaluationWorker struct {
	pool              *WorkerPool
	consumer          queue.Consumer
	jobQueue          queue.JobQueue
	evalRepo          repository.WordEvaluationRepository
	audioStore        storage.AudioStore
	extractor         features.Extractor
	cache             *classifier.Cache
	publisher         queue.Publisher
	resultsExchange   string
	resultsRoutingKey string
	logger            zerolog.Logger
	stats             WorkerStats
	statsMutex        sync.RWMutex
	startTime         time.Time
}

func NewEvaluationWorker(
	pool *WorkerPool,
	consumer queue.Consumer,
	jobQueue queue.JobQueue,
	evalRepo repository.WordEvaluationRepository,
	audioStore storage.AudioStore,
	extractor features.Extractor,
	cache *classifier.Cache,
	publisher queue.Publisher,
	resultsExchange, resultsRoutingKey string,
	logger zerolog.Logger,
) EvaluationWorker {
	return &evaluationWorker{
		pool:              pool,
		consumer:          consumer,
		jobQueue:          jobQueue,
		evalRepo:          evalRepo,
		audioStore:        audioStore,
		extractor:         extractor,
		cache:             cache,
		publisher:         publisher,
		resultsExchange:   resultsExchange,
		resultsRoutingKey: resultsRoutingKey,
		logger:            logger,
		startTime:         time.Now(),
	}
}

func (w *evaluationWorker) Start(ctx context.Context) error {
	w.logger.Info().Msg("Starting evaluation worker...")

	if err := w.pool.Start(ctx); err != nil {
		return fmt.Errorf("failed to start worker pool: %w", err)
	}

	msgs, err := w.consumer.Consume(ctx)
	if err != nil {
		return fmt.Errorf("failed to start consuming messages: %w", err)
	}

	go w.processMessages(ctx, msgs)

	w.logger.Info().Msg("Evaluation worker started")
	return nil
}

func (w *evaluationWorker) Stop() error {
	w.logger.Info().Msg("Stopping evaluation worker...")

	if err := w.pool.Stop(); err != nil {
		w.logger.Error().Err(err).Msg("Failed to stop worker pool")
	}

	if err := w.consumer.Close(); err != nil {
		w.logger.Error().Err(err).Msg("Failed to close queue consumer")
	}

	w.logger.Info().
		Int("total_processed", w.stats.TotalProcessed).
		Int("failed_jobs", w.stats.FailedJobs).
		Dur("uptime", time.Since(w.startTime)).
		Msg("Evaluation worker stopped")

	return nil
}

func (w *evaluationWorker) processMessages(ctx context.Context, msgs <-chan queue.Message) {
	for {
		select {
		case <-ctx.Done():
			w.logger.Info().Msg("Stopping message processing")
			return
		case msg, ok := <-msgs:
			if !ok {
				w.logger.Warn().Msg("Message channel closed")
				return
			}

			w.pool.Submit(func() {
				if err := w.processMessage(ctx, msg); err != nil {
					w.logger.Error().Err(err).Msg("Failed to process message")

					w.statsMutex.Lock()
					w.stats.FailedJobs++
					w.statsMutex.Unlock()

					if isPermanentError(err) {
						if ackErr := msg.Ack(false); ackErr != nil {
							w.logger.Error().Err(ackErr).Msg("Failed to ack message")
						}
						return
					}

					// Transient failure: requeue so another worker (or this
					// one, later) picks the job up again.
					if nackErr := msg.Nack(false, true); nackErr != nil {
						w.logger.Error().Err(nackErr).Msg("Failed to nack message")
					}
				} else {
					if err := msg.Ack(false); err != nil {
						w.logger.Error().Err(err).Msg("Failed to ack message")
					}

					w.statsMutex.Lock()
					w.stats.TotalProcessed++
					w.statsMutex.Unlock()
				}
			})
		}
	}
}

func (w *evaluationWorker) processMessage(ctx context.Context, msg queue.Message) error {
	var payload models.JobPayload
	if err := json.Unmarshal(msg.Body, &payload); err != nil {
		return permanent(fmt.Errorf("failed to unmarshal job payload: %w", err))
	}

	if payload.JobID == "" {
		return permanent(errors.New("empty job_id"))
	}
	if payload.Word == "" || payload.AudioPath == "" {
		// Malformed payload: no retry can fix it, fail the job if we can.
		if err := w.jobQueue.MarkFailed(ctx, payload.JobID, "malformed job payload"); err != nil {
			return err
		}
		return permanent(errors.New("malformed job payload"))
	}

	w.logger.Info().
		Str("job_id", payload.JobID).
		Int64("evaluation_id", payload.EvaluationID).
		Int64("word_id", payload.WordID).
		Str("word", payload.Word).
		Msg("Processing evaluation job")

	return w.ProcessJob(ctx, payload)
}

// ProcessJob runs one job to a terminal state. A non-nil return means the
// message should be redelivered; classification failures are recorded on
// the job instead and return nil.
func (w *evaluationWorker) ProcessJob(ctx context.Context, payload models.JobPayload) error {
	ok, err := w.jobQueue.MarkRunning(ctx, payload.JobID)
	if err != nil {
		return fmt.Errorf("failed to mark job running: %w", err)
	}
	if !ok {
		// Terminal already: redelivery after a completed run, skip.
		w.logger.Warn().Str("job_id", payload.JobID).Msg("Job already terminal, skipping")
		return nil
	}

	predicted, err := w.classify(ctx, payload)
	if err != nil {
		return w.failJob(ctx, payload, err)
	}

	correct := predicted != 0
	if err := w.evalRepo.UpdateResult(ctx, payload.EvaluationID, payload.WordID, models.ResultFieldML, correct); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return w.failJob(ctx, payload, fmt.Errorf("evaluation record missing"))
		}
		return fmt.Errorf("failed to persist ml result: %w", err)
	}

	result := strconv.FormatBool(correct)
	if err := w.jobQueue.MarkFinished(ctx, payload.JobID, result); err != nil {
		return fmt.Errorf("failed to mark job finished: %w", err)
	}

	w.publishCompleted(ctx, payload, models.JobStatusFinished, &result)

	w.logger.Info().
		Str("job_id", payload.JobID).
		Int64("evaluation_id", payload.EvaluationID).
		Int64("word_id", payload.WordID).
		Bool("ml_result", correct).
		Msg("Evaluation job completed")

	return nil
}

func (w *evaluationWorker) classify(ctx context.Context, payload models.JobPayload) (int, error) {
	obj, err := w.audioStore.Open(ctx, payload.AudioPath)
	if err != nil {
		return 0, fmt.Errorf("failed to open audio: %w", err)
	}
	defer obj.Close()

	vector, err := w.extractor.Extract(ctx, obj, payload.Word, payload.FeatureBins)
	if err != nil {
		return 0, fmt.Errorf("feature extraction failed: %w", err)
	}

	clf, err := w.cache.GetOrTrain(ctx, payload.Word)
	if err != nil {
		return 0, err
	}

	predicted, err := clf.Predict(vector)
	if err != nil {
		return 0, fmt.Errorf("prediction failed: %w", err)
	}

	return predicted, nil
}

// failJob records the failure on the job itself. The evaluation record is
// left untouched. Returns non-nil only when the failure could not be
// recorded, in which case the message is requeued.
func (w *evaluationWorker) failJob(ctx context.Context, payload models.JobPayload, cause error) error {
	w.logger.Error().Err(cause).Str("job_id", payload.JobID).Msg("Evaluation job failed")

	if err := w.jobQueue.MarkFailed(ctx, payload.JobID, cause.Error()); err != nil {
		return fmt.Errorf("failed to mark job failed: %w", err)
	}

	w.publishCompleted(ctx, payload, models.JobStatusFailed, nil)

	w.statsMutex.Lock()
	w.stats.FailedJobs++
	w.statsMutex.Unlock()

	return nil
}

// publishCompleted emits the terminal-state event. Best effort: the jobs
// table already holds the authoritative outcome.
func (w *evaluationWorker) publishCompleted(ctx context.Context, payload models.JobPayload, status models.JobStatus, result *string) {
	if w.publisher == nil {
		return
	}

	event := models.JobCompletedEvent{
		JobID:        payload.JobID,
		EvaluationID: payload.EvaluationID,
		WordID:       payload.WordID,
		Status:       status.String(),
		Result:       result,
		CompletedAt:  time.Now(),
	}

	body, err := json.Marshal(event)
	if err != nil {
		w.logger.Error().Err(err).Msg("Failed to marshal job completed event")
		return
	}

	if err := w.publisher.Publish(ctx, w.resultsExchange, w.resultsRoutingKey, body); err != nil {
		w.logger.Error().Err(err).Str("job_id", payload.JobID).Msg("Failed to publish job completed event")
	}
}

func (w *evaluationWorker) Stats() WorkerStats {
	w.statsMutex.RLock()
	stats := w.stats
	w.statsMutex.RUnlock()

	queueLength, err := w.consumer.QueueLength()
	if err != nil {
		w.logger.Error().Err(err).Msg("Failed to get queue length")
	} else {
		stats.QueueLength = queueLength
	}

	stats.ActiveWorkers = w.pool.ActiveWorkers()

	return stats
}

type permanentError struct {
	err error
}

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

func permanent(err error) error {
	return permanentError{err: err}
}

func isPermanentError(err error) bool {
	var p permanentError
	return errors.As(err, &p)
}
