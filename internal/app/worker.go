package app

import (
	"context"
	"database/sql"

	"github.com/rs/zerolog"

	"github.com/fonoaudio/evaluation-service/internal/classifier"
	"github.com/fonoaudio/evaluation-service/internal/config"
	"github.com/fonoaudio/evaluation-service/internal/features"
	"github.com/fonoaudio/evaluation-service/internal/queue"
	"github.com/fonoaudio/evaluation-service/internal/repository"
	"github.com/fonoaudio/evaluation-service/internal/worker"
)

// WorkerApp is the long-running classification process. Each instance
// builds its own classifier cache; caches are never shared across
// processes.
type WorkerApp struct {
	evalWorker   worker.EvaluationWorker
	logger       zerolog.Logger
	db           *sql.DB
	rabbitMQRepo repository.RabbitMQRepository
}

func NewWorker(cfg *config.Config, log zerolog.Logger, db *sql.DB) (*WorkerApp, error) {
	rabbitMQRepo, err := repository.NewRabbitMQRepository(cfg.RabbitMQ.URL, log)
	if err != nil {
		return nil, err
	}

	if err := rabbitMQRepo.SetupQueue(
		cfg.RabbitMQ.Exchange,
		cfg.RabbitMQ.QueueName,
		cfg.RabbitMQ.RoutingKey,
	); err != nil {
		return nil, err
	}

	publisher := queue.NewRabbitMQPublisher(rabbitMQRepo.Channel(), log)
	consumer := queue.NewRabbitMQConsumer(
		rabbitMQRepo.Channel(),
		cfg.RabbitMQ.QueueName,
		cfg.RabbitMQ.ConsumerTag,
		cfg.RabbitMQ.PrefetchCount,
		log,
	)

	evalRepo := repository.NewWordEvaluationRepository(db, log)
	jobRepo := repository.NewJobRepository(db, log)

	jobQueue := queue.NewJobQueue(
		jobRepo,
		publisher,
		cfg.RabbitMQ.Exchange,
		cfg.RabbitMQ.RoutingKey,
		log,
	)

	audioStore, err := NewAudioStore(cfg.Storage, log)
	if err != nil {
		return nil, err
	}

	cache := classifier.NewCache(classifier.NewFileTrainer(cfg.Classifier.TrainingDir), log)
	extractor := features.NewWAVExtractor()
	pool := worker.NewWorkerPool(cfg.Worker.MaxWorkers, log)

	evalWorker := worker.NewEvaluationWorker(
		pool,
		consumer,
		jobQueue,
		evalRepo,
		audioStore,
		extractor,
		cache,
		publisher,
		cfg.RabbitMQ.Exchange,
		cfg.RabbitMQ.ResultsRoutingKey,
		log,
	)

	return &WorkerApp{
		evalWorker:   evalWorker,
		logger:       log,
		db:           db,
		rabbitMQRepo: rabbitMQRepo,
	}, nil
}

func (w *WorkerApp) Run(ctx context.Context) error {
	return w.evalWorker.Start(ctx)
}

func (w *WorkerApp) Shutdown() {
	if err := w.evalWorker.Stop(); err != nil {
		w.logger.Error().Err(err).Msg("Failed to stop evaluation worker")
	}

	if w.rabbitMQRepo != nil {
		if err := w.rabbitMQRepo.Close(); err != nil {
			w.logger.Error().Err(err).Msg("Failed to close RabbitMQ connection")
		}
	}

	if w.db != nil {
		if err := w.db.Close(); err != nil {
			w.logger.Error().Err(err).Msg("Failed to close database connection")
		}
	}

	w.logger.Info().Msg("Worker process stopped")
}
