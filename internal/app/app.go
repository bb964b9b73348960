package app

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/fonoaudio/evaluation-service/internal/config"
	"github.com/fonoaudio/evaluation-service/internal/delivery/httpd"
	"github.com/fonoaudio/evaluation-service/internal/queue"
	"github.com/fonoaudio/evaluation-service/internal/repository"
	"github.com/fonoaudio/evaluation-service/internal/service"
	"github.com/fonoaudio/evaluation-service/internal/storage"
)

// App is the request-handling process: it accepts submissions, enqueues
// jobs and answers status polls. Classification happens in the separate
// worker process (see worker.go).
type App struct {
	server       *http.Server
	logger       zerolog.Logger
	config       *config.Config
	db           *sql.DB
	rabbitMQRepo repository.RabbitMQRepository
}

func New(cfg *config.Config, log zerolog.Logger, db *sql.DB) (*App, error) {
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

	evalRepo := repository.NewWordEvaluationRepository(db, log)
	jobRepo := repository.NewJobRepository(db, log)
	refRepo := repository.NewReferenceRepository(db, log)

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

	submissionService := service.NewSubmissionService(
		refRepo,
		evalRepo,
		jobQueue,
		audioStore,
		log,
		service.SubmissionConfig{
			AllowedTypes: cfg.Storage.AllowedTypes,
			FeatureBins:  cfg.Classifier.FeatureBins,
			PollURLBase:  "/api/v1/tasks/",
		},
	)

	statusService := service.NewStatusService(jobQueue, log)

	handler := httpd.NewHandler(
		submissionService,
		statusService,
		evalRepo,
		log,
	)

	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORS.AllowedOrigins,
		AllowedMethods:   cfg.CORS.AllowedMethods,
		AllowedHeaders:   cfg.CORS.AllowedHeaders,
		ExposedHeaders:   cfg.CORS.ExposedHeaders,
		AllowCredentials: cfg.CORS.AllowCredentials,
		MaxAge:           cfg.CORS.MaxAge,
	}))

	handler.RegisterRoutes(router)

	server := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return &App{
		server:       server,
		logger:       log,
		config:       cfg,
		db:           db,
		rabbitMQRepo: rabbitMQRepo,
	}, nil
}

func (a *App) Run() error {
	a.logger.Info().Msgf("Starting evaluation service on %s", a.config.Server.Address)
	return a.server.ListenAndServe()
}

func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info().Msg("Shutting down evaluation service...")

	if a.rabbitMQRepo != nil {
		if err := a.rabbitMQRepo.Close(); err != nil {
			a.logger.Error().Err(err).Msg("Failed to close RabbitMQ connection")
		}
	}

	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Error().Err(err).Msg("Failed to close database connection")
		}
	}

	if err := a.server.Shutdown(ctx); err != nil {
		a.logger.Error().Err(err).Msg("Failed to shutdown HTTP server")
		return err
	}

	a.logger.Info().Msg("Evaluation service stopped")
	return nil
}

// NewAudioStore picks the storage backend from config.
func NewAudioStore(cfg config.StorageConfig, log zerolog.Logger) (storage.AudioStore, error) {
	switch cfg.Provider {
	case "minio":
		return storage.NewMinioStore(cfg, log)
	case "local":
		return storage.NewLocalStore(cfg.UploadDir, log)
	default:
		return nil, fmt.Errorf("unknown storage provider: %s", cfg.Provider)
	}
}
