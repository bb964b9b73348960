package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/fonoaudio/evaluation-service/internal/models"
	"github.com/fonoaudio/evaluation-service/internal/queue"
)

// Principal identifies the caller as established by the upstream auth
// gateway. Only identity and role reach this service.
type Principal struct {
	ID   string
	Role string
}

const (
	RoleAnonymous = "anonymous"
	RoleTherapist = "therapist"
	RoleAdmin     = "admin"
)

type StatusService interface {
	GetJobStatus(ctx context.Context, jobID string, principal Principal) (*models.JobStatusResponse, error)
}

type statusService struct {
	jobQueue queue.JobQueue
	logger   zerolog.Logger
}

func NewStatusService(jobQueue queue.JobQueue, logger zerolog.Logger) StatusService {
	return &statusService{
		jobQueue: jobQueue,
		logger:   logger,
	}
}

// GetJobStatus returns the lifecycle state of a job, scoped to its owner.
// A non-owner gets ErrNotAuthorized, never NotFound, so existing and
// foreign jobs are distinguishable but the policy stays consistent.
func (s *statusService) GetJobStatus(ctx context.Context, jobID string, principal Principal) (*models.JobStatusResponse, error) {
	job, err := s.jobQueue.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, queue.ErrJobNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to load job: %w", err)
	}

	if job.OwnerPrincipal != principal.ID && principal.Role != RoleAdmin {
		s.logger.Warn().
			Str("job_id", jobID).
			Str("principal", principal.ID).
			Msg("Job status requested by non-owner")
		return nil, ErrNotAuthorized
	}

	resp := &models.JobStatusResponse{
		JobID:  job.ID,
		Status: job.Status.String(),
	}

	switch job.Status {
	case models.JobStatusFinished:
		resp.Result = job.Result
	case models.JobStatusFailed:
		resp.Error = job.ErrorMessage
	}

	return resp, nil
}
