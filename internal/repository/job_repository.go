package repository

import (
	"context"
	"database/sql"

	"github.com/rs/zerolog"

	"github.com/fonoaudio/evaluation-service/internal/models"
)

// JobRepository persists jobs durably. Status transitions are guarded
// UPDATEs so a poller always observes a monotonic progression: a terminal
// row never moves back to queued or running.
type JobRepository interface {
	Create(ctx context.Context, job *models.Job) error
	GetByID(ctx context.Context, id string) (*models.Job, error)
	Delete(ctx context.Context, id string) error
	MarkRunning(ctx context.Context, id string) (bool, error)
	MarkFinished(ctx context.Context, id, result string) (bool, error)
	MarkFailed(ctx context.Context, id, message string) (bool, error)
	Ping(ctx context.Context) error
}

type jobRepository struct {
	*PostgresRepository
}

func NewJobRepository(db *sql.DB, logger zerolog.Logger) JobRepository {
	return &jobRepository{
		PostgresRepository: NewPostgresRepository(db, logger),
	}
}

func (r *jobRepository) Create(ctx context.Context, job *models.Job) error {
	query := `
		INSERT INTO jobs (
			id, type, status, owner_principal, evaluation_id, word_id,
			result, error_message, created_at, started_at, completed_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
		)
	`

	_, err := r.db.ExecContext(ctx, query,
		job.ID,
		job.Type,
		job.Status.String(),
		job.OwnerPrincipal,
		job.EvaluationID,
		job.WordID,
		job.Result,
		job.ErrorMessage,
		job.CreatedAt,
		job.StartedAt,
		job.CompletedAt,
	)

	return err
}

func (r *jobRepository) GetByID(ctx context.Context, id string) (*models.Job, error) {
	query := `
		SELECT
			id, type, status, owner_principal, evaluation_id, word_id,
			result, error_message, created_at, started_at, completed_at
		FROM jobs
		WHERE id = $1
	`

	job := &models.Job{}
	var (
		status       string
		result       sql.NullString
		errorMessage sql.NullString
		startedAt    sql.NullTime
		completedAt  sql.NullTime
	)

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&job.ID,
		&job.Type,
		&status,
		&job.OwnerPrincipal,
		&job.EvaluationID,
		&job.WordID,
		&result,
		&errorMessage,
		&job.CreatedAt,
		&startedAt,
		&completedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	job.Status = models.JobStatus(status)
	if result.Valid {
		job.Result = &result.String
	}
	if errorMessage.Valid {
		job.ErrorMessage = &errorMessage.String
	}
	if startedAt.Valid {
		job.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		job.CompletedAt = &completedAt.Time
	}

	return job, nil
}

// Delete removes a job row. Used only by the enqueue compensation path,
// before any worker could have seen the job.
func (r *jobRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = $1`, id)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}

	return nil
}

// MarkRunning transitions queued -> running. Re-marking a running job is a
// no-op success so redelivered messages pass through; terminal jobs refuse
// the transition and the caller skips the message.
func (r *jobRepository) MarkRunning(ctx context.Context, id string) (bool, error) {
	query := `
		UPDATE jobs
		SET status = $2, started_at = COALESCE(started_at, NOW())
		WHERE id = $1 AND status IN ($3, $2)
	`

	res, err := r.db.ExecContext(ctx, query, id,
		models.JobStatusRunning.String(), models.JobStatusQueued.String())
	if err != nil {
		return false, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	return affected > 0, nil
}

func (r *jobRepository) MarkFinished(ctx context.Context, id, result string) (bool, error) {
	query := `
		UPDATE jobs
		SET status = $2, result = $3, completed_at = NOW()
		WHERE id = $1 AND status IN ($4, $5)
	`

	res, err := r.db.ExecContext(ctx, query, id,
		models.JobStatusFinished.String(), result,
		models.JobStatusQueued.String(), models.JobStatusRunning.String())
	if err != nil {
		return false, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	return affected > 0, nil
}

func (r *jobRepository) MarkFailed(ctx context.Context, id, message string) (bool, error) {
	query := `
		UPDATE jobs
		SET status = $2, error_message = $3, completed_at = NOW()
		WHERE id = $1 AND status IN ($4, $5)
	`

	res, err := r.db.ExecContext(ctx, query, id,
		models.JobStatusFailed.String(), message,
		models.JobStatusQueued.String(), models.JobStatusRunning.String())
	if err != nil {
		return false, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	return affected > 0, nil
}
