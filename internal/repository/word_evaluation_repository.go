package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/fonoaudio/evaluation-service/internal/models"
)

// resultColumns whitelists the columns UpdateResult may touch. Each
// evaluator owns exactly one column, so concurrent evaluators never
// clobber each other.
var resultColumns = map[string]struct{}{
	models.ResultFieldML:        {},
	models.ResultFieldAPI:       {},
	models.ResultFieldTherapist: {},
}

type WordEvaluationRepository interface {
	InsertIfAbsent(ctx context.Context, we *models.WordEvaluation) error
	UpdateResult(ctx context.Context, evaluationID, wordID int64, field string, value bool) error
	FindByEvaluationAndWord(ctx context.Context, evaluationID, wordID int64) (*models.WordEvaluation, error)
	FindAllForEvaluation(ctx context.Context, evaluationID int64) ([]models.WordEvaluation, error)
	Delete(ctx context.Context, evaluationID, wordID int64) error
	Ping(ctx context.Context) error
}

type wordEvaluationRepository struct {
	*PostgresRepository
}

func NewWordEvaluationRepository(db *sql.DB, logger zerolog.Logger) WordEvaluationRepository {
	return &wordEvaluationRepository{
		PostgresRepository: NewPostgresRepository(db, logger),
	}
}

// InsertIfAbsent relies on the composite primary key: two concurrent
// inserts for the same (evaluation_id, word_id) race inside Postgres and
// exactly one wins. The loser gets ErrAlreadyExists.
func (r *wordEvaluationRepository) InsertIfAbsent(ctx context.Context, we *models.WordEvaluation) error {
	query := `
		INSERT INTO word_evaluation (
			evaluation_id, word_id, transcription_target_id, transcription_eval_id,
			repetition, audio_path, ml_result, api_result, therapist_result,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
		)
	`

	_, err := r.db.ExecContext(ctx, query,
		we.EvaluationID,
		we.WordID,
		we.TranscriptionTargetID,
		we.TranscriptionEvalID,
		we.Repetition,
		we.AudioPath,
		we.MLResult,
		we.APIResult,
		we.TherapistResult,
		we.CreatedAt,
		we.UpdatedAt,
	)

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return ErrAlreadyExists
	}

	return err
}

// UpdateResult sets a single result column and nothing else. Redelivered
// jobs may call it twice with the same freshly computed value, which is
// safe: last write wins on one column.
func (r *wordEvaluationRepository) UpdateResult(ctx context.Context, evaluationID, wordID int64, field string, value bool) error {
	if _, ok := resultColumns[field]; !ok {
		return fmt.Errorf("unknown result field: %s", field)
	}

	query := fmt.Sprintf(`
		UPDATE word_evaluation
		SET %s = $3, result_updated_at = NOW(), updated_at = NOW()
		WHERE evaluation_id = $1 AND word_id = $2
	`, field)

	res, err := r.db.ExecContext(ctx, query, evaluationID, wordID, value)
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

func (r *wordEvaluationRepository) FindByEvaluationAndWord(ctx context.Context, evaluationID, wordID int64) (*models.WordEvaluation, error) {
	query := `
		SELECT
			evaluation_id, word_id, transcription_target_id, transcription_eval_id,
			repetition, audio_path, ml_result, api_result, therapist_result,
			created_at, updated_at, result_updated_at
		FROM word_evaluation
		WHERE evaluation_id = $1 AND word_id = $2
	`

	we, err := scanWordEvaluation(r.db.QueryRowContext(ctx, query, evaluationID, wordID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return we, nil
}

func (r *wordEvaluationRepository) FindAllForEvaluation(ctx context.Context, evaluationID int64) ([]models.WordEvaluation, error) {
	query := `
		SELECT
			evaluation_id, word_id, transcription_target_id, transcription_eval_id,
			repetition, audio_path, ml_result, api_result, therapist_result,
			created_at, updated_at, result_updated_at
		FROM word_evaluation
		WHERE evaluation_id = $1
		ORDER BY word_id
	`

	rows, err := r.db.QueryContext(ctx, query, evaluationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var evaluations []models.WordEvaluation
	for rows.Next() {
		we, err := scanWordEvaluation(rows)
		if err != nil {
			return nil, err
		}
		evaluations = append(evaluations, *we)
	}

	return evaluations, rows.Err()
}

func (r *wordEvaluationRepository) Delete(ctx context.Context, evaluationID, wordID int64) error {
	query := `DELETE FROM word_evaluation WHERE evaluation_id = $1 AND word_id = $2`

	res, err := r.db.ExecContext(ctx, query, evaluationID, wordID)
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

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanWordEvaluation(row rowScanner) (*models.WordEvaluation, error) {
	we := &models.WordEvaluation{}
	var (
		targetID    sql.NullInt64
		evalID      sql.NullInt64
		mlResult    sql.NullBool
		apiResult   sql.NullBool
		therapist   sql.NullBool
		resultAt    sql.NullTime
	)

	err := row.Scan(
		&we.EvaluationID,
		&we.WordID,
		&targetID,
		&evalID,
		&we.Repetition,
		&we.AudioPath,
		&mlResult,
		&apiResult,
		&therapist,
		&we.CreatedAt,
		&we.UpdatedAt,
		&resultAt,
	)
	if err != nil {
		return nil, err
	}

	if targetID.Valid {
		we.TranscriptionTargetID = &targetID.Int64
	}
	if evalID.Valid {
		we.TranscriptionEvalID = &evalID.Int64
	}
	if mlResult.Valid {
		we.MLResult = &mlResult.Bool
	}
	if apiResult.Valid {
		we.APIResult = &apiResult.Bool
	}
	if therapist.Valid {
		we.TherapistResult = &therapist.Bool
	}
	if resultAt.Valid {
		we.ResultUpdatedAt = &resultAt.Time
	}

	return we, nil
}
