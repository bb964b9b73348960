package repository

import (
	"context"
	"database/sql"

	"github.com/rs/zerolog"

	"github.com/fonoaudio/evaluation-service/internal/models"
)

// ReferenceRepository is the read-only view of entities owned by the CRUD
// surface of the platform. The submission workflow only needs existence
// checks and the word label.
type ReferenceRepository interface {
	EvaluationExists(ctx context.Context, evaluationID int64) (bool, error)
	GetWordByID(ctx context.Context, wordID int64) (*models.Word, error)
	TranscriptionExists(ctx context.Context, transcriptionID int64) (bool, error)
}

type referenceRepository struct {
	*PostgresRepository
}

func NewReferenceRepository(db *sql.DB, logger zerolog.Logger) ReferenceRepository {
	return &referenceRepository{
		PostgresRepository: NewPostgresRepository(db, logger),
	}
}

func (r *referenceRepository) EvaluationExists(ctx context.Context, evaluationID int64) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM evaluations WHERE id = $1)`, evaluationID).Scan(&exists)
	return exists, err
}

func (r *referenceRepository) GetWordByID(ctx context.Context, wordID int64) (*models.Word, error) {
	query := `SELECT id, word, COALESCE(tip, ''), COALESCE(word_order, 0) FROM words WHERE id = $1`

	word := &models.Word{}
	err := r.db.QueryRowContext(ctx, query, wordID).Scan(
		&word.ID,
		&word.Word,
		&word.Tip,
		&word.Order,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return word, nil
}

func (r *referenceRepository) TranscriptionExists(ctx context.Context, transcriptionID int64) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM transcription WHERE id = $1)`, transcriptionID).Scan(&exists)
	return exists, err
}
