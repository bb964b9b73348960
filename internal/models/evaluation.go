package models

import (
	"time"
)

// WordEvaluation is one scored word inside a clinical evaluation session.
// The pair (EvaluationID, WordID) is the composite primary key; a second
// submission for the same pair must fail, never overwrite.
type WordEvaluation struct {
	EvaluationID           int64      `json:"evaluation_id" db:"evaluation_id"`
	WordID                 int64      `json:"word_id" db:"word_id"`
	TranscriptionTargetID  *int64     `json:"transcription_target_id,omitempty" db:"transcription_target_id"`
	TranscriptionEvalID    *int64     `json:"transcription_eval_id,omitempty" db:"transcription_eval_id"`
	Repetition             bool       `json:"repetition" db:"repetition"`
	AudioPath              string     `json:"audio_path" db:"audio_path"`
	MLResult               *bool      `json:"ml_result,omitempty" db:"ml_result"`
	APIResult              *bool      `json:"api_result,omitempty" db:"api_result"`
	TherapistResult        *bool      `json:"therapist_result,omitempty" db:"therapist_result"`
	CreatedAt              time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt              time.Time  `json:"updated_at" db:"updated_at"`
	ResultUpdatedAt        *time.Time `json:"result_updated_at,omitempty" db:"result_updated_at"`
}

// Result columns an evaluator may set. UpdateResult accepts nothing else.
const (
	ResultFieldML        = "ml_result"
	ResultFieldAPI       = "api_result"
	ResultFieldTherapist = "therapist_result"
)

// Word is the pronunciation target referenced by a submission. Word CRUD
// lives in another service; only the read side exists here.
type Word struct {
	ID    int64  `json:"id" db:"id"`
	Word  string `json:"word" db:"word"`
	Tip   string `json:"tip,omitempty" db:"tip"`
	Order int    `json:"order" db:"word_order"`
}
