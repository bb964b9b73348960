package models

import (
	"time"
)

// JobCompletedEvent mirrors the terminal state of a job for consumers that
// track pipeline throughput.
type JobCompletedEvent struct {
	JobID        string    `json:"job_id"`
	EvaluationID int64     `json:"evaluation_id"`
	WordID       int64     `json:"word_id"`
	Status       string    `json:"status"`
	Result       *string   `json:"result,omitempty"`
	CompletedAt  time.Time `json:"completed_at"`
}
