package models

import (
	"time"
)

type JobStatus string

const (
	JobStatusQueued   JobStatus = "queued"
	JobStatusRunning  JobStatus = "running"
	JobStatusFinished JobStatus = "finished"
	JobStatusFailed   JobStatus = "failed"
)

func (s JobStatus) String() string {
	return string(s)
}

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobStatusFinished || s == JobStatusFailed
}

const JobTypeMLTranscription = "ml_transcribe_audio"

// Job is one unit of asynchronous classification work. The jobs table is
// the authoritative record of status and result; workers only request
// transitions through guarded updates.
type Job struct {
	ID             string     `json:"id" db:"id"`
	Type           string     `json:"type" db:"type"`
	Status         JobStatus  `json:"status" db:"status"`
	OwnerPrincipal string     `json:"owner_principal" db:"owner_principal"`
	EvaluationID   int64      `json:"evaluation_id" db:"evaluation_id"`
	WordID         int64      `json:"word_id" db:"word_id"`
	Result         *string    `json:"result,omitempty" db:"result"`
	ErrorMessage   *string    `json:"error_message,omitempty" db:"error_message"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	StartedAt      *time.Time `json:"started_at,omitempty" db:"started_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// JobPayload travels over the message queue to the worker process.
type JobPayload struct {
	JobID        string `json:"job_id"`
	EvaluationID int64  `json:"evaluation_id"`
	WordID       int64  `json:"word_id"`
	Word         string `json:"word"`
	AudioPath    string `json:"audio_path"`
	FeatureBins  int    `json:"feature_bins"`
}
