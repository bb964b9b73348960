package service

import "errors"

// Typed errors for the delivery layer to map onto HTTP codes.
var (
	// Client-side conditions, rejected before or after compensation.
	ErrEvaluationNotFound    = errors.New("evaluation not found")
	ErrWordNotFound          = errors.New("word not found")
	ErrTranscriptionNotFound = errors.New("transcription not found")
	ErrAudioTypeNotAllowed   = errors.New("audio file type not allowed")
	ErrEmptyAudio            = errors.New("audio payload is empty")
	ErrDuplicateSubmission   = errors.New("word already evaluated for this evaluation")

	// Backend conditions.
	ErrEnqueueFailure = errors.New("failed to enqueue evaluation job")

	// Status query conditions.
	ErrJobNotFound   = errors.New("job not found")
	ErrNotAuthorized = errors.New("not authorized to access this job")
)
