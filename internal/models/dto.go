package models

// SubmitEvaluationResponse is returned by the audio submission endpoint.
type SubmitEvaluationResponse struct {
	JobID   string `json:"job_id"`
	PollURL string `json:"poll_url"`
}

// JobStatusResponse is returned by the task poll endpoint. Result is set
// only for finished jobs, Error only for failed ones.
type JobStatusResponse struct {
	JobID  string  `json:"job_id"`
	Status string  `json:"status"`
	Result *string `json:"result,omitempty"`
	Error  *string `json:"error,omitempty"`
}

// EvaluationWordsResponse lists every scored word of one evaluation.
type EvaluationWordsResponse struct {
	EvaluationID int64            `json:"evaluation_id"`
	Words        []WordEvaluation `json:"words"`
}
