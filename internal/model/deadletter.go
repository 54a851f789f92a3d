package model

import "time"

// DeadLetterEntry records a pipeline execution that exhausted its retries.
// Entries are removed only by an explicit retry operation.
type DeadLetterEntry struct {
	ProcessID   string    `json:"process_id"`
	Subject     string    `json:"subject"`
	Category    string    `json:"category,omitempty"`
	FailedStage Stage     `json:"failed_stage"`
	Error       string    `json:"error"`
	RetryCount  int       `json:"retry_count"`
	CreatedAt   time.Time `json:"created_at"`
}
