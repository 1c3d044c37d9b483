package models

import "time"

// Failure types for dead job records.
const (
	FailureTypePermanent = "permanent"
	FailureTypeTransient = "transient"
	FailureTypeUnknown   = "unknown"
)

// DeadJobRecord is the operator-visible record of a job that will never be
// retried again.
type DeadJobRecord struct {
	JobID         string         `json:"job_id"`
	Channel       Channel        `json:"channel"`
	Recipient     string         `json:"recipient"`
	TemplateID    string         `json:"template_id"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Data          map[string]any `json:"data,omitempty"`
	Attempts      int            `json:"attempts"`
	FailureType   string         `json:"failure_type"`
	LastError     string         `json:"last_error,omitempty"`
	FirstFailedAt time.Time      `json:"first_failed_at"`
	LastAttemptAt time.Time      `json:"last_attempt_at"`
}
