package models

import "time"

// Status event types published for every job transition.
const (
	StatusEventQueued      = "queued"
	StatusEventAttempt     = "attempt"
	StatusEventSent        = "sent"
	StatusEventRateLimited = "rate_limited"
	StatusEventFailed      = "failed"
	StatusEventDead        = "dead"
)

// ProviderResponse captures normalized provider outcomes attached to events.
type ProviderResponse struct {
	Status            string            `json:"status"`
	Code              *int              `json:"code,omitempty"`
	Message           string            `json:"message,omitempty"`
	ProviderMessageID string            `json:"provider_message_id,omitempty"`
	ErrorCode         string            `json:"error_code,omitempty"`
	Meta              map[string]string `json:"meta,omitempty"`
}

// StatusEvent is the audit record emitted for a dispatch job transition.
type StatusEvent struct {
	JobID            string            `json:"job_id"`
	Channel          Channel           `json:"channel"`
	EventType        string            `json:"event_type"`
	Attempt          int               `json:"attempt,omitempty"`
	CorrelationID    string            `json:"correlation_id,omitempty"`
	TemplateID       string            `json:"template_id,omitempty"`
	ProviderResponse *ProviderResponse `json:"provider_response,omitempty"`
	Error            string            `json:"error,omitempty"`
	Timestamp        time.Time         `json:"timestamp"`
}
