package models

import "time"

// JobStatus is the lifecycle status of a DispatchJob.
type JobStatus string

// Job statuses. Sent and Dead are terminal; Failed means the last attempt
// failed and the job is waiting for its retry.
const (
	JobQueued   JobStatus = "queued"
	JobInFlight JobStatus = "in_flight"
	JobSent     JobStatus = "sent"
	JobFailed   JobStatus = "failed"
	JobDead     JobStatus = "dead"
)

// JobStatuses lists every status in lifecycle order.
func JobStatuses() []JobStatus {
	return []JobStatus{JobQueued, JobInFlight, JobSent, JobFailed, JobDead}
}

// Terminal reports whether no further transitions are possible.
func (s JobStatus) Terminal() bool {
	return s == JobSent || s == JobDead
}

// DispatchJob is a queued, channel specific send request with retry state.
type DispatchJob struct {
	ID                string         `json:"id"`
	Channel           Channel        `json:"channel"`
	Recipient         string         `json:"recipient"`
	TemplateID        string         `json:"templateId"`
	Data              map[string]any `json:"data,omitempty"`
	Attempts          int            `json:"attempts"`
	Status            JobStatus      `json:"status"`
	CorrelationID     string         `json:"correlationId,omitempty"`
	PartitionKey      string         `json:"partitionKey,omitempty"`
	LastError         string         `json:"lastError,omitempty"`
	ProviderMessageID string         `json:"providerMessageId,omitempty"`
	NextAttemptAt     *time.Time     `json:"nextAttemptAt,omitempty"`
	CreatedAt         time.Time      `json:"createdAt"`
	UpdatedAt         time.Time      `json:"updatedAt"`
}

// RoutingKey returns the key used to pick the worker partition. Jobs that
// share it are delivered in enqueue order.
func (j *DispatchJob) RoutingKey() string {
	switch {
	case j.PartitionKey != "":
		return j.PartitionKey
	case j.CorrelationID != "":
		return j.CorrelationID
	default:
		return j.ID
	}
}

// ChannelStats holds per status job counts for one channel.
type ChannelStats struct {
	Queued   int `json:"queued"`
	InFlight int `json:"inFlight"`
	Sent     int `json:"sent"`
	Failed   int `json:"failed"`
	Dead     int `json:"dead"`
}

// Add increments the counter that matches status.
func (s *ChannelStats) Add(status JobStatus, n int) {
	switch status {
	case JobQueued:
		s.Queued += n
	case JobInFlight:
		s.InFlight += n
	case JobSent:
		s.Sent += n
	case JobFailed:
		s.Failed += n
	case JobDead:
		s.Dead += n
	}
}

// QueueStats maps each channel to its counters.
type QueueStats map[Channel]ChannelStats
