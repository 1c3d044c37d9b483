package chat

import (
	"context"
	"time"
)

// Payload is a single outbound chat message. Fields carries the structured
// values of the rendered message for providers that support templates.
type Payload struct {
	MessageID string
	From      string
	To        string
	Body      string
	Fields    map[string]string
	Meta      map[string]string
}

// RawResponse is the low level provider answer.
type RawResponse struct {
	ID        string
	Code      int
	Status    string
	ErrorCode int
	Body      string
	Timestamp time.Time
}

// Provider sends one chat message.
type Provider interface {
	Send(ctx context.Context, payload *Payload) (*RawResponse, error)
}
