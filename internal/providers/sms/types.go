package sms

import (
	"context"
	"time"
)

// Payload is a single outbound SMS.
type Payload struct {
	MessageID string
	From      string
	To        string
	Body      string
	Meta      map[string]string
}

// RawResponse is the low level provider answer. Code is the HTTP status for
// HTTP backed providers; ErrorCode is the provider specific error number.
type RawResponse struct {
	ID        string
	Code      int
	Status    string
	ErrorCode int
	Body      string
	Timestamp time.Time
}

// Provider sends one SMS.
type Provider interface {
	Send(ctx context.Context, payload *Payload) (*RawResponse, error)
}
