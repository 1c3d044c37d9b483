package email

import (
	"context"
	"time"
)

// Payload is an outbound email after rendering. The adapter builds it from a
// rendered message; providers turn it into a MIME message.
type Payload struct {
	MessageID string
	From      string
	To        []string
	Subject   string
	TextBody  string
	HTMLBody  string
	Headers   map[string]string
}

// RawResponse mirrors the low level provider response that adapters inspect to
// derive a normalized ProviderResponse.
type RawResponse struct {
	ID        string
	Code      int
	Body      string
	Timestamp time.Time
}

// Provider sends one email.
type Provider interface {
	Send(ctx context.Context, payload *Payload) (*RawResponse, error)
}
