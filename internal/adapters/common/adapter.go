package common

import (
	"context"

	"github.com/example/workflow-notifier/internal/render"
)

// Adapter is the channel provider boundary seen by the dispatcher. Adapters
// convert a rendered message into a provider payload and return a normalized
// ProviderResponse alongside an error classified with ErrTransient or
// ErrPermanent.
type Adapter interface {
	Send(ctx context.Context, recipient string, msg *render.Message) (*ProviderResponse, error)
}

// Meta keys the dispatcher sets on rendered messages before sending.
const (
	MetaJobID         = "job_id"
	MetaCorrelationID = "correlation_id"
)
