package common

import (
	"errors"
	"fmt"

	"github.com/example/workflow-notifier/internal/models"
)

// Delivery failures are either worth retrying or not. Adapters wrap provider
// errors with one of these; anything unwrapped is retried as transient.
var (
	ErrTransient = errors.New("transient error")
	ErrPermanent = errors.New("permanent error")
)

// WrapTransient marks err as retryable.
func WrapTransient(err error) error {
	if err == nil {
		return ErrTransient
	}
	return fmt.Errorf("%w: %v", ErrTransient, err)
}

// WrapPermanent marks err as final; the job goes straight to dead.
func WrapPermanent(err error) error {
	if err == nil {
		return ErrPermanent
	}
	return fmt.Errorf("%w: %v", ErrPermanent, err)
}

// Retryable reports whether another attempt may succeed.
func Retryable(err error) bool {
	return err != nil && !errors.Is(err, ErrPermanent)
}

// FailureType names the failure class recorded on dead jobs.
func FailureType(err error) string {
	switch {
	case errors.Is(err, ErrPermanent):
		return models.FailureTypePermanent
	case errors.Is(err, ErrTransient):
		return models.FailureTypeTransient
	default:
		return models.FailureTypeUnknown
	}
}
