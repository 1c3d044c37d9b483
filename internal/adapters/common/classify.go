package common

import (
	"context"
	"errors"
	"net"
	"strings"
)

// CodeSet is a set of provider specific error numbers.
type CodeSet map[int]struct{}

// NewCodeSet builds a CodeSet from codes.
func NewCodeSet(codes ...int) CodeSet {
	s := make(CodeSet, len(codes))
	for _, c := range codes {
		s[c] = struct{}{}
	}
	return s
}

// Has reports whether code is in the set.
func (s CodeSet) Has(code int) bool {
	_, ok := s[code]
	return ok
}

// Failure describes a failed provider call for classification.
type Failure struct {
	HTTPStatus     int
	ErrorCode      int
	ProviderStatus string
	Err            error
}

// Classifier maps failures to normalized statuses using provider error code
// tables first, then HTTP status, then the error itself.
type Classifier struct {
	Permanent CodeSet
	Transient CodeSet
}

// Classify returns the normalized status of f.
func (c Classifier) Classify(f Failure) string {
	if f.ErrorCode != 0 {
		if c.Permanent.Has(f.ErrorCode) {
			return StatusRejected
		}
		if c.Transient.Has(f.ErrorCode) {
			return StatusRetryable
		}
	}
	lower := strings.ToLower(f.ProviderStatus)
	if strings.Contains(lower, "permanent") || strings.Contains(lower, "invalid") {
		return StatusRejected
	}
	if status, ok := ClassifyHTTP(f.HTTPStatus); ok {
		return status
	}
	var httpErr interface{ StatusCode() int }
	if errors.As(f.Err, &httpErr) {
		if status, ok := ClassifyHTTP(httpErr.StatusCode()); ok {
			return status
		}
	}
	if IsTimeout(f.Err) {
		return StatusRetryable
	}
	return StatusUnknown
}

// IsTimeout reports whether err is a deadline, cancellation or network
// timeout.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "timeout")
}
