package common

import (
	"net/http"
	"strconv"
	"unicode/utf8"

	"github.com/example/workflow-notifier/internal/models"
)

// DefaultRawBodyLimit is the maximum number of characters retained from a
// provider response body.
const DefaultRawBodyLimit = 1024

// Normalized provider statuses.
const (
	StatusOK        = "ok"
	StatusRejected  = "rejected"
	StatusRetryable = "retryable"
	StatusUnknown   = "unknown"
)

// ProviderResponse captures normalized provider information exchanged between
// adapters and the dispatcher.
type ProviderResponse struct {
	Status            string            `json:"status"`
	Code              *int              `json:"code,omitempty"`
	Message           string            `json:"message,omitempty"`
	ProviderMessageID string            `json:"provider_message_id,omitempty"`
	ErrorCode         string            `json:"error_code,omitempty"`
	Raw               string            `json:"raw,omitempty"`
	Meta              map[string]string `json:"meta,omitempty"`
}

// Model converts the response into the audit representation.
func (r *ProviderResponse) Model() *models.ProviderResponse {
	if r == nil {
		return nil
	}
	return &models.ProviderResponse{
		Status:            r.Status,
		Code:              r.Code,
		Message:           r.Message,
		ProviderMessageID: r.ProviderMessageID,
		ErrorCode:         r.ErrorCode,
		Meta:              r.Meta,
	}
}

// TruncateRaw trims raw to limit runes. A non-positive limit yields "".
func TruncateRaw(raw string, limit int) string {
	if limit <= 0 {
		return ""
	}
	if utf8.RuneCountInString(raw) <= limit {
		return raw
	}
	return string([]rune(raw)[:limit])
}

// OptionalInt returns nil for zero so absent codes are omitted.
func OptionalInt(code int) *int {
	if code == 0 {
		return nil
	}
	c := code
	return &c
}

// ErrorCodeString formats a provider error number, empty for zero.
func ErrorCodeString(code int) string {
	if code == 0 {
		return ""
	}
	return strconv.Itoa(code)
}

// ClassifyHTTP maps an HTTP status to a normalized status. 429 and 5xx are
// retryable; other 4xx are rejections.
func ClassifyHTTP(code int) (string, bool) {
	switch {
	case code == http.StatusTooManyRequests, code == http.StatusRequestTimeout:
		return StatusRetryable, true
	case code >= http.StatusInternalServerError:
		return StatusRetryable, true
	case code >= http.StatusBadRequest:
		return StatusRejected, true
	}
	return StatusUnknown, false
}

// WrapStatus classifies err by a normalized status. Only rejections are
// permanent; anything else is worth another attempt.
func WrapStatus(status string, err error) error {
	if status == StatusRejected {
		return WrapPermanent(err)
	}
	return WrapTransient(err)
}
