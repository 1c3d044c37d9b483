package common

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

type statusErr int

func (e statusErr) Error() string   { return fmt.Sprintf("status %d", int(e)) }
func (e statusErr) StatusCode() int { return int(e) }

func TestClassifierPrecedence(t *testing.T) {
	c := Classifier{Permanent: NewCodeSet(21211), Transient: NewCodeSet(30001)}

	cases := []struct {
		name    string
		failure Failure
		want    string
	}{
		{"permanent code beats 5xx", Failure{HTTPStatus: 503, ErrorCode: 21211}, StatusRejected},
		{"transient code beats 4xx", Failure{HTTPStatus: 400, ErrorCode: 30001}, StatusRetryable},
		{"invalid provider status", Failure{ProviderStatus: "invalid_number"}, StatusRejected},
		{"http 429", Failure{HTTPStatus: 429}, StatusRetryable},
		{"http 404", Failure{HTTPStatus: 404}, StatusRejected},
		{"status error", Failure{Err: fmt.Errorf("wrap: %w", statusErr(502))}, StatusRetryable},
		{"deadline", Failure{Err: context.DeadlineExceeded}, StatusRetryable},
		{"unknown", Failure{Err: errors.New("boom")}, StatusUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, c.Classify(tc.failure))
		})
	}
}
