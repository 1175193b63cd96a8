package backend

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type httpErr struct{ code int }

func (e httpErr) Error() string   { return "http error" }
func (e httpErr) StatusCode() int { return e.code }

func TestClassify(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		unavailable bool
		rateLimited bool
	}{
		{"plain error", errors.New("connection refused"), true, false},
		{"grpc resource exhausted", status.Error(grpccodes.ResourceExhausted, "slow down"), true, true},
		{"grpc unavailable", status.Error(grpccodes.Unavailable, "down"), true, false},
		{"http 429", httpErr{code: 429}, true, true},
		{"http 500", httpErr{code: 500}, true, false},
		{"message heuristic", errors.New("Rate limit reached for requests"), true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify("op", tt.err)
			assert.Equal(t, tt.unavailable, errors.Is(got, ErrBackendUnavailable))
			assert.Equal(t, tt.rateLimited, errors.Is(got, ErrRateLimited))
			assert.Contains(t, got.Error(), "op")
		})
	}
}

func TestClassify_PassThrough(t *testing.T) {
	assert.NoError(t, Classify("op", nil))

	missing := Missing("vector.qdrant_host")
	assert.Same(t, missing, Classify("op", missing))
	assert.ErrorIs(t, Classify("op", missing), ErrConfigMissing)

	canceled := context.Canceled
	assert.Same(t, canceled, Classify("op", canceled))
}

func TestGRPCRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code grpccodes.Code
		want error
	}{
		{"config", Missing("key"), grpccodes.FailedPrecondition, ErrConfigMissing},
		{"rate", Classify("upsert", errors.New("rate limit")), grpccodes.ResourceExhausted, ErrRateLimited},
		{"unavailable", Classify("query", errors.New("boom")), grpccodes.Unavailable, ErrBackendUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code := GRPCCode(tt.err)
			assert.Equal(t, tt.code, code)

			back := FromGRPC("client", status.Error(code, tt.err.Error()))
			assert.ErrorIs(t, back, tt.want)
		})
	}
}
