// Package backend defines the error taxonomy shared by every remote
// collaborator (vector index, key-value store, model API).
package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	// ErrConfigMissing indicates a backend cannot be used because its
	// endpoint or credentials are not configured.
	ErrConfigMissing = errors.New("backend configuration missing")

	// ErrBackendUnavailable indicates a network or backend failure.
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrRateLimited indicates the backend throttled the request.
	// It matches ErrBackendUnavailable under errors.Is.
	ErrRateLimited = fmt.Errorf("%w: rate limited", ErrBackendUnavailable)
)

// Missing returns an ErrConfigMissing naming the absent setting.
func Missing(what string) error {
	return fmt.Errorf("%w: %s", ErrConfigMissing, what)
}

// statusCoder is implemented by SDK errors that carry an HTTP status
// (anthropic, genai APIError via Code, etc.).
type statusCoder interface {
	StatusCode() int
}

// Classify wraps err with the matching sentinel. Errors that already carry
// a sentinel, and context cancellation, are returned unchanged.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrConfigMissing) || errors.Is(err, ErrBackendUnavailable) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if IsRateLimit(err) {
		return fmt.Errorf("%s: %w: %v", op, ErrRateLimited, err)
	}
	return fmt.Errorf("%s: %w: %v", op, ErrBackendUnavailable, err)
}

// IsRateLimit reports whether err looks like backend throttling.
func IsRateLimit(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	if st, ok := status.FromError(err); ok && st.Code() == grpccodes.ResourceExhausted {
		return true
	}
	var sc statusCoder
	if errors.As(err, &sc) && sc.StatusCode() == http.StatusTooManyRequests {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "too many requests") ||
		strings.Contains(msg, "quota exceeded") ||
		strings.Contains(msg, "resource_exhausted")
}

// GRPCCode maps a classified error to the status code the facade returns.
func GRPCCode(err error) grpccodes.Code {
	switch {
	case err == nil:
		return grpccodes.OK
	case errors.Is(err, ErrConfigMissing):
		return grpccodes.FailedPrecondition
	case errors.Is(err, ErrRateLimited):
		return grpccodes.ResourceExhausted
	case errors.Is(err, context.DeadlineExceeded):
		return grpccodes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		return grpccodes.Canceled
	default:
		return grpccodes.Unavailable
	}
}

// FromGRPC converts a facade status error back into the sentinels.
func FromGRPC(op string, err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return Classify(op, err)
	}
	switch st.Code() {
	case grpccodes.FailedPrecondition:
		return fmt.Errorf("%s: %w: %s", op, ErrConfigMissing, st.Message())
	case grpccodes.ResourceExhausted:
		return fmt.Errorf("%s: %w: %s", op, ErrRateLimited, st.Message())
	case grpccodes.Canceled:
		return fmt.Errorf("%s: %w", op, context.Canceled)
	default:
		return fmt.Errorf("%s: %w: %s", op, ErrBackendUnavailable, st.Message())
	}
}
