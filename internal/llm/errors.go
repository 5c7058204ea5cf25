package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
)

// TransportError wraps network-level failures: connection resets, DNS
// failures, timeouts before a response arrived.
type TransportError struct {
	Cause error
}

func (e *TransportError) Error() string { return fmt.Sprintf("llm: transport failure: %v", e.Cause) }
func (e *TransportError) Unwrap() error { return e.Cause }

// RateLimitedError reports a 429 from the service. RetryAfter is the
// service-suggested wait, zero when the response carried no hint.
type RateLimitedError struct {
	RetryAfter time.Duration
	Cause      error
}

func (e *RateLimitedError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("llm: rate limited, retry after %s", e.RetryAfter)
	}
	return "llm: rate limited"
}
func (e *RateLimitedError) Unwrap() error { return e.Cause }

// InvalidRequestError reports a request the service rejected as malformed or
// unauthorized. Retrying the same request cannot succeed.
type InvalidRequestError struct {
	StatusCode int
	Message    string
	Cause      error
}

func (e *InvalidRequestError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("llm: invalid request (%d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("llm: invalid request (%d)", e.StatusCode)
}
func (e *InvalidRequestError) Unwrap() error { return e.Cause }

// UpstreamError reports a service-side failure (5xx, overloaded).
type UpstreamError struct {
	StatusCode int
	Cause      error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("llm: upstream failure (%d)", e.StatusCode)
}
func (e *UpstreamError) Unwrap() error { return e.Cause }

// Retryable reports whether a failed call may succeed if repeated. Invalid
// requests never do; everything else is transient from the caller's view.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var invalid *InvalidRequestError
	if errors.As(err, &invalid) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var rl *RateLimitedError
	var up *UpstreamError
	var tr *TransportError
	return errors.As(err, &rl) || errors.As(err, &up) || errors.As(err, &tr)
}

// classify converts an SDK error into the package error taxonomy.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apiErr *anthropic.Error
	if !errors.As(err, &apiErr) {
		return &TransportError{Cause: err}
	}

	switch {
	case apiErr.StatusCode == http.StatusTooManyRequests:
		return &RateLimitedError{RetryAfter: retryAfter(apiErr), Cause: err}
	case apiErr.StatusCode >= 500:
		return &UpstreamError{StatusCode: apiErr.StatusCode, Cause: err}
	case apiErr.StatusCode >= 400:
		return &InvalidRequestError{StatusCode: apiErr.StatusCode, Message: apiErrMessage(apiErr), Cause: err}
	default:
		return &TransportError{Cause: err}
	}
}

func retryAfter(apiErr *anthropic.Error) time.Duration {
	if apiErr.Response == nil {
		return 0
	}
	raw := apiErr.Response.Header.Get("Retry-After")
	if raw == "" {
		return 0
	}
	secs, err := strconv.Atoi(raw)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func apiErrMessage(apiErr *anthropic.Error) string {
	var payload struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	raw := apiErr.RawJSON()
	if raw == "" {
		return ""
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return ""
	}
	return payload.Error.Message
}
