package dispatch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorKind classifies dispatch failures for the caller. Classification
// drives the user-facing message; callers never see raw provider bodies.
type ErrorKind int

const (
	// ErrorUnknown - unclassified failure
	ErrorUnknown ErrorKind = iota

	// ErrorUnreachable - network/connection failure; the service may not
	// be running or the URL may be wrong
	ErrorUnreachable

	// ErrorUnauthorized - the remote rejected the credential
	ErrorUnauthorized

	// ErrorRateLimited - 429 or quota exhaustion
	ErrorRateLimited

	// ErrorTimeout - the call exceeded its deadline
	ErrorTimeout

	// ErrorMalformedResponse - 200 status but content not usable
	ErrorMalformedResponse
)

// String returns a stable kind name for logs and metrics.
func (k ErrorKind) String() string {
	switch k {
	case ErrorUnreachable:
		return "unreachable"
	case ErrorUnauthorized:
		return "unauthorized"
	case ErrorRateLimited:
		return "rate_limited"
	case ErrorTimeout:
		return "timeout"
	case ErrorMalformedResponse:
		return "malformed_response"
	default:
		return "unknown"
	}
}

// Error is a classified dispatch failure. Message is provider-agnostic and
// safe to surface; Cause keeps the original error for logs only.
type Error struct {
	Kind       ErrorKind
	Provider   string
	StatusCode int
	Message    string
	Cause      error
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("[%d] %s", e.StatusCode, e.Message)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// UserMessage returns an actionable, non-leaking message: what failed and
// the next corrective step.
func (e *Error) UserMessage() string {
	switch e.Kind {
	case ErrorUnreachable:
		if e.Provider == "ollama" {
			return "Could not reach the model server. Verify the service is running and the URL is correct."
		}
		return "Could not reach the AI provider. Check your network connection or switch providers."
	case ErrorUnauthorized:
		return "The provider rejected your API key. Re-enter the key in AI settings."
	case ErrorRateLimited:
		return "The provider is rate limiting requests or your quota is exhausted. Wait and retry, or switch providers."
	case ErrorTimeout:
		return "The request timed out. Retry, or switch to a faster provider."
	case ErrorMalformedResponse:
		return "The provider returned an unusable response. Retry, or switch providers."
	default:
		return "The AI request failed. Retry, or switch providers."
	}
}

// classifyHTTP classifies a non-2xx provider response. The body is kept
// only in Cause (truncated) so credential fragments never reach the caller.
func classifyHTTP(provider string, statusCode int, body string) *Error {
	e := &Error{
		Provider:   provider,
		StatusCode: statusCode,
		Cause:      fmt.Errorf("provider returned %d: %s", statusCode, truncate(body, 200)),
	}

	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		e.Kind = ErrorUnauthorized
		e.Message = "provider rejected the credential"

	case statusCode == http.StatusTooManyRequests:
		e.Kind = ErrorRateLimited
		e.Message = "provider is rate limiting requests"

	case statusCode == http.StatusPaymentRequired:
		// Some providers signal quota exhaustion with 402
		e.Kind = ErrorRateLimited
		e.Message = "provider quota exceeded"

	case statusCode == http.StatusGatewayTimeout:
		e.Kind = ErrorTimeout
		e.Message = "provider timed out"

	case statusCode >= 500:
		e.Kind = ErrorUnreachable
		e.Message = "provider unavailable"

	default:
		e.Kind = ErrorUnknown
		e.Message = fmt.Sprintf("provider request failed with status %d", statusCode)
	}

	return e
}

// classifyTransport classifies an error from the HTTP round trip itself.
func classifyTransport(provider string, err error) *Error {
	e := &Error{Provider: provider, Cause: err}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		e.Kind = ErrorTimeout
		e.Message = "request timed out"
		return e
	}

	errStr := err.Error()
	switch {
	case strings.Contains(errStr, "context deadline exceeded"),
		strings.Contains(errStr, "Client.Timeout exceeded"):
		e.Kind = ErrorTimeout
		e.Message = "request timed out"

	case strings.Contains(errStr, "connection refused"),
		strings.Contains(errStr, "connection reset"),
		strings.Contains(errStr, "no such host"),
		strings.Contains(errStr, "network is unreachable"),
		strings.Contains(errStr, "i/o timeout"),
		strings.Contains(errStr, "EOF"):
		e.Kind = ErrorUnreachable
		e.Message = "could not connect to provider"

	default:
		e.Kind = ErrorUnknown
		e.Message = "request failed"
	}

	return e
}

// malformed builds a MalformedResponse error for 200-status bodies that
// cannot be parsed.
func malformed(provider string, cause error) *Error {
	return &Error{
		Kind:     ErrorMalformedResponse,
		Provider: provider,
		Message:  "provider response was not parseable",
		Cause:    cause,
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
