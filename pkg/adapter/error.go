package adapter

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go"
	"google.golang.org/genai"
)

// ErrorKind is the closed taxonomy of backend failures. Every adapter
// error is classified into exactly one kind before it reaches the
// escalation controller.
type ErrorKind string

const (
	// KindAuth covers invalid or rejected credentials (401/403).
	KindAuth ErrorKind = "auth_error"
	// KindRateLimit covers quota exhaustion (429).
	KindRateLimit ErrorKind = "rate_limited"
	// KindTimeout covers deadline expiry, client- or server-side.
	KindTimeout ErrorKind = "timeout"
	// KindTransport covers connection failures and 5xx responses.
	KindTransport ErrorKind = "transport_error"
	// KindMalformed covers syntactically unusable backend output.
	KindMalformed ErrorKind = "malformed_response"
)

// ProviderError wraps a backend failure with its classified kind and,
// where known, the HTTP status that produced it.
type ProviderError struct {
	Kind   ErrorKind
	Status int
	Err    error
}

func (e *ProviderError) Error() string {
	if e == nil {
		return "provider error"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s (status=%d)", e.Kind, e.Status)
}

func (e *ProviderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewProviderError builds a ProviderError from an HTTP status code.
func NewProviderError(status int, err error) *ProviderError {
	return &ProviderError{Kind: kindForStatus(status), Status: status, Err: err}
}

func kindForStatus(status int) ErrorKind {
	switch {
	case status == 401 || status == 403:
		return KindAuth
	case status == 429:
		return KindRateLimit
	case status == 408 || status == 504:
		return KindTimeout
	default:
		return KindTransport
	}
}

// Classify maps an arbitrary adapter error to its kind. Unknown errors
// classify as transport failures, which escalate rather than abort.
func Classify(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var provErr *ProviderError
	if errors.As(err, &provErr) {
		return provErr.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	var anthropicErr *anthropic.Error
	if errors.As(err, &anthropicErr) {
		return kindForStatus(anthropicErr.StatusCode)
	}
	var openaiErr *openai.Error
	if errors.As(err, &openaiErr) {
		return kindForStatus(openaiErr.StatusCode)
	}
	var genaiErr genai.APIError
	if errors.As(err, &genaiErr) {
		return kindForStatus(genaiErr.Code)
	}
	return KindTransport
}

// IsTransient reports whether an error is safe to retry against another
// backend. Cancellation is not transient: the caller has gone away.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	switch Classify(err) {
	case KindTimeout, KindRateLimit, KindTransport:
		return true
	}
	return false
}
