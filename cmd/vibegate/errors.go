package main

import (
	"errors"
	"net"
	"net/http"
	"strings"
	"syscall"
)

// errorKind classifies an error for the pipeline stages.
type errorKind int

const (
	kindInternal errorKind = iota
	kindValidation
	kindUnauthorized
	kindForbidden
	kindRateLimit
	kindCORS
	kindUnavailable
	kindNotFound
	kindTimeout
)

// apiError carries everything a pipeline stage needs to produce a terminal
// response: the kind, the HTTP status, the client-facing message, and any
// kind-specific payload (validation fields, retryAfter).
type apiError struct {
	kind       errorKind
	status     int
	title      string // flat "error" field used by 429 bodies
	message    string
	fields     map[string]string
	retryAfter int
	stack      string
	cause      error
}

func (e *apiError) Error() string {
	if e.cause != nil {
		return e.message + ": " + e.cause.Error()
	}
	return e.message
}

func (e *apiError) Unwrap() error { return e.cause }

func newValidationError(message string, fields map[string]string) *apiError {
	return &apiError{kind: kindValidation, status: http.StatusBadRequest, message: message, fields: fields}
}

func newUnauthorizedError(message string) *apiError {
	return &apiError{kind: kindUnauthorized, status: http.StatusUnauthorized, message: message}
}

func newForbiddenError(message string) *apiError {
	return &apiError{kind: kindForbidden, status: http.StatusForbidden, message: message}
}

func newRateLimitError(message string, retryAfter int) *apiError {
	return &apiError{
		kind:       kindRateLimit,
		status:     http.StatusTooManyRequests,
		title:      "Too many requests",
		message:    message,
		retryAfter: retryAfter,
	}
}

func newProviderLimitError(provider string, retryAfter int) *apiError {
	return &apiError{
		kind:       kindRateLimit,
		status:     http.StatusTooManyRequests,
		title:      providerDisplayName(provider) + " API rate limit exceeded",
		message:    "Rate limit for " + provider + " calls exceeded, slow down",
		retryAfter: retryAfter,
	}
}

func newCORSError(origin string) *apiError {
	return &apiError{
		kind:    kindCORS,
		status:  http.StatusForbidden,
		message: "Origin " + origin + " is not allowed by CORS policy",
	}
}

func newUnavailableError(message string, retryAfter int) *apiError {
	return &apiError{
		kind:       kindUnavailable,
		status:     http.StatusServiceUnavailable,
		message:    message,
		retryAfter: retryAfter,
	}
}

func newNotFoundError(url string) *apiError {
	return &apiError{kind: kindNotFound, status: http.StatusNotFound, message: "Not Found - " + url}
}

func newTimeoutError() *apiError {
	return &apiError{kind: kindTimeout, status: http.StatusRequestTimeout, message: "Request timed out"}
}

func newInternalError(cause error) *apiError {
	return &apiError{kind: kindInternal, status: http.StatusInternalServerError, message: "Internal server error", cause: cause}
}

// asAPIError unwraps err into an *apiError when one is in the chain.
func asAPIError(err error) (*apiError, bool) {
	var e *apiError
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// isTransportError reports whether err looks like a transport disconnect or
// an unavailable dependency, the class the service-recovery stage converts
// into a 503.
func isTransportError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	msg := err.Error()
	for _, marker := range []string{"connection refused", "connection reset", "broken pipe", "no such host", "ECONNREFUSED"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

var providerNames = map[string]string{
	"anthropic": "Anthropic",
	"openai":    "OpenAI",
}

func providerDisplayName(provider string) string {
	if name, ok := providerNames[provider]; ok {
		return name
	}
	if provider == "" {
		return "Provider"
	}
	return strings.ToUpper(provider[:1]) + provider[1:]
}
