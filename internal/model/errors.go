package model

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/yudai-dev/yudai/internal/domain"
)

type ErrorKind string

const (
	KindAuthentication    ErrorKind = "authentication"
	KindUnsupportedParams ErrorKind = "unsupported_params"
	KindNotFound          ErrorKind = "not_found"
	KindPermissionDenied  ErrorKind = "permission_denied"
	KindContextWindow     ErrorKind = "context_window_exceeded"
	KindRateLimit         ErrorKind = "rate_limit"
	KindServer            ErrorKind = "server"
	KindTransport         ErrorKind = "transport"
	KindInvalidResponse   ErrorKind = "invalid_response"
	KindUnknown           ErrorKind = "unknown"
)

// APIError is a failed call to a model backend.
type APIError struct {
	Kind       ErrorKind
	StatusCode int
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	var b strings.Builder
	b.WriteString("model api error")
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (HTTP %d", e.StatusCode)
		if e.Kind != "" {
			fmt.Fprintf(&b, ", %s", e.Kind)
		}
		b.WriteString(")")
	} else if e.Kind != "" {
		fmt.Fprintf(&b, " (%s)", e.Kind)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *APIError) Unwrap() error { return e.Err }

// Permanent reports whether retrying the call cannot succeed.
func (e *APIError) Permanent() bool {
	switch e.Kind {
	case KindAuthentication, KindUnsupportedParams, KindNotFound, KindPermissionDenied, KindContextWindow:
		return true
	}
	return false
}

// ClassifyStatus builds an APIError from an HTTP status and response body.
func ClassifyStatus(status int, body string) *APIError {
	kind := KindUnknown
	lower := strings.ToLower(body)
	switch {
	case status == http.StatusUnauthorized:
		kind = KindAuthentication
	case status == http.StatusForbidden:
		kind = KindPermissionDenied
	case status == http.StatusNotFound:
		kind = KindNotFound
	case status == http.StatusTooManyRequests:
		kind = KindRateLimit
	case isContextWindow(lower):
		kind = KindContextWindow
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		if strings.Contains(lower, "unsupported") || strings.Contains(lower, "not supported") {
			kind = KindUnsupportedParams
		}
	case status >= 500:
		kind = KindServer
	}
	msg := strings.TrimSpace(body)
	if kind == KindAuthentication {
		msg = "authentication failed, check that the API key environment variable is set"
	}
	return &APIError{Kind: kind, StatusCode: status, Message: msg}
}

func isContextWindow(body string) bool {
	return strings.Contains(body, "context_length_exceeded") ||
		strings.Contains(body, "context window") ||
		strings.Contains(body, "maximum context length")
}

// CostError reports a call whose monetary cost could not be determined.
type CostError struct {
	Model  string
	Reason string
}

func (e *CostError) Error() string {
	return fmt.Sprintf("no valid cost information for model %s: %s; set cost_tracking = \"ignore_errors\" "+
		"in the model config or export YUDAI_COST_TRACKING=ignore_errors for free or local models", e.Model, e.Reason)
}

// Retryable reports whether err is worth another attempt. Flow-control
// signals, cancellation, cost errors and permanent API errors are not.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return !apiErr.Permanent()
	}
	var costErr *CostError
	var interrupt *domain.UserInterruption
	var format *domain.FormatError
	if errors.As(err, &costErr) || errors.As(err, &interrupt) || errors.As(err, &format) {
		return false
	}
	return true
}
