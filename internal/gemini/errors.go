package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrInvalidModel is returned for model ids outside the Gemini family.
var ErrInvalidModel = errors.New("invalid model name format")

// Reason classifies a provider failure.
type Reason string

const (
	ReasonRateLimit      Reason = "rate_limit"
	ReasonAuth           Reason = "auth"
	ReasonTimeout        Reason = "timeout"
	ReasonServerError    Reason = "server_error"
	ReasonInvalidRequest Reason = "invalid_request"
	ReasonContentFilter  Reason = "content_filter"
	// ReasonUnavailable means the circuit breaker is refusing calls.
	ReasonUnavailable Reason = "unavailable"
	ReasonUnknown        Reason = "unknown"
)

// IsRetryable reports whether retrying the request may succeed.
func (r Reason) IsRetryable() bool {
	switch r {
	case ReasonRateLimit, ReasonTimeout, ReasonServerError, ReasonUnavailable:
		return true
	}
	return false
}

// ProviderError is a classified failure from the generation backend.
type ProviderError struct {
	Reason Reason
	Model  string
	Status int
	Cause  error
}

func (e *ProviderError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] gemini", e.Reason)
	if e.Model != "" {
		fmt.Fprintf(&b, " model=%s", e.Model)
	}
	if e.Status != 0 {
		fmt.Fprintf(&b, " status=%d", e.Status)
	}
	if e.Cause != nil {
		b.WriteString(" ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// HTTPStatus maps the failure onto the status the gateway should return.
func (e *ProviderError) HTTPStatus() int {
	switch e.Reason {
	case ReasonRateLimit:
		return http.StatusTooManyRequests
	case ReasonAuth:
		return http.StatusBadGateway
	case ReasonTimeout:
		return http.StatusGatewayTimeout
	case ReasonInvalidRequest, ReasonContentFilter:
		return http.StatusBadRequest
	case ReasonUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusBadGateway
}

// wrapError classifies err. Errors that are already classified pass through.
func wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return err
	}
	pe = &ProviderError{Model: model, Cause: err, Reason: classify(err)}
	pe.Status = statusFromMessage(strings.ToLower(err.Error()))
	return pe
}

func classify(err error) Reason {
	if errors.Is(err, context.DeadlineExceeded) {
		return ReasonTimeout
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		return ReasonTimeout
	case strings.Contains(msg, "429") || strings.Contains(msg, "resource exhausted") ||
		strings.Contains(msg, "resource_exhausted") || strings.Contains(msg, "rate limit"):
		return ReasonRateLimit
	case strings.Contains(msg, "401") || strings.Contains(msg, "403") ||
		strings.Contains(msg, "unauthenticated") || strings.Contains(msg, "permission denied") ||
		strings.Contains(msg, "permission_denied"):
		return ReasonAuth
	case strings.Contains(msg, "safety") || strings.Contains(msg, "blocked"):
		return ReasonContentFilter
	case strings.Contains(msg, "400") || strings.Contains(msg, "invalid argument") ||
		strings.Contains(msg, "invalid_argument"):
		return ReasonInvalidRequest
	case strings.Contains(msg, "500") || strings.Contains(msg, "502") ||
		strings.Contains(msg, "503") || strings.Contains(msg, "504") ||
		strings.Contains(msg, "unavailable") || strings.Contains(msg, "internal"):
		return ReasonServerError
	}
	return ReasonUnknown
}

func statusFromMessage(msg string) int {
	for _, code := range []int{400, 401, 403, 404, 429, 500, 502, 503, 504} {
		if strings.Contains(msg, fmt.Sprintf("%d", code)) {
			return code
		}
	}
	return 0
}
