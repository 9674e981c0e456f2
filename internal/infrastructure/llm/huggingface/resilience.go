package huggingface

import (
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/kirillkom/scanpipe/internal/infrastructure/resilience"
)

// StatusError is a non-2xx answer from the inference API.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("inference API returned %d", e.Code)
	}
	return fmt.Sprintf("inference API returned %d: %s", e.Code, e.Body)
}

// Retryable is true for throttling, upstream hiccups and the 503 the API
// answers while a model is still loading.
func (e *StatusError) Retryable() bool {
	switch e.Code {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return true
	default:
		return e.Code >= http.StatusInternalServerError && e.Code != http.StatusNotImplemented
	}
}

// classifyHFError keeps client errors (bad token, unknown model) out of the
// breaker: they say nothing about availability.
func classifyHFError(err error) resilience.ErrorClassification {
	var (
		statusErr *StatusError
		netErr    net.Error
	)
	switch {
	case err == nil, resilience.Cancelled(err):
		return resilience.Ignored
	case resilience.IsCircuitOpen(err):
		return resilience.Transient
	case errors.As(err, &statusErr):
		if statusErr.Retryable() {
			return resilience.Transient
		}
		return resilience.Ignored
	case errors.As(err, &netErr):
		return resilience.Transient
	default:
		return resilience.Permanent
	}
}
