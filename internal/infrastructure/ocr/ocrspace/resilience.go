package ocrspace

import (
	"context"
	"errors"

	"github.com/kirillkom/scanpipe/internal/core/domain"
	"github.com/kirillkom/scanpipe/internal/infrastructure/resilience"
)

// classifyOCRError only lets transport failures count against the breaker.
// OCR calls run with a single attempt, so Retryable is informational.
// A per-request timeout is a transport failure; the caller giving up is not.
func classifyOCRError(err error) resilience.ErrorClassification {
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return resilience.Ignored
	case domain.IsKind(err, domain.ErrOCRTransport):
		return resilience.Transient
	case domain.IsKind(err, domain.ErrOCRBackend), domain.IsKind(err, domain.ErrOCRProtocol):
		return resilience.Ignored
	default:
		return resilience.Permanent
	}
}
