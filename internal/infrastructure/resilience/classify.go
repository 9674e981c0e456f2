package resilience

import (
	"context"
	"errors"

	"github.com/kirillkom/scanpipe/internal/core/domain"
)

// Common classifications shared by the outbound adapters.
var (
	// Transient failures are retried and count against the breaker.
	Transient = ErrorClassification{Retryable: true, RecordFailure: true}
	// Permanent failures are returned at once but still count.
	Permanent = ErrorClassification{RecordFailure: true}
	// Ignored failures neither retry nor trip the breaker.
	Ignored = ErrorClassification{}
)

// Cancelled reports whether err comes from the caller's context ending.
// Such errors say nothing about the health of the remote side.
func Cancelled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// MarkTemporary wraps err as domain.ErrTemporary when classifier deems it
// retryable or when the breaker rejected the call, so callers can answer
// "try again later" instead of failing hard.
func MarkTemporary(operation string, err error, classifier ErrorClassifier) error {
	switch {
	case err == nil, domain.IsKind(err, domain.ErrTemporary):
		return err
	case IsCircuitOpen(err), classifier != nil && classifier(err).Retryable:
		return domain.WrapError(domain.ErrTemporary, operation, err)
	default:
		return err
	}
}
