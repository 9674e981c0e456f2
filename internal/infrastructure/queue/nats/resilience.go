package nats

import (
	"errors"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/scanpipe/internal/infrastructure/resilience"
)

// classifyNATSError retries only connectivity failures. A payload the
// server refuses will be refused again.
func classifyNATSError(err error) resilience.ErrorClassification {
	switch {
	case err == nil, resilience.Cancelled(err):
		return resilience.Ignored
	case resilience.IsCircuitOpen(err):
		return resilience.Transient
	case errors.Is(err, nats.ErrMaxPayload), errors.Is(err, nats.ErrBadSubject):
		return resilience.Ignored
	case isConnectivityError(err):
		return resilience.Transient
	default:
		return resilience.Permanent
	}
}

// classifyDispatchError retries a dispatch only while no worker listens.
// A timed out request may still reach a slow worker, so it is not repeated.
func classifyDispatchError(err error) resilience.ErrorClassification {
	switch {
	case errors.Is(err, nats.ErrNoResponders):
		return resilience.Transient
	case errors.Is(err, nats.ErrTimeout):
		return resilience.Permanent
	default:
		return classifyNATSError(err)
	}
}

func isConnectivityError(err error) bool {
	for _, target := range []error{
		nats.ErrNoServers,
		nats.ErrTimeout,
		nats.ErrConnectionClosed,
		nats.ErrDisconnected,
		nats.ErrReconnectBufExceeded,
		nats.ErrNoResponders,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
