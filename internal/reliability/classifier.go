// Package reliability classifies upstream failures as transient or permanent.
// The pipeline never retries on its own; the flag is forwarded to clients so
// they can decide whether replaying a turn makes sense.
package reliability

import (
	"context"
	"errors"
	"net"
	"net/http"
)

// IsRetryableHTTPStatus classifies retryable HTTP status codes.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// IsRetryableRealtimeMessageType classifies retryable realtime websocket errors.
func IsRetryableRealtimeMessageType(messageType string) bool {
	switch messageType {
	case "rate_limited", "resource_exhausted", "queue_overflow", "error":
		return true
	default:
		return false
	}
}

// IsTransientError reports network-level failures worth surfacing as retryable.
// Cancellation is never transient: the caller asked to stop.
func IsTransientError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
