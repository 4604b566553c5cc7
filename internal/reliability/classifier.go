package reliability

import (
	"context"
	"errors"
	"net"
)

// IsRetryableHTTPStatus classifies retryable HTTP status codes.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// retryable is implemented by provider errors that know whether a repeat
// attempt could succeed.
type retryable interface {
	RetryableError() bool
}

// IsRetryable reports whether err is transient: a timeout, a network
// failure, or a provider error that marks itself retryable. Cancellation by
// the caller is never retryable.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var r retryable
	if errors.As(err, &r) {
		return r.RetryableError()
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return false
}
