package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Sentinel errors for vendor call failures. The first four are retryable
// against the same provider; the rest fail it immediately and advance the
// fallback chain.
var (
	ErrRateLimited     = errors.New("provider rate limited")
	ErrServerError     = errors.New("provider server error")
	ErrTimeout         = errors.New("provider request timeout")
	ErrUnavailable     = errors.New("provider unreachable")
	ErrUnauthorized    = errors.New("provider rejected credentials")
	ErrBadRequest      = errors.New("provider rejected request")
	ErrContentBlocked  = errors.New("provider blocked content")
	ErrInvalidResponse = errors.New("provider returned invalid response")
)

// Retryable reports whether the error is worth retrying against the same provider.
func Retryable(err error) bool {
	return errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrServerError) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrUnavailable)
}

// ClassifyStatus maps a non-2xx vendor status code to a sentinel error,
// keeping the vendor's own message for context.
func ClassifyStatus(status int, vendorMsg string) error {
	var sentinel error
	switch {
	case status == http.StatusTooManyRequests:
		sentinel = ErrRateLimited
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		sentinel = ErrUnauthorized
	case status >= 500:
		sentinel = ErrServerError
	default:
		sentinel = ErrBadRequest
	}
	if vendorMsg == "" {
		return fmt.Errorf("%w: status %d", sentinel, status)
	}
	return fmt.Errorf("%w: status %d: %s", sentinel, status, vendorMsg)
}

// ClassifyTransport maps transport-level errors to sentinel errors.
func ClassifyTransport(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
