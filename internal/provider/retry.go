package provider

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// RetryPolicy controls per-provider retries for retryable failures. Delays
// are deterministic: base doubled each retry, capped at max, no jitter.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// Delay returns the backoff before the k-th retry (1-based):
// min(base * 2^(k-1), max).
func (p RetryPolicy) Delay(retry int) time.Duration {
	if retry < 1 {
		retry = 1
	}
	d := p.BaseDelay << (retry - 1)
	if p.MaxDelay > 0 && (d > p.MaxDelay || d <= 0) {
		d = p.MaxDelay
	}
	return d
}

// Do invokes call up to MaxRetries+1 times. Only retryable failures are
// retried; backoff sleeps abort when ctx is done.
func (p RetryPolicy) Do(ctx context.Context, name string, call func(context.Context) (*Response, error)) (*Response, error) {
	var lastErr error
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		resp, err := call(ctx)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if !Retryable(err) {
			return nil, err
		}
		if attempt == p.MaxRetries {
			break
		}

		delay := p.Delay(attempt + 1)
		slog.Warn("provider call failed, retrying",
			"provider", name,
			"attempt", attempt+1,
			"delay", delay.String(),
			"error", err)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
		}
	}
	return nil, fmt.Errorf("%s failed after %d attempts: %w", name, p.MaxRetries+1, lastErr)
}
