package webclient

import (
	"context"
	"errors"
	"time"
)

// ErrBodyTooLarge is returned when a response exceeds Request.MaxBodyBytes
var ErrBodyTooLarge = errors.New("response body too large")

// RetryPolicy bounds DoWithRetry
type RetryPolicy struct {
	Attempts     int           `mapstructure:"attempts"`
	InitialDelay time.Duration `mapstructure:"initial_delay"`
}

// AttemptFunc performs one attempt and reports the status and body
type AttemptFunc func() (status int, body []byte, err error)

// DoWithRetry retries fn on transient errors (429/5xx) or non-nil errors,
// doubling the delay between attempts up to 30s.
func DoWithRetry(ctx context.Context, attempts int, initialDelay time.Duration, fn AttemptFunc) (int, []byte, error) {
	if attempts <= 0 {
		attempts = 1
	}
	if initialDelay <= 0 {
		initialDelay = 2 * time.Second
	}
	delay := initialDelay
	for i := 0; i < attempts; i++ {
		status, body, err := fn()
		if !retryable(status, err) {
			return status, body, err
		}
		if i == attempts-1 {
			return status, body, err
		}
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return status, body, ctx.Err()
		case <-t.C:
		}
		if delay < 30*time.Second {
			delay *= 2
		}
	}
	return 0, nil, context.DeadlineExceeded
}

func retryable(status int, err error) bool {
	if errors.Is(err, ErrBodyTooLarge) || errors.Is(err, context.Canceled) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode == 429 || statusErr.StatusCode >= 500
	}
	return err != nil || status == 429 || status >= 500
}
