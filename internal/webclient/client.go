package webclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// NewDefault returns an HTTP client with the given timeout, 60s if zero
func NewDefault(timeout time.Duration) *http.Client {
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

// StatusError is returned for non-2xx responses
type StatusError struct {
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.StatusCode)
}

// Request describes a single outbound call made through Do
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte
	// MaxBodyBytes caps the response body; zero means unlimited
	MaxBodyBytes int64
}

// Do performs req with retries on transport errors, 429 and 5xx
func Do(ctx context.Context, client *http.Client, retry RetryPolicy, req Request) (int, []byte, error) {
	return DoWithRetry(ctx, retry.Attempts, retry.InitialDelay, func() (int, []byte, error) {
		var body io.Reader
		if req.Body != nil {
			body = bytes.NewReader(req.Body)
		}
		httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
		if err != nil {
			return 0, nil, err
		}
		for k, v := range req.Headers {
			httpReq.Header.Set(k, v)
		}

		resp, err := client.Do(httpReq)
		if err != nil {
			return 0, nil, err
		}
		defer resp.Body.Close()

		var reader io.Reader = resp.Body
		if req.MaxBodyBytes > 0 {
			reader = io.LimitReader(resp.Body, req.MaxBodyBytes+1)
		}
		b, err := io.ReadAll(reader)
		if err != nil {
			return resp.StatusCode, nil, err
		}
		if req.MaxBodyBytes > 0 && int64(len(b)) > req.MaxBodyBytes {
			return resp.StatusCode, nil, fmt.Errorf("%w: limit %d bytes", ErrBodyTooLarge, req.MaxBodyBytes)
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return resp.StatusCode, b, &StatusError{StatusCode: resp.StatusCode, Body: b}
		}
		return resp.StatusCode, b, nil
	})
}
