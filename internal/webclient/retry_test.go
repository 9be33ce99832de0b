package webclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoWithRetry(t *testing.T) {
	t.Run("RetriesTransientStatus", func(t *testing.T) {
		calls := 0
		status, body, err := DoWithRetry(context.Background(), 3, time.Millisecond, func() (int, []byte, error) {
			calls++
			if calls < 3 {
				return http.StatusServiceUnavailable, nil, nil
			}
			return http.StatusOK, []byte("ok"), nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
		assert.Equal(t, http.StatusOK, status)
		assert.Equal(t, []byte("ok"), body)
	})

	t.Run("ReturnsLastErrorWhenExhausted", func(t *testing.T) {
		calls := 0
		_, _, err := DoWithRetry(context.Background(), 2, time.Millisecond, func() (int, []byte, error) {
			calls++
			return 0, nil, errors.New("connection refused")
		})
		assert.EqualError(t, err, "connection refused")
		assert.Equal(t, 2, calls)
	})

	t.Run("DoesNotRetryClientErrors", func(t *testing.T) {
		calls := 0
		status, _, err := DoWithRetry(context.Background(), 3, time.Millisecond, func() (int, []byte, error) {
			calls++
			return http.StatusBadRequest, nil, &StatusError{StatusCode: http.StatusBadRequest}
		})
		assert.Error(t, err)
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Equal(t, 1, calls)
	})

	t.Run("StopsOnContextCancel", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		calls := 0
		_, _, err := DoWithRetry(ctx, 5, time.Hour, func() (int, []byte, error) {
			calls++
			cancel()
			return http.StatusTooManyRequests, nil, nil
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
	})
}

func TestDo(t *testing.T) {
	t.Run("SendsHeadersAndBody", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"ok":true}`))
		}))
		defer srv.Close()

		status, body, err := Do(context.Background(), NewDefault(time.Second), RetryPolicy{Attempts: 1}, Request{
			Method:  http.MethodPost,
			URL:     srv.URL,
			Headers: map[string]string{"Authorization": "Bearer secret"},
			Body:    []byte(`{}`),
		})
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, status)
		assert.JSONEq(t, `{"ok":true}`, string(body))
	})

	t.Run("RetriesServerErrors", func(t *testing.T) {
		var calls int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if atomic.AddInt32(&calls, 1) == 1 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		status, _, err := Do(context.Background(), NewDefault(time.Second), RetryPolicy{Attempts: 3, InitialDelay: time.Millisecond}, Request{
			Method: http.MethodGet,
			URL:    srv.URL,
		})
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, status)
		assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	})

	t.Run("RejectsOversizedBody", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write(make([]byte, 64))
		}))
		defer srv.Close()

		_, _, err := Do(context.Background(), NewDefault(time.Second), RetryPolicy{Attempts: 3, InitialDelay: time.Millisecond}, Request{
			Method:       http.MethodGet,
			URL:          srv.URL,
			MaxBodyBytes: 16,
		})
		assert.ErrorIs(t, err, ErrBodyTooLarge)
	})

	t.Run("ClientErrorCarriesStatus", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		defer srv.Close()

		_, _, err := Do(context.Background(), NewDefault(time.Second), RetryPolicy{Attempts: 3}, Request{
			Method: http.MethodGet,
			URL:    srv.URL,
		})
		var statusErr *StatusError
		require.ErrorAs(t, err, &statusErr)
		assert.Equal(t, http.StatusNotFound, statusErr.StatusCode)
	})
}
