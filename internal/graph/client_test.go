package graph

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/minutes-gateway/internal/apperr"
	"github.com/tonimelisma/minutes-gateway/internal/retry"
)

// noopSleep is a sleep function that returns immediately, for fast tests.
func noopSleep(_ context.Context, _ time.Duration) error {
	return nil
}

// failingToken is a test TokenSource that always returns an error.
type failingToken struct{}

func (failingToken) Token() (string, error) {
	return "", errors.New("token error")
}

// newTestClient creates a Client pointing at the given httptest server
// with instant retry sleeps for fast tests.
func newTestClient(t *testing.T, url string) *Client {
	t.Helper()

	policy := retry.New(3, time.Second, 5*time.Second, slog.Default(), retry.WithSleep(noopSleep))

	return NewClient(url, http.DefaultClient, StaticToken("test-token"), slog.Default(), "test-agent", policy)
}

func TestDo_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		assert.Equal(t, "test-agent", r.Header.Get("User-Agent"))
		assert.Equal(t, "/me", r.URL.Path)

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"value":"ok"}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	resp, err := client.Do(context.Background(), http.MethodGet, "/me", nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestDo_JSONBodySetsContentType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	resp, err := client.Do(context.Background(), http.MethodPost, "/x", []byte(`{}`))
	require.NoError(t, err)
	resp.Body.Close()
}

func TestDo_ErrorClassification(t *testing.T) {
	tests := []struct {
		status   int
		sentinel error
	}{
		{http.StatusBadRequest, ErrBadRequest},
		{http.StatusUnauthorized, ErrUnauthorized},
		{http.StatusForbidden, ErrForbidden},
		{http.StatusNotFound, ErrNotFound},
		{http.StatusConflict, ErrConflict},
		{http.StatusGone, ErrGone},
		{http.StatusLocked, ErrLocked},
		{http.StatusInternalServerError, ErrServerError},
		{http.StatusTeapot, ErrUnexpected},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			var calls atomic.Int32

			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				calls.Add(1)
				w.Header().Set("request-id", "req-123")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error":{"code":"x"}}`))
			}))
			defer srv.Close()

			client := newTestClient(t, srv.URL)
			_, err := client.Do(context.Background(), http.MethodGet, "/x", nil)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.sentinel)

			var ge *GraphError
			require.ErrorAs(t, err, &ge)
			assert.Equal(t, tt.status, ge.StatusCode)
			assert.Equal(t, "req-123", ge.RequestID)
			assert.Contains(t, ge.Message, `"code":"x"`)

			// Only 429/503 are retried.
			assert.Equal(t, int32(1), calls.Load())
		})
	}
}

func TestDo_ThrottledThenSuccess(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)

			return
		}

		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	resp, err := client.Do(context.Background(), http.MethodGet, "/x", nil)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, int32(2), calls.Load())
}

func TestDo_RetryResendsSameBody(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, 64)
		n, _ := r.Body.Read(buf)
		assert.Equal(t, `{"a":1}`, string(buf[:n]))

		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}

		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	resp, err := client.Do(context.Background(), http.MethodPost, "/x", []byte(`{"a":1}`))
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, int32(2), calls.Load())
}

func TestDo_ThrottlingExhausted(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	_, err := client.Do(context.Background(), http.MethodGet, "/x", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrThrottled)
	assert.Equal(t, int32(3), calls.Load())

	appErr := ToAppError(err)
	assert.ErrorIs(t, appErr, apperr.ErrTooManyRequests)

	var ge *GraphError
	assert.ErrorAs(t, appErr, &ge)
}

func TestDo_TokenError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		t.Error("request should not reach the server")
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL).WithToken(failingToken{})
	_, err := client.Do(context.Background(), http.MethodGet, "/x", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "token error")
}

func TestDo_ContextCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := newTestClient(t, srv.URL)
	_, err := client.Do(ctx, http.MethodGet, "/x", nil)
	require.ErrorIs(t, err, context.Canceled)
}

func TestWithToken_DoesNotMutateOriginal(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []string
	)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen = append(seen, r.Header.Get("Authorization"))
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	base := newTestClient(t, srv.URL)
	user := base.WithToken(StaticToken("user-token"))

	for _, c := range []*Client{user, base} {
		resp, err := c.Do(context.Background(), http.MethodGet, "/x", nil)
		require.NoError(t, err)
		resp.Body.Close()
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"Bearer user-token", "Bearer test-token"}, seen)
}

func TestStaticToken_Empty(t *testing.T) {
	_, err := StaticToken("").Token()
	assert.Error(t, err)
}

func TestRedactQuery(t *testing.T) {
	assert.Equal(t, "https://x/y", redactQuery("https://x/y?tempauth=secret"))
	assert.Equal(t, "https://x/y", redactQuery("https://x/y"))
}

func TestToAppError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind error
	}{
		{"not found", &GraphError{StatusCode: 404, Err: ErrNotFound}, apperr.ErrNotFound},
		{"gone", &GraphError{StatusCode: 410, Err: ErrGone}, apperr.ErrNotFound},
		{"forbidden", &GraphError{StatusCode: 403, Err: ErrForbidden}, apperr.ErrForbidden},
		{"unauthorized", &GraphError{StatusCode: 401, Err: ErrUnauthorized}, apperr.ErrUnauthorized},
		{"conflict", &GraphError{StatusCode: 409, Err: ErrConflict}, apperr.ErrConflict},
		{"throttled", &GraphError{StatusCode: 429, Err: ErrThrottled}, apperr.ErrTooManyRequests},
		{"server", &GraphError{StatusCode: 500, Err: ErrServerError}, apperr.ErrInternal},
		{"too large", ErrTooLarge, apperr.ErrValidation},
		{"not a folder", ErrNotAFolder, apperr.ErrConflict},
		{"plain", errors.New("boom"), apperr.ErrInternal},
		{"already typed", apperr.Forbidden("", "x", nil), apperr.ErrForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ToAppError(tt.err)
			assert.ErrorIs(t, got, tt.kind)
		})
	}

	assert.NoError(t, ToAppError(nil))
}

func TestToAppError_Details(t *testing.T) {
	err := ToAppError(&GraphError{StatusCode: 404, RequestID: "r1", Message: "secret body", Err: ErrNotFound})

	var ae *apperr.Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, 404, ae.Details["upstreamStatus"])
	assert.Equal(t, "r1", ae.Details["upstreamRequestId"])
	assert.NotContains(t, ae.Message, "secret body")
}
