// Package retry implements the upstream retry policy: an explicit
// attempt -> classify -> delay -> sleep loop around a single HTTP exchange.
// Only throttling (429) and transient unavailability (503) are retried; every
// other status is handed straight back to the caller.
package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Default policy values.
const (
	DefaultMaxAttempts = 5
	DefaultBaseDelay   = 1 * time.Second
	DefaultMaxDelay    = 30 * time.Second
	DefaultJitter      = 0.2

	// maxErrorBody bounds how much of a throttled response is kept for diagnostics.
	maxErrorBody = 4096
)

// ErrExhausted is matched by errors.Is when the attempt ceiling or the
// overall delay budget was reached while the upstream kept throttling.
var ErrExhausted = errors.New("retry: attempts exhausted")

// ExhaustedError carries the last throttling response seen.
type ExhaustedError struct {
	Attempts   int
	StatusCode int
	RequestID  string
	Body       string
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retry: gave up after %d attempts, last status %d", e.Attempts, e.StatusCode)
}

func (e *ExhaustedError) Unwrap() error {
	return ErrExhausted
}

// Attempt performs one HTTP exchange. It is called once per try and must
// build a fresh request each time; request bodies have to be replayable
// (byte buffers, not single-read streams).
type Attempt func(ctx context.Context) (*http.Response, error)

// Policy is the retry configuration. The zero value is not usable; use New.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      float64

	logger *slog.Logger

	// sleepFunc waits between attempts. Tests override it to avoid real delays.
	sleepFunc func(ctx context.Context, d time.Duration) error
	nowFunc   func() time.Time

	// onRetry is an optional hook, used for metrics.
	onRetry func(status int, delay time.Duration)
}

// Option customizes a Policy.
type Option func(*Policy)

// WithSleep replaces the wait function.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(p *Policy) { p.sleepFunc = fn }
}

// WithClock replaces the clock used to interpret HTTP-date Retry-After values.
func WithClock(now func() time.Time) Option {
	return func(p *Policy) { p.nowFunc = now }
}

// WithRetryHook registers a callback invoked before each backoff wait.
func WithRetryHook(fn func(status int, delay time.Duration)) Option {
	return func(p *Policy) { p.onRetry = fn }
}

// New creates a policy. Non-positive values fall back to the defaults.
func New(maxAttempts int, base, maxDelay time.Duration, logger *slog.Logger, opts ...Option) *Policy {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	if base <= 0 {
		base = DefaultBaseDelay
	}

	if maxDelay <= 0 {
		maxDelay = DefaultMaxDelay
	}

	if maxDelay < base {
		maxDelay = base
	}

	if logger == nil {
		logger = slog.Default()
	}

	p := &Policy{
		MaxAttempts: maxAttempts,
		BaseDelay:   base,
		MaxDelay:    maxDelay,
		Jitter:      DefaultJitter,
		logger:      logger,
		sleepFunc:   timeSleep,
		nowFunc:     time.Now,
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Budget is the total time the policy may spend waiting in one Do call.
func (p *Policy) Budget() time.Duration {
	return time.Duration(p.MaxAttempts) * p.MaxDelay
}

// Do runs attempt until it returns a non-retryable response, the attempt
// ceiling is reached, or ctx is done. Transport errors are returned as-is
// without retrying. On success the caller owns the response body.
func (p *Policy) Do(ctx context.Context, op string, attempt Attempt) (*http.Response, error) {
	bo := p.newBackOff()
	budget := p.Budget()

	var waited time.Duration

	for n := 1; ; n++ {
		resp, err := attempt(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("retry: %s canceled: %w", op, ctx.Err())
			}

			return nil, err
		}

		if !Retryable(resp.StatusCode) {
			return resp, nil
		}

		delay := p.delayFor(resp, bo)
		body := drain(resp)

		if n >= p.MaxAttempts || waited+delay > budget {
			p.logger.Warn("upstream still throttling, giving up",
				slog.String("op", op),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempts", n),
			)

			return nil, &ExhaustedError{
				Attempts:   n,
				StatusCode: resp.StatusCode,
				RequestID:  resp.Header.Get("request-id"),
				Body:       body,
			}
		}

		p.logger.Warn("retrying after upstream throttling",
			slog.String("op", op),
			slog.Int("status", resp.StatusCode),
			slog.Int("attempt", n),
			slog.Duration("backoff", delay),
		)

		if p.onRetry != nil {
			p.onRetry(resp.StatusCode, delay)
		}

		if err := p.sleepFunc(ctx, delay); err != nil {
			return nil, fmt.Errorf("retry: %s canceled: %w", op, err)
		}

		waited += delay
	}
}

// Retryable reports whether a status code enters the backoff loop.
func Retryable(code int) bool {
	return code == http.StatusTooManyRequests || code == http.StatusServiceUnavailable
}

// delayFor honors a server-specified Retry-After, otherwise takes the next
// exponential step. Both are capped at MaxDelay.
func (p *Policy) delayFor(resp *http.Response, bo *backoff.ExponentialBackOff) time.Duration {
	if d, ok := parseRetryAfter(resp.Header.Get("Retry-After"), p.nowFunc()); ok {
		return min(d, p.MaxDelay)
	}

	return min(bo.NextBackOff(), p.MaxDelay)
}

func (p *Policy) newBackOff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.BaseDelay
	bo.Multiplier = 2
	bo.RandomizationFactor = p.Jitter
	bo.MaxInterval = p.MaxDelay
	bo.Reset()

	return bo
}

// parseRetryAfter accepts delta-seconds or an HTTP-date.
func parseRetryAfter(v string, now time.Time) (time.Duration, bool) {
	if v == "" {
		return 0, false
	}

	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0, false
		}

		return time.Duration(secs) * time.Second, true
	}

	if at, err := http.ParseTime(v); err == nil {
		d := at.Sub(now)
		if d < 0 {
			d = 0
		}

		return d, true
	}

	return 0, false
}

// drain reads a bounded prefix of the body for diagnostics and closes it so
// the connection can be reused.
func drain(resp *http.Response) string {
	defer resp.Body.Close()

	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody)) //nolint:errcheck // best-effort read for error message
	_, _ = io.Copy(io.Discard, resp.Body)

	return string(b)
}

// timeSleep waits for the given duration or until the context is canceled.
func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
