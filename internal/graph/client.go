package graph

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/tonimelisma/minutes-gateway/internal/retry"
)

// maxErrorBody bounds how much of an error response body is kept.
const maxErrorBody = 4096

// DefaultUserAgent is sent when the caller does not configure one.
const DefaultUserAgent = "minutes-gateway/0.1"

// TokenSource provides OAuth2 bearer tokens. Defined at the consumer
// (graph package) per Go convention "accept interfaces, return structs".
type TokenSource interface {
	Token() (string, error)
}

// StaticToken is a TokenSource that always returns the same token. Used for
// delegated per-request tokens, which never outlive the request.
type StaticToken string

// Token implements TokenSource.
func (t StaticToken) Token() (string, error) {
	if t == "" {
		return "", errors.New("graph: empty token")
	}

	return string(t), nil
}

// Client is an HTTP client for the Microsoft Graph API.
// It handles request construction, authentication, throttling retry
// and error classification.
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      TokenSource
	logger     *slog.Logger
	userAgent  string
	policy     *retry.Policy
}

// NewClient creates a Graph API client.
// baseURL is typically "https://graph.microsoft.com/v1.0".
// A nil policy uses the retry defaults.
func NewClient(
	baseURL string, httpClient *http.Client, token TokenSource, logger *slog.Logger, userAgent string, policy *retry.Policy,
) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if userAgent == "" {
		userAgent = DefaultUserAgent
	}

	if policy == nil {
		policy = retry.New(0, 0, 0, logger)
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		token:      token,
		logger:     logger,
		userAgent:  userAgent,
		policy:     policy,
	}
}

// WithToken returns a shallow copy of the client that authenticates with
// ts. The HTTP client, logger and retry policy are shared.
func (c *Client) WithToken(ts TokenSource) *Client {
	cp := *c
	cp.token = ts

	return &cp
}

// BaseURL returns the API base URL without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Do executes an HTTP request against the Graph API.
// The path is appended to the client's base URL.
// For non-nil bodies, Content-Type is set to application/json.
// The caller is responsible for closing the response body on success.
func (c *Client) Do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	return c.do(ctx, method, c.baseURL+path, body, jsonHeaders(body), true)
}

// DoURL is Do against an absolute URL. Callers must have validated the
// URL; the bearer token is attached to whatever host it names.
func (c *Client) DoURL(ctx context.Context, method, fullURL string) (*http.Response, error) {
	return c.do(ctx, method, fullURL, nil, nil, true)
}

func jsonHeaders(body []byte) map[string]string {
	if body == nil {
		return nil
	}

	return map[string]string{"Content-Type": "application/json"}
}

func (c *Client) do(
	ctx context.Context, method, url string, body []byte, headers map[string]string, authenticate bool,
) (*http.Response, error) {
	op := method + " " + redactQuery(url)

	resp, err := c.policy.Do(ctx, op, func(ctx context.Context) (*http.Response, error) {
		return c.doOnce(ctx, method, url, body, headers, authenticate)
	})
	if err != nil {
		var ex *retry.ExhaustedError
		if errors.As(err, &ex) {
			return nil, &GraphError{
				StatusCode: ex.StatusCode,
				RequestID:  ex.RequestID,
				Message:    ex.Body,
				Err:        ErrThrottled,
			}
		}

		if ctx.Err() != nil {
			return nil, fmt.Errorf("graph: request canceled: %w", ctx.Err())
		}

		return nil, fmt.Errorf("graph: %s: %w", op, err)
	}

	// 2xx: success.
	if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
		c.logger.Debug("request succeeded",
			slog.String("op", op),
			slog.Int("status", resp.StatusCode),
		)

		return resp, nil
	}

	// Read and close body for error responses.
	errBody, readErr := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	resp.Body.Close()

	if readErr != nil {
		errBody = []byte("(failed to read response body)")
	}

	return nil, &GraphError{
		StatusCode: resp.StatusCode,
		RequestID:  resp.Header.Get("request-id"),
		Message:    string(errBody),
		Err:        classifyStatus(resp.StatusCode),
	}
}

// doOnce executes a single HTTP request (no retry). The body is a fixed
// buffer so every attempt sends identical bytes.
func (c *Client) doOnce(
	ctx context.Context, method, url string, body []byte, headers map[string]string, authenticate bool,
) (*http.Response, error) {
	var rdr io.Reader = http.NoBody
	if body != nil {
		rdr = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, rdr)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	if authenticate {
		if c.token == nil {
			return nil, errors.New("obtaining token: no token source configured")
		}

		tok, err := c.token.Token()
		if err != nil {
			return nil, fmt.Errorf("obtaining token: %w", err)
		}

		req.Header.Set("Authorization", "Bearer "+tok)
	}

	req.Header.Set("User-Agent", c.userAgent)

	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return c.httpClient.Do(req)
}

// redactQuery drops the query string so pre-authenticated URLs never
// reach the logs.
func redactQuery(u string) string {
	if i := strings.IndexByte(u, '?'); i >= 0 {
		return u[:i]
	}

	return u
}
