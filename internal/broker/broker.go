// Package broker exchanges a verified end-user token for a delegated
// credential usable against the document API, through a named destination
// on an exchange broker. The gateway never holds long-lived user
// credentials; the only cached state is the broker's own service token.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/tonimelisma/minutes-gateway/internal/apperr"
	"github.com/tonimelisma/minutes-gateway/internal/cache"
)

const (
	// serviceTokenSlack is how long before expiry the service token is replaced.
	serviceTokenSlack = 60 * time.Second

	// defaultServiceTokenTTL applies when the token endpoint omits expires_in.
	defaultServiceTokenTTL = 5 * time.Minute

	// maxErrorBody is how much of a failed broker response is kept.
	maxErrorBody = 512

	// maxResponseBody bounds a successful destination response.
	maxResponseBody = 1 << 20

	// UserTokenHeader carries the end user's token to the broker.
	UserTokenHeader = "X-user-token"

	destinationPath = "/destination-configuration/v1/destinations/"
	serviceCacheKey = "service"
)

// Exchanger turns an inbound user token into a document API token.
type Exchanger interface {
	Exchange(ctx context.Context, userToken string) (string, error)
}

// Passthrough hands the user's token through unchanged, for deployments
// where the inbound audience is the document API itself.
type Passthrough struct{}

// Exchange implements Exchanger.
func (Passthrough) Exchange(_ context.Context, userToken string) (string, error) {
	if userToken == "" {
		return "", apperr.Unauthorized("missing_token", "no user token to forward", nil)
	}

	return userToken, nil
}

// BrokerError is a non-2xx response from the broker.
type BrokerError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *BrokerError) Error() string {
	return fmt.Sprintf("broker: %s: HTTP %d: %s", e.Op, e.StatusCode, e.Body)
}

// Config configures a DestinationExchanger.
type Config struct {
	TokenURL        string
	ClientID        string
	ClientSecret    string
	Scopes          []string
	DestinationURL  string
	DestinationName string
	HTTPClient      *http.Client
}

// Validate reports every missing setting at once.
func (c Config) Validate() error {
	var missing []string

	for name, v := range map[string]string{
		"token_url":        c.TokenURL,
		"client_id":        c.ClientID,
		"client_secret":    c.ClientSecret,
		"destination_url":  c.DestinationURL,
		"destination_name": c.DestinationName,
	} {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}

	if len(missing) == 0 {
		return nil
	}

	slices.Sort(missing)

	return apperr.Internal("broker_misconfigured", "token broker is not configured", nil).
		WithDetail("missing", missing)
}

// DestinationExchanger implements Exchanger against a destination broker.
type DestinationExchanger struct {
	cfg      Config
	oauthCfg *clientcredentials.Config
	tokens   *cache.Cache[*oauth2.Token]
	logger   *slog.Logger
	nowFunc  func() time.Time
}

// Option customizes a DestinationExchanger.
type Option func(*DestinationExchanger)

// WithClock replaces the clock used for service-token expiry.
func WithClock(now func() time.Time) Option {
	return func(d *DestinationExchanger) { d.nowFunc = now }
}

// NewDestinationExchanger validates cfg and creates an exchanger. Missing
// configuration is an InternalError and must stop startup.
func NewDestinationExchanger(cfg Config, logger *slog.Logger, opts ...Option) (*DestinationExchanger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}

	if logger == nil {
		logger = slog.Default()
	}

	d := &DestinationExchanger{
		cfg: cfg,
		oauthCfg: &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       cfg.Scopes,
		},
		logger:  logger,
		nowFunc: time.Now,
	}

	for _, opt := range opts {
		opt(d)
	}

	d.tokens = cache.New[*oauth2.Token](d.nowFunc)

	return d, nil
}

// Exchange implements Exchanger.
func (d *DestinationExchanger) Exchange(ctx context.Context, userToken string) (string, error) {
	if userToken == "" {
		return "", apperr.Unauthorized("missing_token", "no user token to exchange", nil)
	}

	svc, err := d.tokens.GetOrRefresh(ctx, serviceCacheKey, d.fetchServiceToken)
	if err != nil {
		return "", apperr.Internal("broker_auth_failed", "could not authenticate to the token broker", err)
	}

	tok, err := d.lookupDestination(ctx, svc.AccessToken, userToken)
	if err != nil {
		var be *BrokerError
		if errors.As(err, &be) {
			if be.StatusCode == http.StatusUnauthorized {
				// The service token may have been revoked early.
				d.tokens.Invalidate(serviceCacheKey)
			}

			d.logger.Warn("destination lookup failed",
				slog.String("destination", d.cfg.DestinationName),
				slog.Int("status", be.StatusCode),
				slog.String("body", be.Body),
			)

			return "", apperr.Internal("broker_error", "token broker rejected the exchange", err).
				WithDetail("brokerStatus", be.StatusCode)
		}

		var ae *apperr.Error
		if errors.As(err, &ae) {
			return "", ae
		}

		return "", apperr.Internal("broker_error", "token broker request failed", err)
	}

	return tok, nil
}

// fetchServiceToken runs the client-credentials grant. The cached entry
// expires serviceTokenSlack before the token does.
func (d *DestinationExchanger) fetchServiceToken(ctx context.Context) (*oauth2.Token, time.Time, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, d.cfg.HTTPClient)

	tok, err := d.oauthCfg.Token(ctx)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("broker: client credentials grant: %w", err)
	}

	expiry := tok.Expiry
	if expiry.IsZero() {
		expiry = d.nowFunc().Add(defaultServiceTokenTTL)
	}

	d.logger.Debug("broker service token acquired", slog.Time("expiry", expiry))

	return tok, expiry.Add(-serviceTokenSlack), nil
}

type destinationResponse struct {
	AuthTokens []authToken `json:"authTokens"`
}

type authToken struct {
	Type  string `json:"type"`
	Value string `json:"value"`
	Error string `json:"error"`
}

func (d *DestinationExchanger) lookupDestination(ctx context.Context, serviceToken, userToken string) (string, error) {
	endpoint := strings.TrimRight(d.cfg.DestinationURL, "/") + destinationPath + url.PathEscape(d.cfg.DestinationName)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return "", fmt.Errorf("broker: creating destination request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+serviceToken)
	req.Header.Set(UserTokenHeader, userToken)
	req.Header.Set("Accept", "application/json")

	resp, err := d.cfg.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("broker: destination lookup: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody)) //nolint:errcheck // best-effort read for error message

		return "", &BrokerError{Op: "destination lookup", StatusCode: resp.StatusCode, Body: string(body)}
	}

	var dr destinationResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBody)).Decode(&dr); err != nil {
		return "", fmt.Errorf("broker: decoding destination response: %w", err)
	}

	for _, t := range dr.AuthTokens {
		if t.Value != "" && t.Error == "" {
			return t.Value, nil
		}
	}

	reason := "no auth tokens"
	if len(dr.AuthTokens) > 0 && dr.AuthTokens[0].Error != "" {
		reason = dr.AuthTokens[0].Error
	}

	return "", apperr.Internal("broker_no_token", "token broker returned no delegated token", nil).
		WithDetail("reason", reason)
}
