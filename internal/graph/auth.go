package graph

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// AppCredentials configures an app-only client-credentials grant, used
// where the gateway talks to Graph as itself (fixed-scope validation at
// startup) rather than on behalf of a user.
type AppCredentials struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
}

// AppTokenSource returns a TokenSource backed by the client-credentials
// grant. oauth2 caches the token and refreshes it shortly before expiry.
// ctx must outlive the TokenSource; it carries the HTTP client used for
// token requests (oauth2.HTTPClient).
func AppTokenSource(ctx context.Context, creds AppCredentials, logger *slog.Logger) TokenSource {
	if logger == nil {
		logger = slog.Default()
	}

	cfg := &clientcredentials.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		TokenURL:     creds.TokenURL,
		Scopes:       creds.Scopes,
	}

	return &tokenBridge{src: cfg.TokenSource(ctx), logger: logger}
}

// tokenBridge adapts an oauth2.TokenSource to the graph TokenSource.
type tokenBridge struct {
	src    oauth2.TokenSource
	logger *slog.Logger
}

func (b *tokenBridge) Token() (string, error) {
	t, err := b.src.Token()
	if err != nil {
		b.logger.Warn("token acquisition failed", slog.String("error", err.Error()))
		return "", fmt.Errorf("graph: obtaining token: %w", err)
	}

	b.logger.Debug("token acquired",
		slog.Time("expiry", t.Expiry),
		slog.Bool("valid", t.Valid()),
	)

	return t.AccessToken, nil
}
