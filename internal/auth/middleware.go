package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/tonimelisma/minutes-gateway/internal/apperr"
)

// ErrNoCredentials is matched when a request carries no Authorization header.
var ErrNoCredentials = errors.New("auth: no credentials")

// Mode selects how bearer tokens are trusted.
type Mode string

// Authentication modes.
const (
	// ModeJWKS verifies every token against the issuer's JWKS.
	ModeJWKS Mode = "jwks"
	// ModeTrusted decodes claims only; an upstream proxy has verified the token.
	ModeTrusted Mode = "trusted"
)

// Authenticator turns an Authorization header into a Principal.
type Authenticator struct {
	mode     Mode
	verifier *Verifier
	resolver *Resolver
	realm    string
	logger   *slog.Logger
}

// NewAuthenticator creates an authenticator. verifier is required in
// ModeJWKS and ignored in ModeTrusted.
func NewAuthenticator(mode Mode, verifier *Verifier, resolver *Resolver, realm string, logger *slog.Logger) (*Authenticator, error) {
	switch mode {
	case ModeJWKS:
		if verifier == nil {
			return nil, errors.New("auth: jwks mode requires a verifier")
		}
	case ModeTrusted:
		verifier = nil
	default:
		return nil, fmt.Errorf("auth: unknown mode %q", mode)
	}

	if resolver == nil {
		resolver = NewResolver(ClaimContract{})
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Authenticator{
		mode:     mode,
		verifier: verifier,
		resolver: resolver,
		realm:    realm,
		logger:   logger,
	}, nil
}

// BearerToken extracts the token from an Authorization header value. An
// empty header is ErrNoCredentials; any other scheme is rejected.
func BearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", ErrNoCredentials
	}

	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", apperr.Unauthorized("invalid_authorization_scheme", "authorization must use the Bearer scheme", nil)
	}

	token = strings.TrimSpace(token)
	if token == "" {
		return "", apperr.Unauthorized("missing_token", "bearer token is empty", nil)
	}

	return token, nil
}

// Authenticate validates the header and resolves the caller.
func (a *Authenticator) Authenticate(ctx context.Context, header string) (*Principal, error) {
	raw, err := BearerToken(header)
	if err != nil {
		if errors.Is(err, ErrNoCredentials) {
			return nil, apperr.Unauthorized("missing_token", "bearer token required", err)
		}

		return nil, err
	}

	if a.mode == ModeTrusted {
		id, err := a.resolver.FromTrustedToken(raw)
		if err != nil {
			return nil, err
		}

		return &Principal{Identity: id, RawToken: raw}, nil
	}

	tok, err := a.verifier.Verify(ctx, raw)
	if err != nil {
		return nil, err
	}

	id, err := a.resolver.FromVerified(tok)
	if err != nil {
		return nil, err
	}

	return &Principal{Token: tok, Identity: id, RawToken: raw}, nil
}

// Middleware requires a valid bearer token. Failures are written as a
// JSON error envelope with a WWW-Authenticate challenge.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := a.Authenticate(r.Context(), r.Header.Get("Authorization"))
		if err != nil {
			a.reject(w, r, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}

// Optional attaches a principal when the request carries a valid token
// and passes anonymous requests through untouched. A present but invalid
// credential is still rejected.
func (a *Authenticator) Optional(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if strings.TrimSpace(header) == "" {
			next.ServeHTTP(w, r)
			return
		}

		p, err := a.Authenticate(r.Context(), header)
		if err != nil {
			a.reject(w, r, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}

func (a *Authenticator) reject(w http.ResponseWriter, r *http.Request, err error) {
	ae := apperr.From(err)

	a.logger.Info("request rejected",
		slog.String("request_id", apperr.RequestID(r.Context())),
		slog.String("path", r.URL.Path),
		slog.String("code", ae.Code),
		slog.String("error", err.Error()),
	)

	w.Header().Set("WWW-Authenticate", a.challenge(ae))
	apperr.WriteJSON(w, ae, apperr.RequestID(r.Context()))
}

// challenge builds an RFC 6750 WWW-Authenticate value.
func (a *Authenticator) challenge(ae *apperr.Error) string {
	parts := []string{"Bearer"}

	if a.realm != "" {
		parts = append(parts, fmt.Sprintf(`realm=%q`, a.realm))
	}

	switch {
	case errors.Is(ae, apperr.ErrForbidden):
		parts = append(parts, `error="insufficient_scope"`)
	case ae.Code != "missing_token":
		parts = append(parts, `error="invalid_token"`)
	}

	if len(parts) == 1 {
		return parts[0]
	}

	return parts[0] + " " + strings.Join(parts[1:], ", ")
}
