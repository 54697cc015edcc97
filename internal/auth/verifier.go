// Package auth authenticates inbound bearer tokens and derives the caller's
// storage identity from them.
package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v3/jwk"

	"github.com/tonimelisma/minutes-gateway/internal/apperr"
	"github.com/tonimelisma/minutes-gateway/internal/cache"
)

// Verifier defaults.
const (
	DefaultClockSkew = 60 * time.Second
	DefaultJWKSTTL   = 10 * time.Minute

	// signingAlgorithm is the only accepted token algorithm.
	signingAlgorithm = "RS256"

	// maxJWKSBody bounds the JWKS response read.
	maxJWKSBody = 1 << 20

	jwksCacheKey = "jwks"
)

// VerifierConfig configures token verification.
type VerifierConfig struct {
	Issuer         string
	Audience       string
	JWKSURL        string
	RequiredScopes []string
	ClockSkew      time.Duration
	JWKSTTL        time.Duration
	HTTPClient     *http.Client
}

// VerifiedToken is the result of a successful verification. It lives for
// one request.
type VerifiedToken struct {
	Raw      string
	Subject  string
	Issuer   string
	Audience []string
	Scopes   []string
	ClientID string
	Expiry   time.Time
	Claims   jwt.MapClaims
}

// String redacts the raw token.
func (t *VerifiedToken) String() string {
	if t == nil {
		return "<nil>"
	}

	return fmt.Sprintf("VerifiedToken{Subject:%q, ClientID:%q}", t.Subject, t.ClientID)
}

// LogValue keeps the raw token out of structured logs.
func (t *VerifiedToken) LogValue() slog.Value {
	if t == nil {
		return slog.StringValue("<nil>")
	}

	return slog.GroupValue(
		slog.String("subject", t.Subject),
		slog.String("client_id", t.ClientID),
		slog.Time("expiry", t.Expiry),
	)
}

// Verifier validates RS256 bearer tokens against a cached JWKS.
type Verifier struct {
	cfg    VerifierConfig
	keys   *cache.Cache[jwk.Set]
	logger *slog.Logger

	// nowFunc returns the current time. Tests override it.
	nowFunc func() time.Time
}

// VerifierOption customizes a Verifier.
type VerifierOption func(*Verifier)

// WithVerifierClock replaces the clock used for time-bound checks and JWKS expiry.
func WithVerifierClock(now func() time.Time) VerifierOption {
	return func(v *Verifier) { v.nowFunc = now }
}

// NewVerifier creates a verifier. Issuer, audience and JWKS URL are required.
func NewVerifier(cfg VerifierConfig, logger *slog.Logger, opts ...VerifierOption) (*Verifier, error) {
	var errs []error

	if cfg.Issuer == "" {
		errs = append(errs, errors.New("auth: issuer is required"))
	}

	if cfg.Audience == "" {
		errs = append(errs, errors.New("auth: audience is required"))
	}

	if cfg.JWKSURL == "" {
		errs = append(errs, errors.New("auth: jwks url is required"))
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	if cfg.ClockSkew < 0 {
		cfg.ClockSkew = 0
	}

	if cfg.JWKSTTL <= 0 {
		cfg.JWKSTTL = DefaultJWKSTTL
	}

	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}

	if logger == nil {
		logger = slog.Default()
	}

	v := &Verifier{
		cfg:     cfg,
		logger:  logger,
		nowFunc: time.Now,
	}

	for _, opt := range opts {
		opt(v)
	}

	v.keys = cache.New[jwk.Set](v.nowFunc)

	return v, nil
}

// tokenHeader is the subset of the JOSE header inspected before parsing.
type tokenHeader struct {
	Alg string `json:"alg"`
	Kid string `json:"kid"`
}

// Verify validates raw and returns the verified token. Identity, signature
// and time failures are Unauthorized; missing required scopes are Forbidden.
func (v *Verifier) Verify(ctx context.Context, raw string) (*VerifiedToken, error) {
	segments := strings.Split(raw, ".")
	if len(segments) != 3 {
		return nil, apperr.Unauthorized("malformed_token", "token must have three segments", nil)
	}

	hdr, err := decodeHeader(segments[0])
	if err != nil {
		return nil, apperr.Unauthorized("malformed_token", "token header is not valid JSON", err)
	}

	// Exact match: "none", HS* and every other asymmetric algorithm are refused.
	if hdr.Alg != signingAlgorithm {
		return nil, apperr.Unauthorized("unsupported_algorithm", "token algorithm is not accepted", nil).
			WithDetail("alg", hdr.Alg)
	}

	if hdr.Kid == "" {
		return nil, apperr.Unauthorized("missing_key_id", "token header has no key id", nil)
	}

	key, err := v.signingKey(ctx, hdr.Kid)
	if err != nil {
		return nil, err
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{signingAlgorithm}),
		jwt.WithoutClaimsValidation(),
	)

	claims := jwt.MapClaims{}
	if _, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return key, nil
	}); err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, apperr.Unauthorized("invalid_signature", "token signature is invalid", err)
		default:
			return nil, apperr.Unauthorized("malformed_token", "token could not be parsed", err)
		}
	}

	tok, err := v.checkClaims(claims)
	if err != nil {
		return nil, err
	}

	tok.Raw = raw

	return tok, nil
}

// checkClaims runs the claim checks in order: issuer, audience, time
// bounds, then required scopes.
func (v *Verifier) checkClaims(claims jwt.MapClaims) (*VerifiedToken, error) {
	iss, _ := claims.GetIssuer()
	if iss != v.cfg.Issuer {
		return nil, apperr.Unauthorized("invalid_issuer", "token issuer is not trusted", nil)
	}

	aud, err := claims.GetAudience()
	if err != nil || !slices.Contains(aud, v.cfg.Audience) {
		return nil, apperr.Unauthorized("invalid_audience", "token audience does not match", err)
	}

	now := v.nowFunc()
	skew := v.cfg.ClockSkew

	nbf, err := claims.GetNotBefore()
	if err != nil {
		return nil, apperr.Unauthorized("malformed_token", "token nbf claim is invalid", err)
	}

	if nbf != nil && now.Add(skew).Before(nbf.Time) {
		return nil, apperr.Unauthorized("token_not_yet_valid", "token is not valid yet", nil)
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil, apperr.Unauthorized("missing_expiry", "token has no valid expiry", err)
	}

	if !now.Add(-skew).Before(exp.Time) {
		return nil, apperr.Unauthorized("token_expired", "token has expired", nil)
	}

	scopes := extractScopes(claims)

	var missing []string

	for _, req := range v.cfg.RequiredScopes {
		if !slices.Contains(scopes, req) {
			missing = append(missing, req)
		}
	}

	if len(missing) > 0 {
		return nil, apperr.Forbidden("insufficient_scope", "token lacks required scopes", nil).
			WithDetail("missingScopes", missing)
	}

	sub, _ := claims.GetSubject()

	return &VerifiedToken{
		Subject:  sub,
		Issuer:   iss,
		Audience: aud,
		Scopes:   scopes,
		ClientID: firstString(claims, "client_id", "azp", "appid"),
		Expiry:   exp.Time,
		Claims:   claims,
	}, nil
}

func decodeHeader(seg string) (tokenHeader, error) {
	var hdr tokenHeader

	data, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(seg, "="))
	if err != nil {
		return hdr, fmt.Errorf("decoding header: %w", err)
	}

	if err := json.Unmarshal(data, &hdr); err != nil {
		return hdr, fmt.Errorf("parsing header: %w", err)
	}

	return hdr, nil
}

// signingKey returns the RSA key for kid, forcing one JWKS refresh on a miss.
func (v *Verifier) signingKey(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	set, err := v.keys.GetOrRefresh(ctx, jwksCacheKey, v.fetchJWKS)
	if err != nil {
		return nil, apperr.Unauthorized("jwks_unavailable", "signing keys are unavailable", err)
	}

	key, found := set.LookupKeyID(kid)
	if !found {
		v.logger.Info("unknown key id, refreshing JWKS", slog.String("kid", kid))

		set, err = v.keys.Refresh(ctx, jwksCacheKey, v.fetchJWKS)
		if err != nil {
			return nil, apperr.Unauthorized("jwks_unavailable", "signing keys are unavailable", err)
		}

		key, found = set.LookupKeyID(kid)
		if !found {
			return nil, apperr.Unauthorized("unknown_key_id", "token signing key is unknown", nil).
				WithDetail("kid", kid)
		}
	}

	var rawKey any
	if err := jwk.Export(key, &rawKey); err != nil {
		return nil, apperr.Unauthorized("unknown_key_id", "token signing key is unusable", err)
	}

	pub, ok := rawKey.(*rsa.PublicKey)
	if !ok {
		return nil, apperr.Unauthorized("unsupported_algorithm", "token signing key is not RSA", nil)
	}

	return pub, nil
}

// fetchJWKS downloads and parses the key set.
func (v *Verifier) fetchJWKS(ctx context.Context) (jwk.Set, time.Time, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.cfg.JWKSURL, http.NoBody)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("auth: creating jwks request: %w", err)
	}

	req.Header.Set("Accept", "application/json")

	resp, err := v.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("auth: fetching jwks: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, time.Time{}, fmt.Errorf("auth: fetching jwks: HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxJWKSBody))
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("auth: reading jwks: %w", err)
	}

	set, err := jwk.Parse(body)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("auth: parsing jwks: %w", err)
	}

	v.logger.Debug("fetched JWKS", slog.Int("keys", set.Len()))

	return set, v.nowFunc().Add(v.cfg.JWKSTTL), nil
}

// extractScopes merges "scope"/"scp" (space-delimited string or array) with
// the "authorities" claim, preserving first-seen order.
func extractScopes(claims jwt.MapClaims) []string {
	var out []string

	seen := make(map[string]bool)
	add := func(s string) {
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}

	for _, name := range []string{"scope", "scp", "authorities"} {
		switch val := claims[name].(type) {
		case string:
			for _, s := range strings.Fields(val) {
				add(s)
			}
		case []any:
			for _, item := range val {
				if s, ok := item.(string); ok {
					add(s)
				}
			}
		case []string:
			for _, s := range val {
				add(s)
			}
		}
	}

	return out
}

// firstString returns the first non-empty string claim among names.
func firstString(claims map[string]any, names ...string) string {
	for _, name := range names {
		if s, ok := claims[name].(string); ok && s != "" {
			return s
		}
	}

	return ""
}
