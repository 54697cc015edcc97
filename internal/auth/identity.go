package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/tonimelisma/minutes-gateway/internal/apperr"
)

const (
	// maxKeyStem bounds the visible part of a user key, in runes.
	maxKeyStem = 48

	// keyHashLen is the number of hex characters in the key suffix.
	keyHashLen = 8

	// emptyKeyStem replaces a stem that normalizes to nothing.
	emptyKeyStem = "user"
)

// DefaultIdentityClaims is the claim fallback order used to pick the raw
// user identifier.
var DefaultIdentityClaims = []string{"email", "user_name", "upn", "sub"}

var unsafeKeyRun = regexp.MustCompile(`[^a-z0-9._-]+`)

// UserIdentity is the caller's storage identity. It is recomputed from the
// token on every request and never stored on its own.
type UserIdentity struct {
	UserKey       string
	Email         string
	PrincipalName string
	Subject       string
	// RawSource is the claim value the key was derived from.
	RawSource string
	// SourceClaim names the claim RawSource came from.
	SourceClaim string
}

// ClaimContract is the per-provider claim extraction contract: Order is
// the fallback list tried for the raw identifier, first non-empty wins.
type ClaimContract struct {
	Order []string
}

// Resolver derives UserIdentity values from token claims.
type Resolver struct {
	contract ClaimContract
	lower    cases.Caser
}

// NewResolver creates a resolver. An empty order uses DefaultIdentityClaims.
func NewResolver(contract ClaimContract) *Resolver {
	if len(contract.Order) == 0 {
		contract.Order = DefaultIdentityClaims
	}

	return &Resolver{
		contract: contract,
		lower:    cases.Lower(language.Und),
	}
}

// FromVerified derives the identity from a fully verified token.
func (r *Resolver) FromVerified(tok *VerifiedToken) (*UserIdentity, error) {
	if tok == nil {
		return nil, apperr.Unauthorized("missing_token", "no verified token", nil)
	}

	return r.FromClaims(tok.Claims)
}

// FromTrustedToken decodes the payload of a token that an upstream
// component has already authenticated. The signature is NOT checked; only
// use this behind a proxy that verifies tokens itself.
func (r *Resolver) FromTrustedToken(raw string) (*UserIdentity, error) {
	if strings.Count(raw, ".") != 2 {
		return nil, apperr.Unauthorized("malformed_token", "token must have three segments", nil)
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return nil, apperr.Unauthorized("malformed_token", "token payload could not be decoded", err)
	}

	return r.FromClaims(claims)
}

// FromClaims applies the claim contract to a claim set.
func (r *Resolver) FromClaims(claims map[string]any) (*UserIdentity, error) {
	id := &UserIdentity{
		Email:         firstString(claims, "email"),
		PrincipalName: firstString(claims, "upn", "preferred_username"),
		Subject:       firstString(claims, "sub"),
	}

	for _, name := range r.contract.Order {
		// Whitespace-only values count as absent, but the value is kept as
		// issued so the key suffix hashes the exact identifier.
		if v := firstString(claims, name); strings.TrimSpace(v) != "" {
			id.RawSource = v
			id.SourceClaim = name

			break
		}
	}

	if id.RawSource == "" {
		return nil, apperr.Unauthorized("missing_identity_claim", "token carries no usable identity claim", nil)
	}

	id.UserKey = r.NormalizeUserKey(id.RawSource)

	return id, nil
}

// NormalizeUserKey maps a raw identifier onto a filesystem-safe key:
// lower-cased, unsafe runs collapsed to "_", trimmed, truncated, then
// suffixed with a hash of the original so distinct identifiers that
// normalize alike still get distinct keys.
func (r *Resolver) NormalizeUserKey(raw string) string {
	stem := r.lower.String(raw)
	stem = unsafeKeyRun.ReplaceAllString(stem, "_")
	stem = strings.Trim(stem, "_")

	if runes := []rune(stem); len(runes) > maxKeyStem {
		stem = strings.Trim(string(runes[:maxKeyStem]), "_")
	}

	if stem == "" {
		stem = emptyKeyStem
	}

	sum := sha256.Sum256([]byte(raw))

	return stem + "-" + hex.EncodeToString(sum[:])[:keyHashLen]
}
