// Package cursor issues and checks the opaque continuation tokens handed
// to clients for folder listings. A cursor is an HMAC-signed compact JWS
// whose payload records the upstream continuation link, any buffered
// items and the drive/folder/filter the listing was issued under.
package cursor

import (
	"crypto/rand"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tonimelisma/minutes-gateway/internal/apperr"
	"github.com/tonimelisma/minutes-gateway/internal/driveid"
)

const (
	// Version is the only payload version this codec accepts.
	Version = 1

	// DefaultTTL bounds how long a cursor stays usable.
	DefaultTTL = time.Hour

	// minKeyLen is the shortest accepted signing key.
	minKeyLen = 32
)

// Entry is one listed drive item as returned to clients and buffered
// inside cursors.
type Entry struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Path     string `json:"path"`
	Size     int64  `json:"size"`
	MimeType string `json:"mimeType,omitempty"`
	IsFolder bool   `json:"isFolder,omitempty"`
	Modified string `json:"modified,omitempty"`
}

// Binding is the listing context a cursor is tied to.
type Binding struct {
	DriveID  driveid.ID
	FolderID string
	Filter   string
}

// Cursor is the decoded cursor payload.
type Cursor struct {
	Version int     `json:"v"`
	Next    string  `json:"next,omitempty"`
	Buffer  []Entry `json:"buf,omitempty"`
	Drive   string  `json:"drive"`
	Folder  string  `json:"folder"`
	Filter  string  `json:"filter,omitempty"`
	jwt.RegisteredClaims
}

// Codec encodes and decodes cursors and polices continuation links.
type Codec struct {
	key     []byte
	links   LinkPolicy
	ttl     time.Duration
	nowFunc func() time.Time
}

// Option customizes a Codec.
type Option func(*Codec)

// WithClock replaces the clock used for cursor expiry.
func WithClock(now func() time.Time) Option {
	return func(c *Codec) { c.nowFunc = now }
}

// WithTTL sets how long issued cursors remain valid.
func WithTTL(d time.Duration) Option {
	return func(c *Codec) {
		if d > 0 {
			c.ttl = d
		}
	}
}

// NewCodec creates a codec signing with key. An empty key is replaced by a
// random per-process key, which invalidates outstanding cursors on
// restart. graphBaseURL is the upstream API base continuation links must
// point into.
func NewCodec(key []byte, graphBaseURL string, opts ...Option) (*Codec, error) {
	if len(key) == 0 {
		key = make([]byte, minKeyLen)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("cursor: generating signing key: %w", err)
		}
	}

	if len(key) < minKeyLen {
		return nil, fmt.Errorf("cursor: signing key must be at least %d bytes", minKeyLen)
	}

	links, err := NewLinkPolicy(graphBaseURL)
	if err != nil {
		return nil, err
	}

	c := &Codec{key: key, links: links, ttl: DefaultTTL, nowFunc: time.Now}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Links returns the continuation link policy.
func (c *Codec) Links() LinkPolicy {
	return c.links
}

// New returns a cursor bound to b.
func (c *Codec) New(b Binding, next string, buffer []Entry) *Cursor {
	now := c.nowFunc()

	return &Cursor{
		Version: Version,
		Next:    next,
		Buffer:  buffer,
		Drive:   b.DriveID.String(),
		Folder:  b.FolderID,
		Filter:  b.Filter,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
		},
	}
}

// Encode signs cur into its external form. Encoding the result of Decode
// reproduces the original token.
func (c *Codec) Encode(cur *Cursor) (string, error) {
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, cur).SignedString(c.key)
	if err != nil {
		return "", fmt.Errorf("cursor: signing: %w", err)
	}

	return s, nil
}

// Decode parses token and checks it against b. Malformed, tampered,
// expired or unknown-version cursors are validation errors; a cursor
// issued for a different drive, folder or filter is forbidden.
func (c *Codec) Decode(token string, b Binding) (*Cursor, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(c.nowFunc),
		jwt.WithExpirationRequired(),
	)

	cur := &Cursor{}
	if _, err := parser.ParseWithClaims(token, cur, func(*jwt.Token) (any, error) {
		return c.key, nil
	}); err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, apperr.Validation("cursor_expired", "cursor has expired, restart the listing", nil)
		}

		return nil, apperr.Validation("invalid_cursor", "cursor is malformed", err)
	}

	if cur.Version != Version {
		return nil, apperr.Validation("invalid_cursor", "cursor version is not supported", nil).
			WithDetail("version", cur.Version)
	}

	if !driveid.New(cur.Drive).Equal(b.DriveID) || cur.Folder != b.FolderID {
		return nil, apperr.Forbidden("cursor_scope_mismatch", "cursor was issued for a different folder", nil)
	}

	if cur.Filter != b.Filter {
		return nil, apperr.Forbidden("cursor_filter_mismatch", "cursor was issued for a different filter", nil)
	}

	if cur.Next != "" {
		if err := c.links.Check(cur.Next, b.DriveID, b.FolderID); err != nil {
			return nil, err
		}
	}

	return cur, nil
}

// LinkPolicy accepts only continuation links into one folder's children
// listing on the configured upstream.
type LinkPolicy struct {
	scheme     string
	host       string
	pathPrefix string
}

// NewLinkPolicy derives the policy from the upstream base URL, for
// example "https://graph.microsoft.com/v1.0".
func NewLinkPolicy(baseURL string) (LinkPolicy, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return LinkPolicy{}, fmt.Errorf("cursor: invalid upstream base URL %q", baseURL)
	}

	return LinkPolicy{
		scheme:     strings.ToLower(u.Scheme),
		host:       strings.ToLower(u.Host),
		pathPrefix: strings.TrimRight(u.Path, "/"),
	}, nil
}

// Check validates link as a children continuation for folderID on
// driveID. Anything else (another host, another API version, another
// resource) is refused before the gateway sends its credential there.
func (p LinkPolicy) Check(link string, driveID driveid.ID, folderID string) error {
	u, err := url.Parse(link)
	if err != nil {
		return invalidLink("unparseable")
	}

	if !strings.EqualFold(u.Scheme, p.scheme) || !strings.EqualFold(u.Host, p.host) {
		return invalidLink("foreign host")
	}

	if u.User != nil || u.Fragment != "" || u.Opaque != "" {
		return invalidLink("unexpected url components")
	}

	rest, ok := strings.CutPrefix(u.Path, p.pathPrefix+"/")
	if !ok {
		return invalidLink("unexpected api version")
	}

	segs := strings.Split(rest, "/")
	if len(segs) != 5 || segs[0] != "drives" || segs[2] != "items" || segs[4] != "children" {
		return invalidLink("unexpected resource")
	}

	if !driveid.New(segs[1]).Equal(driveID) || segs[3] != folderID {
		return invalidLink("different folder")
	}

	return nil
}

func invalidLink(reason string) error {
	return apperr.Forbidden("invalid_continuation", "continuation link is not allowed", nil).
		WithDetail("reason", reason)
}
