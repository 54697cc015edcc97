// Package delivery hands finished artifacts back to callers as time-limited
// links, either served from process memory or presigned against an
// S3-compatible object store.
package delivery

import (
	"context"
	"mime"
	"strings"
	"time"
	"unicode"

	"github.com/dustin/go-humanize"

	"github.com/tonimelisma/minutes-gateway/internal/apperr"
)

// Delivery defaults.
const (
	DefaultTTL     = 15 * time.Minute
	DefaultMaxTTL  = 24 * time.Hour
	DefaultMaxSize = 25 << 20

	// MaxPresignTTL is the longest expiry SigV4 allows.
	MaxPresignTTL = 7 * 24 * time.Hour

	defaultMimeType = "application/octet-stream"
	maxFileNameLen  = 200
)

// PutRequest is an artifact to deliver. Owner is the caller's subject; an
// empty owner leaves the artifact unbound.
type PutRequest struct {
	FileName string
	Content  []byte
	MimeType string
	Owner    string
	TTL      time.Duration
}

// Handle is the caller-facing result of a delivery.
type Handle struct {
	ID        string    `json:"id,omitempty"`
	URL       string    `json:"url"`
	FileName  string    `json:"fileName"`
	MimeType  string    `json:"mimeType"`
	Size      int       `json:"size"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Store delivers artifacts.
type Store interface {
	Put(ctx context.Context, req PutRequest) (*Handle, error)
}

// limits is shared put-time validation.
type limits struct {
	defaultTTL time.Duration
	maxTTL     time.Duration
	maxSize    int64
}

// withDefaults fills unset limits. A positive ceiling caps maxTTL.
func (l limits) withDefaults(ceiling time.Duration) limits {
	if l.defaultTTL <= 0 {
		l.defaultTTL = DefaultTTL
	}

	if l.maxTTL <= 0 {
		l.maxTTL = DefaultMaxTTL
	}

	if ceiling > 0 {
		l.maxTTL = min(l.maxTTL, ceiling)
	}
	l.defaultTTL = min(l.defaultTTL, l.maxTTL)

	if l.maxSize <= 0 {
		l.maxSize = DefaultMaxSize
	}

	return l
}

// check validates req and returns the normalized request with its TTL
// clamped into (0, maxTTL].
func (l limits) check(req PutRequest) (PutRequest, error) {
	name := SanitizeFileName(req.FileName)
	if name == "" {
		return req, apperr.Validation("invalid_file_name", "artifact needs a file name", nil)
	}

	if int64(len(req.Content)) > l.maxSize {
		return req, apperr.Validation("artifact_too_large",
			"artifact exceeds "+humanize.IBytes(uint64(l.maxSize)), nil).
			WithDetail("size", len(req.Content)).
			WithDetail("limit", l.maxSize)
	}

	req.FileName = name

	if req.MimeType == "" {
		req.MimeType = defaultMimeType
	}

	switch {
	case req.TTL <= 0:
		req.TTL = l.defaultTTL
	case req.TTL > l.maxTTL:
		req.TTL = l.maxTTL
	}

	return req, nil
}

// SanitizeFileName strips path components and control characters so the
// name is safe in a header and as an object key segment.
func SanitizeFileName(name string) string {
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}

	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) || r == '"' {
			return -1
		}

		return r
	}, name)

	name = strings.TrimSpace(name)
	if name == "." || name == ".." {
		return ""
	}

	if r := []rune(name); len(r) > maxFileNameLen {
		name = string(r[:maxFileNameLen])
	}

	return name
}

// ContentDisposition formats an attachment disposition for name, using
// the RFC 2231 extended form for non-ASCII names.
func ContentDisposition(name string) string {
	v := mime.FormatMediaType("attachment", map[string]string{"filename": name})
	if v == "" {
		return "attachment"
	}

	return v
}
