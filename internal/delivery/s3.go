package delivery

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tonimelisma/minutes-gateway/internal/apperr"
)

// uploadExpiry is the lifetime of the presigned PUT used for the upload,
// independent of the download TTL.
const uploadExpiry = 5 * time.Minute

// ObjectConfig configures an ObjectStore.
type ObjectConfig struct {
	// Endpoint is the S3 API base, e.g. "https://s3.eu-north-1.amazonaws.com".
	Endpoint    string
	Region      string
	Bucket      string
	Prefix      string
	PathStyle   bool
	Credentials Credentials
	DefaultTTL  time.Duration
	MaxTTL      time.Duration
	MaxSize     int64
	HTTPClient  *http.Client
}

// ObjectStore writes artifacts to an S3-compatible bucket and returns a
// presigned GET URL. It keeps no local state.
type ObjectStore struct {
	scheme  string
	host    string
	cfg     ObjectConfig
	signer  *Presigner
	limits  limits
	logger  *slog.Logger
	nowFunc func() time.Time
}

// ObjectOption customizes an ObjectStore.
type ObjectOption func(*ObjectStore)

// WithObjectClock replaces the clock used for signing times.
func WithObjectClock(now func() time.Time) ObjectOption {
	return func(s *ObjectStore) { s.nowFunc = now }
}

// NewObjectStore validates cfg and creates a store.
func NewObjectStore(cfg ObjectConfig, logger *slog.Logger, opts ...ObjectOption) (*ObjectStore, error) {
	u, err := url.Parse(cfg.Endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, apperr.Internal("delivery_misconfigured", "object store endpoint is invalid", err)
	}

	var missing []string

	for name, v := range map[string]string{
		"region":            cfg.Region,
		"bucket":            cfg.Bucket,
		"access_key_id":     cfg.Credentials.AccessKeyID,
		"secret_access_key": cfg.Credentials.SecretAccessKey,
	} {
		if v == "" {
			missing = append(missing, name)
		}
	}

	if len(missing) > 0 {
		return nil, apperr.Internal("delivery_misconfigured", "object store settings are missing", nil).
			WithDetail("missing", missing)
	}

	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}

	if logger == nil {
		logger = slog.Default()
	}

	cfg.Prefix = strings.Trim(cfg.Prefix, "/")

	s := &ObjectStore{
		scheme:  u.Scheme,
		host:    u.Host,
		cfg:     cfg,
		signer:  NewPresigner(cfg.Credentials, cfg.Region, "s3"),
		limits:  limits{defaultTTL: cfg.DefaultTTL, maxTTL: cfg.MaxTTL, maxSize: cfg.MaxSize}.withDefaults(MaxPresignTTL),
		logger:  logger,
		nowFunc: time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// objectKey places each artifact under its own random prefix so names
// never collide and keys cannot be guessed.
func (s *ObjectStore) objectKey(fileName string) string {
	key := uuid.NewString() + "/" + fileName
	if s.cfg.Prefix != "" {
		key = s.cfg.Prefix + "/" + key
	}

	return key
}

// location returns the host and unescaped path addressing key.
func (s *ObjectStore) location(key string) (host, objectPath string) {
	if s.cfg.PathStyle {
		return s.host, "/" + s.cfg.Bucket + "/" + key
	}

	return s.cfg.Bucket + "." + s.host, "/" + key
}

// Put implements Store.
func (s *ObjectStore) Put(ctx context.Context, req PutRequest) (*Handle, error) {
	req, err := s.limits.check(req)
	if err != nil {
		return nil, err
	}

	key := s.objectKey(req.FileName)
	host, objectPath := s.location(key)
	now := s.nowFunc()

	putURL, err := s.signer.Presign(http.MethodPut, s.scheme, host, objectPath, nil, now, uploadExpiry)
	if err != nil {
		return nil, apperr.Internal("delivery_failed", "could not sign upload", err)
	}

	if err := s.upload(ctx, putURL, req); err != nil {
		return nil, err
	}

	getURL, err := s.signer.Presign(http.MethodGet, s.scheme, host, objectPath, url.Values{
		"response-content-disposition": {ContentDisposition(req.FileName)},
		"response-content-type":        {req.MimeType},
	}, now, req.TTL)
	if err != nil {
		return nil, apperr.Internal("delivery_failed", "could not sign download", err)
	}

	s.logger.Info("artifact uploaded",
		slog.String("bucket", s.cfg.Bucket),
		slog.String("key", key),
		slog.Int("size", len(req.Content)),
		slog.Duration("ttl", req.TTL),
	)

	return &Handle{
		URL:       getURL,
		FileName:  req.FileName,
		MimeType:  req.MimeType,
		Size:      len(req.Content),
		ExpiresAt: now.Add(req.TTL),
	}, nil
}

func (s *ObjectStore) upload(ctx context.Context, putURL string, req PutRequest) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPut, putURL, bytes.NewReader(req.Content))
	if err != nil {
		return apperr.Internal("delivery_failed", "could not build upload request", err)
	}

	httpReq.ContentLength = int64(len(req.Content))
	httpReq.Header.Set("Content-Type", req.MimeType)
	httpReq.Header.Set("Content-Disposition", ContentDisposition(req.FileName))

	resp, err := s.cfg.HTTPClient.Do(httpReq)
	if err != nil {
		return apperr.Internal("delivery_failed", "object store upload failed", fmt.Errorf("delivery: put object: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512)) //nolint:errcheck // best-effort read for error message

		s.logger.Warn("object store rejected upload",
			slog.Int("status", resp.StatusCode),
			slog.String("body", string(body)),
		)

		return apperr.Internal("delivery_failed", "object store rejected the upload",
			fmt.Errorf("delivery: put object: HTTP %d", resp.StatusCode)).
			WithDetail("upstreamStatus", resp.StatusCode)
	}

	_, _ = io.Copy(io.Discard, resp.Body)

	return nil
}
