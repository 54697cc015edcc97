package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"slices"
	"strings"
	"time"
)

// Validation range constants.
const (
	minMaxAttempts     = 1
	maxMaxAttempts     = 10
	minSigningKeyBytes = 32
	maxPresignTTL      = 7 * 24 * time.Hour
	minShutdownTimeout = time.Second
)

// Validate checks all configuration values and returns all errors found.
// It accumulates every error rather than stopping at the first, so an
// operator sees a complete report and can fix all issues in one pass.
func Validate(cfg *Config) error {
	_, err := resolve(cfg)
	return err
}

// resolve parses and checks cfg section by section.
func resolve(cfg *Config) (*Resolved, error) {
	v := &validator{}

	r := &Resolved{
		Server:  v.server(&cfg.Server),
		Auth:    v.auth(&cfg.Auth),
		Broker:  v.broker(&cfg.Broker),
		Graph:   v.graph(&cfg.Graph, cfg.Scope.Mode),
		Scope:   v.scope(&cfg.Scope),
		Cursor:  v.cursor(&cfg.Cursor),
		Logging: v.logging(&cfg.Logging),
	}

	r.Delivery = v.delivery(&cfg.Delivery, r.Server.PublicBaseURL)

	if err := errors.Join(v.errs...); err != nil {
		return nil, err
	}

	return r, nil
}

// validator collects errors while converting raw values.
type validator struct {
	errs []error
}

func (v *validator) addf(format string, args ...any) {
	v.errs = append(v.errs, fmt.Errorf(format, args...))
}

// required reports every empty value among the named settings, in order.
func (v *validator) required(section, reason string, pairs ...string) {
	for i := 0; i+1 < len(pairs); i += 2 {
		if strings.TrimSpace(pairs[i+1]) == "" {
			v.addf("%s.%s: required %s", section, pairs[i], reason)
		}
	}
}

func (v *validator) duration(name, raw string, positive bool) time.Duration {
	d, err := time.ParseDuration(raw)
	if err != nil {
		v.addf("%s: invalid duration %q", name, raw)
		return 0
	}

	switch {
	case d < 0:
		v.addf("%s: must not be negative, got %s", name, raw)
	case positive && d == 0:
		v.addf("%s: must be positive", name)
	}

	return d
}

func (v *validator) httpURL(name, raw string) {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		v.addf("%s: must be an absolute http(s) URL, got %q", name, raw)
	}
}

func (v *validator) oneOf(name, got string, allowed ...string) {
	if !slices.Contains(allowed, got) {
		v.addf("%s: must be one of %s, got %q", name, strings.Join(allowed, ", "), got)
	}
}

func (v *validator) server(c *ServerConfig) ServerSettings {
	s := ServerSettings{
		ListenAddr:        c.ListenAddr,
		PublicBaseURL:     strings.TrimRight(c.PublicBaseURL, "/"),
		ReadHeaderTimeout: v.duration("server.read_header_timeout", c.ReadHeaderTimeout, true),
		ShutdownTimeout:   v.duration("server.shutdown_timeout", c.ShutdownTimeout, true),
		RateLimit:         c.RateLimit,
		RateBurst:         c.RateBurst,
	}

	if strings.TrimSpace(c.ListenAddr) == "" {
		v.addf("server.listen_addr: must not be empty")
	}

	if s.ShutdownTimeout > 0 && s.ShutdownTimeout < minShutdownTimeout {
		v.addf("server.shutdown_timeout: must be at least %s", minShutdownTimeout)
	}

	if c.RateLimit < 0 {
		v.addf("server.rate_limit: must not be negative, got %g", c.RateLimit)
	}

	if c.RateLimit > 0 && c.RateBurst < 1 {
		v.addf("server.rate_burst: must be at least 1 when rate_limit is set, got %d", c.RateBurst)
	}

	return s
}

func (v *validator) auth(c *AuthConfig) AuthSettings {
	s := AuthSettings{
		Mode:           c.Mode,
		Issuer:         c.Issuer,
		Audience:       c.Audience,
		JWKSURL:        c.JWKSURL,
		RequiredScopes: c.RequiredScopes,
		ClockSkew:      v.duration("auth.clock_skew", c.ClockSkew, false),
		JWKSTTL:        v.duration("auth.jwks_ttl", c.JWKSTTL, true),
		IdentityClaims: c.IdentityClaims,
		Realm:          c.Realm,
	}

	v.oneOf("auth.mode", c.Mode, AuthModeJWKS, AuthModeTrusted)

	if c.Mode == AuthModeJWKS {
		v.required("auth", "in jwks mode", "issuer", c.Issuer, "audience", c.Audience, "jwks_url", c.JWKSURL)

		if c.JWKSURL != "" {
			v.httpURL("auth.jwks_url", c.JWKSURL)
		}
	}

	for _, claim := range c.IdentityClaims {
		if strings.TrimSpace(claim) == "" {
			v.addf("auth.identity_claims: entries must not be empty")
			break
		}
	}

	return s
}

func (v *validator) broker(c *BrokerConfig) BrokerSettings {
	s := BrokerSettings{
		Mode:            c.Mode,
		TokenURL:        c.TokenURL,
		ClientID:        c.ClientID,
		ClientSecret:    c.ClientSecret,
		Scopes:          c.Scopes,
		DestinationURL:  strings.TrimRight(c.DestinationURL, "/"),
		DestinationName: c.DestinationName,
	}

	v.oneOf("broker.mode", c.Mode, BrokerModeDestination, BrokerModePassthrough)

	if c.Mode == BrokerModeDestination {
		v.required("broker", "in destination mode",
			"token_url", c.TokenURL,
			"client_id", c.ClientID,
			"client_secret", c.ClientSecret,
			"destination_url", c.DestinationURL,
			"destination_name", c.DestinationName,
		)

		if c.TokenURL != "" {
			v.httpURL("broker.token_url", c.TokenURL)
		}

		if c.DestinationURL != "" {
			v.httpURL("broker.destination_url", c.DestinationURL)
		}
	}

	return s
}

func (v *validator) graph(c *GraphConfig, scopeMode string) GraphSettings {
	s := GraphSettings{
		BaseURL:     strings.TrimRight(c.BaseURL, "/"),
		Timeout:     v.duration("graph.timeout", c.Timeout, true),
		MaxAttempts: c.MaxAttempts,
		BaseDelay:   v.duration("graph.base_delay", c.BaseDelay, true),
		MaxDelay:    v.duration("graph.max_delay", c.MaxDelay, true),
		UserAgent:   c.UserAgent,
	}

	v.httpURL("graph.base_url", c.BaseURL)

	if c.MaxAttempts < minMaxAttempts || c.MaxAttempts > maxMaxAttempts {
		v.addf("graph.max_attempts: must be between %d and %d, got %d", minMaxAttempts, maxMaxAttempts, c.MaxAttempts)
	}

	if s.BaseDelay > 0 && s.MaxDelay > 0 && s.BaseDelay > s.MaxDelay {
		v.addf("graph.base_delay: must not exceed max_delay")
	}

	if c.AppTokenURL != "" || c.AppClientID != "" || c.AppClientSecret != "" || scopeMode == ScopeModeFixed {
		v.required("graph", "for app credentials",
			"app_token_url", c.AppTokenURL,
			"app_client_id", c.AppClientID,
			"app_client_secret", c.AppClientSecret,
		)

		if c.AppTokenURL != "" {
			v.httpURL("graph.app_token_url", c.AppTokenURL)
		}

		s.App = &AppCredentials{
			TokenURL:     c.AppTokenURL,
			ClientID:     c.AppClientID,
			ClientSecret: c.AppClientSecret,
			Scopes:       c.AppScopes,
		}
	}

	return s
}

func (v *validator) scope(c *ScopeConfig) ScopeSettings {
	switch c.Mode {
	case ScopeModeFixed:
		v.required("scope", "in fixed mode",
			"site_id", c.SiteID,
			"drive_id", c.DriveID,
			"input_folder_id", c.InputFolderID,
			"output_folder_id", c.OutputFolderID,
		)

		if c.InputFolderID != "" && c.InputFolderID == c.OutputFolderID {
			v.addf("scope.output_folder_id: must differ from input_folder_id")
		}

		return FixedScope{
			SiteID:         c.SiteID,
			DriveID:        c.DriveID,
			InputFolderID:  c.InputFolderID,
			OutputFolderID: c.OutputFolderID,
		}
	case ScopeModePerUser:
		v.required("scope", "in per_user mode", "drive_id", c.DriveID)

		base := strings.Trim(c.BaseFolder, "/")
		if base == "" || path.Clean(base) != base || base == ".." || strings.HasPrefix(base, "../") {
			v.addf("scope.base_folder: must be a clean relative path, got %q", c.BaseFolder)
		}

		return PerUserScope{SiteID: c.SiteID, DriveID: c.DriveID, BaseFolder: base}
	default:
		v.oneOf("scope.mode", c.Mode, ScopeModeFixed, ScopeModePerUser)
		return nil
	}
}

func (v *validator) delivery(c *DeliveryConfig, publicBaseURL string) DeliverySettings {
	limits := DeliveryLimits{
		TTL:    v.duration("delivery.ttl", c.TTL, true),
		MaxTTL: v.duration("delivery.max_ttl", c.MaxTTL, true),
	}

	if limits.TTL > 0 && limits.MaxTTL > 0 && limits.TTL > limits.MaxTTL {
		v.addf("delivery.ttl: must not exceed max_ttl")
	}

	size, err := ParseSize(c.MaxArtifactSize)
	switch {
	case err != nil:
		v.addf("delivery.max_artifact_size: %v", err)
	case size == 0:
		v.addf("delivery.max_artifact_size: must be positive")
	default:
		limits.MaxSize = size
	}

	switch c.Backend {
	case BackendMemory:
		if publicBaseURL == "" {
			v.addf("server.public_base_url: required for the memory delivery backend")
		} else {
			v.httpURL("server.public_base_url", publicBaseURL)
		}

		if c.MaxEntries < 1 {
			v.addf("delivery.max_entries: must be at least 1, got %d", c.MaxEntries)
		}

		return MemoryDelivery{
			DeliveryLimits: limits,
			PublicBaseURL:  publicBaseURL,
			MaxEntries:     c.MaxEntries,
			EnforceOwner:   c.EnforceOwner,
		}
	case BackendS3:
		v.required("delivery", "for the s3 backend",
			"endpoint", c.Endpoint,
			"region", c.Region,
			"bucket", c.Bucket,
			"access_key_id", c.AccessKeyID,
			"secret_access_key", c.SecretAccessKey,
		)

		if c.Endpoint != "" {
			v.httpURL("delivery.endpoint", c.Endpoint)
		}

		if limits.MaxTTL > maxPresignTTL {
			v.addf("delivery.max_ttl: presigned URLs cannot outlive %s", maxPresignTTL)
		}

		return ObjectDelivery{
			DeliveryLimits:  limits,
			Endpoint:        strings.TrimRight(c.Endpoint, "/"),
			Region:          c.Region,
			Bucket:          c.Bucket,
			Prefix:          strings.Trim(c.Prefix, "/"),
			PathStyle:       c.PathStyle,
			AccessKeyID:     c.AccessKeyID,
			SecretAccessKey: c.SecretAccessKey,
			SessionToken:    c.SessionToken,
		}
	default:
		v.oneOf("delivery.backend", c.Backend, BackendMemory, BackendS3)
		return nil
	}
}

func (v *validator) cursor(c *CursorConfig) CursorSettings {
	s := CursorSettings{TTL: v.duration("cursor.ttl", c.TTL, true)}

	if c.SigningKey != "" {
		if len(c.SigningKey) < minSigningKeyBytes {
			v.addf("cursor.signing_key: must be at least %d bytes", minSigningKeyBytes)
		}

		s.SigningKey = []byte(c.SigningKey)
	}

	return s
}

func (v *validator) logging(c *LoggingConfig) LoggingSettings {
	level, err := ParseLevel(c.LogLevel)
	if err != nil {
		v.addf("logging.log_level: %v", err)
	}

	v.oneOf("logging.log_format", c.LogFormat, LogFormatAuto, LogFormatText, LogFormatJSON)

	return LoggingSettings{Level: level, Format: c.LogFormat}
}

// ParseLevel maps a config log level name to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("must be one of debug, info, warn, error, got %q", s)
	}
}
