package config

import (
	"fmt"
	"io"
	"strings"
)

// redacted replaces secret values in rendered output.
const redacted = "<redacted>"

// RenderEffective writes the resolved configuration as an annotated
// summary to w. This powers "config show": operators see the effective
// values after all four override layers, with secrets masked.
func RenderEffective(r *Resolved, w io.Writer) error {
	ew := &errWriter{w: w}

	if r.Path != "" {
		ew.printf("# Effective configuration (file %s)\n\n", r.Path)
	} else {
		ew.printf("# Effective configuration (defaults and environment only)\n\n")
	}

	renderServerSection(ew, &r.Server)
	renderAuthSection(ew, &r.Auth)
	renderBrokerSection(ew, &r.Broker)
	renderGraphSection(ew, &r.Graph)
	renderScopeSection(ew, r.Scope)
	renderDeliverySection(ew, r.Delivery)
	renderCursorSection(ew, &r.Cursor)
	renderLoggingSection(ew, &r.Logging)

	return ew.err
}

// errWriter wraps an io.Writer and captures the first write error.
// Subsequent writes after an error are no-ops, so callers can chain
// printf calls without checking each one individually.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}

	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}

func renderServerSection(ew *errWriter, s *ServerSettings) {
	ew.printf("[server]\n")
	ew.printf("  listen_addr         = %q\n", s.ListenAddr)

	if s.PublicBaseURL != "" {
		ew.printf("  public_base_url     = %q\n", s.PublicBaseURL)
	}

	ew.printf("  read_header_timeout = %q\n", s.ReadHeaderTimeout)
	ew.printf("  shutdown_timeout    = %q\n", s.ShutdownTimeout)
	ew.printf("  rate_limit          = %g\n", s.RateLimit)
	ew.printf("  rate_burst          = %d\n", s.RateBurst)
	ew.printf("\n")
}

func renderAuthSection(ew *errWriter, a *AuthSettings) {
	ew.printf("[auth]\n")
	ew.printf("  mode            = %q\n", a.Mode)

	if a.Mode == AuthModeJWKS {
		ew.printf("  issuer          = %q\n", a.Issuer)
		ew.printf("  audience        = %q\n", a.Audience)
		ew.printf("  jwks_url        = %q\n", a.JWKSURL)
		ew.printf("  required_scopes = [%s]\n", joinQuoted(a.RequiredScopes))
		ew.printf("  clock_skew      = %q\n", a.ClockSkew)
		ew.printf("  jwks_ttl        = %q\n", a.JWKSTTL)
	}

	if len(a.IdentityClaims) > 0 {
		ew.printf("  identity_claims = [%s]\n", joinQuoted(a.IdentityClaims))
	}

	ew.printf("  realm           = %q\n", a.Realm)
	ew.printf("\n")
}

func renderBrokerSection(ew *errWriter, b *BrokerSettings) {
	ew.printf("[broker]\n")
	ew.printf("  mode             = %q\n", b.Mode)

	if b.Mode == BrokerModeDestination {
		ew.printf("  token_url        = %q\n", b.TokenURL)
		ew.printf("  client_id        = %q\n", b.ClientID)
		ew.printf("  client_secret    = %q\n", mask(b.ClientSecret))
		ew.printf("  destination_url  = %q\n", b.DestinationURL)
		ew.printf("  destination_name = %q\n", b.DestinationName)
	}

	ew.printf("\n")
}

func renderGraphSection(ew *errWriter, g *GraphSettings) {
	ew.printf("[graph]\n")
	ew.printf("  base_url     = %q\n", g.BaseURL)
	ew.printf("  timeout      = %q\n", g.Timeout)
	ew.printf("  max_attempts = %d\n", g.MaxAttempts)
	ew.printf("  base_delay   = %q\n", g.BaseDelay)
	ew.printf("  max_delay    = %q\n", g.MaxDelay)

	if g.App != nil {
		ew.printf("  app_token_url     = %q\n", g.App.TokenURL)
		ew.printf("  app_client_id     = %q\n", g.App.ClientID)
		ew.printf("  app_client_secret = %q\n", mask(g.App.ClientSecret))
		ew.printf("  app_scopes        = [%s]\n", joinQuoted(g.App.Scopes))
	}

	ew.printf("\n")
}

func renderScopeSection(ew *errWriter, s ScopeSettings) {
	ew.printf("[scope]\n")

	switch s := s.(type) {
	case FixedScope:
		ew.printf("  mode             = %q\n", ScopeModeFixed)
		ew.printf("  site_id          = %q\n", s.SiteID)
		ew.printf("  drive_id         = %q\n", s.DriveID)
		ew.printf("  input_folder_id  = %q\n", s.InputFolderID)
		ew.printf("  output_folder_id = %q\n", s.OutputFolderID)
	case PerUserScope:
		ew.printf("  mode        = %q\n", ScopeModePerUser)

		if s.SiteID != "" {
			ew.printf("  site_id     = %q\n", s.SiteID)
		}

		ew.printf("  drive_id    = %q\n", s.DriveID)
		ew.printf("  base_folder = %q\n", s.BaseFolder)
	}

	ew.printf("\n")
}

func renderDeliverySection(ew *errWriter, d DeliverySettings) {
	ew.printf("[delivery]\n")

	if d == nil {
		ew.printf("\n")
		return
	}

	l := d.Limits()
	ew.printf("  backend           = %q\n", d.Backend())
	ew.printf("  ttl               = %q\n", l.TTL)
	ew.printf("  max_ttl           = %q\n", l.MaxTTL)
	ew.printf("  max_artifact_size = %q\n", FormatSize(l.MaxSize))

	switch d := d.(type) {
	case MemoryDelivery:
		ew.printf("  max_entries       = %d\n", d.MaxEntries)
		ew.printf("  enforce_owner     = %t\n", d.EnforceOwner)
	case ObjectDelivery:
		ew.printf("  endpoint          = %q\n", d.Endpoint)
		ew.printf("  region            = %q\n", d.Region)
		ew.printf("  bucket            = %q\n", d.Bucket)

		if d.Prefix != "" {
			ew.printf("  prefix            = %q\n", d.Prefix)
		}

		ew.printf("  path_style        = %t\n", d.PathStyle)
		ew.printf("  access_key_id     = %q\n", d.AccessKeyID)
		ew.printf("  secret_access_key = %q\n", mask(d.SecretAccessKey))
	}

	ew.printf("\n")
}

func renderCursorSection(ew *errWriter, c *CursorSettings) {
	ew.printf("[cursor]\n")

	if len(c.SigningKey) > 0 {
		ew.printf("  signing_key = %q\n", redacted)
	} else {
		ew.printf("  # signing_key unset: a random key is generated per process\n")
	}

	ew.printf("  ttl         = %q\n", c.TTL)
	ew.printf("\n")
}

func renderLoggingSection(ew *errWriter, l *LoggingSettings) {
	ew.printf("[logging]\n")
	ew.printf("  log_level  = %q\n", strings.ToLower(l.Level.String()))
	ew.printf("  log_format = %q\n", l.Format)
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}

	return redacted
}

// joinQuoted formats a string slice as comma-separated quoted values.
func joinQuoted(items []string) string {
	quoted := make([]string, len(items))
	for i, item := range items {
		quoted[i] = fmt.Sprintf("%q", item)
	}

	return strings.Join(quoted, ", ")
}
