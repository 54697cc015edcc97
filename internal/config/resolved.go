package config

import (
	"log/slog"
	"time"
)

// Mode and backend names accepted in the config file.
const (
	AuthModeJWKS    = "jwks"
	AuthModeTrusted = "trusted"

	BrokerModeDestination = "destination"
	BrokerModePassthrough = "passthrough"

	ScopeModeFixed   = "fixed"
	ScopeModePerUser = "per_user"

	BackendMemory = "memory"
	BackendS3     = "s3"

	LogFormatAuto = "auto"
	LogFormatText = "text"
	LogFormatJSON = "json"
)

// Resolved is the effective, parsed configuration. Every duration and
// size has been converted, and the scope and delivery sections are
// narrowed to the variant their mode selects.
type Resolved struct {
	// Path is the config file that was read, or "" when only defaults,
	// environment and flags apply.
	Path string

	Server   ServerSettings
	Auth     AuthSettings
	Broker   BrokerSettings
	Graph    GraphSettings
	Scope    ScopeSettings
	Delivery DeliverySettings
	Cursor   CursorSettings
	Logging  LoggingSettings
}

// ServerSettings configures the HTTP listener.
type ServerSettings struct {
	ListenAddr        string
	PublicBaseURL     string
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
	RateLimit         float64
	RateBurst         int
}

// AuthSettings configures inbound token handling.
type AuthSettings struct {
	Mode           string
	Issuer         string
	Audience       string
	JWKSURL        string
	RequiredScopes []string
	ClockSkew      time.Duration
	JWKSTTL        time.Duration
	IdentityClaims []string
	Realm          string
}

// BrokerSettings configures the delegated token exchange.
type BrokerSettings struct {
	Mode            string
	TokenURL        string
	ClientID        string
	ClientSecret    string
	Scopes          []string
	DestinationURL  string
	DestinationName string
}

// GraphSettings configures the document API client. App is nil unless the
// gateway has its own client credentials.
type GraphSettings struct {
	BaseURL     string
	Timeout     time.Duration
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	UserAgent   string
	App         *AppCredentials
}

// AppCredentials is the gateway's own client-credentials identity.
type AppCredentials struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
}

// ScopeSettings is FixedScope or PerUserScope.
type ScopeSettings interface {
	ScopeMode() string
}

// FixedScope confines every caller to operator-chosen folders.
type FixedScope struct {
	SiteID         string
	DriveID        string
	InputFolderID  string
	OutputFolderID string
}

// ScopeMode implements ScopeSettings.
func (FixedScope) ScopeMode() string { return ScopeModeFixed }

// PerUserScope gives each caller a folder set under BaseFolder.
type PerUserScope struct {
	SiteID     string
	DriveID    string
	BaseFolder string
}

// ScopeMode implements ScopeSettings.
func (PerUserScope) ScopeMode() string { return ScopeModePerUser }

// DeliverySettings is MemoryDelivery or ObjectDelivery.
type DeliverySettings interface {
	Backend() string
	Limits() DeliveryLimits
}

// DeliveryLimits are shared by both backends.
type DeliveryLimits struct {
	TTL     time.Duration
	MaxTTL  time.Duration
	MaxSize int64
}

// MemoryDelivery serves artifacts from process memory via /download.
type MemoryDelivery struct {
	DeliveryLimits
	PublicBaseURL string
	MaxEntries    int
	EnforceOwner  bool
}

// Backend implements DeliverySettings.
func (MemoryDelivery) Backend() string { return BackendMemory }

// Limits implements DeliverySettings.
func (m MemoryDelivery) Limits() DeliveryLimits { return m.DeliveryLimits }

// ObjectDelivery writes artifacts to an S3-compatible bucket.
type ObjectDelivery struct {
	DeliveryLimits
	Endpoint        string
	Region          string
	Bucket          string
	Prefix          string
	PathStyle       bool
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
}

// Backend implements DeliverySettings.
func (ObjectDelivery) Backend() string { return BackendS3 }

// Limits implements DeliverySettings.
func (o ObjectDelivery) Limits() DeliveryLimits { return o.DeliveryLimits }

// CursorSettings configures pagination cursors.
type CursorSettings struct {
	SigningKey []byte
	TTL        time.Duration
}

// LoggingSettings configures log output.
type LoggingSettings struct {
	Level  slog.Level
	Format string
}
