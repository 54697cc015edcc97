// Package config implements TOML configuration loading, validation and
// resolution for minutes-gateway. Values flow through a four-layer chain
// (defaults -> config file -> environment -> CLI flags) and are then
// resolved into typed settings with one variant per scope mode and
// delivery backend.
package config

// Config is the top-level configuration structure parsed from a TOML file.
// Durations and sizes stay strings here; Resolve parses them.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Auth     AuthConfig     `toml:"auth"`
	Broker   BrokerConfig   `toml:"broker"`
	Graph    GraphConfig    `toml:"graph"`
	Scope    ScopeConfig    `toml:"scope"`
	Delivery DeliveryConfig `toml:"delivery"`
	Cursor   CursorConfig   `toml:"cursor"`
	Logging  LoggingConfig  `toml:"logging"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	ListenAddr        string  `toml:"listen_addr"`
	PublicBaseURL     string  `toml:"public_base_url"`
	ReadHeaderTimeout string  `toml:"read_header_timeout"`
	ShutdownTimeout   string  `toml:"shutdown_timeout"`
	RateLimit         float64 `toml:"rate_limit"`
	RateBurst         int     `toml:"rate_burst"`
}

// AuthConfig controls inbound token verification. In trusted mode only
// identity_claims is used.
type AuthConfig struct {
	Mode           string   `toml:"mode"`
	Issuer         string   `toml:"issuer"`
	Audience       string   `toml:"audience"`
	JWKSURL        string   `toml:"jwks_url"`
	RequiredScopes []string `toml:"required_scopes"`
	ClockSkew      string   `toml:"clock_skew"`
	JWKSTTL        string   `toml:"jwks_ttl"`
	IdentityClaims []string `toml:"identity_claims"`
	Realm          string   `toml:"realm"`
}

// BrokerConfig controls the delegated token exchange.
type BrokerConfig struct {
	Mode            string   `toml:"mode"`
	TokenURL        string   `toml:"token_url"`
	ClientID        string   `toml:"client_id"`
	ClientSecret    string   `toml:"client_secret" secret:"true"`
	Scopes          []string `toml:"scopes"`
	DestinationURL  string   `toml:"destination_url"`
	DestinationName string   `toml:"destination_name"`
}

// GraphConfig controls the document API client. The app_* settings give
// the gateway its own identity, used in fixed scope mode to validate the
// configured folders at startup.
type GraphConfig struct {
	BaseURL         string   `toml:"base_url"`
	Timeout         string   `toml:"timeout"`
	MaxAttempts     int      `toml:"max_attempts"`
	BaseDelay       string   `toml:"base_delay"`
	MaxDelay        string   `toml:"max_delay"`
	UserAgent       string   `toml:"user_agent"`
	AppTokenURL     string   `toml:"app_token_url"`
	AppClientID     string   `toml:"app_client_id"`
	AppClientSecret string   `toml:"app_client_secret" secret:"true"`
	AppScopes       []string `toml:"app_scopes"`
}

// ScopeConfig selects the folder layout callers are confined to.
type ScopeConfig struct {
	Mode           string `toml:"mode"`
	SiteID         string `toml:"site_id"`
	DriveID        string `toml:"drive_id"`
	InputFolderID  string `toml:"input_folder_id"`
	OutputFolderID string `toml:"output_folder_id"`
	BaseFolder     string `toml:"base_folder"`
}

// DeliveryConfig selects where generated artifacts are handed out from.
type DeliveryConfig struct {
	Backend         string `toml:"backend"`
	TTL             string `toml:"ttl"`
	MaxTTL          string `toml:"max_ttl"`
	MaxEntries      int    `toml:"max_entries"`
	EnforceOwner    bool   `toml:"enforce_owner"`
	MaxArtifactSize string `toml:"max_artifact_size"`
	Endpoint        string `toml:"endpoint"`
	Region          string `toml:"region"`
	Bucket          string `toml:"bucket"`
	AccessKeyID     string `toml:"access_key_id"`
	SecretAccessKey string `toml:"secret_access_key" secret:"true"`
	SessionToken    string `toml:"session_token" secret:"true"`
	Prefix          string `toml:"prefix"`
	PathStyle       bool   `toml:"path_style"`
}

// CursorConfig controls pagination cursors. An empty signing key makes
// the gateway generate one per process.
type CursorConfig struct {
	SigningKey string `toml:"signing_key" secret:"true"`
	TTL        string `toml:"ttl"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
}

// CLIOverrides holds values from CLI flags. Pointer fields distinguish
// "not specified" (nil) from an explicit zero value.
type CLIOverrides struct {
	ConfigPath string  // --config flag (empty = env or default)
	ListenAddr *string // --listen flag
	LogLevel   *string // --verbose / --quiet
}
