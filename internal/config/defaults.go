package config

// Default values for configuration options. These are "layer 0" of the
// override chain; a fresh deployment needs only the identity-provider,
// broker and drive settings on top of them.
const (
	defaultListenAddr        = ":8080"
	defaultReadHeaderTimeout = "10s"
	defaultShutdownTimeout   = "15s"
	defaultRateLimit         = 10.0
	defaultRateBurst         = 40
	defaultAuthMode          = "jwks"
	defaultClockSkew         = "60s"
	defaultJWKSTTL           = "10m"
	defaultRealm             = "minutes-gateway"
	defaultBrokerMode        = "destination"
	defaultGraphBaseURL      = "https://graph.microsoft.com/v1.0"
	defaultGraphTimeout      = "60s"
	defaultMaxAttempts       = 5
	defaultBaseDelay         = "1s"
	defaultMaxDelay          = "30s"
	defaultAppScope          = "https://graph.microsoft.com/.default"
	defaultScopeMode         = "per_user"
	defaultBaseFolder        = "MinutesGateway"
	defaultBackend           = "memory"
	defaultDeliveryTTL       = "15m"
	defaultDeliveryMaxTTL    = "24h"
	defaultMaxEntries        = 256
	defaultMaxArtifactSize   = "25MiB"
	defaultCursorTTL         = "1h"
	defaultLogLevel          = "info"
	defaultLogFormat         = "auto"
)

// DefaultConfig returns a Config populated with all default values. It is
// the starting point for TOML decoding, so unset fields keep defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:        defaultListenAddr,
			ReadHeaderTimeout: defaultReadHeaderTimeout,
			ShutdownTimeout:   defaultShutdownTimeout,
			RateLimit:         defaultRateLimit,
			RateBurst:         defaultRateBurst,
		},
		Auth: AuthConfig{
			Mode:      defaultAuthMode,
			ClockSkew: defaultClockSkew,
			JWKSTTL:   defaultJWKSTTL,
			Realm:     defaultRealm,
		},
		Broker: BrokerConfig{
			Mode: defaultBrokerMode,
		},
		Graph: GraphConfig{
			BaseURL:     defaultGraphBaseURL,
			Timeout:     defaultGraphTimeout,
			MaxAttempts: defaultMaxAttempts,
			BaseDelay:   defaultBaseDelay,
			MaxDelay:    defaultMaxDelay,
			AppScopes:   []string{defaultAppScope},
		},
		Scope: ScopeConfig{
			Mode:       defaultScopeMode,
			BaseFolder: defaultBaseFolder,
		},
		Delivery: DeliveryConfig{
			Backend:         defaultBackend,
			TTL:             defaultDeliveryTTL,
			MaxTTL:          defaultDeliveryMaxTTL,
			MaxEntries:      defaultMaxEntries,
			EnforceOwner:    true,
			MaxArtifactSize: defaultMaxArtifactSize,
		},
		Cursor: CursorConfig{
			TTL: defaultCursorTTL,
		},
		Logging: LoggingConfig{
			LogLevel:  defaultLogLevel,
			LogFormat: defaultLogFormat,
		},
	}
}
