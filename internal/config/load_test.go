package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// minimalConfig is the smallest file that passes validation with the
// default modes (jwks, destination broker, per-user scope, memory).
const minimalConfig = `
[server]
public_base_url = "https://gw.example.com/"

[auth]
issuer = "https://login.example.com/"
audience = "api://minutes"
jwks_url = "https://login.example.com/keys"

[broker]
token_url = "https://broker.example.com/oauth/token"
client_id = "gw"
client_secret = "s3cret"
destination_url = "https://dest.example.com/"
destination_name = "graph"

[scope]
drive_id = "b!drive"
`

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	err := os.WriteFile(path, []byte(content), 0o600)
	require.NoError(t, err)

	return path
}

// envMap is a LookupFunc over a fixed map.
func envMap(m map[string]string) LookupFunc {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestLoad_Minimal(t *testing.T) {
	path := writeTestConfig(t, minimalConfig)

	cfg, err := Load(path, nil)
	require.NoError(t, err)
	require.NoError(t, Validate(cfg))

	assert.Equal(t, "b!drive", cfg.Scope.DriveID)
	assert.Equal(t, defaultListenAddr, cfg.Server.ListenAddr)
	assert.Equal(t, defaultBaseFolder, cfg.Scope.BaseFolder)
	assert.True(t, cfg.Delivery.EnforceOwner)
}

func TestLoad_ValidFullConfig(t *testing.T) {
	path := writeTestConfig(t, `
[server]
listen_addr = "127.0.0.1:9000"
public_base_url = "https://gw.example.com"
read_header_timeout = "5s"
shutdown_timeout = "20s"
rate_limit = 2.5
rate_burst = 10

[auth]
mode = "jwks"
issuer = "https://login.example.com/"
audience = "api://minutes"
jwks_url = "https://login.example.com/keys"
required_scopes = ["minutes.write"]
clock_skew = "30s"
jwks_ttl = "5m"
identity_claims = ["email", "sub"]
realm = "minutes"

[broker]
mode = "passthrough"

[graph]
base_url = "https://graph.example.com/v1.0/"
timeout = "30s"
max_attempts = 3
base_delay = "500ms"
max_delay = "10s"
user_agent = "ISV|test|minutes/1.0"
app_token_url = "https://login.example.com/token"
app_client_id = "app"
app_client_secret = "app-secret"

[scope]
mode = "fixed"
site_id = "site-1"
drive_id = "b!drive"
input_folder_id = "in"
output_folder_id = "out"

[delivery]
backend = "s3"
ttl = "10m"
max_ttl = "48h"
max_artifact_size = "10MiB"
endpoint = "https://s3.example.com/"
region = "eu-north-1"
bucket = "minutes"
access_key_id = "AKID"
secret_access_key = "SECRET"
prefix = "/artifacts/"
path_style = true

[cursor]
signing_key = "0123456789abcdef0123456789abcdef"
ttl = "30m"

[logging]
log_level = "debug"
log_format = "json"
`)

	r, err := Resolve(EnvOverrides{ConfigPath: path}, CLIOverrides{})
	require.NoError(t, err)

	assert.Equal(t, path, r.Path)
	assert.Equal(t, "127.0.0.1:9000", r.Server.ListenAddr)
	assert.Equal(t, 5*time.Second, r.Server.ReadHeaderTimeout)
	assert.InDelta(t, 2.5, r.Server.RateLimit, 0)
	assert.Equal(t, []string{"minutes.write"}, r.Auth.RequiredScopes)
	assert.Equal(t, 30*time.Second, r.Auth.ClockSkew)
	assert.Equal(t, []string{"email", "sub"}, r.Auth.IdentityClaims)
	assert.Equal(t, BrokerModePassthrough, r.Broker.Mode)

	assert.Equal(t, "https://graph.example.com/v1.0", r.Graph.BaseURL)
	assert.Equal(t, 3, r.Graph.MaxAttempts)
	require.NotNil(t, r.Graph.App)
	assert.Equal(t, []string{defaultAppScope}, r.Graph.App.Scopes)

	fixed, ok := r.Scope.(FixedScope)
	require.True(t, ok, "scope is %T", r.Scope)
	assert.Equal(t, "in", fixed.InputFolderID)

	obj, ok := r.Delivery.(ObjectDelivery)
	require.True(t, ok, "delivery is %T", r.Delivery)
	assert.Equal(t, "https://s3.example.com", obj.Endpoint)
	assert.Equal(t, "artifacts", obj.Prefix)
	assert.Equal(t, int64(10<<20), obj.MaxSize)
	assert.Equal(t, 48*time.Hour, obj.MaxTTL)
	assert.True(t, obj.PathStyle)

	assert.Len(t, r.Cursor.SigningKey, 32)
	assert.Equal(t, 30*time.Minute, r.Cursor.TTL)
	assert.Equal(t, slog.LevelDebug, r.Logging.Level)
	assert.Equal(t, LogFormatJSON, r.Logging.Format)
}

func TestLoad_InvalidTOML(t *testing.T) {
	path := writeTestConfig(t, "[server\nlisten_addr = ")

	_, err := Load(path, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config file")
}

func TestLoad_WrongType(t *testing.T) {
	path := writeTestConfig(t, "[server]\nrate_burst = \"many\"\n")

	_, err := Load(path, nil)
	require.Error(t, err)
}

func TestLoad_UnknownKeys(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    []string
	}{
		{
			name:    "typo in section key",
			content: "[server]\nlisten_adr = \":1\"\n",
			want:    []string{"unknown config key in [server]", `"listen_adr"`, `did you mean "listen_addr"`},
		},
		{
			name:    "typo in section name",
			content: "[scopes]\nmode = \"fixed\"\n",
			want:    []string{"unknown config section", `did you mean "scope"`},
		},
		{
			name:    "top-level key",
			content: "log_level = \"debug\"\n",
			want:    []string{"unknown config section", `"log_level"`},
		},
		{
			name:    "no close match",
			content: "[delivery]\nzzzzzzzzzz = 1\n",
			want:    []string{`"zzzzzzzzzz"`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeTestConfig(t, tt.content), nil)
			require.Error(t, err)

			for _, w := range tt.want {
				assert.Contains(t, err.Error(), w)
			}
		})
	}
}

func TestLoad_UnknownKeys_AllReported(t *testing.T) {
	path := writeTestConfig(t, "[server]\nlisten_adr = \":1\"\n[auth]\nisuer = \"x\"\n")

	_, err := Load(path, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listen_addr")
	assert.Contains(t, err.Error(), "issuer")
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeTestConfig(t, minimalConfig)

	cfg, err := Load(path, envMap(map[string]string{
		"MINUTES_GATEWAY_BROKER_CLIENT_SECRET":   "from-env",
		"MINUTES_GATEWAY_SERVER_RATE_BURST":      "7",
		"MINUTES_GATEWAY_SERVER_RATE_LIMIT":      "0.5",
		"MINUTES_GATEWAY_DELIVERY_ENFORCE_OWNER": "false",
		"MINUTES_GATEWAY_AUTH_REQUIRED_SCOPES":   "a, b,,c",
	}))
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Broker.ClientSecret)
	assert.Equal(t, 7, cfg.Server.RateBurst)
	assert.InDelta(t, 0.5, cfg.Server.RateLimit, 0)
	assert.False(t, cfg.Delivery.EnforceOwner)
	assert.Equal(t, []string{"a", "b", "c"}, cfg.Auth.RequiredScopes)
}

func TestLoad_EnvOverrides_BadValues(t *testing.T) {
	path := writeTestConfig(t, minimalConfig)

	_, err := Load(path, envMap(map[string]string{
		"MINUTES_GATEWAY_SERVER_RATE_BURST":      "lots",
		"MINUTES_GATEWAY_DELIVERY_ENFORCE_OWNER": "maybe",
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MINUTES_GATEWAY_SERVER_RATE_BURST")
	assert.Contains(t, err.Error(), "MINUTES_GATEWAY_DELIVERY_ENFORCE_OWNER")
}

func TestLoadOrDefault_MissingFile(t *testing.T) {
	cfg, used, err := LoadOrDefault(filepath.Join(t.TempDir(), "absent.toml"),
		envMap(map[string]string{"MINUTES_GATEWAY_SCOPE_DRIVE_ID": "b!env"}))
	require.NoError(t, err)

	assert.Empty(t, used)
	assert.Equal(t, "b!env", cfg.Scope.DriveID)
	assert.Equal(t, defaultGraphBaseURL, cfg.Graph.BaseURL)
}

func TestResolve_EnvironmentOnly(t *testing.T) {
	env := EnvOverrides{Lookup: envMap(map[string]string{
		"MINUTES_GATEWAY_SERVER_PUBLIC_BASE_URL": "https://gw.example.com",
		"MINUTES_GATEWAY_AUTH_MODE":              "trusted",
		"MINUTES_GATEWAY_BROKER_MODE":            "passthrough",
		"MINUTES_GATEWAY_SCOPE_DRIVE_ID":         "b!drive",
	})}

	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	r, err := Resolve(env, CLIOverrides{})
	require.NoError(t, err)

	assert.Empty(t, r.Path)
	assert.Equal(t, AuthModeTrusted, r.Auth.Mode)

	per, ok := r.Scope.(PerUserScope)
	require.True(t, ok)
	assert.Equal(t, defaultBaseFolder, per.BaseFolder)

	mem, ok := r.Delivery.(MemoryDelivery)
	require.True(t, ok)
	assert.Equal(t, "https://gw.example.com", mem.PublicBaseURL)
	assert.Equal(t, int64(25<<20), mem.MaxSize)
}

func TestResolve_CLIWins(t *testing.T) {
	path := writeTestConfig(t, minimalConfig+"\n[logging]\nlog_level = \"warn\"\n")

	listen := "127.0.0.1:1234"
	level := "debug"

	r, err := Resolve(
		EnvOverrides{Lookup: envMap(map[string]string{"MINUTES_GATEWAY_SERVER_LISTEN_ADDR": ":9999"})},
		CLIOverrides{ConfigPath: path, ListenAddr: &listen, LogLevel: &level},
	)
	require.NoError(t, err)

	assert.Equal(t, listen, r.Server.ListenAddr)
	assert.Equal(t, slog.LevelDebug, r.Logging.Level)
}

func TestResolve_ExplicitPathMustExist(t *testing.T) {
	_, err := Resolve(EnvOverrides{}, CLIOverrides{ConfigPath: filepath.Join(t.TempDir(), "nope.toml")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nope.toml")
}

func TestResolve_ValidationErrorsJoined(t *testing.T) {
	path := writeTestConfig(t, "[auth]\nmode = \"jwks\"\n[scope]\nmode = \"fixed\"\n")

	_, err := Resolve(EnvOverrides{}, CLIOverrides{ConfigPath: path})
	require.Error(t, err)

	msg := err.Error()
	assert.True(t, strings.HasPrefix(msg, "config validation failed"))

	for _, want := range []string{"auth.issuer", "broker.client_secret", "scope.input_folder_id", "graph.app_client_id", "server.public_base_url"} {
		assert.Contains(t, msg, want)
	}
}

func TestConfigPath_Precedence(t *testing.T) {
	p, explicit := ConfigPath(EnvOverrides{ConfigPath: "/env.toml"}, CLIOverrides{ConfigPath: "/cli.toml"})
	assert.Equal(t, "/cli.toml", p)
	assert.True(t, explicit)

	p, explicit = ConfigPath(EnvOverrides{ConfigPath: "/env.toml"}, CLIOverrides{})
	assert.Equal(t, "/env.toml", p)
	assert.True(t, explicit)

	p, explicit = ConfigPath(EnvOverrides{}, CLIOverrides{})
	assert.Equal(t, DefaultConfigPath(), p)
	assert.False(t, explicit)
}
