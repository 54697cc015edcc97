package main

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/minutes-gateway/internal/config"
)

func resolveFile(t *testing.T, content string) *config.Resolved {
	t.Helper()
	isolateEnv(t)

	r, err := config.Resolve(config.EnvOverrides{}, config.CLIOverrides{ConfigPath: writeConfigFile(t, content)})
	require.NoError(t, err)

	return r
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	return rec
}

func TestBuildApp_MemoryDelivery(t *testing.T) {
	r := resolveFile(t, trustedConfig)

	a, err := buildApp(t.Context(), r, prometheus.NewRegistry(), discardLogger())
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, get(t, a.handler, "/healthz").Code)

	metricsRec := get(t, a.handler, "/metrics")
	assert.Equal(t, http.StatusOK, metricsRec.Code)
	assert.Contains(t, metricsRec.Body.String(), "minutes_gateway_rate_limited_total")

	// The route exists; the artifact does not.
	assert.Equal(t, http.StatusNotFound, get(t, a.handler, "/download/nope").Code)
	assert.Equal(t, http.StatusUnauthorized, get(t, a.handler, "/mcp").Code)
}

func TestBuildApp_ObjectDelivery(t *testing.T) {
	r := resolveFile(t, `
[auth]
issuer = "https://login.example.com/"
audience = "api://minutes"
jwks_url = "https://login.example.com/keys"

[broker]
token_url = "https://broker.example.com/token"
client_id = "gw"
client_secret = "secret"
destination_url = "https://dest.example.com"
destination_name = "graph"

[scope]
drive_id = "b!drive"

[delivery]
backend = "s3"
endpoint = "https://s3.example.com"
region = "eu-north-1"
bucket = "minutes"
access_key_id = "AKID"
secret_access_key = "SECRET"

[cursor]
signing_key = "0123456789abcdef0123456789abcdef"
`)

	a, err := buildApp(t.Context(), r, prometheus.NewRegistry(), discardLogger())
	require.NoError(t, err)

	rec := get(t, a.handler, "/download/anything")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "route_not_found")
}

func TestBuildProvisioner_FixedNeedsAppCredentials(t *testing.T) {
	r := resolveFile(t, trustedConfig)
	r.Scope = config.FixedScope{SiteID: "s", DriveID: "d", InputFolderID: "in", OutputFolderID: "out"}
	r.Graph.App = nil

	_, err := buildApp(t.Context(), r, prometheus.NewRegistry(), discardLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "app credentials")
}

func TestAppRun_ServesAndDrains(t *testing.T) {
	r := resolveFile(t, trustedConfig)

	a, err := buildApp(t.Context(), r, prometheus.NewRegistry(), discardLogger())
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)

	go func() { done <- a.run(ctx, ln) }()

	url := "http://" + ln.Addr().String() + "/healthz"

	var body string

	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		defer resp.Body.Close()

		b, _ := io.ReadAll(resp.Body)
		body = string(b)

		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, "ok\n", body)

	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestAppRun_ReloadsLevelOnFileChange(t *testing.T) {
	r := resolveFile(t, trustedConfig)

	a, err := buildApp(t.Context(), r, prometheus.NewRegistry(), discardLogger())
	require.NoError(t, err)

	level := new(slog.LevelVar)
	a.reloader = config.NewLevelReloader(r.Path, level, nil, discardLogger(), a.collector.ObserveReload)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)

	go func() { done <- a.run(ctx, ln) }()

	// Give the watcher a moment to register before writing.
	time.Sleep(100 * time.Millisecond)

	content := trustedConfig + "\n[logging]\nlog_level = \"error\"\n"
	require.NoError(t, os.WriteFile(r.Path, []byte(content), 0o600))

	require.Eventually(t, func() bool {
		return level.Level() == slog.LevelError
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
