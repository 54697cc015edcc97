package server

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/minutes-gateway/internal/delivery"
)

func putArtifact(t *testing.T, env *testEnv, owner string) string {
	t.Helper()

	h, err := env.store.Put(context.Background(), delivery.PutRequest{
		FileName: "Weekly sync.md",
		Content:  []byte("# Weekly sync\n"),
		MimeType: "text/markdown; charset=utf-8",
		Owner:    owner,
		TTL:      time.Minute,
	})
	require.NoError(t, err)

	id := h.URL[strings.LastIndex(h.URL, "/")+1:]
	require.Equal(t, "https://gw.example/download/"+id, h.URL)

	return id
}

func TestDownload_StatusCodes(t *testing.T) {
	env := newTestEnv(t, true, nil)

	alice := token(t, "alice@example.com")
	bob := token(t, "bob@example.com")
	aliceKey := env.resolver.NormalizeUserKey("alice@example.com")

	owned := putArtifact(t, env, aliceKey)
	public := putArtifact(t, env, "")

	tests := []struct {
		name   string
		method string
		id     string
		bearer string
		status int
	}{
		{"owner", http.MethodGet, owned, alice, http.StatusOK},
		{"owner head", http.MethodHead, owned, alice, http.StatusOK},
		{"anonymous", http.MethodGet, owned, "", http.StatusUnauthorized},
		{"other user", http.MethodGet, owned, bob, http.StatusForbidden},
		{"garbage token", http.MethodGet, owned, "not-a-jwt", http.StatusUnauthorized},
		{"unknown id", http.MethodGet, "nope", alice, http.StatusNotFound},
		{"ownerless artifact", http.MethodGet, public, "", http.StatusOK},
		{"post", http.MethodPost, owned, alice, http.StatusMethodNotAllowed},
		{"delete", http.MethodDelete, owned, alice, http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.do(t, tt.method, "/download/"+tt.id, tt.bearer, nil)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, "no-store", resp.Header.Get("Cache-Control"))

			if tt.status == http.StatusMethodNotAllowed {
				assert.Equal(t, "GET, HEAD", resp.Header.Get("Allow"))
			}
		})
	}
}

func TestDownload_Headers(t *testing.T) {
	env := newTestEnv(t, true, nil)
	alice := token(t, "alice@example.com")
	id := putArtifact(t, env, env.resolver.NormalizeUserKey("alice@example.com"))

	resp := env.do(t, http.MethodGet, "/download/"+id, alice, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, "# Weekly sync\n", string(body))
	assert.Equal(t, "text/markdown; charset=utf-8", resp.Header.Get("Content-Type"))
	assert.Equal(t, delivery.ContentDisposition("Weekly sync.md"), resp.Header.Get("Content-Disposition"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "attachment")
	assert.Equal(t, "14", resp.Header.Get("Content-Length"))

	head := env.do(t, http.MethodHead, "/download/"+id, alice, nil)
	require.Equal(t, http.StatusOK, head.StatusCode)

	body, err = io.ReadAll(head.Body)
	require.NoError(t, err)
	assert.Empty(t, body)
}

func TestDownload_Challenge(t *testing.T) {
	env := newTestEnv(t, true, nil)
	id := putArtifact(t, env, "someone")

	resp := env.do(t, http.MethodGet, "/download/"+id, "", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "Bearer", resp.Header.Get("WWW-Authenticate"))
}

func TestDownload_Metrics(t *testing.T) {
	env := newTestEnv(t, true, nil)
	alice := token(t, "alice@example.com")
	id := putArtifact(t, env, env.resolver.NormalizeUserKey("alice@example.com"))

	env.do(t, http.MethodGet, "/download/"+id, alice, nil)
	env.do(t, http.MethodGet, "/download/"+id, "", nil)
	env.do(t, http.MethodGet, "/download/missing", alice, nil)

	// 200, 401 and 404 each appear once.
	assert.Equal(t, 3, mustGatherCount(t, env, "minutes_gateway_artifact_downloads_total"))
}

func mustGatherCount(t *testing.T, env *testEnv, name string) int {
	t.Helper()

	n, err := testutil.GatherAndCount(env.reg, name)
	require.NoError(t, err)

	return n
}

func TestDownload_NotMountedForObjectStore(t *testing.T) {
	env := newTestEnv(t, false, nil)

	resp := env.do(t, http.MethodGet, "/download/anything", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "route_not_found", decodeEnvelope(t, resp).Code)
}
