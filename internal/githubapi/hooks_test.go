package githubapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, handler http.Handler) string {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv.URL
}

func TestEnsureHook_CreatesWhenMissing(t *testing.T) {
	var created map[string]any
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/shop/hooks", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer ghp_test", r.Header.Get("Authorization"))
		switch r.Method {
		case http.MethodGet:
			_, _ = w.Write([]byte(`[{"id": 1, "config": {"url": "https://other.example.com/hook"}}]`))
		case http.MethodPost:
			require.NoError(t, json.NewDecoder(r.Body).Decode(&created))
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"id": 42}`))
		}
	})

	client, err := NewClient("ghp_test", newTestServer(t, mux))
	require.NoError(t, err)

	ok, id, err := EnsureHook(context.Background(), client, "acme/shop", HookSpec{
		URL:    "https://deploy.example.com/webhooks/github",
		Secret: "s3cret",
	})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(42), id)

	cfg, _ := created["config"].(map[string]any)
	assert.Equal(t, "https://deploy.example.com/webhooks/github", cfg["url"])
	assert.Equal(t, "json", cfg["content_type"])
	assert.Equal(t, "s3cret", cfg["secret"])
	assert.ElementsMatch(t, []any{"push", "pull_request", "issues", "release"}, created["events"])
}

func TestEnsureHook_ExistingHookIsKept(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/shop/hooks", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("unexpected %s request", r.Method)
			return
		}
		_, _ = w.Write([]byte(`[{"id": 7, "config": {"url": "https://deploy.example.com/webhooks/github"}}]`))
	})

	client, err := NewClient("ghp_test", newTestServer(t, mux))
	require.NoError(t, err)

	ok, id, err := EnsureHook(context.Background(), client, "acme/shop", HookSpec{URL: "https://deploy.example.com/webhooks/github"})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int64(7), id)
}

func TestEnsureHook_InvalidInput(t *testing.T) {
	client, err := NewClient("ghp_test", "")
	require.NoError(t, err)

	_, _, err = EnsureHook(context.Background(), client, "acme", HookSpec{URL: "https://x"})
	assert.Error(t, err)

	_, _, err = EnsureHook(context.Background(), client, "acme/shop", HookSpec{})
	assert.Error(t, err)
}

func TestNewClient_RequiresToken(t *testing.T) {
	_, err := NewClient("", "")
	assert.Error(t, err)
}

func TestSplitRepository(t *testing.T) {
	owner, repo, err := SplitRepository("acme/shop")
	require.NoError(t, err)
	assert.Equal(t, "acme", owner)
	assert.Equal(t, "shop", repo)

	for _, bad := range []string{"", "acme", "/shop", "acme/", "a/b/c"} {
		_, _, err := SplitRepository(bad)
		assert.Error(t, err, bad)
	}
}
