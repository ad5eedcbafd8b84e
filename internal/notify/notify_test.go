package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu       sync.Mutex
	messages []string
	err      error
}

func (r *recordingSink) Notify(_ context.Context, message string, _ map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, message)
	return r.err
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	sink := LogSink{Logger: slog.New(slog.NewJSONHandler(&buf, nil))}

	require.NoError(t, sink.Notify(context.Background(), "3 commit(s) pushed", map[string]any{
		"repository": "acme/shop",
		"commits":    3,
	}))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "3 commit(s) pushed", entry["msg"])
	assert.Equal(t, "acme/shop", entry["repository"])
	assert.EqualValues(t, 3, entry["commits"])
}

func TestMulti(t *testing.T) {
	ok := &recordingSink{}
	bad := &recordingSink{err: errors.New("slack down")}
	alsoOK := &recordingSink{}

	err := Multi{ok, nil, bad, alsoOK}.Notify(context.Background(), "hello", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "slack down")

	assert.Equal(t, []string{"hello"}, ok.messages)
	assert.Equal(t, []string{"hello"}, alsoOK.messages, "a failing sink does not stop the fan-out")

	assert.NoError(t, Multi{}.Notify(context.Background(), "nobody listening", nil))
}

func TestSlackSink(t *testing.T) {
	var got slackMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink := NewSlackSink(srv.URL, "#deploys", "")
	err := sink.Notify(context.Background(), "Deployment succeeded", map[string]any{
		"repository": "acme/shop",
		"state":      "success",
	})
	require.NoError(t, err)

	assert.Equal(t, "Deployment succeeded", got.Text)
	assert.Equal(t, "#deploys", got.Channel)
	assert.Equal(t, "hookbox", got.Username)
	require.Len(t, got.Attachments, 1)
	assert.Equal(t, "good", got.Attachments[0].Color)
	assert.Equal(t, []slackField{
		{Title: "repository", Value: "acme/shop", Short: true},
		{Title: "state", Value: "success", Short: true},
	}, got.Attachments[0].Fields)
}

func TestSlackSink_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("no_service"))
	}))
	defer srv.Close()

	err := NewSlackSink(srv.URL, "", "bot").Notify(context.Background(), "hi", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
	assert.Contains(t, err.Error(), "no_service")
}

type fakePublisher struct {
	subject string
	data    []byte
	err     error
}

func (f *fakePublisher) Publish(subject string, data []byte) error {
	f.subject = subject
	f.data = data
	return f.err
}

func TestNATSSink(t *testing.T) {
	pub := &fakePublisher{}
	sink := &NATSSink{Publisher: pub, Subject: "hookbox.events"}

	require.NoError(t, sink.Notify(context.Background(), "Issue opened in acme/shop", map[string]any{"issue_number": 7}))
	assert.Equal(t, "hookbox.events", pub.subject)

	var env Envelope
	require.NoError(t, json.Unmarshal(pub.data, &env))
	assert.Equal(t, "Issue opened in acme/shop", env.Message)
	assert.EqualValues(t, 7, env.Metadata["issue_number"])
	assert.False(t, env.Timestamp.IsZero())

	pub.err = errors.New("connection closed")
	err := sink.Notify(context.Background(), "x", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection closed")

	assert.NoError(t, sink.Close(), "sink without its own connection closes cleanly")
}

func TestGitHubStatusSink(t *testing.T) {
	var (
		path    string
		payload map[string]any
		auth    string
		calls   int
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		path = r.URL.Path
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&payload)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"state":"success"}`))
	}))
	defer srv.Close()

	sink, err := NewGitHubStatusSink("ghp_test", "", "https://ci.example.com", srv.URL)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, sink.Notify(ctx, "Deployment finished", map[string]any{"repository": "acme/shop"}))
	assert.Zero(t, calls, "notifications without a commit are skipped")

	err = sink.Notify(ctx, "Deployment finished", map[string]any{
		"repository": "acme/shop",
		"commit":     "abc123",
		"state":      "success",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, "/repos/acme/shop/statuses/abc123", path)
	assert.Equal(t, "Bearer ghp_test", auth)
	assert.Equal(t, "success", payload["state"])
	assert.Equal(t, "hookbox/deploy", payload["context"])
	assert.Equal(t, "https://ci.example.com", payload["target_url"])

	err = sink.Notify(ctx, "x", map[string]any{"repository": "no-slash", "commit": "abc", "state": "failure"})
	assert.Error(t, err)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	long := strings.Repeat("é", 200)
	assert.Len(t, []rune(truncate(long, 140)), 140)
}
