package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hookbox/internal/audit"
	"hookbox/internal/config"
	"hookbox/internal/deployment"
	"hookbox/internal/dispatch"
	"hookbox/internal/handlers"
	"hookbox/internal/metrics"
	"hookbox/internal/notify"
	"hookbox/internal/webhook"
)

const testSecret = "test-secret-at-least-32-chars-long-here"

type call struct {
	event   string
	payload map[string]any
}

type recorder struct {
	mu    sync.Mutex
	calls []call
}

func (r *recorder) handler(err error) dispatch.Handler {
	return dispatch.HandlerFunc(func(ctx context.Context, event *webhook.Event, payload map[string]any) (any, error) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.calls = append(r.calls, call{event.Name(), payload})
		return "ok", err
	})
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupTestServer(t *testing.T, cfg *config.Config, register func(*dispatch.Registry)) (*Server, *audit.Store) {
	t.Helper()
	store, err := audit.Open(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	registry := dispatch.NewRegistry()
	if register != nil {
		register(registry)
	}
	router := dispatch.NewRouter(registry, cfg.ContinueOnHandlerFailure, quietLogger())
	return NewServer(cfg, router, store, quietLogger()), store
}

func deliver(t *testing.T, srv *Server, event string, body []byte, signature string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, srv.Config.WebhookPath(), bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if event != "" {
		req.Header.Set(webhook.EventHeader, event)
	}
	req.Header.Set(webhook.DeliveryHeader, "delivery-1")
	if signature != "" {
		req.Header.Set(webhook.SignatureHeader, signature)
	}
	rr := httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, req)
	return rr
}

func TestHandleWebhook_Success(t *testing.T) {
	rec := &recorder{}
	srv, store := setupTestServer(t, config.Default(), func(r *dispatch.Registry) {
		require.NoError(t, r.Register("push", "push", rec.handler(nil)))
	})

	body := []byte(`{"ref":"refs/heads/main","repository":{"full_name":"a/b"},"commits":[]}`)
	rr := deliver(t, srv, "push", body, "")

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "OK", rr.Body.String())
	require.Equal(t, 1, rec.count())
	assert.Equal(t, "refs/heads/main", rec.calls[0].payload["ref"])

	records, err := store.ListWebhooks(context.Background(), audit.WebhookFilter{EventType: "push", Limit: 10})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.True(t, records[0].Processed(), "dispatched deliveries are marked processed")
	require.NotNil(t, records[0].DeliveryID)
	assert.Equal(t, "delivery-1", *records[0].DeliveryID)
}

type capturePublisher struct {
	mu       sync.Mutex
	subjects []string
	messages [][]byte
}

func (p *capturePublisher) Publish(subject string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subjects = append(p.subjects, subject)
	p.messages = append(p.messages, data)
	return nil
}

func TestHandleWebhook_PublishesReceivedEvent(t *testing.T) {
	rec := &recorder{}
	srv, _ := setupTestServer(t, config.Default(), func(r *dispatch.Registry) {
		require.NoError(t, r.Register("issues", "issues", rec.handler(nil)))
	})
	pub := &capturePublisher{}
	srv.Events = &notify.NATSSink{Publisher: pub, Subject: "hookbox.webhooks"}

	rr := deliver(t, srv, "issues", []byte(`{"action":"opened","repository":{"full_name":"acme/shop"}}`), "")
	require.Equal(t, http.StatusOK, rr.Code)

	require.Len(t, pub.messages, 1)
	assert.Equal(t, "hookbox.webhooks", pub.subjects[0])

	var env notify.Envelope
	require.NoError(t, json.Unmarshal(pub.messages[0], &env))
	assert.Equal(t, "GitHub webhook received", env.Message)
	assert.Equal(t, EventWebhookReceived, env.Metadata["kind"])
	assert.Equal(t, "issues", env.Metadata["event"])
	assert.Equal(t, "delivery-1", env.Metadata["delivery"])
	assert.Equal(t, "opened", env.Metadata["action"])
	assert.Equal(t, "acme/shop", env.Metadata["repository"])
	assert.EqualValues(t, 1, env.Metadata["handlers"])
	assert.Contains(t, env.Metadata, "record_id")
}

func TestHandleWebhook_NoEventOnRejectedDelivery(t *testing.T) {
	cfg := config.Default()
	cfg.Secret = testSecret
	srv, _ := setupTestServer(t, cfg, nil)
	pub := &capturePublisher{}
	srv.Events = &notify.NATSSink{Publisher: pub, Subject: "hookbox.webhooks"}

	rr := deliver(t, srv, "push", []byte(`{}`), "sha256=bad")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Empty(t, pub.messages)
}

func TestHandleWebhook_PushTriggersDeployment(t *testing.T) {
	deployer := &fakeDeployer{}
	cfg := config.Default()
	factories := handlers.Factories(handlers.Dependencies{Config: cfg, Deployer: deployer, Logger: quietLogger()})

	srv, _ := setupTestServer(t, cfg, func(r *dispatch.Registry) {
		require.NoError(t, r.Load(map[string][]string{"push": {handlers.IDPush}}, factories))
	})

	rr := deliver(t, srv, "push", []byte(`{"ref":"refs/heads/main","repository":{"full_name":"a/b"},"commits":[]}`), "")
	assert.Equal(t, http.StatusOK, rr.Code)
	require.Len(t, deployer.targets, 1)
	assert.Equal(t, "a/b", deployer.targets[0].Repository)
	assert.Equal(t, "main", deployer.targets[0].Branch)
}

func TestHandleWebhook_MissingEventType(t *testing.T) {
	rec := &recorder{}
	srv, store := setupTestServer(t, config.Default(), func(r *dispatch.Registry) {
		require.NoError(t, r.Register("*", "all", rec.handler(nil)))
	})

	rr := deliver(t, srv, "", []byte(`{}`), "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "Missing event type", rr.Body.String())
	assert.Zero(t, rec.count())

	records, err := store.ListWebhooks(context.Background(), audit.WebhookFilter{Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestHandleWebhook_Signature(t *testing.T) {
	cfg := config.Default()
	cfg.Secret = testSecret
	body := []byte(`{"ref":"refs/heads/main"}`)

	tests := []struct {
		name      string
		signature string
		want      int
	}{
		{"valid", webhook.Sign(body, testSecret), http.StatusOK},
		{"wrong secret", webhook.Sign(body, "wrong-secret-32-chars-long-xxxxxxx"), http.StatusUnauthorized},
		{"missing", "", http.StatusUnauthorized},
		{"malformed", "sha1=abc", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{}
			srv, _ := setupTestServer(t, cfg, func(r *dispatch.Registry) {
				require.NoError(t, r.Register("push", "push", rec.handler(nil)))
			})

			rr := deliver(t, srv, "push", body, tt.signature)
			if rr.Code != tt.want {
				t.Errorf("Expected status %d, got %d", tt.want, rr.Code)
			}
			if tt.want == http.StatusUnauthorized {
				assert.Equal(t, "Unauthorized", rr.Body.String())
				assert.Zero(t, rec.count(), "handlers never run for rejected deliveries")
			}
		})
	}
}

func TestHandleWebhook_SignatureCheckedBeforeEventType(t *testing.T) {
	cfg := config.Default()
	cfg.Secret = testSecret
	srv, _ := setupTestServer(t, cfg, nil)

	rr := deliver(t, srv, "", []byte(`{}`), "sha256=bad")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestHandleWebhook_InvalidPayload(t *testing.T) {
	srv, _ := setupTestServer(t, config.Default(), nil)

	for _, body := range []string{`{"ref":`, `[1,2,3]`, `"text"`} {
		rr := deliver(t, srv, "push", []byte(body), "")
		assert.Equal(t, http.StatusBadRequest, rr.Code, body)
		assert.Equal(t, "Invalid payload", rr.Body.String())
	}
}

func TestHandleWebhook_EmptyBody(t *testing.T) {
	rec := &recorder{}
	srv, _ := setupTestServer(t, config.Default(), func(r *dispatch.Registry) {
		require.NoError(t, r.Register("ping", "ping", rec.handler(nil)))
	})

	rr := deliver(t, srv, "ping", nil, "")
	assert.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, 1, rec.count())
	assert.Equal(t, map[string]any{}, rec.calls[0].payload)
}

func TestHandleWebhook_PayloadTooLarge(t *testing.T) {
	srv, _ := setupTestServer(t, config.Default(), nil)

	body := []byte(`{"data":"` + strings.Repeat("x", MaxPayloadBytes) + `"}`)
	rr := deliver(t, srv, "push", body, "")
	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
}

func TestHandleWebhook_HandlerFailurePolicy(t *testing.T) {
	t.Run("continue on failure", func(t *testing.T) {
		first, second := &recorder{}, &recorder{}
		srv, store := setupTestServer(t, config.Default(), func(r *dispatch.Registry) {
			require.NoError(t, r.Register("push", "broken", first.handler(errors.New("boom"))))
			require.NoError(t, r.Register("push", "fine", second.handler(nil)))
		})

		rr := deliver(t, srv, "push", []byte(`{}`), "")
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, 1, second.count())

		records, err := store.ListWebhooks(context.Background(), audit.WebhookFilter{EventType: "push", Limit: 1})
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.True(t, records[0].Processed())
	})

	t.Run("abort on failure", func(t *testing.T) {
		cfg := config.Default()
		cfg.ContinueOnHandlerFailure = false
		first, second := &recorder{}, &recorder{}
		srv, store := setupTestServer(t, cfg, func(r *dispatch.Registry) {
			require.NoError(t, r.Register("push", "broken", first.handler(errors.New("boom"))))
			require.NoError(t, r.Register("push", "fine", second.handler(nil)))
		})

		rr := deliver(t, srv, "push", []byte(`{}`), "")
		assert.Equal(t, http.StatusInternalServerError, rr.Code)
		assert.Equal(t, "Internal Server Error", rr.Body.String())
		assert.NotContains(t, rr.Body.String(), "boom")
		assert.Zero(t, second.count())

		records, err := store.ListWebhooks(context.Background(), audit.WebhookFilter{EventType: "push", Limit: 1})
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.False(t, records[0].Processed(), "failed deliveries stay unprocessed")
	})
}

func TestHandleWebhook_StoreDisabled(t *testing.T) {
	cfg := config.Default()
	cfg.StoreWebhooks = false
	srv, store := setupTestServer(t, cfg, nil)

	rr := deliver(t, srv, "push", []byte(`{}`), "")
	assert.Equal(t, http.StatusOK, rr.Code)

	records, err := store.ListWebhooks(context.Background(), audit.WebhookFilter{Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestHandleWebhook_RoutePrefix(t *testing.T) {
	cfg := config.Default()
	cfg.RoutePrefix = "hooks/v2"
	srv, _ := setupTestServer(t, cfg, nil)

	req := httptest.NewRequest(http.MethodPost, "/hooks/v2/github", strings.NewReader(`{}`))
	req.Header.Set(webhook.EventHeader, "push")
	rr := httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)

	req = httptest.NewRequest(http.MethodPost, "/webhooks/github", strings.NewReader(`{}`))
	req.Header.Set(webhook.EventHeader, "push")
	rr = httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHandleHealth(t *testing.T) {
	rec := &recorder{}
	srv, _ := setupTestServer(t, config.Default(), func(r *dispatch.Registry) {
		require.NoError(t, r.Register("*", "log", rec.handler(nil)))
	})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}

	var response map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &response))
	assert.Equal(t, "ok", response["status"])
	assert.Equal(t, "ok", response["store"])
	assert.EqualValues(t, 1, response["handler_count"])
	assert.Equal(t, map[string]any{"*": []any{"log"}}, response["handlers"])
}

func TestHandleStatus(t *testing.T) {
	srv, store := setupTestServer(t, config.Default(), nil)
	ctx := context.Background()

	for _, status := range []string{audit.DeploymentFailure, audit.DeploymentSuccess} {
		_, err := store.RecordDeployment(ctx, &audit.DeploymentRecord{
			DeploymentID: "dep-" + status,
			Repository:   "acme/shop",
			Branch:       "main",
			Environment:  "production",
			Status:       status,
			StartedAt:    time.Now(),
		})
		require.NoError(t, err)
	}

	req := httptest.NewRequest(http.MethodGet, "/status/acme/shop", nil)
	rr := httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	var response struct {
		Repository string                   `json:"repository"`
		Latest     *audit.DeploymentRecord  `json:"latest_deployment"`
		Recent     []audit.DeploymentRecord `json:"recent_deployments"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &response))
	assert.Equal(t, "acme/shop", response.Repository)
	require.NotNil(t, response.Latest)
	assert.Equal(t, audit.DeploymentSuccess, response.Latest.Status)
	assert.Len(t, response.Recent, 2)

	req = httptest.NewRequest(http.MethodGet, "/status", nil)
	rr = httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"acme/shop"`)

	req = httptest.NewRequest(http.MethodGet, "/status/acme/-rf", nil)
	rr = httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandleStatus_NoStore(t *testing.T) {
	cfg := config.Default()
	router := dispatch.NewRouter(dispatch.NewRegistry(), true, quietLogger())
	srv := NewServer(cfg, router, nil, quietLogger())

	for _, path := range []string{"/status", "/status/acme/shop"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rr := httptest.NewRecorder()
		srv.Router().ServeHTTP(rr, req)
		assert.Equal(t, http.StatusServiceUnavailable, rr.Code, path)
	}

	// Deliveries still work without an audit store.
	rr := deliver(t, srv, "push", []byte(`{}`), "")
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	cfg := config.Default()
	reg := prometheus.NewRegistry()
	srv, _ := setupTestServer(t, cfg, nil)
	srv.Metrics = metrics.NewPrometheusRecorder(reg)
	srv.MetricsHandler = metrics.HTTPHandler(reg)

	deliver(t, srv, "push", []byte(`{}`), "")
	deliver(t, srv, "", []byte(`{}`), "")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "hookbox_")
}

type fakeDeployer struct {
	mu      sync.Mutex
	targets []deployment.Target
}

func (f *fakeDeployer) Deploy(_ context.Context, target deployment.Target) (*deployment.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.targets = append(f.targets, target)
	return &deployment.Result{
		DeploymentID: "dep-1",
		Repository:   target.Repository,
		Branch:       target.Branch,
		Environment:  "production",
		Status:       deployment.StatusSuccess,
	}, nil
}
