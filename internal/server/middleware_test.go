package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"hookbox/internal/config"
)

func TestThrottleMiddleware(t *testing.T) {
	mw := NewThrottleMiddleware(config.Throttle{Requests: 2, Window: time.Minute}, quietLogger())
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	send := func(addr string) int {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/github", nil)
		req.RemoteAddr = addr
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr.Code
	}

	for i := 0; i < 2; i++ {
		if code := send("10.0.0.1"); code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, code)
		}
	}
	if code := send("10.0.0.1"); code != http.StatusTooManyRequests {
		t.Errorf("Expected 429 once the budget is spent, got %d", code)
	}
	if code := send("10.0.0.2"); code != http.StatusOK {
		t.Errorf("Expected other clients to keep their own budget, got %d", code)
	}
}

func TestRateLimiter_GetLimiterReusesPerClient(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	if rl.GetLimiter("a") != rl.GetLimiter("a") {
		t.Error("Expected the same limiter for the same client")
	}
	if rl.GetLimiter("a") == rl.GetLimiter("b") {
		t.Error("Expected distinct limiters for distinct clients")
	}
}

func TestRouter_ConfiguredThrottle(t *testing.T) {
	cfg := config.Default()
	cfg.Middleware = []string{"throttle:1,1", "auth:sanctum"}
	srv, _ := setupTestServer(t, cfg, nil)
	router := srv.Router()

	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.RemoteAddr = "192.0.2.10:5555"
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		codes = append(codes, rr.Code)
	}

	if codes[0] != http.StatusOK || codes[1] != http.StatusTooManyRequests {
		t.Errorf("Expected [200 429], got %v", codes)
	}
}

func TestThrottleMiddleware_SameHostDifferentPorts(t *testing.T) {
	mw := NewThrottleMiddleware(config.Throttle{Requests: 1, Window: time.Minute}, quietLogger())
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	var codes []int
	for _, addr := range []string{"203.0.113.7:40001", "203.0.113.7:40002", "203.0.113.7:40003"} {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/github", nil)
		req.RemoteAddr = addr
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		codes = append(codes, rr.Code)
	}

	want := []int{http.StatusOK, http.StatusTooManyRequests, http.StatusTooManyRequests}
	for i := range want {
		if codes[i] != want[i] {
			t.Fatalf("Expected %v, got %v", want, codes)
		}
	}
}

func TestClientKey(t *testing.T) {
	tests := []struct {
		addr string
		want string
	}{
		{"203.0.113.7:40001", "203.0.113.7"},
		{"[2001:db8::1]:443", "2001:db8::1"},
		{"10.0.0.1", "10.0.0.1"},
		{"", "unknown"},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = tt.addr
		if got := clientKey(req); got != tt.want {
			t.Errorf("clientKey(%q) = %q, want %q", tt.addr, got, tt.want)
		}
	}
}
