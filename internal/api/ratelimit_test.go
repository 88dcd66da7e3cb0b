package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-blemulator/internal/infrastructure/config"
)

func TestNewRateLimiter_Disabled(t *testing.T) {
	if rl := newRateLimiter(config.RateLimitConfig{}); rl != nil {
		t.Error("newRateLimiter with zero rate should be nil")
	}
}

func TestRateLimiter_BurstThenRefill(t *testing.T) {
	now := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)
	rl := newRateLimiter(config.RateLimitConfig{RequestsPerMin: 60, Burst: 2})
	rl.now = func() time.Time { return now }

	if !rl.allow("10.0.0.1") || !rl.allow("10.0.0.1") {
		t.Fatal("burst of 2 should be allowed")
	}
	if rl.allow("10.0.0.1") {
		t.Error("third request within the same instant should be limited")
	}
	if !rl.allow("10.0.0.2") {
		t.Error("a different client has its own bucket")
	}

	// One token per second at 60/min
	now = now.Add(time.Second)
	if !rl.allow("10.0.0.1") {
		t.Error("request after refill should be allowed")
	}
}

func TestRateLimiter_SweepsIdleClients(t *testing.T) {
	now := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)
	rl := newRateLimiter(config.RateLimitConfig{RequestsPerMin: 60, Burst: 1})
	rl.now = func() time.Time { return now }

	rl.allow("10.0.0.1")
	now = now.Add(rateLimitIdle + 2*time.Minute)
	rl.allow("10.0.0.2")

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if _, ok := rl.clients["10.0.0.1"]; ok {
		t.Error("idle client was not swept")
	}
	if len(rl.clients) != 1 {
		t.Errorf("clients = %d, want 1", len(rl.clients))
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	srv, _ := testServer(t)
	srv.cfg.RateLimit = config.RateLimitConfig{RequestsPerMin: 1, Burst: 1}
	router := srv.buildRouter()

	do := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/devices", nil)
		req.RemoteAddr = "192.0.2.7:51000"
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	if w := do(); w.Code != http.StatusOK {
		t.Fatalf("first request status = %d, want 200", w.Code)
	}
	w := do()
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("429 response has no Retry-After")
	}
	if resp := decodeBody[Error](t, w); resp.Code != ErrCodeRateLimited {
		t.Errorf("code = %q, want %q", resp.Code, ErrCodeRateLimited)
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		remote string
		want   string
	}{
		{"192.0.2.7:51000", "192.0.2.7"},
		{"[2001:db8::1]:443", "2001:db8::1"},
		{"unix-socket", "unix-socket"},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = tt.remote
		req.Header.Set("X-Forwarded-For", "203.0.113.9")
		if got := clientIP(req); got != tt.want {
			t.Errorf("clientIP(%q) = %q, want %q", tt.remote, got, tt.want)
		}
	}
}
