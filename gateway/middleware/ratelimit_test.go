package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimiterBlocksAfterBurst(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{
		"write": {RatePerSecond: 1, Burst: 1},
	}, nil)
	handler := limiter.Middleware("write")(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/v1/claim", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected first request to succeed, got %d", res.Code)
	}

	res = httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusTooManyRequests {
		t.Fatalf("expected second request to be rate limited, got %d", res.Code)
	}
}

func TestRateLimiterSeparatesKeysAndClients(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{
		"read":  {RatePerSecond: 1, Burst: 1},
		"write": {RatePerSecond: 1, Burst: 1},
	}, nil)
	read := limiter.Middleware("read")(okHandler())
	write := limiter.Middleware("write")(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/v1/pool", nil)
	req.Header.Set("X-Real-IP", "10.0.0.1")
	for _, h := range []http.Handler{read, write} {
		res := httptest.NewRecorder()
		h.ServeHTTP(res, req)
		if res.Code != http.StatusOK {
			t.Fatalf("expected independent buckets per key, got %d", res.Code)
		}
	}

	other := httptest.NewRequest(http.MethodGet, "/v1/pool", nil)
	other.Header.Set("X-Forwarded-For", "10.0.0.2, 10.0.0.9")
	res := httptest.NewRecorder()
	read.ServeHTTP(res, other)
	if res.Code != http.StatusOK {
		t.Fatalf("expected separate client bucket, got %d", res.Code)
	}
}

func TestRateLimiterIgnoresUnknownKey(t *testing.T) {
	limiter := NewRateLimiter(nil, nil)
	handler := limiter.Middleware("missing")(okHandler())
	for i := 0; i < 5; i++ {
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/", nil))
		if res.Code != http.StatusOK {
			t.Fatalf("unexpected status %d", res.Code)
		}
	}
}

func TestRateLimiterEvictsIdleVisitors(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{"read": {RatePerSecond: 1, Burst: 1}}, nil)
	now := time.Unix(1_700_000_000, 0)
	limiter.clockNow = func() time.Time { return now }
	limiter.obtainLimiter("read|a", RateLimit{RatePerSecond: 1, Burst: 1})

	now = now.Add(10 * time.Minute)
	limiter.obtainLimiter("read|b", RateLimit{RatePerSecond: 1, Burst: 1})
	if _, ok := limiter.visitors["read|a"]; ok {
		t.Fatalf("expected idle visitor to be evicted")
	}
}
